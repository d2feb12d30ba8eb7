package auth

import (
	"testing"
	"time"

	"github.com/louisbranch/tablesync/internal/errors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMintVerifyRoundTrip(t *testing.T) {
	issuer, err := NewIssuer([]byte("secret"), time.Hour, fixedClock(time.Unix(1700000000, 0)))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, resolvedID, err := issuer.Mint("user-1", "Alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if resolvedID != "user-1" {
		t.Fatalf("expected caller id kept, got %q", resolvedID)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.DisplayName != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestMintGeneratesIDForAnonymousUser(t *testing.T) {
	issuer, err := NewIssuer([]byte("secret"), time.Hour, nil)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, resolvedID, err := issuer.Mint("  ", "Guest")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if resolvedID == "" {
		t.Fatal("expected generated user id")
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != resolvedID {
		t.Fatalf("expected subject %q, got %q", resolvedID, claims.Subject)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	start := time.Unix(1700000000, 0)
	issuer, err := NewIssuer([]byte("secret"), time.Minute, fixedClock(start))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, _, err := issuer.Mint("user-1", "Alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	late, err := NewIssuer([]byte("secret"), time.Minute, fixedClock(start.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	if _, err := late.Verify(token); !errors.IsCode(err, errors.CodeSessionInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	issuer, _ := NewIssuer([]byte("secret"), time.Hour, nil)
	other, _ := NewIssuer([]byte("different"), time.Hour, nil)

	token, _, err := issuer.Mint("user-1", "Alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := other.Verify(token); !errors.IsCode(err, errors.CodeSessionInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer, _ := NewIssuer([]byte("secret"), time.Hour, nil)
	if _, err := issuer.Verify("not-a-token"); !errors.IsCode(err, errors.CodeSessionInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(nil, time.Hour, nil); err == nil {
		t.Fatal("expected missing secret rejection")
	}
}
