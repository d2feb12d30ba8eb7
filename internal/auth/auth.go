// Package auth mints and verifies the JWT identity tokens clients present
// when joining a session. A token carries the stable user id and display
// name the engine uses for presence and chat attribution.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/tablesync/internal/errors"
	"github.com/louisbranch/tablesync/internal/platform/id"
)

// DefaultTokenTTL bounds how long a minted session token stays valid.
const DefaultTokenTTL = 12 * time.Hour

// Claims are the registered claims plus the display name shown to other
// members. The user id rides in the subject claim.
type Claims struct {
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies session identity tokens with an HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an issuer. The clock is injectable for tests; nil means
// time.Now.
func NewIssuer(secret []byte, ttl time.Duration, now func() time.Time) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New(errors.CodeSessionInvalidToken, "signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: secret, ttl: ttl, now: now}, nil
}

// Mint issues a signed token for a user. A missing user id gets a generated
// one, so anonymous players receive a stable identity for the session.
func (i *Issuer) Mint(userID, displayName string) (token, resolvedID string, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID, err = id.NewID()
		if err != nil {
			return "", "", errors.Wrap(errors.CodeSessionInvalidToken, "generate user id", err)
		}
	}

	issued := i.now().UTC()
	claims := Claims{
		DisplayName: strings.TrimSpace(displayName),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", errors.Wrap(errors.CodeSessionInvalidToken, "sign token", err)
	}
	return signed, userID, nil
}

// Verify parses a token and returns its claims. Expired, malformed, or
// foreign-key tokens are rejected.
func (i *Issuer) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf(errors.CodeSessionInvalidToken, "unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, errors.Wrap(errors.CodeSessionInvalidToken, "verify token", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, errors.New(errors.CodeSessionInvalidToken, "token is not valid")
	}
	return claims, nil
}
