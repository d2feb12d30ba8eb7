package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/louisbranch/tablesync/internal/auth"
	"github.com/louisbranch/tablesync/internal/docstore/bbolt"
	"github.com/louisbranch/tablesync/internal/telemetry"
)

func newTestServer(t *testing.T) (*httptest.Server, *Gateway) {
	t.Helper()
	store, err := bbolt.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	issuer, err := auth.NewIssuer([]byte("test-secret"), time.Hour, nil)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	gateway := New(Config{
		Store:          store,
		Issuer:         issuer,
		Telemetry:      telemetry.NewEmitter(store, nil, nil),
		DebounceWindow: 50 * time.Millisecond,
	})
	router := mux.NewRouter()
	gateway.Routes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, gateway
}

func mintToken(t *testing.T, server *httptest.Server, name string) mintResponse {
	t.Helper()
	body, _ := json.Marshal(mintRequest{DisplayName: name})
	resp, err := http.Post(server.URL+"/v1/tokens", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("mint request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mint status %d", resp.StatusCode)
	}
	var minted mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&minted); err != nil {
		t.Fatalf("decode mint response: %v", err)
	}
	return minted
}

func dialSession(t *testing.T, server *httptest.Server, token, code, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/sessions/" + code + "/ws?token=" + token + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrameOfType(t *testing.T, conn *websocket.Conn, frameType string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("no %q frame received: %v", frameType, err)
		}
		if f.Type == frameType {
			return f
		}
	}
}

func TestMintTokenIssuesVerifiableIdentity(t *testing.T) {
	server, gateway := newTestServer(t)

	minted := mintToken(t, server, "Alice")
	if minted.Token == "" || minted.UserID == "" {
		t.Fatalf("incomplete mint response: %+v", minted)
	}

	claims, err := gateway.cfg.Issuer.Verify(minted.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.DisplayName != "Alice" {
		t.Fatalf("expected display name carried, got %q", claims.DisplayName)
	}
}

func TestHostJoinReceivesViewAndProposes(t *testing.T) {
	server, _ := newTestServer(t)
	minted := mintToken(t, server, "Alice")

	conn := dialSession(t, server, minted.Token, "c1", "&host=true&name=The+Keep")

	first := readFrameOfType(t, conn, "view")
	if first.View == nil || first.View.Campaign.HostID != minted.UserID {
		t.Fatalf("expected genesis view, got %+v", first.View)
	}

	if err := conn.WriteJSON(command{
		Op:        "propose",
		State:     map[string]any{"config": map[string]any{"edition": "5e"}},
		Immediate: true,
	}); err != nil {
		t.Fatalf("send propose: %v", err)
	}

	for {
		f := readFrameOfType(t, conn, "view")
		if f.View.Campaign.Config.Edition == "5e" {
			return
		}
	}
}

func TestTelemetryEventsCarryActorIdentity(t *testing.T) {
	server, gateway := newTestServer(t)
	minted := mintToken(t, server, "Alice")

	conn := dialSession(t, server, minted.Token, "c1", "&host=true&name=The+Keep")
	readFrameOfType(t, conn, "view")

	docs, err := gateway.cfg.Store.Collection("telemetry").Docs(context.Background())
	if err != nil {
		t.Fatalf("read telemetry: %v", err)
	}
	for _, fields := range docs {
		if fields["name"] != "session.join" {
			continue
		}
		attrs, _ := fields["attrs"].(map[string]any)
		if attrs["actorId"] != minted.UserID {
			t.Fatalf("expected join attributed to %q, got %+v", minted.UserID, attrs)
		}
		if attrs["actorName"] != "Alice" {
			t.Fatalf("expected actor name carried, got %+v", attrs)
		}
		return
	}
	t.Fatal("expected a session.join event recorded")
}

func TestNonHostJoinMissingSessionGetsErrorFrame(t *testing.T) {
	server, _ := newTestServer(t)
	minted := mintToken(t, server, "Bob")

	conn := dialSession(t, server, minted.Token, "ghost", "")

	f := readFrameOfType(t, conn, "error")
	if f.Code != "SESSION_NOT_FOUND" {
		t.Fatalf("expected no-such-session code, got %q", f.Code)
	}
}

func TestInvalidTokenRejectedBeforeUpgrade(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/sessions/c1/ws?token=garbage")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusSwitchingProtocols {
		t.Fatal("expected rejection before upgrade")
	}
}

func TestUnknownOpReturnsErrorFrame(t *testing.T) {
	server, _ := newTestServer(t)
	minted := mintToken(t, server, "Alice")
	conn := dialSession(t, server, minted.Token, "c2", "&host=true&name=Keep")
	readFrameOfType(t, conn, "view")

	if err := conn.WriteJSON(command{Op: "warp"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	f := readFrameOfType(t, conn, "error")
	if f.Op != "warp" {
		t.Fatalf("expected op echoed, got %+v", f)
	}
}
