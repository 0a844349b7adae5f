package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatserver/catalog"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub) {
	t.Helper()
	st, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := newHub(newIdentityRegistry(), newBanStore(t.TempDir()+"/banned.txt"), newCredentialRotator(t.TempDir()+"/admin.txt"), newRateLimiter(), st)
	d := newDispatcher(h)
	srv := NewServer("", h, d, 30*time.Second)

	ts := httptest.NewServer(wsTestHandler(t, context.Background(), srv))
	t.Cleanup(ts.Close)
	return ts, h
}

// wsTestHandler exposes Server.serveConn over an httptest listener, since
// Server.Run binds its own net.Listener via http.Server and httptest needs
// to own that part for tests.
func wsTestHandler(t *testing.T, ctx context.Context, srv *Server) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go srv.serveConn(ctx, conn, "127.0.0.1")
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRegisterHandshakeOverRealSocket(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(InboundFrame{MessageType: msgRegister, Username: "alice"}); err != nil {
		t.Fatalf("write register: %v", err)
	}
	var welcome OutboundFrame
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != outWelcome || welcome.Username != "alice" {
		t.Fatalf("expected a welcome frame for alice, got %+v", welcome)
	}
}

func TestNonRegisterFirstFrameRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(InboundFrame{Content: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var f OutboundFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != outError || f.Message != "Must register first" {
		t.Fatalf("expected a must-register-first error, got %+v", f)
	}
}
