package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatserver/catalog"
)

// mockConn is a recording fake satisfying wsConn, used across this
// package's tests in place of a real socket.
type mockConn struct {
	mu        sync.Mutex
	sent      []OutboundFrame
	failWrite bool
	closed    bool
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	if m.failWrite {
		return errWriteFailed
	}
	var f OutboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, f)
	m.mu.Unlock()
	return nil
}

func (m *mockConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	if m.failWrite {
		return errWriteFailed
	}
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockConn) frames() []OutboundFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundFrame, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockConn) last() (OutboundFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundFrame{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errWriteFailed = staticErr("write failed")

func newTestHub(t *testing.T) *hub {
	t.Helper()
	st, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return newHub(newIdentityRegistry(), newBanStore(t.TempDir()+"/banned.txt"), newCredentialRotator(t.TempDir()+"/admin.txt"), newRateLimiter(), st)
}

func registerTestSession(t *testing.T, h *hub, username string) (*Session, *mockConn) {
	t.Helper()
	conn := &mockConn{}
	sess, _, err := h.register(context.Background(), conn, "127.0.0.1", username, func() {})
	if err != nil {
		t.Fatalf("register %q: %v", username, err)
	}
	return sess, conn
}
