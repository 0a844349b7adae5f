package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn the Session needs, pulled out as
// an interface so dispatcher/hub tests can substitute a recording fake
// instead of a real socket.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Session is the live per-connection record: identity, peer address, admin
// flag, registered public key, join time, and the transport used to reach
// it. The hub is the only thing that mutates Session.Identity (on rename)
// and Session.Admin (on elevation); everything else is set once at
// registration. ID is a connection-scoped random identifier used only for
// log correlation — identities can be renamed mid-session, IDs cannot.
type Session struct {
	mu sync.Mutex

	ID        string
	Identity  string
	Addr      string
	Admin     bool
	PublicKey string
	JoinedAt  time.Time
	LastPing  time.Time

	conn   wsConn
	cancel func()
}

func newSession(identity, addr string, conn wsConn, cancel func()) *Session {
	now := time.Now()
	return &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		Addr:     addr,
		JoinedAt: now,
		LastPing: now,
		conn:     conn,
		cancel:   cancel,
	}
}

// send marshals and writes frame to the peer. A write failure is treated as
// a transport error by the caller, which unregisters the session.
func (s *Session) send(frame OutboundFrame) error {
	if frame.Timestamp == "" {
		frame.Timestamp = isoNow()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) touchPing() {
	s.mu.Lock()
	s.LastPing = time.Now()
	s.mu.Unlock()
}

// ping sends a transport-level ping control frame, used by the liveness
// sweep. A write error here means the peer is unreachable.
func (s *Session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout))
}
