package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Server is the connection supervisor: it accepts peers, admits or rejects
// them against the ban store, and hands each admitted connection to the
// dispatcher's per-connection read loop. TLS termination is left to a
// fronting proxy — this listens on plain TCP/WS.
type Server struct {
	addr        string
	h           *hub
	d           *dispatcher
	idleTimeout time.Duration
}

func NewServer(addr string, h *hub, d *dispatcher, idleTimeout time.Duration) *Server {
	return &Server{addr: addr, h: h, d: d, idleTimeout: idleTimeout}
}

// Run starts the WebSocket server, the liveness sweep, and blocks until ctx
// is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		addr := remoteHost(r.RemoteAddr)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[server] websocket upgrade failed: %v", err)
			return
		}
		if s.h.bans.contains(addr) {
			_ = conn.WriteJSON(OutboundFrame{Type: outError, Message: "You are banned from this server", Timestamp: isoNow()})
			_ = conn.Close()
			return
		}
		go s.serveConn(ctx, conn, addr)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("chat server"))
	})

	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.idleTimeout,
	}

	go s.runLivenessSweep(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}()

	log.Printf("[server] listening on %s", s.addr)

	err := httpSrv.ListenAndServe()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) runLivenessSweep(ctx context.Context) {
	ticker := time.NewTicker(livenessSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.h.sweep()
		}
	}
}

// serveConn drives one connection's NEW -> REGISTERED state machine and then
// its read loop until error or close.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, addr string) {
	conn.SetReadLimit(maxFrameBytes)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := s.awaitRegistration(connCtx, conn, addr, cancel)
	if err != nil {
		_ = conn.Close()
		return
	}

	defer func() {
		identity := sess.Identity
		s.h.unregister(identity)
		s.h.broadcastAll(OutboundFrame{Type: outUserLeft, Username: identity}, "")
		sess.close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})
	go s.keepalive(connCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in InboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			_ = sess.send(OutboundFrame{Type: outError, Message: "malformed frame: not valid JSON"})
			continue
		}
		s.d.dispatch(connCtx, sess, in)
	}
}

// awaitRegistration loops reading frames until a valid "register" frame
// arrives; anything else sent before registration yields an error without
// a state change.
func (s *Server) awaitRegistration(ctx context.Context, conn *websocket.Conn, addr string, cancel func()) (*Session, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var in InboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			_ = conn.WriteJSON(OutboundFrame{Type: outError, Message: "malformed frame: not valid JSON", Timestamp: isoNow()})
			continue
		}
		if in.MessageType != msgRegister {
			_ = conn.WriteJSON(OutboundFrame{Type: outError, Message: "Must register first", Timestamp: isoNow()})
			continue
		}

		sess, rooms, err := s.h.register(ctx, conn, addr, in.Username, cancel)
		if err != nil {
			de, _ := err.(*dispatchError)
			msg := err.Error()
			if de != nil {
				msg = de.message
			}
			_ = conn.WriteJSON(OutboundFrame{Type: outError, Message: msg, Timestamp: isoNow()})
			continue
		}

		_ = sess.send(OutboundFrame{
			Type:     outWelcome,
			Username: sess.Identity,
			Message:  "Connected as " + sess.Identity,
			Rooms:    rooms,
		})
		s.h.broadcastAll(OutboundFrame{Type: outUserJoined, Username: sess.Identity}, sess.Identity)
		s.h.broadcastGlobalRoster()
		for _, room := range rooms {
			s.h.broadcastRoomRoster(room)
		}
		return sess, nil
	}
}

// keepalive pings conn every pingInterval until ctx is canceled or a ping
// fails to write; the matching pong resets the read deadline via the
// handler installed in serveConn. This is the transport's own ping/pong,
// separate from the hub's periodic liveness sweep.
func (s *Server) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout)); err != nil {
				return
			}
		}
	}
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
