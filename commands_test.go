package main

import (
	"context"
	"testing"
)

func TestHelpCommand(t *testing.T) {
	h := newTestHub(t)
	d := newDispatcher(h)
	sess, conn := registerTestSession(t, h, "alice")

	d.dispatch(context.Background(), sess, InboundFrame{Content: "/help"})
	f, ok := conn.last()
	if !ok || f.Type != outHelp || f.Message == "" {
		t.Fatalf("expected a non-empty help frame, got %+v", f)
	}
}

func TestUserInfoAdminOnly(t *testing.T) {
	h := newTestHub(t)
	d := newDispatcher(h)
	ctx := context.Background()

	admin, adminConn := registerTestSession(t, h, "root")
	admin.Admin = true
	registerTestSession(t, h, "alice")

	d.dispatch(ctx, admin, InboundFrame{Content: "/userinfo alice"})
	f, ok := adminConn.last()
	if !ok || f.Type != outUserInfo || f.Username != "alice" {
		t.Fatalf("expected user_info for alice, got %+v", f)
	}
}

func TestBanClosesConnectionAndPersists(t *testing.T) {
	h := newTestHub(t)
	d := newDispatcher(h)
	ctx := context.Background()

	admin, _ := registerTestSession(t, h, "root")
	admin.Admin = true
	_, aliceConn := registerTestSession(t, h, "alice")

	d.dispatch(ctx, admin, InboundFrame{Content: "/ban alice"})

	if f, ok := aliceConn.last(); !ok || f.Type != outBanned {
		t.Fatalf("expected alice to receive a banned frame, got %+v", f)
	}
	if !aliceConn.closed {
		t.Fatalf("expected alice's connection to be closed after ban")
	}
	if !h.bans.contains("127.0.0.1") {
		t.Fatalf("expected the ban store to record alice's address")
	}
}

func TestLeftLeavesMostRecentlyJoinedRoom(t *testing.T) {
	h := newTestHub(t)
	d := newDispatcher(h)
	ctx := context.Background()

	admin, _ := registerTestSession(t, h, "root")
	admin.Admin = true
	if err := h.createRoom(ctx, "lounge", "root"); err != nil {
		t.Fatalf("create lounge: %v", err)
	}
	if err := h.createRoom(ctx, "den", "root"); err != nil {
		t.Fatalf("create den: %v", err)
	}

	sess, conn := registerTestSession(t, h, "alice")
	if err := h.joinRoom(ctx, sess.Identity, "lounge"); err != nil {
		t.Fatalf("join lounge: %v", err)
	}
	if err := h.joinRoom(ctx, sess.Identity, "den"); err != nil {
		t.Fatalf("join den: %v", err)
	}

	d.dispatch(ctx, sess, InboundFrame{Content: "/left"})
	f, ok := conn.last()
	if !ok || f.Type != outRoomLeft || f.RoomName != "den" {
		t.Fatalf("expected /left to leave the most recently joined room (den), got %+v", f)
	}
	if !h.isMember("alice", "lounge") {
		t.Fatalf("expected lounge membership to remain untouched")
	}
}

func TestCreateRoomDuplicateConflict(t *testing.T) {
	h := newTestHub(t)
	d := newDispatcher(h)
	ctx := context.Background()

	admin, conn := registerTestSession(t, h, "root")
	admin.Admin = true

	d.dispatch(ctx, admin, InboundFrame{Content: "/createroom lounge"})
	d.dispatch(ctx, admin, InboundFrame{Content: "/createroom lounge"})

	f, ok := conn.last()
	if !ok || f.Type != outError {
		t.Fatalf("expected a conflict error creating a duplicate room, got %+v", f)
	}
}

func TestDeleteRoomRefusesMain(t *testing.T) {
	h := newTestHub(t)
	d := newDispatcher(h)
	ctx := context.Background()

	admin, conn := registerTestSession(t, h, "root")
	admin.Admin = true

	d.dispatch(ctx, admin, InboundFrame{Content: "/deleteroom main"})
	f, ok := conn.last()
	if !ok || f.Type != outError {
		t.Fatalf("expected an error refusing to delete main, got %+v", f)
	}
}
