package main

import (
	"context"
	"fmt"
	"strings"
)

// dispatcher parses incoming frames, dispatches by message-kind, enforces
// authorization, invokes hub mutation primitives, and fans out replies. It
// holds no state of its own beyond the hub it was built with.
type dispatcher struct {
	h *hub
}

func newDispatcher(h *hub) *dispatcher {
	return &dispatcher{h: h}
}

// dispatch handles one inbound frame from an already-registered session.
func (d *dispatcher) dispatch(ctx context.Context, sess *Session, in InboundFrame) {
	switch in.MessageType {
	case msgPing:
		sess.touchPing()
		_ = sess.send(OutboundFrame{Type: outPong})
	case msgRegisterKey:
		d.handleRegisterKey(sess, in)
	case msgPrivate:
		d.handlePrivate(sess, in)
	case msgGetRooms:
		d.handleGetRooms(ctx, sess)
	case msgGetRoomUsers:
		d.handleGetRoomUsers(sess, in)
	case msgJoinRoom:
		d.handleJoinRoomMsg(ctx, sess, in)
	case msgLeaveRoom:
		d.handleLeaveRoomMsg(ctx, sess, in)
	case msgRegister:
		// register is only valid once, as the very first frame; the
		// supervisor consumes it before the dispatch loop starts, so a
		// second one here is simply ignored.
	default:
		d.handleText(ctx, sess, in)
	}
}

func (d *dispatcher) reply(sess *Session, err error) {
	de, ok := err.(*dispatchError)
	if !ok {
		_ = sess.send(OutboundFrame{Type: outError, Message: err.Error()})
		return
	}
	if de.kind == errTransport {
		return
	}
	_ = sess.send(OutboundFrame{Type: outError, Message: de.message})
}

func (d *dispatcher) handleRegisterKey(sess *Session, in InboundFrame) {
	sess.mu.Lock()
	sess.PublicKey = in.PublicKey
	sess.mu.Unlock()
	_ = sess.send(OutboundFrame{Type: outKeyRegistered, Message: "Public key registered"})
	d.broadcastUsersList()
	for _, room := range d.h.roomsOfLive(sess.Identity) {
		d.broadcastRoomRoster(room)
	}
}

func (d *dispatcher) handlePrivate(sess *Session, in InboundFrame) {
	if !d.h.limiter.allow(sess.Identity, sess.Admin) {
		d.reply(sess, &dispatchError{kind: errPolicy, message: floodMessage})
		return
	}
	recipient := strings.TrimSpace(in.RecipientUsername)
	if recipient == "" {
		d.reply(sess, &dispatchError{kind: errValidation, message: "recipient_username is required"})
		return
	}
	isAdmin := sess.Admin
	err := d.h.sendTo(recipient, OutboundFrame{
		Type:             outPrivateMessage,
		FromUsername:     sess.Identity,
		EncryptedContent: in.EncryptedContent,
		IsAdmin:          &isAdmin,
	})
	if err != nil {
		d.reply(sess, err)
	}
}

func (d *dispatcher) handleGetRooms(ctx context.Context, sess *Session) {
	rooms, err := d.h.catalogDB.ListActive(ctx)
	if err != nil {
		d.reply(sess, &dispatchError{kind: errStorage, message: "could not list rooms"})
		return
	}
	names := make([]string, 0, len(rooms))
	for _, r := range rooms {
		names = append(names, r.Name)
	}
	_ = sess.send(OutboundFrame{Type: outRoomsList, Rooms: names})
}

func (d *dispatcher) handleGetRoomUsers(sess *Session, in InboundFrame) {
	room := roomArg(in)
	if room == "" {
		d.reply(sess, &dispatchError{kind: errValidation, message: "room_name is required"})
		return
	}
	_ = sess.send(OutboundFrame{Type: outRoomUsersList, RoomName: room, Users: d.h.roomMembersSnapshot(room)})
}

func (d *dispatcher) handleJoinRoomMsg(ctx context.Context, sess *Session, in InboundFrame) {
	room := roomArg(in)
	if err := d.h.joinRoom(ctx, sess.Identity, room); err != nil {
		d.reply(sess, err)
		return
	}
	_ = sess.send(OutboundFrame{Type: outRoomJoined, RoomName: room})
	d.h.broadcastRoom(room, OutboundFrame{Type: outUserJoinedRoom, Username: sess.Identity, RoomName: room}, sess.Identity)
	d.broadcastRoomRoster(room)
}

func (d *dispatcher) handleLeaveRoomMsg(ctx context.Context, sess *Session, in InboundFrame) {
	room := roomArg(in)
	if err := d.h.leaveRoom(ctx, sess.Identity, room); err != nil {
		d.reply(sess, err)
		return
	}
	_ = sess.send(OutboundFrame{Type: outRoomLeft, RoomName: room})
	d.h.broadcastRoom(room, OutboundFrame{Type: outUserLeftRoom, Username: sess.Identity, RoomName: room}, sess.Identity)
	d.broadcastRoomRoster(room)
}

func roomArg(in InboundFrame) string {
	if in.RoomName != "" {
		return in.RoomName
	}
	return in.Room
}

const floodMessage = "Flood protection: You are sending messages too quickly. Please wait before sending more."

// handleText is the fallback for any frame that isn't one of the
// structured kinds above: a slash-command if Content starts with "/", else
// room-scoped chat.
func (d *dispatcher) handleText(ctx context.Context, sess *Session, in InboundFrame) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		d.reply(sess, &dispatchError{kind: errValidation, message: "empty message"})
		return
	}
	if strings.HasPrefix(content, "/") {
		d.handleCommand(ctx, sess, content)
		return
	}

	room := in.Room
	if room == "" {
		room = mainRoom
	}
	if !d.h.isMember(sess.Identity, room) {
		d.reply(sess, &dispatchError{kind: errPolicy, message: fmt.Sprintf("you are not a member of room %q", room)})
		return
	}
	if !d.h.limiter.allow(sess.Identity, sess.Admin) {
		d.reply(sess, &dispatchError{kind: errPolicy, message: floodMessage})
		return
	}
	d.h.broadcastRoom(room, OutboundFrame{Type: outMessage, Username: sess.Identity, Content: content, Room: room}, "")
}

func (d *dispatcher) broadcastUsersList() {
	d.h.broadcastGlobalRoster()
}

func (d *dispatcher) broadcastRoomRoster(room string) {
	d.h.broadcastRoomRoster(room)
}
