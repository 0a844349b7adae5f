package main

import (
	"context"
	"fmt"
	"strings"
)

// commandHandler implements one slash-command's body.
type commandHandler func(ctx context.Context, d *dispatcher, sess *Session, args string)

type commandSpec struct {
	admin   bool
	handler commandHandler
}

// commandTable maps a command name (without the leading slash) to its
// handler and required-admin flag.
var commandTable = map[string]commandSpec{
	"changeuname": {admin: false, handler: cmdChangeUname},
	"admin":       {admin: false, handler: cmdAdmin},
	"kick":        {admin: true, handler: cmdKick},
	"ban":         {admin: true, handler: cmdBan},
	"userinfo":    {admin: true, handler: cmdUserInfo},
	"join":        {admin: false, handler: cmdJoin},
	"left":        {admin: false, handler: cmdLeft},
	"createroom":  {admin: true, handler: cmdCreateRoom},
	"deleteroom":  {admin: true, handler: cmdDeleteRoom},
	"help":        {admin: false, handler: cmdHelp},
}

func (d *dispatcher) handleCommand(ctx context.Context, sess *Session, content string) {
	body := strings.TrimPrefix(content, "/")
	name, args, _ := strings.Cut(body, " ")
	name = strings.ToLower(strings.TrimSpace(name))

	spec, ok := commandTable[name]
	if !ok {
		d.reply(sess, &dispatchError{kind: errValidation, message: fmt.Sprintf("unknown command %q", name)})
		return
	}
	if spec.admin && !sess.Admin {
		d.reply(sess, &dispatchError{kind: errAuthorization, message: "this command requires admin privileges"})
		return
	}
	spec.handler(ctx, d, sess, strings.TrimSpace(args))
}

func cmdChangeUname(ctx context.Context, d *dispatcher, sess *Session, args string) {
	newName := args
	if newName == "" {
		d.reply(sess, &dispatchError{kind: errValidation, message: "Cannot change username: a new username is required"})
		return
	}
	old := sess.Identity
	if err := d.h.rename(old, newName); err != nil {
		de, _ := err.(*dispatchError)
		msg := err.Error()
		if de != nil {
			msg = de.message
		}
		d.reply(sess, &dispatchError{kind: errConflict, message: "Cannot change username: " + msg})
		return
	}
	_ = sess.send(OutboundFrame{Type: outUsernameChanged, OldUsername: old, NewUsername: newName})
	d.h.broadcastAll(OutboundFrame{Type: outUserRenamed, OldUsername: old, NewUsername: newName}, newName)
	for _, room := range d.h.roomsOfLive(newName) {
		d.broadcastRoomRoster(room)
	}
	d.broadcastUsersList()
}

func cmdAdmin(_ context.Context, d *dispatcher, sess *Session, args string) {
	if d.h.creds.check(args) {
		sess.mu.Lock()
		sess.Admin = true
		sess.mu.Unlock()
		_ = sess.send(OutboundFrame{Type: outAdminSuccess, Message: "Admin privileges granted"})
		d.broadcastUsersList()
		return
	}
	d.reply(sess, &dispatchError{kind: errAuthorization, message: "Invalid admin password"})
}

func cmdKick(_ context.Context, d *dispatcher, sess *Session, args string) {
	target := args
	targetSess, ok := d.h.session(target)
	if !ok {
		d.reply(sess, &dispatchError{kind: errNotFound, message: fmt.Sprintf("user %q not found", target)})
		return
	}
	_ = targetSess.send(OutboundFrame{Type: outKicked, Message: fmt.Sprintf("You have been kicked by %s", sess.Identity)})
	d.h.broadcastAll(OutboundFrame{Type: outUserKicked, Username: targetSess.Identity, Message: fmt.Sprintf("%s was kicked by %s", targetSess.Identity, sess.Identity)}, "")
	name := targetSess.Identity
	targetSess.close()
	d.h.unregister(name)
}

func cmdBan(_ context.Context, d *dispatcher, sess *Session, args string) {
	target := args
	targetSess, ok := d.h.session(target)
	if !ok {
		d.reply(sess, &dispatchError{kind: errNotFound, message: fmt.Sprintf("user %q not found", target)})
		return
	}
	d.h.bans.add(targetSess.Addr)
	_ = targetSess.send(OutboundFrame{Type: outBanned, Message: fmt.Sprintf("You have been banned by %s", sess.Identity)})
	d.h.broadcastAll(OutboundFrame{Type: outUserBanned, Username: targetSess.Identity}, "")
	name := targetSess.Identity
	targetSess.close()
	d.h.unregister(name)
	_ = sess.send(OutboundFrame{Type: outBanSuccess, Message: fmt.Sprintf("%s has been banned", name)})
}

func cmdUserInfo(_ context.Context, d *dispatcher, sess *Session, args string) {
	target := args
	targetSess, ok := d.h.session(target)
	if !ok {
		d.reply(sess, &dispatchError{kind: errNotFound, message: fmt.Sprintf("user %q not found", target)})
		return
	}
	isAdmin := targetSess.Admin
	_ = sess.send(OutboundFrame{
		Type:     outUserInfo,
		Username: targetSess.Identity,
		PeerAddr: targetSess.Addr,
		IsAdmin:  &isAdmin,
		JoinedAt: targetSess.JoinedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Rooms:    d.h.roomsOfLive(targetSess.Identity),
	})
}

func cmdJoin(ctx context.Context, d *dispatcher, sess *Session, args string) {
	name := strings.TrimPrefix(args, "#")
	if err := d.h.joinRoom(ctx, sess.Identity, name); err != nil {
		d.reply(sess, err)
		return
	}
	_ = sess.send(OutboundFrame{Type: outRoomJoined, RoomName: name})
	d.h.broadcastRoom(name, OutboundFrame{Type: outUserJoinedRoom, Username: sess.Identity, RoomName: name}, sess.Identity)
	d.broadcastRoomRoster(name)
}

// cmdLeft leaves the most recently joined non-main room — join order is
// the only ordering a user can reconstruct from their own actions, so it
// is the deterministic target.
func cmdLeft(ctx context.Context, d *dispatcher, sess *Session, _ string) {
	room := d.h.lastJoinedNonMain(sess.Identity)
	if room == "" {
		d.reply(sess, &dispatchError{kind: errPolicy, message: "you are not in any room besides main"})
		return
	}
	if err := d.h.leaveRoom(ctx, sess.Identity, room); err != nil {
		d.reply(sess, err)
		return
	}
	_ = sess.send(OutboundFrame{Type: outRoomLeft, RoomName: room})
	d.h.broadcastRoom(room, OutboundFrame{Type: outUserLeftRoom, Username: sess.Identity, RoomName: room}, sess.Identity)
	d.broadcastRoomRoster(room)
}

func cmdCreateRoom(ctx context.Context, d *dispatcher, sess *Session, args string) {
	name := args
	if err := d.h.createRoom(ctx, name, sess.Identity); err != nil {
		d.reply(sess, err)
		return
	}
	_ = sess.send(OutboundFrame{Type: outRoomCreated, RoomName: name})
}

func cmdDeleteRoom(ctx context.Context, d *dispatcher, sess *Session, args string) {
	name := args
	affected, err := d.h.deleteRoom(ctx, name)
	if err != nil {
		d.reply(sess, err)
		return
	}
	frame := OutboundFrame{Type: outRoomDeleted, RoomName: name, Message: fmt.Sprintf("room %q was deleted", name)}
	notified := make(map[string]bool, len(affected)+1)
	for _, identity := range affected {
		if s, ok := d.h.session(identity); ok {
			_ = s.send(frame)
		}
		notified[fold(identity)] = true
	}
	if !notified[fold(sess.Identity)] {
		_ = sess.send(frame)
	}
}

func cmdHelp(_ context.Context, d *dispatcher, sess *Session, _ string) {
	const help = "Available commands: /changeuname <name>, /admin <passphrase>, " +
		"/kick <name>, /ban <name>, /userinfo <name>, /join <#room>, /left, " +
		"/createroom <name>, /deleteroom <name>, /help"
	_ = sess.send(OutboundFrame{Type: outHelp, Message: help})
}
