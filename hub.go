package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"chatserver/catalog"
)

// hub is the single supervisor owning every piece of cross-session mutable
// state: the session table, the in-memory room membership graph, and
// handles to the identity registry, ban store, credential rotator, rate
// limiter, and room catalog. It never exposes its raw maps — only guarded
// methods. All cross-session mutation and every read it depends on happens
// under mu; outbound I/O is always performed after the relevant snapshot is
// taken and the lock released.
type hub struct {
	mu sync.RWMutex
	// sessions is keyed by case-folded identity.
	sessions map[string]*Session
	// roomMembers[room] is the set of case-folded identities currently
	// joined to room; memberRooms is its reverse index. Both are kept in
	// lock-step under mu.
	roomMembers map[string]map[string]struct{}
	memberRooms map[string]map[string]struct{}
	// memberOrder records, per identity, the rooms it has joined in join
	// order (main omitted). Used only to give "/left" a deterministic
	// target: the most recently joined non-main room.
	memberOrder map[string][]string

	identities *identityRegistry
	bans       *banStore
	creds      *credentialRotator
	limiter    *rateLimiter
	catalogDB  *catalog.Store
}

func newHub(identities *identityRegistry, bans *banStore, creds *credentialRotator, limiter *rateLimiter, catalogDB *catalog.Store) *hub {
	return &hub{
		sessions:    make(map[string]*Session),
		roomMembers: map[string]map[string]struct{}{mainRoom: {}},
		memberRooms: make(map[string]map[string]struct{}),
		memberOrder: make(map[string][]string),
		identities:  identities,
		bans:        bans,
		creds:       creds,
		limiter:     limiter,
		catalogDB:   catalogDB,
	}
}

func fold(s string) string { return strings.ToLower(s) }

// register reserves requested (or allocates an auto name), creates a
// Session, rehydrates its prior catalog memberships plus a forced join to
// main, and returns it. It also returns the rooms the session is now a
// member of, for the welcome reply.
func (h *hub) register(ctx context.Context, conn wsConn, addr, requested string, cancel func()) (*Session, []string, error) {
	name, err := h.identities.reserve(requested)
	if err != nil {
		return nil, nil, &dispatchError{kind: errValidation, message: err.Error()}
	}

	prior, err := h.catalogDB.UserRooms(ctx, name)
	if err != nil {
		slog.Warn("catalog lookup failed during registration, continuing with main only", "identity", name, "err", err)
		prior = nil
	}

	sess := newSession(name, addr, conn, cancel)

	h.mu.Lock()
	h.sessions[fold(name)] = sess
	rooms := append([]string{mainRoom}, prior...)
	for _, room := range rooms {
		h.addMembershipLocked(fold(name), room)
	}
	h.mu.Unlock()

	if err := h.catalogDB.Join(ctx, name, mainRoom); err != nil {
		slog.Warn("failed to persist main room membership", "identity", name, "err", err)
	}

	slog.Info("session registered", "id", sess.ID, "identity", name, "addr", addr)
	return sess, h.RoomsOf(name), nil
}

func (h *hub) addMembershipLocked(foldedIdentity, room string) {
	if h.roomMembers[room] == nil {
		h.roomMembers[room] = make(map[string]struct{})
	}
	h.roomMembers[room][foldedIdentity] = struct{}{}
	if h.memberRooms[foldedIdentity] == nil {
		h.memberRooms[foldedIdentity] = make(map[string]struct{})
	}
	if _, already := h.memberRooms[foldedIdentity][room]; !already && room != mainRoom {
		h.memberOrder[foldedIdentity] = append(h.memberOrder[foldedIdentity], room)
	}
	h.memberRooms[foldedIdentity][room] = struct{}{}
}

func (h *hub) removeMembershipLocked(foldedIdentity, room string) {
	delete(h.roomMembers[room], foldedIdentity)
	if h.memberRooms[foldedIdentity] != nil {
		delete(h.memberRooms[foldedIdentity], room)
	}
	order := h.memberOrder[foldedIdentity]
	for i, r := range order {
		if r == room {
			h.memberOrder[foldedIdentity] = append(order[:i], order[i+1:]...)
			break
		}
	}
}

// lastJoinedNonMain returns the most recently joined non-main room identity
// is still a member of, or "" if none. This backs "/left"'s deterministic
// policy.
func (h *hub) lastJoinedNonMain(identity string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	order := h.memberOrder[fold(identity)]
	if len(order) == 0 {
		return ""
	}
	return order[len(order)-1]
}

// unregister idempotently drains identity's footprint from every index. It
// is safe to call more than once for the same identity. On an actual
// removal it rebroadcasts each vacated room's roster plus the global
// roster — this covers ordinary disconnect, kick, and ban alike, since all
// three funnel through here.
func (h *hub) unregister(identity string) {
	key := fold(identity)

	h.mu.Lock()
	sess, ok := h.sessions[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, key)
	rooms := make([]string, 0, len(h.memberRooms[key]))
	for room := range h.memberRooms[key] {
		delete(h.roomMembers[room], key)
		rooms = append(rooms, room)
	}
	delete(h.memberRooms, key)
	delete(h.memberOrder, key)
	h.mu.Unlock()

	h.identities.release(sess.Identity)
	h.limiter.forget(sess.Identity)
	slog.Info("session unregistered", "id", sess.ID, "identity", sess.Identity)

	for _, room := range rooms {
		h.broadcastRoomRoster(room)
	}
	h.broadcastGlobalRoster()
}

// session looks up a live session by identity.
func (h *hub) session(identity string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[fold(identity)]
	return s, ok
}

// rename atomically swaps identity's reservation and rewrites every index
// that keys on it. Because this takes the write lock, no broadcast snapshot
// (which takes the read lock) can observe a half-renamed state.
func (h *hub) rename(oldName, newName string) error {
	if err := h.identities.rename(oldName, newName); err != nil {
		return &dispatchError{kind: errConflict, message: err.Error()}
	}

	oldKey, newKey := fold(oldName), fold(newName)

	h.mu.Lock()
	sess, ok := h.sessions[oldKey]
	if !ok {
		h.mu.Unlock()
		// The session disconnected mid-rename; its old reservation was
		// already released by unregister, so drop the new one too.
		h.identities.release(newName)
		return &dispatchError{kind: errNotFound, message: "session no longer connected"}
	}
	sess.mu.Lock()
	sess.Identity = newName
	sess.mu.Unlock()

	h.sessions[newKey] = sess
	delete(h.sessions, oldKey)

	rooms := h.memberRooms[oldKey]
	h.memberRooms[newKey] = rooms
	delete(h.memberRooms, oldKey)
	for room := range rooms {
		delete(h.roomMembers[room], oldKey)
		if h.roomMembers[room] == nil {
			h.roomMembers[room] = make(map[string]struct{})
		}
		h.roomMembers[room][newKey] = struct{}{}
	}
	h.memberOrder[newKey] = h.memberOrder[oldKey]
	delete(h.memberOrder, oldKey)
	h.mu.Unlock()

	h.limiter.rename(oldName, newName)

	ctx := context.Background()
	if err := h.catalogDB.RenameUser(ctx, oldName, newName); err != nil {
		slog.Warn("failed to persist username rename", "old", oldName, "new", newName, "err", err)
	}
	return nil
}

// joinRoom checks the room is active in the catalog, then adds the
// membership to both the in-memory indexes and the persisted catalog.
// Idempotent. Catalog write failures are logged and the in-memory join
// still happens — memberships follow the storage-failure policy where
// in-memory state wins; only room creation/deletion is persist-or-fail.
func (h *hub) joinRoom(ctx context.Context, identity, room string) error {
	active, err := h.catalogDB.Active(ctx, room)
	if err != nil {
		slog.Warn("catalog unavailable during join, falling back to live index", "room", room, "err", err)
		h.mu.RLock()
		_, active = h.roomMembers[room]
		h.mu.RUnlock()
	}
	if !active {
		return &dispatchError{kind: errNotFound, message: fmt.Sprintf("room %q does not exist", room)}
	}

	if err := h.catalogDB.Join(ctx, identity, room); err != nil {
		slog.Warn("failed to persist room membership", "identity", identity, "room", room, "err", err)
	}

	h.mu.Lock()
	h.addMembershipLocked(fold(identity), room)
	h.mu.Unlock()
	return nil
}

// leaveRoom refuses main and otherwise removes the membership everywhere.
// Like joinRoom, a catalog write failure doesn't block the in-memory leave.
func (h *hub) leaveRoom(ctx context.Context, identity, room string) error {
	if strings.EqualFold(room, mainRoom) {
		return &dispatchError{kind: errPolicy, message: "cannot leave the main room"}
	}
	if err := h.catalogDB.Leave(ctx, identity, room); err != nil {
		slog.Warn("failed to persist room leave", "identity", identity, "room", room, "err", err)
	}
	h.mu.Lock()
	h.removeMembershipLocked(fold(identity), room)
	h.mu.Unlock()
	return nil
}

// createRoom is admin-only at the caller; it persists first and only
// updates in-memory indexes on success. Unlike membership changes, room
// creation is rejected outright when the catalog write fails.
func (h *hub) createRoom(ctx context.Context, name, creator string) error {
	if err := validateIdentityGrammar(name); err != nil {
		return &dispatchError{kind: errValidation, message: err.Error()}
	}
	if _, err := h.catalogDB.Create(ctx, name, creator); err != nil {
		if err == catalog.ErrExists {
			return &dispatchError{kind: errConflict, message: "room already exists"}
		}
		return &dispatchError{kind: errStorage, message: err.Error()}
	}
	h.mu.Lock()
	if h.roomMembers[name] == nil {
		h.roomMembers[name] = make(map[string]struct{})
	}
	h.mu.Unlock()
	return nil
}

// deleteRoom persists the soft-delete, then detaches every live session
// from the room and returns their identities so the caller can notify them.
func (h *hub) deleteRoom(ctx context.Context, name string) ([]string, error) {
	if err := h.catalogDB.Delete(ctx, name); err != nil {
		switch err {
		case catalog.ErrMainRoom:
			return nil, &dispatchError{kind: errPolicy, message: "the main room cannot be deleted"}
		case catalog.ErrNotFound:
			return nil, &dispatchError{kind: errNotFound, message: "room does not exist"}
		default:
			return nil, &dispatchError{kind: errStorage, message: err.Error()}
		}
	}

	h.mu.Lock()
	members := h.roomMembers[name]
	var affected []string
	for key := range members {
		if sess, ok := h.sessions[key]; ok {
			affected = append(affected, sess.Identity)
		}
		if h.memberRooms[key] != nil {
			delete(h.memberRooms[key], name)
		}
		order := h.memberOrder[key]
		for i, r := range order {
			if r == name {
				h.memberOrder[key] = append(order[:i], order[i+1:]...)
				break
			}
		}
	}
	delete(h.roomMembers, name)
	h.mu.Unlock()

	return affected, nil
}

// isMember reports whether identity currently has a live membership in room.
func (h *hub) isMember(identity, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.roomMembers[room][fold(identity)]
	return ok
}

// roomMembersSnapshot returns the display names of every live session
// currently joined to room.
func (h *hub) roomMembersSnapshot(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.roomMembers[room]))
	for key := range h.roomMembers[room] {
		if sess, ok := h.sessions[key]; ok {
			out = append(out, sess.Identity)
		}
	}
	sort.Strings(out)
	return out
}

// roomsOfLive returns the rooms identity is currently a live member of.
func (h *hub) roomsOfLive(identity string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := h.memberRooms[fold(identity)]
	out := make([]string, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// RoomsOf is the exported-style accessor used right after registration,
// before the caller has a Session handle of its own.
func (h *hub) RoomsOf(identity string) []string { return h.roomsOfLive(identity) }

// usersSnapshot returns the display names of every live session, sorted.
func (h *hub) usersSnapshot() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for _, sess := range h.sessions {
		out = append(out, sess.Identity)
	}
	sort.Strings(out)
	return out
}

// sessionsSnapshot returns every live session pointer, for the liveness
// sweep and for broadcasts with no room scope.
func (h *hub) sessionsSnapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		out = append(out, sess)
	}
	return out
}

// broadcastRoom snapshots room's live members under the read lock, then
// sends to each after release — outbound I/O must never happen while
// holding mu.
func (h *hub) broadcastRoom(room string, frame OutboundFrame, exceptIdentity string) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.roomMembers[room]))
	except := fold(exceptIdentity)
	for key := range h.roomMembers[room] {
		if key == except {
			continue
		}
		if sess, ok := h.sessions[key]; ok {
			targets = append(targets, sess)
		}
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.send(frame); err != nil {
			go h.unregister(sess.Identity)
		}
	}
}

// broadcastAll is broadcastRoom without a room filter, used for the global
// roster rebroadcast.
func (h *hub) broadcastAll(frame OutboundFrame, exceptIdentity string) {
	except := fold(exceptIdentity)
	for _, sess := range h.sessionsSnapshot() {
		if fold(sess.Identity) == except {
			continue
		}
		if err := sess.send(frame); err != nil {
			go h.unregister(sess.Identity)
		}
	}
}

// broadcastRoomRoster rebroadcasts room's current membership list to every
// live member still in it, after any membership change touching the room.
func (h *hub) broadcastRoomRoster(room string) {
	h.broadcastRoom(room, OutboundFrame{Type: outRoomUsersList, RoomName: room, Users: h.roomMembersSnapshot(room)}, "")
}

// broadcastGlobalRoster rebroadcasts the full connected-user list after any
// global identity change (join, leave, rename, elevation, key registration).
func (h *hub) broadcastGlobalRoster() {
	h.broadcastAll(OutboundFrame{Type: outUsersList, Users: h.usersSnapshot()}, "")
}

// sweep pings every live session; any that fails to receive the ping is
// reaped. Runs on a fixed cadence, independent of and in addition to the
// transport's own ping/pong.
func (h *hub) sweep() {
	for _, sess := range h.sessionsSnapshot() {
		if err := sess.ping(); err != nil {
			identity := sess.Identity
			sess.close()
			h.unregister(identity)
		}
	}
}

// sendTo delivers frame to exactly one live session matching identity, or
// reports not-found.
func (h *hub) sendTo(identity string, frame OutboundFrame) error {
	sess, ok := h.session(identity)
	if !ok {
		return &dispatchError{kind: errNotFound, message: fmt.Sprintf("user %q is not connected", identity)}
	}
	if err := sess.send(frame); err != nil {
		go h.unregister(sess.Identity)
		return &dispatchError{kind: errTransport, message: err.Error()}
	}
	return nil
}
