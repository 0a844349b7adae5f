package catalog

import (
	"context"
	"testing"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMainRoomSeeded(t *testing.T) {
	s := newMemStore(t)
	active, err := s.Active(context.Background(), mainRoomName)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if !active {
		t.Fatalf("expected main room to be seeded and active")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate call failed: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migration rows, got %d", len(migrations), count)
	}
}

func TestCreateDeleteRoom(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	if _, err := s.Create(ctx, "lounge", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "lounge", "alice"); err != ErrExists {
		t.Fatalf("expected ErrExists on duplicate create, got %v", err)
	}

	if err := s.Join(ctx, "bob", "lounge"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := s.Delete(ctx, "lounge"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	active, err := s.Active(ctx, "lounge")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active {
		t.Fatalf("expected lounge to be inactive after delete")
	}

	rooms, err := s.UserRooms(ctx, "bob")
	if err != nil {
		t.Fatalf("user rooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("expected memberships cleared after room delete, got %v", rooms)
	}

	// Name reuse after soft-delete is refused.
	if _, err := s.Create(ctx, "lounge", "bob"); err != ErrExists {
		t.Fatalf("expected ErrExists reusing a deleted room name, got %v", err)
	}
}

func TestMainRoomCannotBeDeletedOrLeft(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	if err := s.Delete(ctx, mainRoomName); err != ErrMainRoom {
		t.Fatalf("expected ErrMainRoom deleting main, got %v", err)
	}
	if err := s.Leave(ctx, "alice", mainRoomName); err != ErrMainRoom {
		t.Fatalf("expected ErrMainRoom leaving main, got %v", err)
	}
}

func TestJoinIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	if err := s.Join(ctx, "alice", mainRoomName); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Join(ctx, "alice", mainRoomName); err != nil {
		t.Fatalf("repeat join should be idempotent: %v", err)
	}
	rooms, err := s.UserRooms(ctx, "alice")
	if err != nil {
		t.Fatalf("user rooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected exactly one membership row, got %v", rooms)
	}
}

func TestRenameUser(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	if err := s.Join(ctx, "alice", mainRoomName); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.RenameUser(ctx, "alice", "alicia"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	rooms, err := s.UserRooms(ctx, "alicia")
	if err != nil {
		t.Fatalf("user rooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected renamed user to keep membership, got %v", rooms)
	}
}
