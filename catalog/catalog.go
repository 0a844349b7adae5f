// Package catalog is the persistent half of the Room Catalog: a SQLite-backed
// directory of rooms and (user, room) memberships. It is deliberately a dumb
// key/value catalog — it knows nothing about live sessions or fan-out; the
// in-memory routing indexes in the hub package mirror it for live lookups
// and are rehydrated from it on registration.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a room lookup by name finds nothing.
var ErrNotFound = errors.New("room not found")

// ErrExists is returned by Create when the room name is already taken,
// including by a previously soft-deleted room: deletion retires a name,
// it does not free it.
var ErrExists = errors.New("room already exists")

// ErrMainRoom is returned when a caller attempts to delete the permanent
// default room.
var ErrMainRoom = errors.New("the main room cannot be deleted")

const mainRoomName = "main"

// migrations is applied in order; schema_migrations records how far this
// database has been migrated.
var migrations = []string{
	`CREATE TABLE rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE user_rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		room_name TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		UNIQUE(username, room_name)
	)`,
	`CREATE INDEX idx_user_rooms_username ON user_rooms(username)`,
	`CREATE INDEX idx_user_rooms_room_name ON user_rooms(room_name)`,
	`PRAGMA journal_mode=WAL`,
}

// Room is a row of the rooms table.
type Room struct {
	ID        int64
	Name      string
	CreatedBy string
	CreatedAt time.Time
	Active    bool
}

// Store wraps the SQLite connection and exposes the Room Catalog's
// operations.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database, runs migrations, and seeds
// the main room if it doesn't already exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.ensureMainRoom(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("catalog store opened", "path", path)
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, i+1, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
	}
	slog.Debug("catalog migrations applied", "version", len(migrations))
	return nil
}

func (s *Store) ensureMainRoom(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rooms (name, created_by, created_at, is_active) VALUES (?, 'system', ?, 1)`,
		mainRoomName, time.Now().Unix())
	return err
}

// Create inserts a new active room. It fails with ErrExists if the name is
// already present, whether active or soft-deleted.
func (s *Store) Create(ctx context.Context, name, createdBy string) (Room, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (name, created_by, created_at, is_active) VALUES (?, ?, ?, 1)`,
		name, createdBy, time.Now().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return Room{}, ErrExists
		}
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	id, _ := res.LastInsertId()
	return Room{ID: id, Name: name, CreatedBy: createdBy, CreatedAt: time.Now(), Active: true}, nil
}

// Delete soft-deletes name (is_active=0) and drops every membership row for
// it. The main room can never be deleted.
func (s *Store) Delete(ctx context.Context, name string) error {
	if strings.EqualFold(name, mainRoomName) {
		return ErrMainRoom
	}
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET is_active = 0 WHERE name = ? AND is_active = 1`, name)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_rooms WHERE room_name = ?`, name); err != nil {
		return fmt.Errorf("clear memberships for %s: %w", name, err)
	}
	return nil
}

// Active reports whether name exists and is active.
func (s *Store) Active(ctx context.Context, name string) (bool, error) {
	var active int
	err := s.db.QueryRowContext(ctx, `SELECT is_active FROM rooms WHERE name = ?`, name).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check room active: %w", err)
	}
	return active == 1, nil
}

// ListActive returns every active room, ordered by name.
func (s *Store) ListActive(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_by, created_at, is_active FROM rooms WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		var createdAt int64
		var active int
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedBy, &createdAt, &active); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.Active = active == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// Join idempotently records that username is a member of room.
func (s *Store) Join(ctx context.Context, username, room string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_rooms (username, room_name, joined_at) VALUES (?, ?, ?)`,
		username, room, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// Leave removes username's membership in room. The main room can never be
// left.
func (s *Store) Leave(ctx context.Context, username, room string) error {
	if strings.EqualFold(room, mainRoomName) {
		return ErrMainRoom
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_rooms WHERE username = ? AND room_name = ?`, username, room)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// UserRooms returns the set of rooms username has a persisted membership
// in, used to rehydrate a Session's memberships on (re)registration.
func (s *Store) UserRooms(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_name FROM user_rooms WHERE username = ?`, username)
	if err != nil {
		return nil, fmt.Errorf("load user rooms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan user room: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// RenameUser rewrites every membership row from oldUsername to newUsername.
func (s *Store) RenameUser(ctx context.Context, oldUsername, newUsername string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE OR REPLACE user_rooms SET username = ? WHERE username = ?`, newUsername, oldUsername)
	if err != nil {
		return fmt.Errorf("rename user rooms: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
