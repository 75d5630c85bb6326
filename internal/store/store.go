// Package store persists the data that must survive a process restart: the
// avatar blob metadata table backing internal/blob, a mirror of the ban
// list, the audit log for admin/bridge mutations, and advanced-user seed
// data loaded from config. Live session attachment is explicitly excluded
// per the wider spec's non-goals; only these durable side-tables live here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrBlobNotFound is returned when no blob metadata exists for a UUID.
var ErrBlobNotFound = errors.New("store: blob metadata not found")

// BlobMetadata mirrors one row of the avatar blob table.
type BlobMetadata struct {
	UUID        uuid.UUID
	Hash        string // hex sha256
	SizeBytes   int64
	ContentType string
	CreatedAt   time.Time
}

// AuditLogEntry mirrors one row of the audit log.
type AuditLogEntry struct {
	ID        int64
	ActorUUID string
	Action    string
	Target    string
	Details   string
	CreatedAt time.Time
}

// AdvancedUser mirrors one row seeded from the config file's advancedUsers
// table.
type AdvancedUser struct {
	UUID     uuid.UUID
	Username string
	Banned   bool
	Special  [6]int
	Pride    [25]int
}

// Store persists server state in SQLite via the pure-Go modernc.org/sqlite
// driver (no cgo).
type Store struct {
	db *sql.DB
}

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Every statement runs on each Open, so each one is written to be
// idempotent (IF NOT EXISTS); no applied version is recorded in
// schema_migrations. Appended, never edited or reordered, matching the
// teacher's own migration-file convention.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`,
	`CREATE TABLE IF NOT EXISTS blobs (
		uuid TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL CHECK(size_bytes >= 0),
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_uuid TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE TABLE IF NOT EXISTS bans (
		uuid TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE TABLE IF NOT EXISTS advanced_users (
		uuid TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		banned INTEGER NOT NULL DEFAULT 0,
		special_json TEXT NOT NULL DEFAULT '[]',
		pride_json TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	`PRAGMA journal_mode=WAL`,
}

// Open opens (or creates) a SQLite database at path and applies any pending
// migrations. Use ":memory:" for ephemeral in-process storage (tests).
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("store: enable foreign keys: %w", err)
	}
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertBlob records or replaces metadata for uuid.
func (s *Store) UpsertBlob(ctx context.Context, m BlobMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (uuid, hash, content_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET hash=excluded.hash, content_type=excluded.content_type,
			size_bytes=excluded.size_bytes, created_at=excluded.created_at`,
		m.UUID.String(), m.Hash, m.ContentType, m.SizeBytes, m.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert blob: %w", err)
	}
	return nil
}

// DeleteBlob removes metadata for uuid.
func (s *Store) DeleteBlob(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE uuid = ?`, id.String())
	if err != nil {
		return fmt.Errorf("store: delete blob: %w", err)
	}
	return nil
}

// BlobByUUID looks up metadata for id, returning ErrBlobNotFound if absent.
func (s *Store) BlobByUUID(ctx context.Context, id uuid.UUID) (BlobMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT uuid, hash, content_type, size_bytes, created_at FROM blobs WHERE uuid = ?`, id.String())
	var m BlobMetadata
	var idStr string
	var createdUnix int64
	if err := row.Scan(&idStr, &m.Hash, &m.ContentType, &m.SizeBytes, &createdUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BlobMetadata{}, ErrBlobNotFound
		}
		return BlobMetadata{}, fmt.Errorf("store: blob by uuid: %w", err)
	}
	m.UUID = id
	m.CreatedAt = time.Unix(createdUnix, 0).UTC()
	return m, nil
}

// InsertAuditLog appends one audit trail entry.
func (s *Store) InsertAuditLog(ctx context.Context, actorUUID, action, target, details string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor_uuid, action, target, details) VALUES (?, ?, ?, ?)`,
		actorUUID, action, target, details)
	if err != nil {
		return fmt.Errorf("store: insert audit log: %w", err)
	}
	return nil
}

// ListAuditLog returns the most recent entries, newest first, up to limit.
func (s *Store) ListAuditLog(ctx context.Context, limit int) ([]AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_uuid, action, target, details, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		var createdUnix int64
		if err := rows.Scan(&e.ID, &e.ActorUUID, &e.Action, &e.Target, &e.Details, &createdUnix); err != nil {
			return nil, fmt.Errorf("store: scan audit log: %w", err)
		}
		e.CreatedAt = time.Unix(createdUnix, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertBan persists that uuid is banned.
func (s *Store) InsertBan(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO bans (uuid) VALUES (?)`, id.String())
	if err != nil {
		return fmt.Errorf("store: insert ban: %w", err)
	}
	return nil
}

// DeleteBan removes the persisted ban for uuid.
func (s *Store) DeleteBan(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE uuid = ?`, id.String())
	if err != nil {
		return fmt.Errorf("store: delete ban: %w", err)
	}
	return nil
}

// ListBans returns every currently-persisted banned UUID, used to hydrate
// the in-memory user manager on startup.
func (s *Store) ListBans(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid FROM bans`)
	if err != nil {
		return nil, fmt.Errorf("store: list bans: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("store: scan ban: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertAdvancedUser persists one advancedUsers config entry so it survives
// config reloads being the only source of truth for that restart.
func (s *Store) UpsertAdvancedUser(ctx context.Context, u AdvancedUser) error {
	specialJSON, err := json.Marshal(u.Special)
	if err != nil {
		return fmt.Errorf("store: marshal special badges: %w", err)
	}
	prideJSON, err := json.Marshal(u.Pride)
	if err != nil {
		return fmt.Errorf("store: marshal pride badges: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO advanced_users (uuid, username, banned, special_json, pride_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET username=excluded.username, banned=excluded.banned,
			special_json=excluded.special_json, pride_json=excluded.pride_json`,
		u.UUID.String(), u.Username, u.Banned, string(specialJSON), string(prideJSON))
	if err != nil {
		return fmt.Errorf("store: upsert advanced user: %w", err)
	}
	return nil
}

// ListAdvancedUsers returns every persisted advanced-user row.
func (s *Store) ListAdvancedUsers(ctx context.Context) ([]AdvancedUser, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, username, banned, special_json, pride_json FROM advanced_users`)
	if err != nil {
		return nil, fmt.Errorf("store: list advanced users: %w", err)
	}
	defer rows.Close()

	var out []AdvancedUser
	for rows.Next() {
		var idStr, specialJSON, prideJSON string
		var u AdvancedUser
		if err := rows.Scan(&idStr, &u.Username, &u.Banned, &specialJSON, &prideJSON); err != nil {
			return nil, fmt.Errorf("store: scan advanced user: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		u.UUID = id
		_ = json.Unmarshal([]byte(specialJSON), &u.Special)
		_ = json.Unmarshal([]byte(prideJSON), &u.Pride)
		out = append(out, u)
	}
	return out, rows.Err()
}
