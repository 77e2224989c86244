// SPDX-License-Identifier: MIT

// Package library is the knowledge base: SQLite persistence for the
// Artist → Work → Recording → File hierarchy plus broadcast logs, the
// discovery queue, the identity bridge, aliases, and resolver preference
// tables. All mutating operations are idempotent upserts with unique-key
// retry; composite operations run in single transactions.
package library

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/airwavehq/airwave/internal/log"
)

// Store provides SQLite persistence for the knowledge base.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore opens the database, applies pragmas, and runs migrations.
// busy_timeout avoids "database locked" errors under concurrent writers.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db, log: log.WithComponent("library")}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages that persist alongside the
// knowledge base (audit) and for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable; the health endpoint uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// migrate runs database schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS works (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		artist_id INTEGER NOT NULL,
		is_instrumental INTEGER NOT NULL DEFAULT 0,
		UNIQUE(title, artist_id)
	);
	CREATE INDEX IF NOT EXISTS idx_works_artist ON works(artist_id);

	CREATE TABLE IF NOT EXISTS work_artists (
		work_id INTEGER NOT NULL,
		artist_id INTEGER NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (work_id, artist_id)
	);
	CREATE INDEX IF NOT EXISTS idx_work_artists_artist ON work_artists(artist_id);

	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		work_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		version_type TEXT NOT NULL DEFAULT 'Original',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		external_id TEXT NOT NULL DEFAULT '',
		is_verified INTEGER NOT NULL DEFAULT 0,
		UNIQUE(work_id, title, version_type)
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_work ON recordings(work_id);

	CREATE TABLE IF NOT EXISTS library_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recording_id INTEGER NOT NULL,
		path TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		mod_time TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_files_recording ON library_files(recording_id);
	CREATE INDEX IF NOT EXISTS idx_files_hash ON library_files(content_hash);

	CREATE TABLE IF NOT EXISTS broadcast_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		station_id TEXT NOT NULL,
		played_at TEXT NOT NULL,
		raw_artist TEXT NOT NULL,
		raw_title TEXT NOT NULL,
		signature TEXT NOT NULL,
		work_id INTEGER,
		match_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_logs_signature ON broadcast_logs(signature);
	CREATE INDEX IF NOT EXISTS idx_logs_station_played ON broadcast_logs(station_id, played_at);
	CREATE INDEX IF NOT EXISTS idx_logs_unmatched ON broadcast_logs(work_id) WHERE work_id IS NULL;

	CREATE TABLE IF NOT EXISTS discovery_queue (
		signature TEXT PRIMARY KEY,
		raw_artist TEXT NOT NULL,
		raw_title TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 1,
		suggested_work_id INTEGER,
		best_artist_sim REAL NOT NULL DEFAULT 0,
		best_title_sim REAL NOT NULL DEFAULT 0,
		skip_until TEXT,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_count ON discovery_queue(count DESC);

	CREATE TABLE IF NOT EXISTS identity_bridge (
		signature TEXT PRIMARY KEY,
		reference_artist TEXT NOT NULL,
		reference_title TEXT NOT NULL,
		work_id INTEGER NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		is_revoked INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bridge_work ON identity_bridge(work_id);

	CREATE TABLE IF NOT EXISTS artist_aliases (
		raw_name TEXT PRIMARY KEY,
		resolved_name TEXT NOT NULL,
		is_verified INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS proposed_splits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		raw_artist TEXT NOT NULL UNIQUE,
		parts TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'proposed' CHECK(status IN ('proposed', 'confirmed', 'rejected', 'edited')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS station_preferences (
		station_id TEXT NOT NULL,
		work_id INTEGER NOT NULL,
		recording_id INTEGER NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (station_id, work_id, recording_id)
	);

	CREATE TABLE IF NOT EXISTS format_preferences (
		format_code TEXT NOT NULL,
		work_id INTEGER NOT NULL,
		recording_id INTEGER NOT NULL,
		exclude_tags TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (format_code, work_id)
	);

	CREATE TABLE IF NOT EXISTS work_default_recordings (
		work_id INTEGER PRIMARY KEY,
		recording_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		undone INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
