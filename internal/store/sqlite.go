// Package store provides SQLite-backed persistence for tickets, their
// patchsets and the journal of changes applied to them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRevisionConflict is returned by ApplyChange when the patchset revision
// is not exactly one past the ticket's latest revision. Another push to the
// same ticket won the race; the caller should reload and rebuild.
var ErrRevisionConflict = errors.New("patchset revision conflict")

// ErrNotFound is returned when a change targets a ticket that does not exist
// and does not create it.
var ErrNotFound = errors.New("ticket not found")

// Store is the ticket persistence layer.
type Store struct {
	db *sql.DB
}

// New creates a new Store, initializing the database if needed.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	// Immediate transactions take the write lock up front so two concurrent
	// ApplyChange calls serialize instead of failing on lock upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ticket snapshots, one row per ticket
	CREATE TABLE IF NOT EXISTS tickets (
		number      INTEGER PRIMARY KEY,
		change_id   TEXT NOT NULL DEFAULT '',
		title       TEXT NOT NULL DEFAULT '',
		body        TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		type        TEXT NOT NULL,
		merge_to    TEXT NOT NULL DEFAULT '',
		milestone   TEXT NOT NULL DEFAULT '',
		topic       TEXT NOT NULL DEFAULT '',
		assigned_to TEXT NOT NULL DEFAULT '',
		created_by  TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Patchsets are immutable; (number, rev) is never rewritten
	CREATE TABLE IF NOT EXISTS patchsets (
		number        INTEGER NOT NULL,
		rev           INTEGER NOT NULL,
		tip           TEXT NOT NULL,
		base          TEXT NOT NULL DEFAULT '',
		type          TEXT NOT NULL,
		total_commits INTEGER NOT NULL DEFAULT 0,
		added_commits INTEGER NOT NULL DEFAULT 0,
		ref           TEXT NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,

		PRIMARY KEY (number, rev),
		FOREIGN KEY (number) REFERENCES tickets(number)
	);

	CREATE TABLE IF NOT EXISTS watchers (
		number INTEGER NOT NULL,
		name   TEXT NOT NULL,

		PRIMARY KEY (number, name),
		FOREIGN KEY (number) REFERENCES tickets(number)
	);

	-- Append-only change journal
	CREATE TABLE IF NOT EXISTS changes (
		id           TEXT PRIMARY KEY,
		number       INTEGER NOT NULL,
		created_by   TEXT NOT NULL,
		created_at   DATETIME NOT NULL,
		fields       TEXT NOT NULL DEFAULT '{}',  -- JSON object keyed by field name
		watch        TEXT NOT NULL DEFAULT '[]',  -- JSON array of added watchers
		patchset_rev INTEGER,

		FOREIGN KEY (number) REFERENCES tickets(number)
	);

	-- Single-row ticket number allocator
	CREATE TABLE IF NOT EXISTS ticket_counter (
		id   INTEGER PRIMARY KEY CHECK (id = 1),
		last INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
	CREATE INDEX IF NOT EXISTS idx_changes_number ON changes(number, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func repeatSQL(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
