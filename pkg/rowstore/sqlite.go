package rowstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Schema is the entry database DDL. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	source TEXT,
	device_id TEXT,
	meta_json TEXT,
	payload BLOB NOT NULL,
	iv BLOB NOT NULL,
	tag BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS entry_tags (
	entry_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (entry_id, tag),
	FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entry_tags_tag ON entry_tags(tag);
`

// RequiredTables must exist in any database the entry store opens.
var RequiredTables = []string{"entries", "entry_tags"}

// Synchronous levels accepted by SQLiteOpener.
const (
	SyncNormal = "NORMAL"
	SyncFull   = "FULL"
)

// SQLiteOpener opens SQLite databases through modernc.org/sqlite.
type SQLiteOpener struct {
	// Synchronous is the PRAGMA synchronous level. Empty means NORMAL.
	Synchronous string
}

var _ Opener = SQLiteOpener{}

// Open opens (creating if needed) the database at path in WAL mode with
// foreign keys enforced and a single connection.
func (o SQLiteOpener) Open(ctx context.Context, path string) (Store, error) {
	syncLevel := strings.ToUpper(o.Synchronous)
	switch syncLevel {
	case "":
		syncLevel = SyncNormal
	case SyncNormal, SyncFull:
	default:
		return nil, fmt.Errorf("rowstore: invalid synchronous level %q", o.Synchronous)
	}

	dsn, err := buildDSN(path, []string{
		"journal_mode(WAL)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"synchronous(" + syncLevel + ")",
	})
	if err != nil {
		return nil, err
	}
	return openDSN(ctx, dsn)
}

// SQLite is a Store over a single *sql.DB connection.
type SQLite struct {
	runner
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func openDSN(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rowstore: failed to open database: %w", err)
	}

	// One connection: statements serialize and transactions never see
	// "database is locked" from a sibling connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("rowstore: failed to open database: %w", err)
	}
	return &SQLite{runner: runner{q: db}, db: db}, nil
}

func buildDSN(path string, pragmas []string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("rowstore: failed to resolve path: %w", err)
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + filepath.ToSlash(abs) + "?" + q.Encode(), nil
}

func (s *SQLite) Exec(ctx context.Context, ddl string) error {
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLite) Tx(ctx context.Context, fn func(Runner) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rowstore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(runner{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rowstore: failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the entry tables and indices if they are missing.
func EnsureSchema(ctx context.Context, s Store) error {
	if err := s.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("rowstore: failed to create schema: %w", err)
	}
	return nil
}
