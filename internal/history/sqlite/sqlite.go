// Package sqlite stores the session history in a local SQLite database using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/embla/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL,
    question    TEXT    NOT NULL,
    answer      TEXT    NOT NULL DEFAULT '',
    source      TEXT    NOT NULL DEFAULT '',
    command     TEXT    NOT NULL DEFAULT '',
    cause       TEXT    NOT NULL DEFAULT '',
    error       TEXT    NOT NULL DEFAULT '',
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_ended_at ON history (ended_at);
`

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a [history.Store] backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the history file location under the user's data
// directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "embla", "history.sqlite")
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use [MemoryPath] for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite history: create directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: open: %w", err)
	}
	// One connection: an in-memory database exists per connection, and a
	// single writer avoids SQLITE_BUSY on the file.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite history: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, e history.Entry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history
		    (session_id, question, answer, source, command, cause, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Question, e.Answer, e.Source, e.Command, e.Cause, e.Error,
		e.StartedAt.UnixNano(), e.EndedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite history: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite history: append: %w", err)
	}
	return id, nil
}

// List implements [history.Store].
func (s *Store) List(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, question, answer, source, command, cause, error, started_at, ended_at
		FROM history
		ORDER BY ended_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: list: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var (
			e              history.Entry
			started, ended int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Question, &e.Answer, &e.Source,
			&e.Command, &e.Cause, &e.Error, &started, &ended); err != nil {
			return nil, fmt.Errorf("sqlite history: scan: %w", err)
		}
		e.StartedAt = time.Unix(0, started)
		e.EndedAt = time.Unix(0, ended)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear implements [history.Store].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("sqlite history: clear: %w", err)
	}
	return nil
}

// Close implements [history.Store].
// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

var _ history.Store = (*Store)(nil)

var _ history.Pinger = (*Store)(nil)
