// Package postgres stores the session history in PostgreSQL, for setups
// where several clients share one record.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/embla/internal/history"
)

const ddl = `
CREATE TABLE IF NOT EXISTS query_history (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    question    TEXT         NOT NULL,
    answer      TEXT         NOT NULL DEFAULT '',
    source      TEXT         NOT NULL DEFAULT '',
    command     TEXT         NOT NULL DEFAULT '',
    cause       TEXT         NOT NULL DEFAULT '',
    error       TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_history_ended_at
    ON query_history (ended_at DESC);
`

// Store is a [history.Store] backed by a [pgxpool.Pool]. All methods are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres history: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the history table and index if they do not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres history: apply schema: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool, e.g. for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, e history.Entry) (int64, error) {
	const q = `
		INSERT INTO query_history
		    (session_id, question, answer, source, command, cause, error, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q,
		e.SessionID, e.Question, e.Answer, e.Source, e.Command, e.Cause, e.Error,
		e.StartedAt, e.EndedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres history: append: %w", err)
	}
	return id, nil
}

// List implements [history.Store].
func (s *Store) List(ctx context.Context, limit int) ([]history.Entry, error) {
	q := `
		SELECT id, session_id, question, answer, source, command, cause, error, started_at, ended_at
		FROM   query_history
		ORDER  BY ended_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres history: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var e history.Entry
		err := row.Scan(&e.ID, &e.SessionID, &e.Question, &e.Answer, &e.Source,
			&e.Command, &e.Cause, &e.Error, &e.StartedAt, &e.EndedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan: %w", err)
	}
	return entries, nil
}

// Clear implements [history.Store].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE query_history`); err != nil {
		return fmt.Errorf("postgres history: clear: %w", err)
	}
	return nil
}

// Close implements [history.Store].
// Ping verifies a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ history.Store = (*Store)(nil)

var _ history.Pinger = (*Store)(nil)
