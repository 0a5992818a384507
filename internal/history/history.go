// Package history keeps a record of completed voice sessions: what was
// asked, what was answered and how the session ended.
//
// A [Recorder] subscribes to the orchestrator's events and writes one
// [Entry] per session that produced a transcript. Entries live in a [Store];
// sub-packages provide SQLite (local) and PostgreSQL (shared) backends.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by store operations after Close.
var ErrClosed = errors.New("history: store is closed")

// Entry is one recorded session.
type Entry struct {
	// ID is assigned by the store on Append.
	ID int64

	SessionID string

	// Question is the best transcript that was submitted.
	Question string

	// Answer is the answer text. Empty when no answer arrived.
	Answer string

	// Source names the answer's origin (e.g., "Greynir", "OpenAI").
	Source string

	// Command is the client command that came with the answer, if any.
	Command string

	// Cause is the session's termination cause, e.g. "normal-completion".
	Cause string

	// Error is the message of the error that ended the session, if any.
	Error string

	StartedAt time.Time
	EndedAt   time.Time
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// Append records e and returns the ID it was stored under.
	Append(ctx context.Context, e Entry) (int64, error)

	// List returns at most limit entries, newest first. A limit of zero or
	// less returns everything.
	List(ctx context.Context, limit int) ([]Entry, error)

	// Clear deletes every entry.
	Clear(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Pinger is implemented by stores that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
