// Package mock provides an in-memory [history.Store] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/embla/internal/history"
)

// Store is a mock implementation of history.Store. Entries are kept in
// append order.
type Store struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by Append.
	AppendErr error

	// ClearErr, if non-nil, is returned by Clear.
	ClearErr error

	// Entries holds every appended entry.
	Entries []history.Entry

	// ClearCallCount is the number of Clear calls.
	ClearCallCount int

	// Closed reports whether Close was called.
	Closed bool

	appended chan struct{}
}

// Append implements history.Store.
func (s *Store) Append(_ context.Context, e history.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return 0, s.AppendErr
	}
	e.ID = int64(len(s.Entries) + 1)
	s.Entries = append(s.Entries, e)
	select {
	case s.notify() <- struct{}{}:
	default:
	}
	return e.ID, nil
}

// List implements history.Store.
func (s *Store) List(_ context.Context, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Entry, 0, len(s.Entries))
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.Entries[i])
	}
	return out, nil
}

// Clear implements history.Store.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearCallCount++
	if s.ClearErr != nil {
		return s.ClearErr
	}
	s.Entries = nil
	return nil
}

// Close implements history.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Appended returns a channel that receives a value after each Append.
// Consecutive appends may coalesce.
func (s *Store) Appended() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify()
}

// Snapshot returns a copy of the stored entries. Thread-safe.
func (s *Store) Snapshot() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Entry(nil), s.Entries...)
}

func (s *Store) notify() chan struct{} {
	if s.appended == nil {
		s.appended = make(chan struct{}, 1)
	}
	return s.appended
}

var _ history.Store = (*Store)(nil)
