// Package query defines the client side of the natural-language query
// backend: the request built from a finished transcript, the answer that comes
// back, and the Client interface that sends one to get the other.
//
// Implementations must be safe for concurrent use.
package query

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/embla/pkg/audio"
)

// ErrEmptyQuery is returned by Submit when the request carries no text.
var ErrEmptyQuery = errors.New("query: empty query")

// Location is an optional geographic position sent with a query so the
// backend can answer location-dependent questions.
type Location struct {
	Latitude  float64
	Longitude float64
}

// ClientInfo identifies the client to the backend.
type ClientInfo struct {
	// Name is the assistant's name as configured on the client.
	Name string

	// Type is the client platform (e.g. "linux", "ios").
	Type string

	// Version is the client software version.
	Version string

	// ID is a stable, anonymous client identifier used to key query history.
	ID string

	// Location is sent when the user has allowed it. Nil otherwise.
	Location *Location
}

// Request is one query sent to the backend.
type Request struct {
	// Alternatives are the recognised candidate transcripts, best first. The
	// backend may pick a later candidate if it parses better.
	Alternatives []string

	// Client identifies the sender.
	Client ClientInfo
}

// Text returns the best candidate, or "" if there is none.
func (r Request) Text() string {
	if len(r.Alternatives) == 0 {
		return ""
	}
	return r.Alternatives[0]
}

// Validate reports ErrEmptyQuery when no candidate holds any text.
func (r Request) Validate() error {
	for _, alt := range r.Alternatives {
		if strings.TrimSpace(alt) != "" {
			return nil
		}
	}
	return ErrEmptyQuery
}

// Answer is the backend's response to a query.
type Answer struct {
	// Text is the answer to display.
	Text string

	// Question is the question as the backend understood it.
	Question string

	// Source names where the answer came from (e.g. "Wikipedía").
	Source string

	// Audio is the spoken answer. Zero when the answer has no audio.
	Audio audio.AudioRef

	// Command is an optional client-side command to perform.
	Command string

	// OpenURL is an optional URL the client should open.
	OpenURL string

	// ImageURL is an optional image to display with the answer.
	ImageURL string
}

// HasAudio reports whether the answer carries something to play.
func (a *Answer) HasAudio() bool { return a != nil && !a.Audio.IsZero() }

// Client submits queries to a backend.
type Client interface {
	// Submit sends req and returns the backend's answer. It blocks until the
	// answer arrives, the request fails, or ctx is cancelled.
	Submit(ctx context.Context, req Request) (*Answer, error)
}

// HistoryClearer is implemented by backends that keep a per-client query
// history the user can erase.
type HistoryClearer interface {
	// ClearHistory erases the query history of client. When all is true every
	// stored datum for the client is erased, not just the query log.
	ClearHistory(ctx context.Context, client ClientInfo, all bool) error
}
