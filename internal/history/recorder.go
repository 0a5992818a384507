package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/embla/internal/voice"
)

const defaultWriteTimeout = 5 * time.Second

// Recorder is a [voice.Subscriber] that appends an [Entry] to a [Store] when
// a session that produced a transcript terminates. Sessions that ended
// before any transcript (cancelled, no speech) are not recorded.
type Recorder struct {
	store   Store
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[voice.SessionID]*Entry
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger. The default is [slog.Default].
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// WithWriteTimeout bounds each store write. Default: 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: defaultWriteTimeout,
		now:     time.Now,
		pending: make(map[voice.SessionID]*Entry),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// HandleEvent implements [voice.Subscriber].
func (r *Recorder) HandleEvent(e voice.Event) {
	r.mu.Lock()
	entry, ok := r.pending[e.SessionID()]
	if !ok {
		entry = &Entry{SessionID: string(e.SessionID()), StartedAt: r.now()}
		r.pending[e.SessionID()] = entry
	}

	switch e := e.(type) {
	case voice.Transcripts:
		if len(e.Candidates) > 0 {
			entry.Question = e.Candidates[0]
		}
	case voice.AnswerReceived:
		entry.Answer = e.Answer.Text
		entry.Source = e.Answer.Source
		entry.Command = e.Answer.Command
	case voice.ErrorRaised:
		entry.Error = e.Err.Message
	case voice.Terminated:
		delete(r.pending, e.Session)
		entry.Cause = e.Cause.String()
		entry.EndedAt = r.now()
		r.mu.Unlock()
		r.write(*entry)
		return
	}
	r.mu.Unlock()
}

func (r *Recorder) write(e Entry) {
	if e.Question == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.store.Append(ctx, e); err != nil {
		r.log.Warn("history: record session", "session_id", e.SessionID, "err", err)
	}
}

var _ voice.Subscriber = (*Recorder)(nil)
