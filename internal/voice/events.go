package voice

import (
	"time"

	"github.com/MrWong99/embla/pkg/query"
)

// Event is one notification about a session's progress. The set of variants
// is closed; a type switch over the types in this file is exhaustive.
type Event interface {
	// SessionID returns the session the event belongs to.
	SessionID() SessionID
	isEvent()
}

// RecordingStarted is delivered once the microphone is captured.
type RecordingStarted struct {
	Session SessionID
}

// RecordingStopped is delivered once the microphone has been released after
// RecordingStarted, whatever the reason.
type RecordingStopped struct {
	Session SessionID
	// Audio is the raw PCM captured during the session.
	Audio []byte
	// Duration is the time spent recording.
	Duration time.Duration
}

// InterimResults carries the candidates of a non-final recognition result.
// It may repeat many times per session.
type InterimResults struct {
	Session    SessionID
	Candidates []string
	Stability  float64
}

// Transcripts carries the final candidates, best first, at the end of speech.
type Transcripts struct {
	Session    SessionID
	Candidates []string
}

// AnswerReceived carries the backend's answer to the transcript.
type AnswerReceived struct {
	Session SessionID
	Answer  query.Answer
}

// ErrorRaised reports the failure that ends the session. At most one is
// delivered per session, and always right before Terminated.
type ErrorRaised struct {
	Session SessionID
	Err     *Error
}

// Terminated is the last event of every session and is delivered exactly
// once.
type Terminated struct {
	Session SessionID
	State   State
	Cause   Cause
}

func (e RecordingStarted) SessionID() SessionID { return e.Session }
func (e RecordingStopped) SessionID() SessionID { return e.Session }
func (e InterimResults) SessionID() SessionID   { return e.Session }
func (e Transcripts) SessionID() SessionID      { return e.Session }
func (e AnswerReceived) SessionID() SessionID   { return e.Session }
func (e ErrorRaised) SessionID() SessionID      { return e.Session }
func (e Terminated) SessionID() SessionID       { return e.Session }

func (RecordingStarted) isEvent() {}
func (RecordingStopped) isEvent() {}
func (InterimResults) isEvent()   {}
func (Transcripts) isEvent()      {}
func (AnswerReceived) isEvent()   {}
func (ErrorRaised) isEvent()      {}
func (Terminated) isEvent()       {}

// Subscriber receives session events. Events of one session are delivered
// sequentially from a single goroutine, in the order they were raised, and
// never while the orchestrator holds a lock, so a subscriber may call back
// into the orchestrator.
type Subscriber interface {
	HandleEvent(Event)
}

// SubscriberFunc adapts a function to [Subscriber].
type SubscriberFunc func(Event)

// HandleEvent calls f(e).
func (f SubscriberFunc) HandleEvent(e Event) { f(e) }

// Delegate is the callback-per-event view of a [Subscriber], for hosts that
// prefer one method per notification.
type Delegate interface {
	OnRecordingStarted()
	OnRecordingStopped()
	OnInterimResults(candidates []string)
	OnTranscripts(candidates []string)
	OnAnswer(answer query.Answer)
	OnError(kind Kind, message string)
	OnTerminated()
}

// FromDelegate returns a Subscriber that forwards every event to the
// matching method of d.
func FromDelegate(d Delegate) Subscriber {
	return SubscriberFunc(func(e Event) {
		switch e := e.(type) {
		case RecordingStarted:
			d.OnRecordingStarted()
		case RecordingStopped:
			d.OnRecordingStopped()
		case InterimResults:
			d.OnInterimResults(e.Candidates)
		case Transcripts:
			d.OnTranscripts(e.Candidates)
		case AnswerReceived:
			d.OnAnswer(e.Answer)
		case ErrorRaised:
			d.OnError(e.Err.Kind, e.Err.Message)
		case Terminated:
			d.OnTerminated()
		}
	})
}
