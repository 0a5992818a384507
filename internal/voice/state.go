package voice

import "github.com/google/uuid"

// SessionID identifies one voice interaction. It is unique per session and
// carries no meaning beyond identity.
type SessionID string

func newSessionID() SessionID { return SessionID(uuid.NewString()) }

// State is the life-cycle stage of a session. States only ever progress in
// declaration order, and Terminated and Failed are absorbing.
type State int

const (
	// StateIdle means no session is in progress.
	StateIdle State = iota

	// StateRecording means the microphone is captured and audio is streamed
	// to the recognizer.
	StateRecording

	// StateAwaitingQueryResponse means the transcript was sent to the query
	// backend and the answer is pending.
	StateAwaitingQueryResponse

	// StatePlayingAnswer means the answer's audio is being played.
	StatePlayingAnswer

	// StateTerminated means the session ended without an error.
	StateTerminated

	// StateFailed means the session ended after raising an error.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateAwaitingQueryResponse:
		return "awaiting_query_response"
	case StatePlayingAnswer:
		return "playing_answer"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Final reports whether s is absorbing.
func (s State) Final() bool { return s == StateTerminated || s == StateFailed }

// Cause records why a session ended.
type Cause int

const (
	CauseNone Cause = iota
	CauseUserCancelled
	CauseTimeout
	CauseRecognitionError
	CauseNetworkError
	CauseNormalCompletion
	CausePlaybackError
	CauseNoSpeechDetected
)

// String returns the hyphenated cause name used in logs and metrics.
func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseUserCancelled:
		return "user-cancelled"
	case CauseTimeout:
		return "timeout"
	case CauseRecognitionError:
		return "recognition-error"
	case CauseNetworkError:
		return "network-error"
	case CauseNormalCompletion:
		return "normal-completion"
	case CausePlaybackError:
		return "playback-error"
	case CauseNoSpeechDetected:
		return "no-speech-detected"
	default:
		return "unknown"
	}
}
