package voice

import (
	"errors"
	"fmt"
)

// ErrAlreadyActive is wrapped by the error Start returns while another
// session is in progress.
var ErrAlreadyActive = errors.New("voice: session already active")

// Kind classifies the failures a session can report.
type Kind int

const (
	// KindDeviceUnavailable: the microphone is busy or absent. Returned by
	// Start; the orchestrator stays idle.
	KindDeviceUnavailable Kind = iota + 1

	// KindRecognitionStreamError: the recognizer could not be reached or its
	// stream failed mid-utterance.
	KindRecognitionStreamError

	// KindQueryError: the query backend was unreachable or answered with
	// something unusable.
	KindQueryError

	// KindPlaybackError: the answer audio could not be fetched or played.
	KindPlaybackError

	// KindNoSpeechDetected: recording ended with an empty transcript.
	KindNoSpeechDetected

	// KindAlreadyActive: Start was called while a session was in progress.
	KindAlreadyActive
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "DeviceUnavailable"
	case KindRecognitionStreamError:
		return "RecognitionStreamError"
	case KindQueryError:
		return "QueryError"
	case KindPlaybackError:
		return "PlaybackError"
	case KindNoSpeechDetected:
		return "NoSpeechDetected"
	case KindAlreadyActive:
		return "AlreadyActive"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the failure reported by the orchestrator, either returned from
// Start or delivered in an [ErrorRaised] event.
type Error struct {
	Kind    Kind
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("voice: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("voice: %s: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return 0
}
