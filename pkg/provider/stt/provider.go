// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio chunks and emits
// an ordered stream of [Result] values, interim and final alike.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after CloseSend or Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition options for a new
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the default for
	// voice queries.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "is-IS").
	// An empty string uses the provider default.
	Language string

	// InterimResults requests non-final results while the user is speaking.
	InterimResults bool

	// MaxAlternatives caps the number of ranked candidates per result.
	// Zero uses the provider default.
	MaxAlternatives int

	// SingleUtterance asks the provider to end the utterance on its own once
	// the speaker pauses.
	SingleUtterance bool

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words.
	Keywords []KeywordBoost
}

// SessionHandle represents an open streaming recognition session.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio to the provider. Chunks are
	// transmitted in call order. Returns ErrSessionClosed after CloseSend or
	// Close.
	SendAudio(chunk []byte) error

	// CloseSend signals that no more audio will be sent. Results for audio
	// already sent keep arriving until the provider ends the stream.
	CloseSend() error

	// Results returns the ordered stream of recognition results. The channel is
	// closed when the stream ends, whether cleanly, on error, or on Close.
	Results() <-chan Result

	// Err reports why the stream ended. It is nil while the stream is open,
	// after a clean end, and after Close. A dropped connection surfaces here
	// once Results is closed.
	Err() error

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Results channel is closed. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming recognition session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
