// Package tts defines the Provider interface for text-to-speech backends.
//
// Answers from the query backend normally carry a ready-made audio URL. When
// they carry only text, a TTS provider turns that text into raw PCM so the
// answer can still be spoken. The primary entry point is SynthesizeStream,
// which accepts a channel of text fragments and returns a channel of PCM audio
// as it becomes available.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned by [Speak] when there is nothing to synthesise.
var ErrEmptyText = errors.New("tts: empty text")

// VoiceProfile selects the voice a provider synthesises with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 language tag the voice should speak (e.g. "is-IS").
	Language string
}

// Format describes the PCM a provider emits.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono.
	Channels int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns a
	// channel that emits little-endian int16 PCM byte slices as they are
	// synthesised, in the format reported by OutputFormat.
	//
	// The returned audio channel is closed by the implementation when all text has
	// been synthesised or when ctx is cancelled. The caller must drain the audio
	// channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// OutputFormat reports the PCM format of the audio channel.
	OutputFormat() Format
}

// Speak synthesises a single complete text with p. It is a convenience wrapper
// around SynthesizeStream for callers that have the whole text up front.
func Speak(ctx context.Context, p Provider, text string, voice VoiceProfile) (<-chan []byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	in := make(chan string, 1)
	in <- text
	close(in)
	return p.SynthesizeStream(ctx, in, voice)
}
