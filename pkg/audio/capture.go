package audio

import "errors"

// ErrDeviceUnavailable is returned by [Capture.Prepare] when the input device
// is absent or already claimed by another capture.
var ErrDeviceUnavailable = errors.New("audio: input device unavailable")

// ErrNotPrepared is returned by [Capture.Start] when the capture has not been
// prepared, or has been stopped since.
var ErrNotPrepared = errors.New("audio: capture not prepared")

// Capture abstracts a microphone (or other PCM source) that can be claimed
// exclusively, started, and stopped.
//
// Lifecycle: Prepare claims the device; Start begins delivering chunks to the
// consumer; Stop halts delivery and releases the claim. Start and Stop are
// idempotent, and Stop on a capture that was never started only releases the
// claim. After Stop the capture must be prepared again before reuse.
//
// A capture has exactly one consumer. Calling SetConsumer again replaces the
// previous consumer; chunks captured afterwards go only to the new one.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Prepare claims the input device at the given sample rate. Returns an
	// error wrapping [ErrDeviceUnavailable] when the device cannot be claimed.
	Prepare(sampleRate int) error

	// SetConsumer installs the receiver of captured chunks, replacing any
	// previously installed consumer. A nil consumer discards chunks.
	SetConsumer(c Consumer)

	// Start begins capturing. Chunks are delivered to the consumer in capture
	// order. Calling Start on a running capture is a no-op.
	Start() error

	// Stop halts capturing, waits for the last chunk to be delivered, and
	// releases the device claim.
	Stop() error
}
