package audio

import "time"

// Chunk is one contiguous block of captured PCM audio. Chunks are the atomic
// unit of the capture path: produced by a [Capture] in capture order, appended
// to the session buffer, and forwarded to the recognition stream unchanged.
type Chunk struct {
	// Seq is the capture-order index of this chunk, starting at 0 for the
	// first chunk after [Capture.Start].
	Seq uint64

	// Data holds little-endian int16 mono PCM at the prepared sample rate.
	Data []byte

	// Level is the loudness of this chunk alone, normalised to [0, 1].
	Level float64

	// Timestamp marks when this chunk was captured, relative to capture start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples in the chunk.
func (c Chunk) Samples() int { return len(c.Data) / 2 }

// Consumer receives captured chunks. It is invoked from the capture goroutine
// and must not block for long; implementations hand the chunk off and return.
type Consumer func(Chunk)
