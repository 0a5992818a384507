package audio

import (
	"context"
	"errors"
)

// ErrEmptyRef is returned by a [Player] asked to play an [AudioRef] with no
// playable content.
var ErrEmptyRef = errors.New("audio: empty audio reference")

// AudioRef identifies a playable answer. Exactly one of the fields is
// normally set; when several are, URL takes precedence over Data, and Data
// over Text.
type AudioRef struct {
	// URL points at a remote audio resource (e.g. an mp3 returned by the
	// query backend).
	URL string

	// Data holds an encoded audio payload to play directly.
	Data []byte

	// Text is speech that must be synthesised before playback.
	Text string
}

// IsZero reports whether the reference holds nothing playable.
func (r AudioRef) IsZero() bool {
	return r.URL == "" && len(r.Data) == 0 && r.Text == ""
}

// Player plays an answer's audio on the output device.
//
// Play blocks until playback finishes, fails, or ctx is cancelled. A
// cancelled context stops playback promptly and returns ctx.Err().
type Player interface {
	Play(ctx context.Context, ref AudioRef) error
}
