package voice

import (
	"strings"
	"time"

	"github.com/MrWong99/embla/pkg/provider/stt"
)

// Defaults for [Endpointing].
const (
	DefaultStabilityThreshold = 0.25
	DefaultSettle             = 800 * time.Millisecond
	DefaultMaxRecording       = 10 * time.Second
)

// Endpointing controls when the orchestrator decides the user has finished
// speaking.
type Endpointing struct {
	// StabilityThreshold: an interim result whose stability exceeds it may
	// end the recording once Settle has passed without a newer result.
	StabilityThreshold float64

	// Settle is how long a stable interim result must stand unchallenged.
	Settle time.Duration

	// MaxRecording caps the recording; when it passes, whatever transcript
	// is best is used.
	MaxRecording time.Duration
}

// DefaultEndpointing returns the default end-of-speech settings.
func DefaultEndpointing() Endpointing {
	return Endpointing{
		StabilityThreshold: DefaultStabilityThreshold,
		Settle:             DefaultSettle,
		MaxRecording:       DefaultMaxRecording,
	}
}

// withDefaults fills zero fields from [DefaultEndpointing].
func (e Endpointing) withDefaults() Endpointing {
	d := DefaultEndpointing()
	if e.StabilityThreshold <= 0 {
		e.StabilityThreshold = d.StabilityThreshold
	}
	if e.Settle <= 0 {
		e.Settle = d.Settle
	}
	if e.MaxRecording <= 0 {
		e.MaxRecording = d.MaxRecording
	}
	return e
}

// transcript holds the candidates of the newest recognition result applied
// to a session.
type transcript struct {
	applied    bool
	seq        uint64
	candidates []string
	stability  float64
}

// apply replaces the transcript with r when r's sequence index is strictly
// higher than every index applied before, and reports whether it did.
func (t *transcript) apply(r stt.Result) bool {
	if t.applied && r.Seq <= t.seq {
		return false
	}
	t.applied = true
	t.seq = r.Seq
	t.candidates = nonEmpty(r.Alternatives)
	t.stability = r.Stability
	return true
}

// best returns the highest-ranked candidate, or "".
func (t *transcript) best() string {
	if len(t.candidates) == 0 {
		return ""
	}
	return t.candidates[0]
}

// snapshot returns a copy of the candidates.
func (t *transcript) snapshot() []string {
	return append([]string(nil), t.candidates...)
}

func nonEmpty(alts []string) []string {
	out := make([]string, 0, len(alts))
	for _, a := range alts {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
