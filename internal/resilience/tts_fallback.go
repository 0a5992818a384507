package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/embla/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that synthesises with the first healthy
// backend. Backends may differ in PCM format: OutputFormat reports the format
// of the backend that served the latest stream, or the primary's before the
// first one.
type TTSFallback struct {
	chain *Chain[tts.Provider]

	mu     sync.Mutex
	format tts.Format
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a fallback with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, name string, cfg ChainConfig) *TTSFallback {
	return &TTSFallback{
		chain:  NewChain("tts", primary, name, cfg),
		format: primary.OutputFormat(),
	}
}

// AddFallback appends a backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.chain.Add(name, p) }

// SynthesizeStream implements [tts.Provider]. Only stream setup fails over.
// The text channel is handed to exactly one backend, so a backend that fails
// after reading from it leaves the next one with whatever text remains.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return Call(ctx, f.chain, func(ctx context.Context, p tts.Provider) (<-chan []byte, error) {
		audio, err := p.SynthesizeStream(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.format = p.OutputFormat()
		f.mu.Unlock()
		return audio, nil
	})
}

// OutputFormat implements [tts.Provider].
func (f *TTSFallback) OutputFormat() tts.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}
