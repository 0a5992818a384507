package resilience

import (
	"context"

	"github.com/MrWong99/embla/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens the stream on the first healthy
// recognizer. Only stream setup fails over: once a stream is open, its
// failure ends the session as a recognition error.
type STTFallback struct {
	chain *Chain[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns a fallback with primary as the preferred recognizer.
func NewSTTFallback(primary stt.Provider, name string, cfg ChainConfig) *STTFallback {
	return &STTFallback{chain: NewChain("stt", primary, name, cfg)}
}

// AddFallback appends a recognizer.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.chain.Add(name, p) }

// StartStream implements [stt.Provider].
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(ctx, f.chain, func(ctx context.Context, p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
