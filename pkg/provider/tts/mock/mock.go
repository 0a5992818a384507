// Package mock is an in-memory [tts.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/embla/pkg/provider/tts"
)

// Call is one SynthesizeStream invocation.
type Call struct {
	Voice tts.VoiceProfile
	// Texts are the fragments read from the text channel, in order.
	Texts []string
}

// Provider synthesises by replaying Chunks once the text channel is closed.
type Provider struct {
	// Chunks are emitted, in order, on every stream.
	Chunks [][]byte

	// Err fails SynthesizeStream before a stream is started.
	Err error

	// Format is reported by OutputFormat; the zero value means 16 kHz mono.
	Format tts.Format

	// Hold keeps each audio channel open after the last chunk until the
	// stream's context is cancelled.
	Hold bool

	mu    sync.Mutex
	calls []Call
}

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Voice: voice})
	if p.Err != nil {
		return nil, p.Err
	}
	idx := len(p.calls) - 1
	chunks := append([][]byte(nil), p.Chunks...)
	hold := p.Hold

	out := make(chan []byte)
	go func() {
		defer close(out)
		for t := range text {
			p.mu.Lock()
			p.calls[idx].Texts = append(p.calls[idx].Texts, t)
			p.mu.Unlock()
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

// OutputFormat implements [tts.Provider].
func (p *Provider) OutputFormat() tts.Format {
	if p.Format == (tts.Format{}) {
		return tts.Format{SampleRate: 16000, Channels: 1}
	}
	return p.Format
}

// Calls returns a copy of the invocations so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	for i, c := range p.calls {
		out[i] = Call{Voice: c.Voice, Texts: append([]string(nil), c.Texts...)}
	}
	return out
}

// Texts returns every fragment received, across all calls.
func (p *Provider) Texts() []string {
	var all []string
	for _, c := range p.Calls() {
		all = append(all, c.Texts...)
	}
	return all
}

var _ tts.Provider = (*Provider)(nil)
