// Package mock provides in-memory mock implementations of the [audio.Capture]
// and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := &mock.Capture{}
//	orch := voice.New(capture, rec, client, &mock.Player{})
//	orch.Start(ctx, sub)
//	capture.Emit([]byte{0, 1, 2, 3})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/embla/pkg/audio"
)

// ─── Capture ─────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Chunks are injected by
// the test through [Capture.Emit] and delivered synchronously to the installed
// consumer while the capture is running.
type Capture struct {
	mu sync.Mutex

	// PrepareErr is returned by [Capture.Prepare].
	PrepareErr error

	// StartErr is returned by [Capture.Start].
	StartErr error

	// StopErr is returned by [Capture.Stop].
	StopErr error

	// PrepareCalls records the sample rate of each Prepare call.
	PrepareCalls []int

	// StartCallCount records how many times Start was called.
	StartCallCount int

	// StopCallCount records how many times Stop was called.
	StopCallCount int

	// SetConsumerCallCount records how many times SetConsumer was called.
	SetConsumerCallCount int

	consumer audio.Consumer
	prepared bool
	running  bool
	seq      uint64
}

// Prepare implements [audio.Capture].
func (c *Capture) Prepare(sampleRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PrepareCalls = append(c.PrepareCalls, sampleRate)
	if c.PrepareErr != nil {
		return c.PrepareErr
	}
	if c.prepared {
		return audio.ErrDeviceUnavailable
	}
	c.prepared = true
	return nil
}

// SetConsumer implements [audio.Capture].
func (c *Capture) SetConsumer(fn audio.Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetConsumerCallCount++
	c.consumer = fn
}

// Start implements [audio.Capture].
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartCallCount++
	if c.StartErr != nil {
		return c.StartErr
	}
	if !c.prepared {
		return audio.ErrNotPrepared
	}
	c.running = true
	return nil
}

// Stop implements [audio.Capture].
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCallCount++
	c.running = false
	c.prepared = false
	return c.StopErr
}

// Emit delivers pcm to the consumer as the next chunk and reports whether it
// was delivered. Chunks emitted while the capture is not running are dropped.
func (c *Capture) Emit(pcm []byte) bool {
	c.mu.Lock()
	if !c.running || c.consumer == nil {
		c.mu.Unlock()
		return false
	}
	chunk := audio.Chunk{
		Seq:       c.seq,
		Data:      pcm,
		Level:     audio.Level(pcm),
		Timestamp: time.Duration(c.seq) * 20 * time.Millisecond,
	}
	c.seq++
	fn := c.consumer
	c.mu.Unlock()
	fn(chunk)
	return true
}

// Running reports whether the capture is started.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Prepared reports whether the device claim is currently held.
func (c *Capture) Prepared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepared
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by [Player.Play] once playback "finishes".
	PlayErr error

	// Block makes Play wait for ctx cancellation (or Release) instead of
	// returning immediately.
	Block bool

	// PlayCalls records the reference passed to each Play call.
	PlayCalls []audio.AudioRef

	release chan struct{}
	once    sync.Once
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, ref audio.AudioRef) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, ref)
	block, err := p.Block, p.PlayErr
	p.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.releaseCh():
		}
	}
	return err
}

// Release unblocks any Play call waiting because Block is set.
func (p *Player) Release() {
	ch := p.releaseCh()
	p.once.Do(func() { close(ch) })
}

// Calls returns a copy of the recorded Play arguments.
func (p *Player) Calls() []audio.AudioRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.AudioRef(nil), p.PlayCalls...)
}

func (p *Player) releaseCh() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release == nil {
		p.release = make(chan struct{})
	}
	return p.release
}

// Compile-time interface assertions.
var (
	_ audio.Capture = (*Capture)(nil)
	_ audio.Player  = (*Player)(nil)
)
