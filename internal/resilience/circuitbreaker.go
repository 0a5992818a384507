// Package resilience keeps a voice session answerable when a provider
// misbehaves.
//
// A [Breaker] stops calling a backend after repeated failures and lets a few
// probes through once its cooldown has passed. A [Chain] puts a breaker in
// front of each of several interchangeable providers and tries them in order.
// [STTFallback], [TTSFallback] and [QueryFallback] adapt a chain to the
// provider interfaces the orchestrator consumes.
//
// Cancellation is never a failure: a session that is terminated while a
// request is in flight neither trips a breaker nor moves on to the next
// provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a limited number of probes through. A failed probe
	// re-opens the breaker; enough successful ones close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults for [BreakerConfig].
const (
	DefaultThreshold = 3
	DefaultCooldown  = 20 * time.Second
	DefaultProbes    = 1
)

// BreakerConfig tunes a [Breaker]. Zero fields take the package defaults.
type BreakerConfig struct {
	// Name labels log lines and state change notifications.
	Name string

	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// Cooldown is how long an open breaker rejects calls before probing.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. It is also the number of concurrent probes allowed.
	Probes int

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int // consecutive, closed state only
	openedAt time.Time
	inFlight int // half-open probes running
	passed   int // half-open probes succeeded
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = DefaultProbes
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn when the breaker allows it and accounts for the outcome. An
// error from fn while ctx is done is returned but not counted.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	var change func()
	b.mu.Lock()
	switch {
	case err != nil && ctx.Err() != nil:
		if probe {
			b.inFlight--
		}
	case err != nil:
		change = b.failLocked(probe)
	default:
		change = b.succeedLocked(probe)
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
	return err
}

// admit reports whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	var change func()
	defer func() {
		if change != nil {
			change()
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, fmt.Errorf("%w: %s", ErrCircuitOpen, b.cfg.Name)
		}
		change = b.setLocked(StateHalfOpen)
		b.inFlight, b.passed = 0, 0
		fallthrough
	case StateHalfOpen:
		if b.inFlight+b.passed >= b.cfg.Probes {
			return false, fmt.Errorf("%w: %s", ErrCircuitOpen, b.cfg.Name)
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) failLocked(probe bool) func() {
	if probe {
		b.inFlight--
		b.openedAt = b.now()
		slog.Warn("circuit breaker re-opened", "name", b.cfg.Name)
		return b.setLocked(StateOpen)
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		slog.Warn("circuit breaker opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
		return b.setLocked(StateOpen)
	}
	return nil
}

func (b *Breaker) succeedLocked(probe bool) func() {
	if !probe {
		b.failures = 0
		return nil
	}
	b.inFlight--
	b.passed++
	if b.state != StateHalfOpen || b.passed < b.cfg.Probes {
		return nil
	}
	b.failures = 0
	slog.Info("circuit breaker closed", "name", b.cfg.Name)
	return b.setLocked(StateClosed)
}

// setLocked switches state and returns the notification to run once the lock
// is released.
func (b *Breaker) setLocked(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange == nil {
		return nil
	}
	name, cb := b.cfg.Name, b.cfg.OnStateChange
	return func() { cb(name, from, to) }
}

// State returns the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.setLocked(StateClosed)
	b.failures, b.inFlight, b.passed = 0, 0, 0
	b.mu.Unlock()
	if change != nil {
		change()
	}
}
