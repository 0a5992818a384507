package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/embla/internal/observe"
)

// ErrAllFailed is returned when every member of a [Chain] failed or was
// skipped by its breaker. The members' errors are joined onto it.
var ErrAllFailed = errors.New("all providers failed")

// ChainConfig configures a [Chain].
type ChainConfig struct {
	// Breaker is the template for each member's breaker. Name is replaced by
	// "<kind>/<member>".
	Breaker BreakerConfig

	// Metrics receives one provider request per attempt, one provider error
	// per failure and every breaker transition. Nil means
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain is an ordered list of interchangeable providers of one kind ("stt",
// "tts" or "query"), each behind its own [Breaker]. Members are added before
// the chain is shared; Add is not safe to call concurrently with [Call].
type Chain[T any] struct {
	kind    string
	cfg     ChainConfig
	members []member[T]
}

// NewChain returns a chain whose first member is primary.
func NewChain[T any](kind string, primary T, primaryName string, cfg ChainConfig) *Chain[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	c := &Chain[T]{kind: kind, cfg: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a member tried after every earlier one.
func (c *Chain[T]) Add(name string, v T) {
	bc := c.cfg.Breaker
	bc.Name = c.kind + "/" + name
	notify, metrics := bc.OnStateChange, c.cfg.Metrics
	bc.OnStateChange = func(name string, from, to State) {
		metrics.RecordBreakerTransition(context.Background(), name, to.String())
		if notify != nil {
			notify(name, from, to)
		}
	}
	c.members = append(c.members, member[T]{name: name, value: v, breaker: NewBreaker(bc)})
}

// Names returns the member names in the order they are tried.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.name
	}
	return names
}

// each calls fn with every member value, in order.
func (c *Chain[T]) each(fn func(name string, v T)) {
	for _, m := range c.members {
		fn(m.name, m.value)
	}
}

// Call runs fn against each member in turn until one succeeds and returns that
// result. It stops as soon as ctx is done and returns ctx.Err(), so a
// cancelled session never reaches a fallback.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range c.members {
		m := &c.members[i]
		var res R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, m.value)
			return err
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		switch {
		case err == nil:
			c.cfg.Metrics.RecordProviderRequest(ctx, m.name, c.kind, "ok")
			if i > 0 {
				slog.Info("served by fallback provider", "kind", c.kind, "provider", m.name)
			}
			return res, nil
		case errors.Is(err, ErrCircuitOpen):
			c.cfg.Metrics.RecordProviderRequest(ctx, m.name, c.kind, "skipped")
			slog.Debug("provider skipped, circuit open", "kind", c.kind, "provider", m.name)
		default:
			c.cfg.Metrics.RecordProviderRequest(ctx, m.name, c.kind, "error")
			c.cfg.Metrics.RecordProviderError(ctx, m.name, c.kind)
			slog.Warn("provider failed", "kind", c.kind, "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%s: %w: %w", c.kind, ErrAllFailed, errors.Join(errs...))
}
