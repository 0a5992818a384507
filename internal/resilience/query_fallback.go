package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/embla/pkg/query"
)

// QueryFallback is a [query.Client] that asks the first healthy backend, so a
// Greynir outage can be answered by a general-purpose model instead.
type QueryFallback struct {
	chain *Chain[query.Client]
}

var (
	_ query.Client         = (*QueryFallback)(nil)
	_ query.HistoryClearer = (*QueryFallback)(nil)
)

// NewQueryFallback returns a fallback with primary as the preferred backend.
func NewQueryFallback(primary query.Client, name string, cfg ChainConfig) *QueryFallback {
	return &QueryFallback{chain: NewChain("query", primary, name, cfg)}
}

// AddFallback appends a backend.
func (f *QueryFallback) AddFallback(name string, c query.Client) { f.chain.Add(name, c) }

// Submit implements [query.Client]. An invalid request is rejected before any
// backend sees it.
func (f *QueryFallback) Submit(ctx context.Context, req query.Request) (*query.Answer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return Call(ctx, f.chain, func(ctx context.Context, c query.Client) (*query.Answer, error) {
		return c.Submit(ctx, req)
	})
}

// ClearHistory asks every member that keeps a history to clear it. History is
// per backend, so this does not fail over; every clearer is tried and the
// failures are joined.
func (f *QueryFallback) ClearHistory(ctx context.Context, client query.ClientInfo, all bool) error {
	var errs []error
	f.chain.each(func(name string, c query.Client) {
		hc, ok := c.(query.HistoryClearer)
		if !ok {
			return
		}
		if err := hc.ClearHistory(ctx, client, all); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}
