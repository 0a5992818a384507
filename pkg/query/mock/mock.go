// Package mock provides a test double for [query.Client].
//
// Client records every request and returns the configured Answer or error.
// Set Block to make Submit wait for the context, which lets tests exercise
// cancellation while a query is in flight.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/embla/pkg/query"
)

// Client is a mock implementation of query.Client and query.HistoryClearer.
type Client struct {
	mu sync.Mutex

	// Answer is returned by Submit when Err is nil. A copy is returned so
	// callers may mutate it.
	Answer *query.Answer

	// Err, if non-nil, is returned by Submit.
	Err error

	// Block makes Submit wait until ctx is done and return ctx.Err().
	Block bool

	// ClearErr, if non-nil, is returned by ClearHistory.
	ClearErr error

	// ─── Call records ───

	// Requests records every request passed to Submit.
	Requests []query.Request

	// ClearCalls records the all flag of every ClearHistory call.
	ClearCalls []bool

	submitted chan struct{}
}

// Submit implements query.Client.
func (c *Client) Submit(ctx context.Context, req query.Request) (*query.Answer, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	ch := c.notify()
	block, ans, err := c.Block, c.Answer, c.Err
	c.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if ans == nil {
		return &query.Answer{}, nil
	}
	cp := *ans
	return &cp, nil
}

// ClearHistory implements query.HistoryClearer.
func (c *Client) ClearHistory(_ context.Context, _ query.ClientInfo, all bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClearCalls = append(c.ClearCalls, all)
	return c.ClearErr
}

// Submitted returns a channel that receives a value when Submit is called.
func (c *Client) Submitted() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify()
}

// Calls returns a copy of the recorded requests. Thread-safe.
func (c *Client) Calls() []query.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]query.Request(nil), c.Requests...)
}

func (c *Client) notify() chan struct{} {
	if c.submitted == nil {
		c.submitted = make(chan struct{}, 1)
	}
	return c.submitted
}

var (
	_ query.Client         = (*Client)(nil)
	_ query.HistoryClearer = (*Client)(nil)
)
