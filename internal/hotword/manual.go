package hotword

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/embla/internal/observe"
)

// ManualPhrase is the phrase reported by [ManualTrigger].
const ManualPhrase = "manual"

// ManualTrigger fires once for every line read from its reader, typically
// standard input: pressing Enter starts a session.
type ManualTrigger struct {
	r       io.Reader
	log     *slog.Logger
	metrics *observe.Metrics
}

// ManualOption configures a [ManualTrigger].
type ManualOption func(*ManualTrigger)

// WithManualLogger sets the logger. The default is [slog.Default].
func WithManualLogger(l *slog.Logger) ManualOption {
	return func(t *ManualTrigger) { t.log = l }
}

// WithManualMetrics sets the metrics sink. The default is
// [observe.DefaultMetrics].
func WithManualMetrics(m *observe.Metrics) ManualOption {
	return func(t *ManualTrigger) { t.metrics = m }
}

// NewManualTrigger returns a trigger reading lines from r.
func NewManualTrigger(r io.Reader, opts ...ManualOption) *ManualTrigger {
	t := &ManualTrigger{r: r}
	for _, o := range opts {
		o(t)
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Run implements [Trigger]. It returns nil at end of input. A read still
// blocked when ctx is cancelled is abandoned.
func (t *ManualTrigger) Run(ctx context.Context, l Listener) error {
	lines := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(t.r)
		for sc.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return fmt.Errorf("hotword: read input: %w", err)
				}
				return nil
			}
			t.log.Debug("hotword: manual activation")
			t.metrics.RecordActivation(ctx, "manual")
			l.OnActivationPhraseDetected(ManualPhrase)
		}
	}
}

var _ Trigger = (*ManualTrigger)(nil)
