package hotword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/embla/internal/hotword/phonetic"
	"github.com/MrWong99/embla/internal/observe"
	"github.com/MrWong99/embla/pkg/audio"
	"github.com/MrWong99/embla/pkg/provider/stt"
)

const (
	defaultRetryDelay = time.Second
	phraseBoost       = 2
)

// PhraseTrigger listens to the microphone through a streaming recognizer and
// fires when a configured activation phrase appears in the transcript. The
// microphone is held only while listening: it is released before the
// listener is called and claimed again afterwards.
type PhraseTrigger struct {
	capture    audio.Capture
	recognizer stt.Provider
	cfg        stt.StreamConfig
	retryDelay time.Duration
	log        *slog.Logger
	metrics    *observe.Metrics

	mu      sync.Mutex
	phrases []string
	matcher *phonetic.Matcher
}

// PhraseOption configures a [PhraseTrigger].
type PhraseOption func(*PhraseTrigger)

// WithMatcher sets the phrase matcher. The default is [phonetic.New] with
// default thresholds.
func WithMatcher(m *phonetic.Matcher) PhraseOption {
	return func(t *PhraseTrigger) { t.matcher = m }
}

// WithStreamConfig sets the recognition options used while listening. The
// activation phrases are always added as keyword hints.
func WithStreamConfig(cfg stt.StreamConfig) PhraseOption {
	return func(t *PhraseTrigger) { t.cfg = cfg }
}

// WithRetryDelay sets how long to wait before listening again after the
// microphone was busy or the recognizer failed. Default: 1s.
func WithRetryDelay(d time.Duration) PhraseOption {
	return func(t *PhraseTrigger) { t.retryDelay = d }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) PhraseOption {
	return func(t *PhraseTrigger) { t.log = l }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) PhraseOption {
	return func(t *PhraseTrigger) { t.metrics = m }
}

// NewPhraseTrigger returns a trigger listening for phrases.
func NewPhraseTrigger(capture audio.Capture, recognizer stt.Provider, phrases []string, opts ...PhraseOption) *PhraseTrigger {
	t := &PhraseTrigger{
		capture:    capture,
		recognizer: recognizer,
		phrases:    append([]string(nil), phrases...),
		cfg:        stt.StreamConfig{SampleRate: 16000, Channels: 1, InterimResults: true},
		retryDelay: defaultRetryDelay,
	}
	for _, o := range opts {
		o(t)
	}
	if t.matcher == nil {
		t.matcher = phonetic.New()
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// SetPhrases replaces the activation phrases and, when m is non-nil, the
// matcher. The change applies from the next listening stream.
func (t *PhraseTrigger) SetPhrases(phrases []string, m *phonetic.Matcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phrases = append([]string(nil), phrases...)
	if m != nil {
		t.matcher = m
	}
}

// snapshot returns the current phrases and matcher together with a stream
// config boosting every phrase.
func (t *PhraseTrigger) snapshot() ([]string, *phonetic.Matcher, stt.StreamConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cfg := t.cfg
	cfg.Keywords = append([]stt.KeywordBoost(nil), t.cfg.Keywords...)
	for _, p := range t.phrases {
		cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: p, Boost: phraseBoost})
	}
	return t.phrases, t.matcher, cfg
}

// Run implements [Trigger].
func (t *PhraseTrigger) Run(ctx context.Context, l Listener) error {
	for {
		phrase, err := t.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case err != nil:
			if errors.Is(err, audio.ErrDeviceUnavailable) {
				t.log.Debug("hotword: microphone busy", "err", err)
			} else {
				t.log.Warn("hotword: listening failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(t.retryDelay):
			}
		case phrase != "":
			t.metrics.RecordActivation(ctx, "hotword")
			l.OnActivationPhraseDetected(phrase)
		}
	}
}

// listen holds the microphone and a recognition stream until a phrase is
// heard. An empty phrase with a nil error means the stream ended cleanly.
func (t *PhraseTrigger) listen(ctx context.Context) (string, error) {
	phrases, matcher, cfg := t.snapshot()
	if err := t.capture.Prepare(cfg.SampleRate); err != nil {
		return "", fmt.Errorf("hotword: claim microphone: %w", err)
	}
	defer func() {
		if err := t.capture.Stop(); err != nil {
			t.log.Warn("hotword: release microphone", "err", err)
		}
	}()

	handle, err := t.recognizer.StartStream(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("hotword: open stream: %w", err)
	}
	defer handle.Close()

	t.capture.SetConsumer(func(c audio.Chunk) {
		// Ends with ErrSessionClosed once the stream is gone.
		_ = handle.SendAudio(c.Data)
	})
	if err := t.capture.Start(); err != nil {
		return "", fmt.Errorf("hotword: start microphone: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r, ok := <-handle.Results():
			if !ok {
				if err := handle.Err(); err != nil {
					return "", fmt.Errorf("hotword: recognition stream: %w", err)
				}
				return "", nil
			}
			for _, alt := range r.Alternatives {
				if phrase, score, found := matcher.Find(alt, phrases); found {
					t.log.Info("hotword: activation phrase detected", "phrase", phrase, "score", score, "heard", alt)
					return phrase, nil
				}
			}
		}
	}
}

var _ Trigger = (*PhraseTrigger)(nil)
