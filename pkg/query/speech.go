package query

import (
	"context"
	"log/slog"
)

// Speaker turns answer text into a playable audio URL on the backend side.
type Speaker interface {
	SpeechURL(ctx context.Context, text string) (string, error)
}

// speaking decorates a Client so that text-only answers get audio.
type speaking struct {
	Client
	speaker Speaker
	remote  bool
}

// SpeechOption configures [WithSpeech].
type SpeechOption func(*speaking)

// RemoteOnly leaves an answer silent when speaker cannot voice it, for
// clients without a local synthesizer.
func RemoteOnly() SpeechOption {
	return func(s *speaking) { s.remote = true }
}

// WithSpeech wraps c so that every answer with text but no audio is given
// audio: a URL from speaker when it is non-nil and succeeds, otherwise a text
// reference for the player to synthesise locally.
func WithSpeech(c Client, speaker Speaker, opts ...SpeechOption) Client {
	s := &speaking{Client: c, speaker: speaker}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *speaking) Submit(ctx context.Context, req Request) (*Answer, error) {
	ans, err := s.Client.Submit(ctx, req)
	if err != nil || ans == nil || ans.HasAudio() || ans.Text == "" {
		return ans, err
	}
	if s.speaker != nil {
		url, serr := s.speaker.SpeechURL(ctx, ans.Text)
		if serr == nil && url != "" {
			ans.Audio.URL = url
			return ans, nil
		}
		if serr != nil {
			slog.Warn("query: remote speech failed", "local_fallback", !s.remote, "err", serr)
		}
	}
	if s.remote {
		return ans, nil
	}
	ans.Audio.Text = ans.Text
	return ans, nil
}

// ClearHistory forwards to the wrapped client when it supports it.
func (s *speaking) ClearHistory(ctx context.Context, client ClientInfo, all bool) error {
	if hc, ok := s.Client.(HistoryClearer); ok {
		return hc.ClearHistory(ctx, client, all)
	}
	return nil
}
