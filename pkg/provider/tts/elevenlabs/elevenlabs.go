// Package elevenlabs speaks text-only answers through the ElevenLabs
// stream-input WebSocket API.
//
// Text fragments are forwarded as they arrive; a fragment that ends a
// sentence asks the service to generate right away, so the first words can
// play while the rest is still being written. Audio is requested as raw
// 16-bit PCM in one of the service's pcm_<rate> formats.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/embla/pkg/provider/tts"
)

const (
	defaultEndpoint = "wss://api.elevenlabs.io"
	defaultModel    = "eleven_multilingual_v2"
	defaultFormat   = "pcm_16000"
)

// Settings are the voice settings sent when a stream opens.
type Settings struct {
	Stability       float64
	SimilarityBoost float64
	// Speed is the speaking rate, 1 being normal. Zero leaves the service
	// default.
	Speed float64
}

// DefaultSettings suit a calm assistant voice.
var DefaultSettings = Settings{Stability: 0.5, SimilarityBoost: 0.75}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the synthesis model, e.g. "eleven_flash_v2_5".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat selects a pcm_<rate> output format.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithEndpoint replaces the WebSocket base URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithSettings replaces [DefaultSettings].
func WithSettings(s Settings) Option {
	return func(p *Provider) { p.settings = s }
}

// Provider is an ElevenLabs [tts.Provider]. It is safe for concurrent use;
// each stream has its own connection.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	endpoint     string
	settings     Settings
	format       tts.Format
}

// New returns a provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultFormat,
		endpoint:     defaultEndpoint,
		settings:     DefaultSettings,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := pcmRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.format = tts.Format{SampleRate: rate, Channels: 1}
	return p, nil
}

// OutputFormat implements [tts.Provider].
func (p *Provider) OutputFormat() tts.Format { return p.format }

// Wire messages of the stream-input API.
type (
	openMessage struct {
		Text             string           `json:"text"`
		VoiceSettings    voiceSettings    `json:"voice_settings"`
		GenerationConfig generationConfig `json:"generation_config"`
	}
	voiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
		Speed           float64 `json:"speed,omitempty"`
	}
	generationConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}
	textMessage struct {
		Text  string `json:"text"`
		Flush bool   `json:"flush,omitempty"`
	}
	serverMessage struct {
		Audio   string `json:"audio"`
		IsFinal bool   `json:"isFinal"`
		Message string `json:"message,omitempty"`
		Error   string `json:"error,omitempty"`
	}
)

// Short answers are common, so generation starts after few characters.
var chunkSchedule = []int{50, 90, 160, 250}

// errFinished ends the receive side once the service reports the last chunk.
var errFinished = errors.New("elevenlabs: stream finished")

// SynthesizeStream implements [tts.Provider]. The audio channel closes after
// the service's final message, on a synthesis error (which is logged) or
// when ctx ends.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice id is required")
	}

	hdr := http.Header{}
	hdr.Set("xi-api-key", p.apiKey)
	conn, _, err := websocket.Dial(ctx, p.streamURL(voice), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	open := openMessage{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       p.settings.Stability,
			SimilarityBoost: p.settings.SimilarityBoost,
			Speed:           p.settings.Speed,
		},
		GenerationConfig: generationConfig{ChunkLengthSchedule: chunkSchedule},
	}
	if err := wsjson.Write(ctx, conn, open); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("elevenlabs: open stream: %w", err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sendText(gctx, conn, text) })
		g.Go(func() error { return receiveAudio(gctx, conn, out) })
		err := g.Wait()
		switch {
		case errors.Is(err, errFinished):
			conn.Close(websocket.StatusNormalClosure, "")
		case ctx.Err() != nil:
			conn.CloseNow()
		default:
			slog.Warn("elevenlabs: synthesis ended early", "voice", voice.ID, "err", err)
			conn.CloseNow()
		}
	}()
	return out, nil
}

// sendText forwards fragments until text closes, then sends the empty
// message that ends the input.
func sendText(ctx context.Context, conn *websocket.Conn, text <-chan string) error {
	for {
		select {
		case frag, ok := <-text:
			if !ok {
				return wsjson.Write(ctx, conn, textMessage{Text: ""})
			}
			if strings.TrimSpace(frag) == "" {
				continue
			}
			msg := textMessage{Text: frag, Flush: endsSentence(frag)}
			if !strings.HasSuffix(msg.Text, " ") {
				msg.Text += " "
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func receiveAudio(ctx context.Context, conn *websocket.Conn, out chan<- []byte) error {
	for {
		var msg serverMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		pcm, err := msg.pcm()
		if err != nil {
			return err
		}
		if len(pcm) > 0 {
			select {
			case out <- pcm:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if msg.IsFinal {
			return errFinished
		}
	}
}

// pcm decodes the audio of m, or returns the error the service reported.
func (m serverMessage) pcm() ([]byte, error) {
	if m.Error != "" {
		return nil, fmt.Errorf("elevenlabs: %s: %s", m.Error, m.Message)
	}
	if m.Audio == "" {
		return nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: audio payload: %w", err)
	}
	return pcm, nil
}

// endsSentence reports whether frag closes a sentence.
func endsSentence(frag string) bool {
	frag = strings.TrimRight(frag, " \t\n\"“”»)")
	return strings.HasSuffix(frag, ".") || strings.HasSuffix(frag, "?") ||
		strings.HasSuffix(frag, "!") || strings.HasSuffix(frag, "…")
}

func (p *Provider) streamURL(voice tts.VoiceProfile) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	if lang, _, _ := strings.Cut(voice.Language, "-"); lang != "" {
		q.Set("language_code", strings.ToLower(lang))
	}
	return p.endpoint + "/v1/text-to-speech/" + url.PathEscape(voice.ID) + "/stream-input?" + q.Encode()
}

// pcmRate returns the sample rate of a pcm_<rate> format.
func pcmRate(format string) (int, error) {
	s, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM (pcm_<rate>)", format)
	}
	rate, err := strconv.Atoi(s)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: bad sample rate in output format %q", format)
	}
	return rate, nil
}

var _ tts.Provider = (*Provider)(nil)
