// Package ffplay implements [audio.Player] by piping answer audio into an
// ffplay child process.
//
// Remote URLs are fetched over HTTP and streamed to ffplay's stdin so that
// HTTP failures surface as playback errors rather than silent ffplay exits.
// Text references are synthesised through a [tts.Provider] and played as raw
// PCM.
package ffplay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/embla/pkg/audio"
	"github.com/MrWong99/embla/pkg/provider/tts"
)

const (
	defaultCommand = "ffplay"

	// waitDelay bounds how long Run waits for the stdin copy after ffplay exits.
	waitDelay = 2 * time.Second
)

// ErrNoSynthesizer is returned when a text reference must be played but no
// TTS provider was configured.
var ErrNoSynthesizer = errors.New("ffplay: no speech synthesizer configured")

// Option is a functional option for configuring a [Player].
type Option func(*Player)

// WithCommand sets the ffplay executable. Defaults to "ffplay" on PATH.
func WithCommand(path string) Option {
	return func(p *Player) { p.command = path }
}

// WithHTTPClient sets the client used to fetch remote audio.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Player) { p.http = c }
}

// WithSynthesizer enables playback of text references using provider and voice.
func WithSynthesizer(provider tts.Provider, voice tts.VoiceProfile) Option {
	return func(p *Player) {
		p.synth = provider
		p.voice = voice
	}
}

// Player plays audio through ffplay. Create one with [New].
type Player struct {
	command string
	http    *http.Client
	synth   tts.Provider
	voice   tts.VoiceProfile
}

// New returns a Player configured by opts.
func New(opts ...Option) *Player {
	p := &Player{
		command: defaultCommand,
		http:    http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, ref audio.AudioRef) error {
	switch {
	case ref.URL != "":
		body, err := p.fetch(ctx, ref.URL)
		if err != nil {
			return err
		}
		defer body.Close()
		return p.run(ctx, nil, body)

	case len(ref.Data) > 0:
		return p.run(ctx, nil, bytes.NewReader(ref.Data))

	case ref.Text != "":
		if p.synth == nil {
			return ErrNoSynthesizer
		}
		pcm, err := tts.Speak(ctx, p.synth, ref.Text, p.voice)
		if err != nil {
			return fmt.Errorf("ffplay: synthesize: %w", err)
		}
		r := chanReader(pcm)
		defer r.Close()
		return p.run(ctx, rawPCMArgs(p.synth.OutputFormat()), r)

	default:
		return audio.ErrEmptyRef
	}
}

func (p *Player) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ffplay: build request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ffplay: fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ffplay: fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// run plays everything read from src and blocks until ffplay exits.
func (p *Player) run(ctx context.Context, inputArgs []string, src io.Reader) error {
	args := []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs...)
	args = append(args, "-i", "-")

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Stdin = src
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffplay: %w: %s", err, msg)
		}
		return fmt.Errorf("ffplay: %w", err)
	}
	return nil
}

func rawPCMArgs(f tts.Format) []string {
	layout := "mono"
	if f.Channels == 2 {
		layout = "stereo"
	}
	return []string{"-f", "s16le", "-ar", strconv.Itoa(f.SampleRate), "-ch_layout", layout}
}

// chanReader adapts a synthesis stream to an io.Reader. Closing the reader
// early drains the remaining audio so the provider can finish.
func chanReader(ch <-chan []byte) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer audio.Drain(ch)
		for chunk := range ch {
			if _, err := pw.Write(chunk); err != nil {
				return
			}
		}
		pw.Close()
	}()
	return pr
}

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)
