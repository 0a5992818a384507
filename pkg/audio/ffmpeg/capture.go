// Package ffmpeg implements [audio.Capture] by running an ffmpeg child process
// that reads the system microphone and writes raw s16le PCM to stdout.
//
// The input device is claimed process-wide on [Capture.Prepare]: a second
// capture for the same input format and device fails with
// [audio.ErrDeviceUnavailable] until the first one is stopped.
package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/embla/pkg/audio"
)

const (
	defaultCommand     = "ffmpeg"
	defaultInputFormat = "pulse"
	defaultInputDevice = "default"
	defaultChunk       = 20 * time.Millisecond

	startupWindow = 250 * time.Millisecond
	stopGrace     = 1200 * time.Millisecond
)

var (
	claimsMu sync.Mutex
	claims   = map[string]struct{}{}
)

func claim(key string) bool {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if _, held := claims[key]; held {
		return false
	}
	claims[key] = struct{}{}
	return true
}

func release(key string) {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	delete(claims, key)
}

// Option is a functional option for configuring a [Capture].
type Option func(*Capture)

// WithCommand sets the ffmpeg executable. Defaults to "ffmpeg" on PATH.
func WithCommand(path string) Option {
	return func(c *Capture) { c.command = path }
}

// WithInput sets the ffmpeg input format (-f, e.g. "pulse", "alsa",
// "avfoundation") and device (-i). Defaults to pulse/default.
func WithInput(format, device string) Option {
	return func(c *Capture) {
		c.inputFormat = format
		c.inputDevice = device
	}
}

// WithDeviceFormat requests audio from the device in the given format. The
// capture converts it to mono at the prepared sample rate before delivery.
// By default the device is opened directly at the prepared rate in mono.
func WithDeviceFormat(f audio.Format) Option {
	return func(c *Capture) { c.device = f }
}

// WithChunkDuration sets how much audio each delivered chunk holds.
// Defaults to 20ms.
func WithChunkDuration(d time.Duration) Option {
	return func(c *Capture) { c.chunk = d }
}

// Capture is an ffmpeg-backed [audio.Capture]. Create one with [New].
type Capture struct {
	command     string
	inputFormat string
	inputDevice string
	device      audio.Format
	chunk       time.Duration

	mu       sync.Mutex
	consumer audio.Consumer
	prepared bool
	rate     int
	proc     *process
}

// New returns a Capture configured by opts.
func New(opts ...Option) *Capture {
	c := &Capture{
		command:     defaultCommand,
		inputFormat: defaultInputFormat,
		inputDevice: defaultInputDevice,
		chunk:       defaultChunk,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Capture) claimKey() string { return c.inputFormat + ":" + c.inputDevice }

// Prepare implements [audio.Capture].
func (c *Capture) Prepare(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("ffmpeg capture: invalid sample rate %d", sampleRate)
	}
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("ffmpeg capture: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prepared {
		return fmt.Errorf("ffmpeg capture: %w: already prepared", audio.ErrDeviceUnavailable)
	}
	if !claim(c.claimKey()) {
		return fmt.Errorf("ffmpeg capture: %w: %s is in use", audio.ErrDeviceUnavailable, c.claimKey())
	}
	c.prepared = true
	c.rate = sampleRate
	return nil
}

// SetConsumer implements [audio.Capture].
func (c *Capture) SetConsumer(fn audio.Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumer = fn
}

// Start implements [audio.Capture].
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.prepared {
		return audio.ErrNotPrepared
	}
	if c.proc != nil {
		return nil
	}

	src := c.device
	if src.SampleRate <= 0 {
		src.SampleRate = c.rate
	}
	if src.Channels <= 0 {
		src.Channels = 1
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.inputFormat,
		"-i", c.inputDevice,
		"-ac", strconv.Itoa(src.Channels),
		"-ar", strconv.Itoa(src.SampleRate),
		"-f", "s16le",
		"-",
	}
	proc, err := startProcess(c.command, args)
	if err != nil {
		return fmt.Errorf("ffmpeg capture: %w", err)
	}
	c.proc = proc

	conv := audio.NewConverter(src, audio.Format{SampleRate: c.rate})
	if !conv.Passthrough() {
		slog.Debug("ffmpeg capture: converting device audio", "from", src, "to", audio.Format{SampleRate: c.rate, Channels: 1})
	}
	blockBytes := int(int64(src.SampleRate)*int64(c.chunk)/int64(time.Second)) * 2 * src.Channels
	if blockBytes < 2*src.Channels {
		blockBytes = 2 * src.Channels
	}
	go c.readLoop(proc, conv, blockBytes)
	return nil
}

// Stop implements [audio.Capture].
func (c *Capture) Stop() error {
	c.mu.Lock()
	proc := c.proc
	c.proc = nil
	wasPrepared := c.prepared
	c.prepared = false
	c.mu.Unlock()

	var err error
	if proc != nil {
		err = proc.stop()
	}
	if wasPrepared {
		release(c.claimKey())
	}
	if err != nil {
		return fmt.Errorf("ffmpeg capture: stop: %w", err)
	}
	return nil
}

// readLoop reads fixed-size PCM blocks from ffmpeg and hands each converted
// block to the current consumer in order.
func (c *Capture) readLoop(proc *process, conv *audio.Converter, blockBytes int) {
	defer close(proc.readDone)

	buf := make([]byte, blockBytes)
	start := time.Now()
	var seq uint64
	for {
		n, err := io.ReadFull(proc.stdout, buf)
		if n > 0 {
			pcm := conv.Convert(bytes.Clone(buf[:n]))
			if len(pcm) > 0 {
				chunk := audio.Chunk{
					Seq:       seq,
					Data:      pcm,
					Level:     audio.Level(pcm),
					Timestamp: time.Since(start),
				}
				seq++
				c.mu.Lock()
				fn := c.consumer
				c.mu.Unlock()
				if fn != nil {
					fn(chunk)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("ffmpeg capture: read failed", "err", err)
			}
			return
		}
	}
}

// process owns one running ffmpeg child.
type process struct {
	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	cmd      *exec.Cmd
	waitErr  <-chan error
	readDone chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func startProcess(command string, args []string) (*process, error) {
	cmd := exec.Command(command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// The reader must be able to drain stdout after the process is reaped,
	// which exec's StdoutPipe does not allow.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", command, err)
	}
	_ = pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	p := &process{
		stdout:   stdout,
		stderr:   &stderr,
		cmd:      cmd,
		waitErr:  waitErr,
		readDone: make(chan struct{}),
	}

	select {
	case err, ok := <-waitErr:
		_ = stdout.Close()
		if ok && err != nil {
			return nil, fmt.Errorf("%s exited before capture started: %w: %s", command, err, trimmed(stderr.String()))
		}
		return nil, fmt.Errorf("%s exited before capture started", command)
	case <-time.After(startupWindow):
	}
	return p, nil
}

func (p *process) stop() error {
	p.stopOnce.Do(func() {
		_ = p.cmd.Process.Signal(os.Interrupt)

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			_ = p.cmd.Process.Kill()
			if err, ok := <-p.waitErr; ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		// The reader delivers the final partial block once it sees EOF.
		select {
		case <-p.readDone:
		case <-time.After(stopGrace):
		}
		if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && p.stopErr == nil {
			p.stopErr = err
		}
		<-p.readDone
		if p.stopErr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, trimmed(p.stderr.String()))
		}
	})
	return p.stopErr
}

// normalizeStopErr ignores the non-zero exit status ffmpeg reports when it is
// interrupted.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(s string) string {
	return string(bytes.TrimSpace([]byte(s)))
}

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)
