// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Deepgram reports each utterance as a series of segments: interim results
// for the segment being spoken, an is_final result once a segment is
// committed, and speech_final when the speaker pauses. A session stitches the
// committed segments together so every [stt.Result] carries the whole
// utterance so far.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/embla/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "is"
	defaultSampleRate = 16000
	defaultKeepAlive  = 5 * time.Second
	pingTimeout       = 5 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code for recognition. A language in
// the StreamConfig takes precedence.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the listen endpoint. http(s) URLs are converted to
// ws(s).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
			endpoint = "wss://" + rest
		} else if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
			endpoint = "ws://" + rest
		}
		p.endpoint = endpoint
	}
}

// WithOpus compresses uplink audio as Opus packets instead of sending raw
// linear16 PCM.
func WithOpus() Option {
	return func(p *Provider) {
		p.opus = true
	}
}

// WithKeepAlive sets how often an idle session pings Deepgram. A ping that
// goes unanswered for five seconds ends the session with an error.
func WithKeepAlive(d time.Duration) Option {
	return func(p *Provider) {
		p.keepAlive = d
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	endpoint   string
	opus       bool
	keepAlive  time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		endpoint:   defaultEndpoint,
		keepAlive:  defaultKeepAlive,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = p.sampleRate
	}

	var framer *opusFramer
	if p.opus {
		f, err := newOpusFramer(cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		framer = f
	}

	wsURL, err := p.buildURL(cfg, framer)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:     conn,
		ctx:      sctx,
		cancel:   cancel,
		framer:   framer,
		results:  make(chan stt.Result, 64),
		audio:    make(chan []byte, 256),
		readDone: make(chan struct{}),
	}

	sess.wg.Add(3)
	go sess.readLoop()
	go sess.writeLoop()
	go sess.keepAliveLoop(p.keepAlive)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig, framer *opusFramer) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	if framer != nil {
		q.Set("encoding", "opus")
		q.Set("sample_rate", strconv.Itoa(framer.rate))
	} else {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(sr))
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	q.Set("channels", strconv.Itoa(channels))
	if cfg.MaxAlternatives > 1 {
		q.Set("alternatives", strconv.Itoa(cfg.MaxAlternatives))
	}
	if cfg.SingleUtterance {
		// UtteranceEnd requires interim results; Deepgram rejects it otherwise.
		q.Set("interim_results", "true")
		q.Set("utterance_end_ms", "1000")
		q.Set("vad_events", "true")
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Embla:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure of a Deepgram streaming message.
type deepgramResponse struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	framer *opusFramer

	results  chan stt.Result
	audio    chan []byte
	readDone chan struct{}
	wg       sync.WaitGroup

	sendMu     sync.RWMutex
	sendClosed bool

	closeSendOnce sync.Once
	closeOnce     sync.Once

	errMu   sync.Mutex
	err     error
	closing bool

	// Owned by readLoop.
	asm assembler
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return stt.ErrSessionClosed
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.readDone:
		if err := s.Err(); err != nil {
			return err
		}
		return stt.ErrSessionClosed
	}
}

// CloseSend stops accepting audio. The write loop flushes what is queued and
// asks Deepgram to finish the stream.
func (s *session) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

// Results returns the ordered stream of recognition results.
func (s *session) Results() <-chan stt.Result { return s.results }

// Err reports why the stream ended.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close terminates the session and waits for its goroutines to exit.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.closing = true
		s.errMu.Unlock()

		s.cancel()
		_ = s.conn.CloseNow()
		_ = s.CloseSend()
		s.wg.Wait()
	})
	return nil
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.closing || s.err != nil {
		return
	}
	s.err = err
}

// writeLoop sends queued audio to Deepgram in order, then asks Deepgram to
// flush and close once CloseSend has been called.
func (s *session) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.writeAudio(chunk); err != nil {
			s.setErr(fmt.Errorf("deepgram: send audio: %w", err))
			_ = s.conn.CloseNow()
			// Keep draining so SendAudio never blocks on a dead session.
			for range s.audio {
			}
			return
		}
	}

	if s.framer != nil {
		if pkt, err := s.framer.flush(); err == nil && pkt != nil {
			_ = s.conn.Write(s.ctx, websocket.MessageBinary, pkt)
		}
	}
	if err := s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("deepgram: close stream: %w", err))
	}
}

func (s *session) writeAudio(chunk []byte) error {
	if s.framer == nil {
		return s.conn.Write(s.ctx, websocket.MessageBinary, chunk)
	}
	packets, err := s.framer.push(chunk)
	for _, pkt := range packets {
		if werr := s.conn.Write(s.ctx, websocket.MessageBinary, pkt); werr != nil {
			return werr
		}
	}
	return err
}

// keepAliveLoop pings Deepgram so that a silently dropped connection is
// detected within a bounded time even while no results are flowing.
func (s *session) keepAliveLoop(every time.Duration) {
	defer s.wg.Done()
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.readDone:
			return
		case <-ticker.C:
			_ = s.conn.Write(s.ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`))
			pctx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				select {
				case <-s.readDone:
					return
				default:
				}
				s.setErr(fmt.Errorf("deepgram: connection lost: %w", err))
				_ = s.conn.CloseNow()
				return
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and emits assembled results.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.results)
	defer close(s.readDone)

	for {
		_, msg, err := s.conn.Read(s.ctx)
		if err != nil {
			s.setErr(fmt.Errorf("deepgram: read: %w", err))
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}

		switch resp.Type {
		case "Results":
			if r, ok := s.asm.results(resp); ok {
				s.emit(r)
			}
		case "UtteranceEnd":
			if r, ok := s.asm.utteranceEnd(); ok {
				s.emit(r)
			}
		case "Error":
			msg := strings.TrimSpace(resp.Description)
			if msg == "" {
				msg = strings.TrimSpace(resp.Message)
			}
			if msg == "" {
				msg = "unknown error"
			}
			s.setErr(fmt.Errorf("deepgram: %s", msg))
			return
		}
	}
}

func (s *session) emit(r stt.Result) {
	select {
	case s.results <- r:
	case <-s.ctx.Done():
	}
}

// assembler turns Deepgram segment messages into cumulative results.
type assembler struct {
	seq       uint64
	committed string
	ended     bool // a final result was emitted and nothing was said since
}

func (a *assembler) results(resp deepgramResponse) (stt.Result, bool) {
	alts := resp.Channel.Alternatives
	if len(alts) == 0 {
		return stt.Result{}, false
	}
	best := strings.TrimSpace(alts[0].Transcript)
	if best == "" && !resp.IsFinal && !resp.SpeechFinal {
		return stt.Result{}, false
	}

	candidates := make([]string, 0, len(alts))
	seen := make(map[string]struct{}, len(alts))
	for _, alt := range alts {
		text := joinSegments(a.committed, strings.TrimSpace(alt.Transcript))
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		candidates = append(candidates, text)
	}
	if len(candidates) == 0 {
		return stt.Result{}, false
	}

	r := stt.Result{
		Alternatives: candidates,
		Stability:    alts[0].Confidence,
		Confidence:   alts[0].Confidence,
	}
	if resp.IsFinal || resp.SpeechFinal {
		a.committed = joinSegments(a.committed, best)
		r.Stability = 1
	}
	if resp.SpeechFinal {
		r.IsFinal = true
		a.ended = true
	} else if best != "" {
		a.ended = false
	}
	a.seq++
	r.Seq = a.seq
	return r, true
}

// utteranceEnd closes an utterance Deepgram ended by silence rather than by
// speech_final. Nothing is emitted if a final result already covered it.
func (a *assembler) utteranceEnd() (stt.Result, bool) {
	if a.ended || a.committed == "" {
		return stt.Result{}, false
	}
	a.ended = true
	a.seq++
	return stt.Result{
		Seq:          a.seq,
		Alternatives: []string{a.committed},
		IsFinal:      true,
		Stability:    1,
	}, true
}

func joinSegments(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
