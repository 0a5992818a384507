// Package voice runs voice sessions: it captures the microphone, streams the
// audio to a speech recognizer, decides when the user has finished speaking,
// submits the transcript to the query backend and plays the answer.
//
// An [Orchestrator] runs at most one session at a time. Progress is reported
// asynchronously as [Event] values delivered to the [Subscriber] passed to
// [Orchestrator.Start]; every session ends with exactly one [Terminated]
// event, preceded by at most one [ErrorRaised].
//
// Session life cycle:
//
//	Idle → Recording → AwaitingQueryResponse → PlayingAnswer → Terminated
//	                 ↘              ↘                 ↘
//	                   Failed / Terminated (error, cancel or no audio)
//
// The microphone and the recognition stream are released on every exit path
// before Terminated is delivered.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/embla/internal/observe"
	"github.com/MrWong99/embla/pkg/audio"
	"github.com/MrWong99/embla/pkg/provider/stt"
	"github.com/MrWong99/embla/pkg/query"
)

const (
	defaultSampleRate      = 16000
	defaultMaxAlternatives = 10
	defaultQueryTimeout    = 20 * time.Second
)

// Orchestrator coordinates capture, recognition, query and playback for one
// session at a time. All methods are safe for concurrent use, including from
// inside a Subscriber.
type Orchestrator struct {
	capture    audio.Capture
	recognizer stt.Provider
	client     query.Client
	player     audio.Player

	streamCfg    stt.StreamConfig
	clientInfo   query.ClientInfo
	queryTimeout time.Duration
	metrics      *observe.Metrics
	log          *slog.Logger

	endpointing atomic.Pointer[Endpointing]
	level       atomic.Uint64 // math.Float64bits of the latest chunk level
	recording   atomic.Bool

	mu         sync.Mutex
	cur        *session // in progress; nil when idle
	last       *session // most recently started
	starting   bool     // the microphone is being started for a new session
	abortStart bool     // Terminate was called while starting
}

// session is the mutable state of one interaction. Fields below mu are
// guarded by it.
type session struct {
	id      SessionID
	ctx     context.Context
	cancel  context.CancelFunc
	ep      Endpointing
	events  *dispatcher
	log     *slog.Logger
	span    trace.Span
	started time.Time

	releaseOnce sync.Once

	mu          sync.Mutex
	state       State
	buffer      []byte
	pending     [][]byte // chunks captured before the stream opened
	transcript  transcript
	handle      stt.SessionHandle
	fwd         *forwarder
	settle      *time.Timer
	settleGen   uint64
	deadline    *time.Timer
	recorded    time.Duration
	stopEmitted bool
	playDone    chan struct{} // closed once the player has returned
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithEndpointing sets the end-of-speech settings. Zero fields keep their
// defaults.
func WithEndpointing(e Endpointing) Option {
	return func(o *Orchestrator) {
		ep := e.withDefaults()
		o.endpointing.Store(&ep)
	}
}

// WithStreamConfig sets the recognition stream options. A zero SampleRate
// defaults to 16000 Hz and zero Channels to mono.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(o *Orchestrator) { o.streamCfg = cfg }
}

// WithClientInfo sets the client identity sent with every query.
func WithClientInfo(info query.ClientInfo) Option {
	return func(o *Orchestrator) { o.clientInfo = info }
}

// WithQueryTimeout bounds how long a query may take. Zero or negative
// disables the bound. The default is 20 seconds.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.queryTimeout = d }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an Orchestrator over the given collaborators.
func New(capture audio.Capture, recognizer stt.Provider, client query.Client, player audio.Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		capture:    capture,
		recognizer: recognizer,
		client:     client,
		player:     player,
		streamCfg: stt.StreamConfig{
			SampleRate:      defaultSampleRate,
			Channels:        1,
			InterimResults:  true,
			MaxAlternatives: defaultMaxAlternatives,
		},
		queryTimeout: defaultQueryTimeout,
	}
	ep := DefaultEndpointing()
	o.endpointing.Store(&ep)

	for _, opt := range opts {
		opt(o)
	}

	if o.streamCfg.SampleRate <= 0 {
		o.streamCfg.SampleRate = defaultSampleRate
	}
	if o.streamCfg.Channels <= 0 {
		o.streamCfg.Channels = 1
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// SetEndpointing replaces the end-of-speech settings. A session already in
// progress keeps the settings it started with.
func (o *Orchestrator) SetEndpointing(e Endpointing) {
	ep := e.withDefaults()
	o.endpointing.Store(&ep)
}

// Endpointing returns the settings the next session will use.
func (o *Orchestrator) Endpointing() Endpointing { return *o.endpointing.Load() }

// Start begins a new session and returns its ID without waiting for any
// network activity. sub receives the session's events and may be nil.
//
// Start fails with an *Error of kind [KindAlreadyActive] (wrapping
// [ErrAlreadyActive]) while another session is in progress, and with kind
// [KindDeviceUnavailable] when the microphone cannot be claimed. In both
// cases no session is created and no event is delivered.
//
// ctx supplies values such as trace context to the session; cancelling it
// does not end the session. Use [Orchestrator.Terminate] for that.
//
// The microphone is started without holding the orchestrator lock, so other
// methods do not wait for the device. A Terminate during that start-up ends
// the session right after RecordingStarted.
func (o *Orchestrator) Start(ctx context.Context, sub Subscriber) (SessionID, error) {
	o.mu.Lock()
	if o.cur != nil || o.starting {
		o.mu.Unlock()
		return "", newError(KindAlreadyActive, "a voice session is already in progress", ErrAlreadyActive)
	}
	if err := o.capture.Prepare(o.streamCfg.SampleRate); err != nil {
		o.mu.Unlock()
		return "", newError(KindDeviceUnavailable, "microphone is unavailable", err)
	}
	o.starting, o.abortStart = true, false
	o.mu.Unlock()

	id := newSessionID()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sctx, span := observe.StartSpan(observe.WithSession(sctx, string(id)), "voice.session")
	log := o.log.With("session_id", string(id))
	s := &session{
		id:      id,
		ctx:     sctx,
		cancel:  cancel,
		ep:      *o.endpointing.Load(),
		log:     log,
		span:    span,
		started: time.Now(),
		state:   StateRecording,
	}

	o.capture.SetConsumer(func(c audio.Chunk) { o.handleChunk(s, c) })
	startErr := o.capture.Start()

	o.mu.Lock()
	o.starting = false
	abort := o.abortStart
	if startErr != nil {
		o.mu.Unlock()
		if stopErr := o.capture.Stop(); stopErr != nil {
			log.Warn("voice: release microphone", "err", stopErr)
		}
		cancel()
		observe.EndSpan(span, startErr)
		return "", newError(KindDeviceUnavailable, "microphone could not be started", startErr)
	}
	s.events = newDispatcher(sub, log)
	s.deadline = time.AfterFunc(s.ep.MaxRecording, func() { o.recordingTimedOut(s) })
	o.cur, o.last = s, s
	o.level.Store(0)
	o.recording.Store(true)
	s.events.emit(RecordingStarted{Session: id})
	o.mu.Unlock()

	o.metrics.SessionsStarted.Add(sctx, 1)
	o.metrics.ActiveSessions.Add(sctx, 1)
	log.Info("voice: recording started")

	go o.openStream(s)
	if abort {
		log.Debug("voice: terminated during start-up")
		o.Terminate()
	}
	return id, nil
}

// StopRecording ends the recording of the current session as if the user
// had finished speaking: the best transcript so far is submitted, or the
// session ends with [KindNoSpeechDetected] if there is none. It is a no-op
// outside the Recording state.
func (o *Orchestrator) StopRecording() {
	s := o.current()
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	next := o.endRecordingLocked(s)
	s.mu.Unlock()
	next()
}

// Terminate cancels the current session. The microphone, the recognition
// stream and any query or playback are released, and the player has
// returned, before the Terminated event is queued. Calling Terminate with no
// session in progress, or more than once, is a no-op.
func (o *Orchestrator) Terminate() {
	o.mu.Lock()
	s := o.cur
	if s == nil && o.starting {
		o.abortStart = true
	}
	o.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	next := o.finishLocked(s, StateTerminated, CauseUserCancelled, nil)
	s.mu.Unlock()
	next()
}

// Detach stops event delivery for the current session. The session itself
// continues.
func (o *Orchestrator) Detach() {
	if s := o.current(); s != nil {
		s.events.detach()
	}
}

// AudioLevel returns the level of the most recent captured chunk in [0, 1],
// or 0 when not recording. It never blocks.
func (o *Orchestrator) AudioLevel() float64 {
	return math.Float64frombits(o.level.Load())
}

// IsRecording reports whether the microphone is being captured. It never
// blocks.
func (o *Orchestrator) IsRecording() bool { return o.recording.Load() }

// State returns the state of the current session, or [StateIdle].
func (o *Orchestrator) State() State {
	s := o.current()
	if s == nil {
		return StateIdle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitIdle blocks until no session is in progress and every event of the
// last session has been delivered, or until ctx is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	for {
		o.mu.Lock()
		s := o.last
		o.mu.Unlock()
		if s == nil {
			return nil
		}
		select {
		case <-s.events.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		o.mu.Lock()
		idle := o.cur == nil && o.last == s
		o.mu.Unlock()
		if idle {
			return nil
		}
	}
}

func (o *Orchestrator) current() *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cur
}

// handleChunk runs on the capture goroutine. It must not block on the
// network: forwarding only queues the chunk.
func (o *Orchestrator) handleChunk(s *session, c audio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.buffer = append(s.buffer, c.Data...)
	if s.fwd != nil {
		s.fwd.push(c.Data)
	} else {
		s.pending = append(s.pending, c.Data)
	}
	o.level.Store(math.Float64bits(c.Level))
}

// openStream dials the recognizer and then consumes its results until the
// stream ends.
func (o *Orchestrator) openStream(s *session) {
	handle, err := o.recognizer.StartStream(s.ctx, o.streamCfg)

	s.mu.Lock()
	if err != nil {
		next := o.finishLocked(s, StateFailed, CauseRecognitionError,
			newError(KindRecognitionStreamError, "could not open recognition stream", err))
		s.mu.Unlock()
		next()
		return
	}
	if s.state != StateRecording {
		s.mu.Unlock()
		if err := handle.Close(); err != nil {
			s.log.Debug("voice: close recognition stream", "err", err)
		}
		return
	}
	s.handle = handle
	s.fwd = newForwarder(handle, s.log)
	for _, chunk := range s.pending {
		s.fwd.push(chunk)
	}
	s.pending = nil
	s.mu.Unlock()

	for r := range handle.Results() {
		o.handleResult(s, r)
	}
	o.handleStreamEnd(s, handle.Err())
}

func (o *Orchestrator) handleResult(s *session, r stt.Result) {
	s.mu.Lock()
	if s.state != StateRecording || !s.transcript.apply(r) {
		s.mu.Unlock()
		return
	}
	if r.IsFinal {
		next := o.endRecordingLocked(s)
		s.mu.Unlock()
		next()
		return
	}

	s.events.emit(InterimResults{
		Session:    s.id,
		Candidates: s.transcript.snapshot(),
		Stability:  r.Stability,
	})
	if r.Stability > s.ep.StabilityThreshold && s.transcript.best() != "" {
		o.armSettleLocked(s)
	} else {
		s.disarmSettleLocked()
	}
	s.mu.Unlock()
}

// handleStreamEnd runs once the results channel is closed. A clean end
// while still recording counts as end of speech.
func (o *Orchestrator) handleStreamEnd(s *session, err error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	var next func()
	if err != nil {
		next = o.finishLocked(s, StateFailed, CauseRecognitionError,
			newError(KindRecognitionStreamError, "recognition stream failed", err))
	} else {
		next = o.endRecordingLocked(s)
	}
	s.mu.Unlock()
	next()
}

func (o *Orchestrator) armSettleLocked(s *session) {
	s.disarmSettleLocked()
	gen := s.settleGen
	s.settle = time.AfterFunc(s.ep.Settle, func() { o.settled(s, gen) })
}

func (s *session) disarmSettleLocked() {
	s.settleGen++
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
}

func (s *session) stopTimersLocked() {
	s.disarmSettleLocked()
	if s.deadline != nil {
		s.deadline.Stop()
	}
}

// settled fires when a stable interim result stood for the settle time.
func (o *Orchestrator) settled(s *session, gen uint64) {
	s.mu.Lock()
	if s.state != StateRecording || gen != s.settleGen {
		s.mu.Unlock()
		return
	}
	s.log.Debug("voice: stable transcript settled", "transcript", s.transcript.best())
	next := o.endRecordingLocked(s)
	s.mu.Unlock()
	next()
}

func (o *Orchestrator) recordingTimedOut(s *session) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.log.Info("voice: maximum recording time reached", "transcript", s.transcript.best())
	next := o.endRecordingLocked(s)
	s.mu.Unlock()
	next()
}

// endRecordingLocked moves s to AwaitingQueryResponse. The returned function
// must be called without s.mu held: it releases the microphone and the
// stream, then submits the transcript or ends the session when it is empty.
func (o *Orchestrator) endRecordingLocked(s *session) func() {
	s.state = StateAwaitingQueryResponse
	s.recorded = time.Since(s.started)
	s.stopTimersLocked()
	o.recording.Store(false)
	o.level.Store(0)
	candidates := s.transcript.snapshot()

	return func() {
		o.release(s)

		s.mu.Lock()
		if s.state != StateAwaitingQueryResponse {
			// Finished meanwhile; finishLocked reports the stop.
			s.mu.Unlock()
			return
		}
		o.emitStoppedLocked(s)
		if len(candidates) == 0 {
			next := o.finishLocked(s, StateFailed, CauseNoSpeechDetected,
				newError(KindNoSpeechDetected, "no speech was detected", nil))
			s.mu.Unlock()
			next()
			return
		}
		s.events.emit(Transcripts{Session: s.id, Candidates: candidates})
		s.mu.Unlock()

		o.metrics.RecognitionDuration.Record(s.ctx, s.recorded.Seconds())
		s.log.Info("voice: recording stopped", "transcript", candidates[0], "alternatives", len(candidates))
		go o.submit(s, candidates)
	}
}

func (o *Orchestrator) emitStoppedLocked(s *session) {
	if s.stopEmitted {
		return
	}
	s.stopEmitted = true
	s.events.emit(RecordingStopped{
		Session:  s.id,
		Audio:    append([]byte(nil), s.buffer...),
		Duration: s.recorded,
	})
}

// release stops the microphone and closes the recognition stream. It runs
// at most once per session and never with s.mu held.
func (o *Orchestrator) release(s *session) {
	s.releaseOnce.Do(func() {
		if err := o.capture.Stop(); err != nil {
			s.log.Warn("voice: release microphone", "err", err)
		}

		s.mu.Lock()
		handle, fwd := s.handle, s.fwd
		s.pending = nil
		s.mu.Unlock()

		if handle != nil {
			if err := handle.Close(); err != nil {
				s.log.Debug("voice: close recognition stream", "err", err)
			}
		}
		if fwd != nil {
			fwd.stop()
		}
	})
}

func (o *Orchestrator) submit(s *session, candidates []string) {
	ctx := s.ctx
	if o.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.queryTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "voice.query", attribute.Int("embla.alternatives", len(candidates)))
	start := time.Now()
	ans, err := o.client.Submit(ctx, query.Request{Alternatives: candidates, Client: o.clientInfo})
	observe.EndSpan(span, err)
	o.metrics.QueryDuration.Record(s.ctx, time.Since(start).Seconds())

	s.mu.Lock()
	if s.state != StateAwaitingQueryResponse {
		s.mu.Unlock()
		return
	}
	if err == nil && ans == nil {
		err = errors.New("empty answer")
	}
	if err != nil {
		next := o.finishLocked(s, StateFailed, CauseNetworkError, newError(KindQueryError, "query failed", err))
		s.mu.Unlock()
		next()
		return
	}

	s.events.emit(AnswerReceived{Session: s.id, Answer: *ans})
	if !ans.HasAudio() {
		next := o.finishLocked(s, StateTerminated, CauseNormalCompletion, nil)
		s.mu.Unlock()
		next()
		return
	}
	s.state = StatePlayingAnswer
	s.playDone = make(chan struct{})
	s.mu.Unlock()

	o.play(s, ans.Audio)
}

func (o *Orchestrator) play(s *session, ref audio.AudioRef) {
	ctx, span := observe.StartSpan(s.ctx, "voice.playback", attribute.Bool("embla.synthesised", ref.URL == "" && len(ref.Data) == 0))
	start := time.Now()
	err := o.player.Play(ctx, ref)
	close(s.playDone)
	observe.EndSpan(span, err)
	o.metrics.PlaybackDuration.Record(s.ctx, time.Since(start).Seconds())

	s.mu.Lock()
	if s.state != StatePlayingAnswer {
		s.mu.Unlock()
		return
	}
	var next func()
	if err != nil {
		next = o.finishLocked(s, StateFailed, CausePlaybackError,
			newError(KindPlaybackError, "answer could not be played", err))
	} else {
		next = o.finishLocked(s, StateTerminated, CauseNormalCompletion, nil)
	}
	s.mu.Unlock()
	next()
}

// finishLocked moves s to its final state. The returned function must be
// called without s.mu held; it releases every resource and then queues the
// closing events. Calling finishLocked on a finished session returns a no-op.
func (o *Orchestrator) finishLocked(s *session, state State, cause Cause, verr *Error) func() {
	if s.state.Final() {
		return func() {}
	}
	wasRecording := s.state == StateRecording
	if wasRecording {
		s.recorded = time.Since(s.started)
		o.recording.Store(false)
		o.level.Store(0)
	}
	s.state = state
	s.stopTimersLocked()
	s.cancel()
	playDone := s.playDone

	return func() {
		o.release(s)
		if playDone != nil {
			<-playDone
		}

		o.mu.Lock()
		if o.cur == s {
			o.cur = nil
		}
		o.mu.Unlock()

		ctx := context.WithoutCancel(s.ctx)
		o.metrics.ActiveSessions.Add(ctx, -1)
		o.metrics.RecordSessionEnd(ctx, time.Since(s.started).Seconds(), cause.String())
		s.span.SetAttributes(attribute.String("embla.cause", cause.String()))
		if verr != nil {
			o.metrics.RecordSessionError(ctx, verr.Kind.String())
			s.log.Warn("voice: session failed", "state", state, "cause", cause, "err", verr)
			observe.EndSpan(s.span, verr)
		} else {
			s.log.Info("voice: session ended", "state", state, "cause", cause)
			observe.EndSpan(s.span, nil)
		}

		s.mu.Lock()
		o.emitStoppedLocked(s)
		if verr != nil {
			s.events.emit(ErrorRaised{Session: s.id, Err: verr})
		}
		s.events.emit(Terminated{Session: s.id, State: state, Cause: cause})
		s.events.close()
		s.mu.Unlock()
	}
}
