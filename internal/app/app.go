// Package app wires the Embla subsystems into a running voice client.
//
// The App owns the full lifecycle: New connects the orchestrator, the
// activation trigger, the session history and the diagnostics server; Run
// serves activations until its context is cancelled; Shutdown ends the
// current session and releases the stores.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithHistoryStore, WithTrigger, ...). When an option is
// not provided, New creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/embla/internal/config"
	"github.com/MrWong99/embla/internal/health"
	"github.com/MrWong99/embla/internal/history"
	"github.com/MrWong99/embla/internal/hotword"
	"github.com/MrWong99/embla/internal/hotword/phonetic"
	"github.com/MrWong99/embla/internal/observe"
	"github.com/MrWong99/embla/internal/voice"
	"github.com/MrWong99/embla/pkg/audio"
	"github.com/MrWong99/embla/pkg/provider/stt"
	"github.com/MrWong99/embla/pkg/query"
)

// Providers holds the external collaborators of a voice session. All four
// are required. Populated by the command from the config registry.
type Providers struct {
	Capture    audio.Capture
	Recognizer stt.Provider
	Query      query.Client
	Player     audio.Player
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	registry  *prometheus.Registry
	out       io.Writer
	in        io.Reader
	extra     []voice.Subscriber

	orch     *voice.Orchestrator
	trigger  hotword.Trigger
	phrase   *hotword.PhraseTrigger
	store    history.Store
	recorder *history.Recorder
	printer  *Printer
	health   *health.Handler
	info     query.ClientInfo

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithHistoryStore injects a history store instead of opening the one named
// in the config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTrigger injects the activation trigger instead of building one from
// hotword.mode.
func WithTrigger(t hotword.Trigger) Option {
	return func(a *App) { a.trigger = t }
}

// WithSubscriber adds a subscriber receiving every session's events after
// the built-in ones.
func WithSubscriber(s voice.Subscriber) Option {
	return func(a *App) { a.extra = append(a.extra, s) }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsRegistry sets the registry served on /metrics. The default is
// the global Prometheus gatherer.
func WithMetricsRegistry(r *prometheus.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets configuration reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithOutput sets where session events are printed. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithInput sets the reader of the manual trigger. Default: os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Capture == nil || providers.Recognizer == nil ||
		providers.Query == nil || providers.Player == nil {
		return nil, errors.New("app: capture, recognizer, query client and player are all required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		out:       os.Stdout,
		in:        os.Stdin,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.info = ClientInfo(cfg.Client)
	a.printer = NewPrinter(a.out)

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	a.orch = voice.New(providers.Capture, providers.Recognizer, providers.Query, providers.Player,
		voice.WithEndpointing(Endpointing(cfg.Recognition.Endpointing())),
		voice.WithStreamConfig(StreamConfig(cfg)),
		voice.WithClientInfo(a.info),
		voice.WithMetrics(a.metrics),
		voice.WithLogger(a.log),
	)

	if err := a.initTrigger(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init trigger: %w", err)
	}

	a.health = health.New(a.checkers()...)
	return a, nil
}

// initHistory opens the configured store unless one was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		s, err := OpenHistory(ctx, a.cfg.History)
		if err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		a.store = s
	}
	a.closers = append(a.closers, a.store.Close)
	a.recorder = history.NewRecorder(a.store, history.WithRecorderLogger(a.log))
	return nil
}

// initTrigger builds the activation trigger for hotword.mode unless one was
// injected.
func (a *App) initTrigger() error {
	if a.trigger != nil {
		return nil
	}
	h := a.cfg.Hotword
	switch h.Mode {
	case config.HotwordPhrase:
		sc := StreamConfig(a.cfg)
		sc.MaxAlternatives = 0
		a.phrase = hotword.NewPhraseTrigger(a.providers.Capture, a.providers.Recognizer, h.Phrases,
			hotword.WithMatcher(phonetic.New(phonetic.WithPhoneticThreshold(h.Threshold))),
			hotword.WithStreamConfig(sc),
			hotword.WithLogger(a.log),
			hotword.WithMetrics(a.metrics),
		)
		a.trigger = a.phrase
	case config.HotwordManual:
		a.trigger = hotword.NewManualTrigger(a.in,
			hotword.WithManualLogger(a.log),
			hotword.WithManualMetrics(a.metrics),
		)
	case config.HotwordOff, "":
	default:
		return fmt.Errorf("unknown hotword mode %q", h.Mode)
	}
	return nil
}

func (a *App) checkers() []health.Checker {
	ffmpeg, ffplay := a.cfg.Audio.FFmpegPath, a.cfg.Audio.FFplayPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffplay == "" {
		ffplay = "ffplay"
	}
	cs := []health.Checker{
		health.Binary("ffmpeg", ffmpeg),
		health.Binary("ffplay", ffplay),
	}
	if p, ok := a.store.(history.Pinger); ok {
		cs = append(cs, health.Optional(health.Ping("history", p)))
	}
	return cs
}

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *voice.Orchestrator { return a.orch }

// History returns the history store, or nil when history is disabled.
func (a *App) History() history.Store { return a.store }

// subscriber fans each event out to the printer, the history recorder and
// the injected subscribers, in that order.
func (a *App) subscriber(more ...voice.Subscriber) voice.Subscriber {
	subs := []voice.Subscriber{a.printer}
	if a.recorder != nil {
		subs = append(subs, a.recorder)
	}
	subs = append(subs, a.extra...)
	return voice.Multi(append(subs, more...)...)
}

// Run serves activations and the diagnostics endpoint until ctx is
// cancelled. It returns nil on cancellation.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := a.diagnosticsServer(addr)
		g.Go(func() error { return serve(ctx, srv, a.log) })
	}

	if a.trigger != nil {
		g.Go(func() error {
			return a.trigger.Run(ctx, hotword.ListenerFunc(func(phrase string) {
				a.activate(ctx, phrase)
			}))
		})
	} else {
		a.log.Info("hotword trigger disabled; use 'embla ask' to start a session")
	}

	g.Go(func() error {
		<-ctx.Done()
		a.orch.Terminate()
		return nil
	})

	a.log.Info("embla running",
		"hotword", a.cfg.Hotword.Mode,
		"phrases", a.cfg.Hotword.Phrases,
		"diagnostics", a.cfg.Server.ListenAddr,
	)
	return g.Wait()
}

// activate reacts to the trigger: it starts a session when none is running,
// ends recording when one is recording and cancels one that is already
// past recording.
func (a *App) activate(ctx context.Context, phrase string) {
	switch {
	case a.orch.IsRecording():
		a.log.Debug("activation while recording; stopping", "phrase", phrase)
		a.orch.StopRecording()
	case a.orch.State() != voice.StateIdle:
		a.log.Debug("activation during a session; cancelling", "phrase", phrase, "state", a.orch.State())
		a.orch.Terminate()
	default:
		id, err := a.orch.Start(ctx, a.subscriber())
		if err != nil {
			a.log.Warn("could not start session", "phrase", phrase, "err", err)
			return
		}
		a.log.Debug("session started", "session_id", id, "phrase", phrase)
	}
}

// Ask runs one session and blocks until it terminates. It returns the
// session's *voice.Error when it failed, or ctx.Err() when ctx was
// cancelled first (the session is then terminated).
func (a *App) Ask(ctx context.Context) error {
	var failure *voice.Error
	done := make(chan struct{})
	watch := voice.SubscriberFunc(func(e voice.Event) {
		switch e := e.(type) {
		case voice.ErrorRaised:
			failure = e.Err
		case voice.Terminated:
			close(done)
		}
	})

	if _, err := a.orch.Start(ctx, a.subscriber(watch)); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		a.orch.Terminate()
		<-done
		return ctx.Err()
	}
	if failure != nil {
		return failure
	}
	return nil
}

// ApplyConfig applies the hot-reloadable part of a configuration change. Its
// signature matches [config.ChangeFunc].
func (a *App) ApplyConfig(_, cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EndpointingChanged {
		a.orch.SetEndpointing(Endpointing(d.NewEndpointing))
		a.log.Info("endpointing changed; applies from the next session",
			"stability_threshold", d.NewEndpointing.StabilityThreshold,
			"settle", d.NewEndpointing.Settle,
			"max_recording", d.NewEndpointing.MaxRecording,
		)
	}
	if d.HotwordChanged && a.phrase != nil {
		a.phrase.SetPhrases(cfg.Hotword.Phrases, phonetic.New(phonetic.WithPhoneticThreshold(cfg.Hotword.Threshold)))
		a.log.Info("activation phrases changed", "phrases", cfg.Hotword.Phrases)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ClearHistory deletes the local history and asks the query backend to
// forget this client's queries (all clients' when all is set).
func (a *App) ClearHistory(ctx context.Context, all bool) error {
	return ClearHistory(ctx, a.store, a.providers.Query, a.info, all)
}

// Shutdown ends the current session, waits for its events to be delivered
// and runs the closers. It respects the context deadline: remaining closers
// are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.orch.Terminate()
		if werr := a.orch.WaitIdle(ctx); werr != nil {
			a.log.Warn("session did not finish before shutdown deadline", "err", werr)
		}
		for i, closer := range a.closers {
			if ctx.Err() != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				err = ctx.Err()
				return
			}
			if cerr := closer(); cerr != nil {
				a.log.Warn("closer error", "index", i, "err", cerr)
			}
		}
	})
	return err
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// ClientInfo returns the identity sent with every query. An empty ID is
// replaced by a fresh random one.
func ClientInfo(c config.ClientConfig) query.ClientInfo {
	info := query.ClientInfo{Name: c.Name, Type: c.Type, Version: c.Version, ID: c.ID}
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if c.Location != nil {
		info.Location = &query.Location{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude}
	}
	return info
}

// Endpointing converts the config's end-of-speech settings.
func Endpointing(e config.Endpointing) voice.Endpointing {
	return voice.Endpointing{
		StabilityThreshold: e.StabilityThreshold,
		Settle:             e.Settle,
		MaxRecording:       e.MaxRecording,
	}
}

// StreamConfig returns the recognition options of a voice session.
func StreamConfig(cfg *config.Config) stt.StreamConfig {
	sc := stt.StreamConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        1,
		Language:        cfg.Recognition.Language,
		InterimResults:  true,
		MaxAlternatives: cfg.Recognition.MaxAlternatives,
	}
	for _, k := range cfg.Recognition.Keywords {
		sc.Keywords = append(sc.Keywords, stt.KeywordBoost{Keyword: k, Boost: 1})
	}
	return sc
}
