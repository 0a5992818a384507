package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/embla/internal/app"
	"github.com/MrWong99/embla/internal/config"
	historymock "github.com/MrWong99/embla/internal/history/mock"
	"github.com/MrWong99/embla/internal/observe"
	"github.com/MrWong99/embla/internal/voice"
	audiomock "github.com/MrWong99/embla/pkg/audio/mock"
	"github.com/MrWong99/embla/pkg/provider/stt"
	sttmock "github.com/MrWong99/embla/pkg/provider/stt/mock"
	"github.com/MrWong99/embla/pkg/query"
	querymock "github.com/MrWong99/embla/pkg/query/mock"
)

const waitTimeout = 3 * time.Second

// syncBuffer is a bytes.Buffer safe for the printer goroutine and the test.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fixture struct {
	cfg     *config.Config
	capture *audiomock.Capture
	stream  *sttmock.Session
	client  *querymock.Client
	player  *audiomock.Player
	store   *historymock.Store
	out     *syncBuffer
}

// testConfig returns a defaulted config with the given hotword mode.
func testConfig(mode config.HotwordMode) *config.Config {
	cfg := &config.Config{
		Client:    config.ClientConfig{ID: "test-client", Version: "1.0"},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram", APIKey: "k"}},
		Hotword:   config.HotwordConfig{Mode: mode},
		Audio:     config.AudioConfig{FFmpegPath: "/nonexistent/ffmpeg", FFplayPath: "/nonexistent/ffplay"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newFixture(mode config.HotwordMode) *fixture {
	return &fixture{
		cfg:     testConfig(mode),
		capture: &audiomock.Capture{},
		stream:  sttmock.NewSession(),
		client:  &querymock.Client{Answer: &query.Answer{Text: "Klukkan er tólf", Source: "Klukkan"}},
		player:  &audiomock.Player{},
		store:   &historymock.Store{},
		out:     &syncBuffer{},
	}
}

func (f *fixture) newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	base := []app.Option{
		app.WithHistoryStore(f.store),
		app.WithOutput(f.out),
		app.WithMetrics(metrics),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	a, err := app.New(context.Background(), f.cfg, &app.Providers{
		Capture:    f.capture,
		Recognizer: &sttmock.Provider{Session: f.stream},
		Query:      f.client,
		Player:     f.player,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func final(text string) stt.Result {
	return stt.Result{Seq: 1, Alternatives: []string{text}, IsFinal: true, Stability: 1}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(config.HotwordOff), &app.Providers{Capture: &audiomock.Capture{}})
	if err == nil {
		t.Fatal("New accepted incomplete providers")
	}
}

func TestAsk_AnswersAndRecordsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(config.HotwordOff)
	a := f.newApp(t)
	f.stream.Push(final("hvað er klukkan"))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := a.Ask(ctx); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	out := f.out.String()
	for _, want := range []string{"Listening...", "> hvað er klukkan", "< Klukkan er tólf [Klukkan]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	entries := f.store.Snapshot()
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if e := entries[0]; e.Question != "hvað er klukkan" || e.Answer != "Klukkan er tólf" || e.Cause != "normal-completion" {
		t.Errorf("entry = %+v", e)
	}

	reqs := f.client.Calls()
	if len(reqs) != 1 || reqs[0].Client.ID != "test-client" || reqs[0].Client.Version != "1.0" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestAsk_ReturnsSessionError(t *testing.T) {
	t.Parallel()

	f := newFixture(config.HotwordOff)
	f.client.Err = errors.New("backend down")
	a := f.newApp(t)
	f.stream.Push(final("hvernig er veðrið"))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := a.Ask(ctx)
	if voice.KindOf(err) != voice.KindQueryError {
		t.Fatalf("Ask error = %v, want a QueryError", err)
	}
	if !strings.Contains(f.out.String(), "! ") {
		t.Errorf("error not printed:\n%s", f.out.String())
	}
	if entries := f.store.Snapshot(); len(entries) != 1 || entries[0].Error == "" {
		t.Errorf("history = %+v, want one entry with an error", entries)
	}
}

func TestAsk_CancelTerminatesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(config.HotwordOff)
	a := f.newApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Ask(ctx) }()

	deadline := time.Now().Add(waitTimeout)
	for !a.Orchestrator().IsRecording() {
		if time.Now().After(deadline) {
			t.Fatal("session never started recording")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Ask = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Ask did not return after cancel")
	}
	if f.capture.Prepared() {
		t.Error("microphone still held after cancel")
	}
}

func TestRun_ManualTriggerStartsAndStopsSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(config.HotwordManual)
	r, w := io.Pipe()
	defer w.Close()
	a := f.newApp(t, app.WithInput(r))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// First Enter starts a session.
	if _, err := io.WriteString(w, "\n"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(waitTimeout)
	for !a.Orchestrator().IsRecording() {
		if time.Now().After(deadline) {
			t.Fatal("manual activation did not start a session")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Second Enter ends recording; the interim transcript is submitted.
	f.stream.Push(stt.Result{Seq: 1, Alternatives: []string{"segðu brandara"}, Stability: 0.1})
	deadline = time.Now().Add(waitTimeout)
	for !strings.Contains(f.out.String(), "segðu brandara") {
		if time.Now().After(deadline) {
			t.Fatalf("interim result never printed:\n%s", f.out.String())
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-f.store.Appended():
	case <-time.After(waitTimeout):
		t.Fatalf("session was never recorded:\n%s", f.out.String())
	}
	if got := f.store.Snapshot()[0].Question; got != "segðu brandara" {
		t.Errorf("question = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(config.HotwordOff)
	var level slog.LevelVar
	a := f.newApp(t, app.WithLevelVar(&level))

	next := testConfig(config.HotwordOff)
	next.Server.LogLevel = config.LogDebug
	next.Recognition.Settle = 1500 * time.Millisecond
	next.Recognition.MaxRecording = 6 * time.Second

	a.ApplyConfig(f.cfg, next, config.Diff(f.cfg, next))

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	got := a.Orchestrator().Endpointing()
	if got.Settle != 1500*time.Millisecond || got.MaxRecording != 6*time.Second {
		t.Errorf("endpointing = %+v", got)
	}
}

func TestClearHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(config.HotwordOff)
	a := f.newApp(t)

	if err := a.ClearHistory(context.Background(), true); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if f.store.ClearCallCount != 1 {
		t.Errorf("local Clear calls = %d, want 1", f.store.ClearCallCount)
	}
	if len(f.client.ClearCalls) != 1 || !f.client.ClearCalls[0] {
		t.Errorf("backend ClearHistory calls = %v, want [true]", f.client.ClearCalls)
	}

	f.store.ClearErr = errors.New("locked")
	f.client.ClearErr = errors.New("offline")
	err := a.ClearHistory(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "locked") || !strings.Contains(err.Error(), "offline") {
		t.Errorf("ClearHistory = %v, want both failures", err)
	}
}

func TestDiagnosticsHandler(t *testing.T) {
	t.Parallel()

	f := newFixture(config.HotwordOff)
	a := f.newApp(t, app.WithMetricsRegistry(prometheus.NewRegistry()))
	srv := httptest.NewServer(a.DiagnosticsHandler())
	defer srv.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.Header.Get(observe.CorrelationHeader) == "" {
				t.Error("missing correlation header")
			}
		})
	}
}

func TestOpenHistory(t *testing.T) {
	t.Parallel()

	s, err := app.OpenHistory(context.Background(), config.HistoryConfig{})
	if err != nil || s != nil {
		t.Fatalf("disabled history = (%v, %v), want (nil, nil)", s, err)
	}

	s, err = app.OpenHistory(context.Background(), config.HistoryConfig{Backend: config.HistorySQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer s.Close()
	if _, err := s.List(context.Background(), 0); err != nil {
		t.Errorf("List: %v", err)
	}

	if _, err := app.OpenHistory(context.Background(), config.HistoryConfig{Backend: "mongo"}); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestClientInfo(t *testing.T) {
	t.Parallel()

	info := app.ClientInfo(config.ClientConfig{
		Name:     "Embla",
		Type:     "linux",
		Version:  "1.2.0",
		Location: &config.LocationConfig{Latitude: 64.14, Longitude: -21.94},
	})
	if info.ID == "" {
		t.Error("empty client ID was not generated")
	}
	if info.Name != "Embla" || info.Type != "linux" || info.Version != "1.2.0" {
		t.Errorf("identity = %q/%q/%q, want Embla/linux/1.2.0", info.Name, info.Type, info.Version)
	}
	if info.Location == nil || info.Location.Latitude != 64.14 {
		t.Errorf("location = %+v", info.Location)
	}
	if other := app.ClientInfo(config.ClientConfig{}); other.ID == info.ID {
		t.Error("generated client IDs are not unique")
	}
}

func TestStreamConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.HotwordOff)
	cfg.Recognition.Keywords = []string{"Greynir"}
	sc := app.StreamConfig(cfg)
	if sc.SampleRate != 16000 || sc.Language != "is-IS" || !sc.InterimResults || sc.MaxAlternatives != 10 {
		t.Errorf("stream config = %+v", sc)
	}
	if len(sc.Keywords) != 1 || sc.Keywords[0].Keyword != "Greynir" {
		t.Errorf("keywords = %+v", sc.Keywords)
	}
}
