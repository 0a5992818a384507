package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/embla/internal/config"
	"github.com/MrWong99/embla/internal/history"
	"github.com/MrWong99/embla/internal/resilience"
	"github.com/MrWong99/embla/pkg/query"
)

const testYAML = `
client:
  name: Embla
  id: test-client
providers:
  stt:
    name: deepgram
    api_key: dg-test
    options:
      opus: true
      keep_alive: 3s
  query:
    name: greynir
    base_url: http://127.0.0.1:1
    options:
      voice_id: Dora
      voice_speed: 1.2
hotword:
  mode: "off"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadTestConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	tests := []struct {
		name    string
		create  func() (any, error)
		wantErr bool
	}{
		{
			name: "deepgram",
			create: func() (any, error) {
				return reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "k", Options: map[string]any{"opus": true}})
			},
		},
		{
			name: "deepgram bad keep_alive",
			create: func() (any, error) {
				return reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "k", Options: map[string]any{"keep_alive": "soon"}})
			},
			wantErr: true,
		},
		{
			name: "deepgram without key",
			create: func() (any, error) {
				return reg.CreateSTT(config.ProviderEntry{Name: "deepgram"})
			},
			wantErr: true,
		},
		{
			name: "elevenlabs",
			create: func() (any, error) {
				return reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs", APIKey: "k"})
			},
		},
		{
			name: "elevenlabs bad output format",
			create: func() (any, error) {
				return reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs", APIKey: "k", Options: map[string]any{"output_format": "mp3_44100_128"}})
			},
			wantErr: true,
		},
		{
			name: "greynir default url",
			create: func() (any, error) {
				return reg.CreateQuery(config.ProviderEntry{Name: "greynir", Options: map[string]any{"voice_speed": 1.1}})
			},
		},
		{
			name: "greynir bad url",
			create: func() (any, error) {
				return reg.CreateQuery(config.ProviderEntry{Name: "greynir", BaseURL: "not a url"})
			},
			wantErr: true,
		},
		{
			name: "openai",
			create: func() (any, error) {
				return reg.CreateQuery(config.ProviderEntry{Name: "openai", APIKey: "k", Model: "gpt-4o-mini", Options: map[string]any{"max_tokens": 64}})
			},
		},
		{
			name: "unknown",
			create: func() (any, error) {
				return reg.CreateQuery(config.ProviderEntry{Name: "nope"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := tt.create()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p == nil {
				t.Fatal("provider is nil")
			}
		})
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := loadTestConfig(t, testYAML)
	cfg.Providers.STTFallback = config.ProviderEntry{Name: "deepgram", APIKey: "dg-second"}
	cfg.Providers.QueryFallback = config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "elevenlabs", APIKey: "el-test", Options: map[string]any{"voice_id": "abc"}}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	ps, err := buildProviders(cfg, reg, nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Capture == nil || ps.Player == nil || ps.Query == nil {
		t.Fatalf("missing provider: %+v", ps)
	}
	if _, ok := ps.Recognizer.(*resilience.STTFallback); !ok {
		t.Errorf("Recognizer = %T, want *resilience.STTFallback", ps.Recognizer)
	}
	if _, ok := ps.Query.(query.HistoryClearer); !ok {
		t.Error("query client lost its HistoryClearer")
	}
}

func TestBuildProviders_BadFallback(t *testing.T) {
	t.Parallel()

	cfg := loadTestConfig(t, testYAML)
	cfg.Providers.QueryFallback = config.ProviderEntry{Name: "openai"}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if _, err := buildProviders(cfg, reg, nil); err == nil || !strings.Contains(err.Error(), "query fallback") {
		t.Fatalf("err = %v, want query fallback error", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, lv := newLogger(&buf, config.LogWarn)
	log.Info("hidden")
	log.Warn("shown")
	lv.Set(slog.LevelDebug)
	log.Debug("now shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "now shown") {
		t.Errorf("missing lines: %q", out)
	}
}

func TestGlobalsLoad(t *testing.T) {
	t.Run("log level override", func(t *testing.T) {
		g := &globals{configPath: writeConfig(t, testYAML), logLevel: "debug"}
		defer slog.SetDefault(slog.Default())
		if err := g.load(&bytes.Buffer{}); err != nil {
			t.Fatalf("load: %v", err)
		}
		if g.cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("LogLevel = %q, want debug", g.cfg.Server.LogLevel)
		}
		if g.level.Level() != slog.LevelDebug {
			t.Errorf("LevelVar = %v, want debug", g.level.Level())
		}
	})
	t.Run("invalid log level", func(t *testing.T) {
		g := &globals{configPath: writeConfig(t, testYAML), logLevel: "loud"}
		if err := g.load(&bytes.Buffer{}); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("missing file", func(t *testing.T) {
		g := &globals{configPath: filepath.Join(t.TempDir(), "absent.yaml")}
		err := g.load(&bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Fatalf("err = %v, want not found", err)
		}
	})
}

func TestHistoryList(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	path := writeConfig(t, testYAML+"history:\n  backend: sqlite\n  dsn: "+dsn+"\n")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{"--config", path}, args...))
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("embla %v: %v", args, err)
		}
		return out.String()
	}
	defer slog.SetDefault(slog.Default())

	if got := run("history", "list"); !strings.Contains(got, "no history") {
		t.Errorf("empty list output = %q", got)
	}
}

func TestPrintEntries(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	var buf bytes.Buffer
	err := printEntries(&buf, []history.Entry{
		{ID: 2, StartedAt: at, Question: "hvað er klukkan", Answer: "Klukkan er tólf", Cause: "normal-completion"},
		{ID: 1, StartedAt: at, Question: "veður", Cause: "network-error", Error: "query failed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"QUESTION", "hvað er klukkan", "Klukkan er tólf", "normal-completion", "query failed", "2026-03-01 12:00:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("stutt", 10); got != "stutt" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("þetta er langt svar", 6); got != "þetta…" {
		t.Errorf("truncate long = %q", got)
	}
}
