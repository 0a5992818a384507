package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to fields left empty.
const (
	DefaultClientName         = "Embla"
	DefaultClientType         = "linux"
	DefaultSampleRate         = 16000
	DefaultInputFormat        = "pulse"
	DefaultInputDevice        = "default"
	DefaultChunkMs            = 100
	DefaultLanguage           = "is-IS"
	DefaultStabilityThreshold = 0.25
	DefaultSettle             = 800 * time.Millisecond
	DefaultMaxRecording       = 10 * time.Second
	DefaultMaxAlternatives    = 10
	DefaultHotwordThreshold   = 0.85
	DefaultQueryProvider      = "greynir"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"deepgram"},
	"query": {"greynir", "openai"},
	"tts":   {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Client.Name == "" {
		cfg.Client.Name = DefaultClientName
	}
	if cfg.Client.Type == "" {
		cfg.Client.Type = DefaultClientType
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.InputFormat == "" {
		a.InputFormat = DefaultInputFormat
	}
	if a.InputDevice == "" {
		a.InputDevice = DefaultInputDevice
	}
	if a.ChunkMs == 0 {
		a.ChunkMs = DefaultChunkMs
	}

	rc := &cfg.Recognition
	if rc.Language == "" {
		rc.Language = DefaultLanguage
	}
	if rc.StabilityThreshold == 0 {
		rc.StabilityThreshold = DefaultStabilityThreshold
	}
	if rc.Settle == 0 {
		rc.Settle = DefaultSettle
	}
	if rc.MaxRecording == 0 {
		rc.MaxRecording = DefaultMaxRecording
	}
	if rc.MaxAlternatives == 0 {
		rc.MaxAlternatives = DefaultMaxAlternatives
	}

	if cfg.Providers.Query.Name == "" {
		cfg.Providers.Query.Name = DefaultQueryProvider
	}

	h := &cfg.Hotword
	if h.Mode == "" {
		h.Mode = HotwordPhrase
	}
	if len(h.Phrases) == 0 {
		h.Phrases = []string{cfg.Client.Name}
	}
	if h.Threshold == 0 {
		h.Threshold = DefaultHotwordThreshold
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v is outside [0, 1]", r))
	}

	// Client
	if loc := cfg.Client.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 {
			errs = append(errs, fmt.Errorf("client.location.latitude %.4f is out of range [-90, 90]", loc.Latitude))
		}
		if loc.Longitude < -180 || loc.Longitude > 180 {
			errs = append(errs, fmt.Errorf("client.location.longitude %.4f is out of range [-180, 180]", loc.Longitude))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkMs < 0 || cfg.Audio.ChunkMs > 1000 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d is out of range [1, 1000]", cfg.Audio.ChunkMs))
	}

	// Recognition
	rc := cfg.Recognition
	if rc.StabilityThreshold < 0 || rc.StabilityThreshold > 1 {
		errs = append(errs, fmt.Errorf("recognition.stability_threshold %.2f is out of range [0, 1]", rc.StabilityThreshold))
	}
	if rc.Settle < 0 {
		errs = append(errs, fmt.Errorf("recognition.settle %s must not be negative", rc.Settle))
	}
	if rc.MaxRecording < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_recording %s must not be negative", rc.MaxRecording))
	}
	if rc.MaxRecording > 0 && rc.Settle >= rc.MaxRecording {
		slog.Warn("recognition.settle is not shorter than recognition.max_recording; stable results will never end a session early",
			"settle", rc.Settle,
			"max_recording", rc.MaxRecording,
		)
	}
	if rc.MaxAlternatives < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_alternatives %d must not be negative", rc.MaxAlternatives))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("stt", p.STT.Name)
	validateProviderName("stt", p.STTFallback.Name)
	validateProviderName("query", p.Query.Name)
	validateProviderName("query", p.QueryFallback.Name)
	validateProviderName("tts", p.TTS.Name)
	validateProviderName("tts", p.TTSFallback.Name)

	if !p.STT.IsSet() {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	for _, e := range []struct {
		field string
		entry ProviderEntry
	}{
		{"providers.stt", p.STT},
		{"providers.stt_fallback", p.STTFallback},
		{"providers.query_fallback", p.QueryFallback},
		{"providers.tts", p.TTS},
		{"providers.tts_fallback", p.TTSFallback},
	} {
		if e.entry.IsSet() && needsAPIKey(e.entry.Name) && e.entry.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: provider %q requires api_key", e.field, e.entry.Name))
		}
	}
	if p.STTFallback.IsSet() && !p.STT.IsSet() {
		errs = append(errs, errors.New("providers.stt_fallback requires providers.stt"))
	}
	if p.TTSFallback.IsSet() && !p.TTS.IsSet() {
		errs = append(errs, errors.New("providers.tts_fallback requires providers.tts"))
	}
	if !p.TTS.IsSet() {
		slog.Warn("no TTS provider configured; answers without server audio will be shown but not spoken")
	}

	// Hotword
	h := cfg.Hotword
	if h.Mode != "" && !h.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("hotword.mode %q is invalid; valid values: phrase, manual, off", h.Mode))
	}
	if h.Mode == HotwordPhrase && len(h.Phrases) == 0 {
		errs = append(errs, errors.New("hotword.phrases must not be empty when mode is phrase"))
	}
	if h.Threshold < 0 || h.Threshold > 1 {
		errs = append(errs, fmt.Errorf("hotword.threshold %.2f is out of range [0, 1]", h.Threshold))
	}

	// History
	hist := cfg.History
	if hist.Backend != "" && !hist.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: sqlite, postgres", hist.Backend))
	}
	if hist.Backend.IsValid() && hist.DSN == "" {
		errs = append(errs, fmt.Errorf("history.dsn is required when backend is %s", hist.Backend))
	}

	return errors.Join(errs...)
}

// needsAPIKey reports whether the named provider cannot run without an API key.
func needsAPIKey(name string) bool {
	switch name {
	case "deepgram", "openai", "elevenlabs":
		return true
	}
	return false
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
