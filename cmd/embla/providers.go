package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/embla/internal/app"
	"github.com/MrWong99/embla/internal/config"
	"github.com/MrWong99/embla/internal/observe"
	"github.com/MrWong99/embla/internal/resilience"
	"github.com/MrWong99/embla/pkg/audio/ffmpeg"
	"github.com/MrWong99/embla/pkg/audio/ffplay"
	"github.com/MrWong99/embla/pkg/provider/stt"
	"github.com/MrWong99/embla/pkg/provider/stt/deepgram"
	"github.com/MrWong99/embla/pkg/provider/tts"
	"github.com/MrWong99/embla/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/embla/pkg/query"
	"github.com/MrWong99/embla/pkg/query/greynir"
	"github.com/MrWong99/embla/pkg/query/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		if lang := e.StringOption("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if e.BoolOption("opus", false) {
			opts = append(opts, deepgram.WithOpus())
		}
		if ka := e.StringOption("keep_alive", ""); ka != "" {
			d, err := time.ParseDuration(ka)
			if err != nil {
				return nil, fmt.Errorf("option keep_alive: %w", err)
			}
			opts = append(opts, deepgram.WithKeepAlive(d))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(e.BaseURL))
		}
		if f := e.StringOption("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		opts = append(opts, elevenlabs.WithSettings(elevenlabs.Settings{
			Stability:       e.FloatOption("stability", elevenlabs.DefaultSettings.Stability),
			SimilarityBoost: e.FloatOption("similarity_boost", elevenlabs.DefaultSettings.SimilarityBoost),
			Speed:           e.FloatOption("speed", 0),
		}))
		return elevenlabs.New(e.APIKey, opts...)
	})

	reg.RegisterQuery("greynir", func(e config.ProviderEntry) (query.Client, error) {
		var opts []greynir.Option
		if e.BoolOption("voice", true) {
			opts = append(opts, greynir.WithVoice(e.StringOption("voice_id", "")))
		}
		if s := e.FloatOption("voice_speed", 0); s > 0 {
			opts = append(opts, greynir.WithVoiceSpeed(s))
		}
		if e.BoolOption("test", false) {
			opts = append(opts, greynir.WithTestMode())
		}
		return greynir.New(e.BaseURL, opts...)
	})

	reg.RegisterQuery("openai", func(e config.ProviderEntry) (query.Client, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if p := e.StringOption("system_prompt", ""); p != "" {
			opts = append(opts, openai.WithSystemPrompt(p))
		}
		if n := e.FloatOption("max_tokens", 0); n > 0 {
			opts = append(opts, openai.WithMaxTokens(int(n)))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
}

// buildQuery creates the query client with its optional fallback. Text-only
// answers get speech from the primary when it can synthesise, otherwise from
// the local TTS provider.
func buildQuery(cfg *config.Config, reg *config.Registry, chain resilience.ChainConfig) (query.Client, error) {
	primary, err := reg.CreateQuery(cfg.Providers.Query)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	slog.Info("provider created", "kind", "query", "name", cfg.Providers.Query.Name)

	client := primary
	if fb := cfg.Providers.QueryFallback; fb.IsSet() {
		secondary, err := reg.CreateQuery(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		group := resilience.NewQueryFallback(primary, cfg.Providers.Query.Name, chain)
		group.AddFallback(fb.Name, secondary)
		client = group
		slog.Info("provider created", "kind", "query_fallback", "name", fb.Name)
	}

	speaker, _ := primary.(query.Speaker)
	var opts []query.SpeechOption
	if !cfg.Providers.TTS.IsSet() {
		opts = append(opts, query.RemoteOnly())
	}
	return query.WithSpeech(client, speaker, opts...), nil
}

// buildProviders instantiates everything a voice session needs. m receives
// the provider request metrics of the fallback chains; nil means the default.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	chain := resilience.ChainConfig{Metrics: m}

	recognizer, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	if fb := cfg.Providers.STTFallback; fb.IsSet() {
		secondary, err := reg.CreateSTT(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		group := resilience.NewSTTFallback(recognizer, cfg.Providers.STT.Name, chain)
		group.AddFallback(fb.Name, secondary)
		recognizer = group
	}
	ps.Recognizer = recognizer

	if ps.Query, err = buildQuery(cfg, reg, chain); err != nil {
		return nil, err
	}

	playerOpts := []ffplay.Option{}
	if cfg.Audio.FFplayPath != "" {
		playerOpts = append(playerOpts, ffplay.WithCommand(cfg.Audio.FFplayPath))
	}
	synth, voice, err := buildTTS(cfg, reg, chain)
	if err != nil {
		return nil, err
	}
	if synth != nil {
		playerOpts = append(playerOpts, ffplay.WithSynthesizer(synth, voice))
	}
	ps.Player = ffplay.New(playerOpts...)

	captureOpts := []ffmpeg.Option{
		ffmpeg.WithInput(cfg.Audio.InputFormat, cfg.Audio.InputDevice),
		ffmpeg.WithChunkDuration(time.Duration(cfg.Audio.ChunkMs) * time.Millisecond),
	}
	if cfg.Audio.FFmpegPath != "" {
		captureOpts = append(captureOpts, ffmpeg.WithCommand(cfg.Audio.FFmpegPath))
	}
	ps.Capture = ffmpeg.New(captureOpts...)

	return ps, nil
}

// buildTTS returns the local speech synthesizer, or nil when none is
// configured.
func buildTTS(cfg *config.Config, reg *config.Registry, chain resilience.ChainConfig) (tts.Provider, tts.VoiceProfile, error) {
	p := cfg.Providers
	if !p.TTS.IsSet() {
		return nil, tts.VoiceProfile{}, nil
	}
	primary, err := reg.CreateTTS(p.TTS)
	if err != nil {
		return nil, tts.VoiceProfile{}, fmt.Errorf("primary: %w", err)
	}
	voice := tts.VoiceProfile{
		ID:       p.TTS.StringOption("voice_id", ""),
		Name:     p.TTS.StringOption("voice_name", ""),
		Language: cfg.Recognition.Language,
	}
	if !p.TTSFallback.IsSet() {
		return primary, voice, nil
	}
	secondary, err := reg.CreateTTS(p.TTSFallback)
	if err != nil {
		return nil, tts.VoiceProfile{}, fmt.Errorf("fallback: %w", err)
	}
	group := resilience.NewTTSFallback(primary, p.TTS.Name, chain)
	group.AddFallback(p.TTSFallback.Name, secondary)
	return group, voice, nil
}
