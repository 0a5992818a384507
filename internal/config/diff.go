package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointingChanged is true when the stability threshold, settle
	// duration, or maximum recording duration changed. The new values take
	// effect from the next session.
	EndpointingChanged bool
	NewEndpointing     Endpointing

	// HotwordChanged is true when the activation phrases or threshold changed.
	HotwordChanged bool

	// RestartRequired lists top-level sections whose changes only apply after
	// a restart (providers, audio devices, history store).
	RestartRequired []string
}

// Endpointing groups the end-of-speech settings of [RecognitionConfig].
type Endpointing struct {
	StabilityThreshold float64
	Settle             time.Duration
	MaxRecording       time.Duration
}

// Endpointing returns the end-of-speech settings of rc.
func (rc RecognitionConfig) Endpointing() Endpointing {
	return Endpointing{
		StabilityThreshold: rc.StabilityThreshold,
		Settle:             rc.Settle,
		MaxRecording:       rc.MaxRecording,
	}
}

// Changed reports whether d carries anything that can be applied live.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EndpointingChanged || d.HotwordChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if oe, ne := old.Recognition.Endpointing(), new.Recognition.Endpointing(); oe != ne {
		d.EndpointingChanged = true
		d.NewEndpointing = ne
	}

	if old.Hotword.Threshold != new.Hotword.Threshold || !slices.Equal(old.Hotword.Phrases, new.Hotword.Phrases) {
		d.HotwordChanged = true
	}

	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Hotword.Mode != new.Hotword.Mode {
		d.RestartRequired = append(d.RestartRequired, "hotword.mode")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}

	return d
}

// providersEqual compares provider selections, ignoring Options.
func providersEqual(a, b ProvidersConfig) bool {
	same := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return same(a.STT, b.STT) && same(a.STTFallback, b.STTFallback) &&
		same(a.Query, b.Query) && same(a.QueryFallback, b.QueryFallback) &&
		same(a.TTS, b.TTS) && same(a.TTSFallback, b.TTSFallback)
}
