package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/embla/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing stt provider",
			yaml:    `server: {log_level: info}`,
			wantErr: "providers.stt is required",
		},
		{
			name: "deepgram without api key",
			yaml: `
providers:
  stt: {name: deepgram}
`,
			wantErr: "requires api_key",
		},
		{
			name: "invalid log level",
			yaml: `
server: {log_level: verbose}
providers:
  stt: {name: deepgram, api_key: k}
`,
			wantErr: "server.log_level",
		},
		{
			name: "trace sample ratio above one",
			yaml: `
server: {trace_sample_ratio: 2}
providers:
  stt: {name: deepgram, api_key: k}
`,
			wantErr: "server.trace_sample_ratio",
		},
		{
			name: "stability threshold out of range",
			yaml: `
providers:
  stt: {name: deepgram, api_key: k}
recognition: {stability_threshold: 1.5}
`,
			wantErr: "recognition.stability_threshold",
		},
		{
			name: "negative settle",
			yaml: `
providers:
  stt: {name: deepgram, api_key: k}
recognition: {settle: -1s}
`,
			wantErr: "recognition.settle",
		},
		{
			name: "invalid hotword mode",
			yaml: `
providers:
  stt: {name: deepgram, api_key: k}
hotword: {mode: always}
`,
			wantErr: "hotword.mode",
		},
		{
			name: "history backend without dsn",
			yaml: `
providers:
  stt: {name: deepgram, api_key: k}
history: {backend: postgres}
`,
			wantErr: "history.dsn",
		},
		{
			name: "invalid history backend",
			yaml: `
providers:
  stt: {name: deepgram, api_key: k}
history: {backend: mongo, dsn: x}
`,
			wantErr: "history.backend",
		},
		{
			name: "latitude out of range",
			yaml: `
providers:
  stt: {name: deepgram, api_key: k}
client:
  location: {latitude: 91, longitude: 0}
`,
			wantErr: "client.location.latitude",
		},
		{
			name: "tts fallback without tts",
			yaml: `
providers:
  stt: {name: deepgram, api_key: k}
  tts_fallback: {name: elevenlabs, api_key: k}
`,
			wantErr: "providers.tts_fallback requires providers.tts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server: {log_level: loud}
hotword: {mode: sometimes}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"server.log_level", "hotword.mode", "providers.stt"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_MinimalIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    name: deepgram
    api_key: dg-test
hotword:
  mode: manual
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "query", "tts"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", kind)
		}
	}
}
