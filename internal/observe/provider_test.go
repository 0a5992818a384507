package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// useGlobals restores the OpenTelemetry globals Setup replaces.
func useGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestSetup_ServesMetrics(t *testing.T) {
	useGlobals(t)

	tel, err := Setup(context.Background(), TelemetryConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordActivation(context.Background(), "manual")

	rec := httptest.NewRecorder()
	MetricsHandler(tel.Registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"embla_hotword_activations", "go_goroutines", `service_name="embla"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics lacks %s", want)
		}
	}
}

func TestSetup_InstallsTracer(t *testing.T) {
	useGlobals(t)

	tel, err := Setup(context.Background(), TelemetryConfig{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "voice.session")
	if CorrelationID(ctx) == "" {
		t.Error("spans from the installed provider carry no trace id")
	}
	span.End()

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestSetup_RejectsSampleRatio(t *testing.T) {
	t.Parallel()

	for _, r := range []float64{-0.1, 1.5} {
		if _, err := Setup(context.Background(), TelemetryConfig{SampleRatio: r}); err == nil {
			t.Errorf("SampleRatio %v: expected error", r)
		}
	}
}
