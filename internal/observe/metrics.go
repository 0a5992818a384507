// Package observe holds Embla's telemetry: OpenTelemetry instruments for the
// voice session pipeline, session-aware tracing and logging helpers, and the
// middleware of the diagnostics HTTP server.
//
// Instruments are created from any [metric.MeterProvider]. [Setup]
// installs a global provider backed by a Prometheus exporter, which the
// diagnostics server exposes on /metrics. Tests build their own [Metrics]
// from a manual reader instead of touching the globals.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/embla"

// Metrics is the set of instruments Embla records into. Its zero value is not
// usable; build one with [NewMetrics].
type Metrics struct {
	// Stage latencies, in seconds.
	RecognitionDuration metric.Float64Histogram // recording start to end of speech
	QueryDuration       metric.Float64Histogram
	PlaybackDuration    metric.Float64Histogram
	SessionDuration     metric.Float64Histogram // labelled by cause

	SessionsStarted    metric.Int64Counter
	SessionErrors      metric.Int64Counter // labelled by kind
	HotwordActivations metric.Int64Counter // labelled by source

	// ProviderRequests counts one attempt per provider call, labelled by
	// provider, kind ("stt", "tts", "query") and status ("ok", "error",
	// "skipped"). ProviderErrors counts the failed ones only.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes, labelled by
	// breaker name and target state.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions is 1 while an orchestrator has a live session.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration times diagnostics requests by method, route
	// pattern and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// Voice round trips are measured in seconds; a slow backend answer can take
// well over ten.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 20}

// instruments collects the first error of a run of instrument creations so
// NewMetrics reads as a list.
type instruments struct {
	m   metric.Meter
	err error
}

func (in *instruments) latency(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.m.Float64Histogram(name, opts...)
	if in.err == nil {
		in.err = err
	}
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.m.Int64Counter(name, metric.WithDescription(desc))
	if in.err == nil {
		in.err = err
	}
	return c
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		RecognitionDuration: in.latency("embla.recognition.duration", "Time from recording start to end of speech.", latencyBuckets...),
		QueryDuration:       in.latency("embla.query.duration", "Latency of query backend requests.", latencyBuckets...),
		PlaybackDuration:    in.latency("embla.playback.duration", "Duration of answer playback.", latencyBuckets...),
		SessionDuration:     in.latency("embla.session.duration", "Total duration of voice sessions by termination cause.", latencyBuckets...),
		HTTPRequestDuration: in.latency("embla.http.request.duration", "Diagnostics request latency by method, route and status."),

		SessionsStarted:    in.counter("embla.sessions.started", "Voice sessions that reached the recording state."),
		SessionErrors:      in.counter("embla.session.errors", "Sessions that ended in an error, by kind."),
		HotwordActivations: in.counter("embla.hotword.activations", "Trigger activations by source."),
		ProviderRequests:   in.counter("embla.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:     in.counter("embla.provider.errors", "Failed provider calls by provider and kind."),
		BreakerTransitions: in.counter("embla.breaker.transitions", "Circuit breaker state changes by breaker and target state."),
	}
	if in.err != nil {
		return nil, in.err
	}

	var err error
	met.ActiveSessions, err = in.m.Int64UpDownCounter("embla.active_sessions",
		metric.WithDescription("Live voice sessions."))
	if err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built from the global meter
// provider on first use. Components fall back to it when no sink is injected.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest counts one provider attempt.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one failed provider attempt.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts a breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", to),
	))
}

// RecordSessionError counts a session that failed with the given error kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSessionEnd records how long a session lived and why it ended.
func (m *Metrics) RecordSessionEnd(ctx context.Context, seconds float64, cause string) {
	m.SessionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordActivation counts a trigger activation from source ("hotword",
// "manual").
func (m *Metrics) RecordActivation(ctx context.Context, source string) {
	m.HotwordActivations.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
