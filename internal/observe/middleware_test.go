package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// diagnosticsMux mimics the routes served by the app's diagnostics server.
func diagnosticsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// newInstrumentedServer wraps diagnosticsMux in Middleware with in-memory
// exporters. The global tracer provider is swapped, so callers must not run
// in parallel.
func newInstrumentedServer(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	return Middleware(m)(diagnosticsMux()), reader, exp
}

// durationSeries returns the data points of embla.http.request.duration.
func durationSeries(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "embla.http.request.duration" {
				continue
			}
			h, ok := md.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("%s: data is %T", md.Name, md.Data)
			}
			return h.DataPoints
		}
	}
	return nil
}

func attrValue(set attribute.Set, key attribute.Key) string {
	v, _ := set.Value(key)
	return v.Emit()
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantRoute  string
		wantError  bool
	}{
		{name: "health", path: "/healthz", wantStatus: http.StatusOK, wantRoute: "GET /healthz"},
		{name: "not ready", path: "/readyz", wantStatus: http.StatusServiceUnavailable, wantRoute: "GET /readyz", wantError: true},
		{name: "route pattern", path: "/sessions/abc", wantStatus: http.StatusNoContent, wantRoute: "GET /sessions/{id}"},
		{name: "unknown path", path: "/nope", wantStatus: http.StatusNotFound, wantRoute: "/nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, reader, exp := newInstrumentedServer(t)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			span := spans[0]
			if span.SpanKind != trace.SpanKindServer {
				t.Errorf("span kind = %v, want server", span.SpanKind)
			}
			if tt.wantRoute != tt.path && span.Name != tt.wantRoute {
				t.Errorf("span name = %q, want %q", span.Name, tt.wantRoute)
			}
			if got := span.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error status = %v, want %v", got, tt.wantError)
			}
			if got := rec.Header().Get(CorrelationHeader); got != span.SpanContext.TraceID().String() {
				t.Errorf("%s = %q, want trace id %s", CorrelationHeader, got, span.SpanContext.TraceID())
			}

			points := durationSeries(t, reader)
			if len(points) != 1 {
				t.Fatalf("got %d duration series, want 1", len(points))
			}
			p := points[0]
			if p.Count != 1 {
				t.Errorf("count = %d, want 1", p.Count)
			}
			if got := attrValue(p.Attributes, "path"); got != tt.wantRoute {
				t.Errorf("path label = %q, want %q", got, tt.wantRoute)
			}
			if got, want := attrValue(p.Attributes, "status"), strconv.Itoa(tt.wantStatus); got != want {
				t.Errorf("status label = %q, want %q", got, want)
			}
		})
	}
}

func TestMiddleware_JoinsCallerTrace(t *testing.T) {
	h, _, exp := newInstrumentedServer(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].Parent.SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span = %s, want 00f067aa0ba902b7", got)
	}
}

func TestMiddleware_SeriesPerStatus(t *testing.T) {
	h, reader, _ := newInstrumentedServer(t)

	for _, path := range []string{"/healthz", "/healthz", "/readyz"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	counts := map[string]uint64{}
	for _, p := range durationSeries(t, reader) {
		counts[attrValue(p.Attributes, "path")+" "+attrValue(p.Attributes, "status")] = p.Count
	}
	want := map[string]uint64{"GET /healthz 200": 2, "GET /readyz 503": 1}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("series %q count = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
}
