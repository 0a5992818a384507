package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/embla/internal/observe"
)

const shutdownGrace = 5 * time.Second

// DiagnosticsHandler serves /metrics, /healthz and /readyz, instrumented by
// [observe.Middleware].
func (a *App) DiagnosticsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler(a.registry))
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) diagnosticsServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.DiagnosticsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.Info("diagnostics server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
