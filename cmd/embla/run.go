package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/embla/internal/app"
	"github.com/MrWong99/embla/internal/config"
	"github.com/MrWong99/embla/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen for the activation phrase and answer questions",
		Long: `Run the long-lived client. Depending on hotword.mode, sessions start when an
activation phrase is heard or when Enter is pressed. The config file is
watched, and SIGHUP forces a re-read; log level, endpointing and activation
phrases change without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := g.newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			watcher, err := config.NewWatcher(g.configPath, a.ApplyConfig, config.WithWatchLogger(g.log))
			if err != nil {
				slog.Warn("config watcher disabled", "err", err)
			} else {
				defer watcher.Stop()
				go reloadOnHangup(ctx, watcher)
			}

			runErr := a.Run(ctx)
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				slog.Error("shutdown error", "err", err)
			}
			return runErr
		},
	}
}

// reloadOnHangup re-reads the config on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			w.Reload()
		}
	}
}

func newAskCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ask",
		Short: "Record and answer a single question, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := g.newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			askErr := a.Ask(ctx)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = a.Shutdown(shutdownCtx)

			if errors.Is(askErr, context.Canceled) {
				return nil
			}
			return askErr
		},
	}
}

// newApp builds the telemetry providers, the voice providers and the App.
// The returned cleanup flushes telemetry.
func (g *globals) newApp(ctx context.Context, cmd *cobra.Command) (*app.App, func(), error) {
	slog.Info("embla starting",
		"version", version,
		"config", g.configPath,
		"log_level", g.cfg.Server.LogLevel,
	)

	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceVersion: version,
		SampleRatio:    g.cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
	metrics := tel.Metrics

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(g.cfg, reg, metrics)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	a, err := app.New(ctx, g.cfg, providers,
		app.WithLogger(g.log),
		app.WithLevelVar(g.level),
		app.WithMetrics(metrics),
		app.WithMetricsRegistry(tel.Registry),
		app.WithOutput(cmd.OutOrStdout()),
		app.WithInput(os.Stdin),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init app: %w", err)
	}
	return a, cleanup, nil
}
