package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/embla/internal/config"
	"github.com/MrWong99/embla/internal/history"
	"github.com/MrWong99/embla/internal/history/postgres"
	"github.com/MrWong99/embla/internal/history/sqlite"
	"github.com/MrWong99/embla/pkg/query"
)

// OpenHistory opens the store selected by cfg. It returns a nil store and a
// nil error when history is disabled.
func OpenHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case config.HistorySQLite:
		path := cfg.DSN
		if path == "" {
			path = sqlite.DefaultPath()
		}
		return sqlite.Open(ctx, path)
	case config.HistoryPostgres:
		return postgres.NewStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// ClearHistory clears store (when non-nil) and, if client supports it, the
// backend's record of info's queries. Both are attempted; failures are
// joined.
func ClearHistory(ctx context.Context, store history.Store, client query.Client, info query.ClientInfo, all bool) error {
	var errs []error
	if store != nil {
		if err := store.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear local history: %w", err))
		}
	}
	if hc, ok := client.(query.HistoryClearer); ok {
		if err := hc.ClearHistory(ctx, info, all); err != nil {
			errs = append(errs, fmt.Errorf("clear backend history: %w", err))
		}
	}
	return errors.Join(errs...)
}
