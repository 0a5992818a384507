package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/embla/internal/history"
	"github.com/MrWong99/embla/internal/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if EMBLA_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EMBLA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EMBLA_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()
	s, err := postgres.NewStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, q := range []string{"hvað er klukkan", "hvernig er veðrið"} {
		_, err := s.Append(ctx, history.Entry{
			SessionID: q,
			Question:  q,
			Answer:    "svar",
			Cause:     "normal-completion",
			StartedAt: base,
			EndedAt:   base.Add(time.Duration(i+1) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Question != "hvernig er veðrið" {
		t.Errorf("List(1) = %+v, want the newest entry", got)
	}

	if err := postgres.Migrate(ctx, s.Pool()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := s.List(ctx, 0); len(got) != 0 {
		t.Errorf("List after Clear = %d entries", len(got))
	}
}
