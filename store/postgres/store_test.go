//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/store/postgres"
	"github.com/xraph/conveyor/store/storetest"
)

// startPostgres runs a Postgres container for the duration of the test and
// returns its connection string.
func startPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("conveyor_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	return connStr
}

// setupTestStore connects to connStr with tables unique to this call so
// subtests sharing one container never see each other's rows.
func setupTestStore(t *testing.T, connStr string, seq *atomic.Int64) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	n := seq.Add(1)
	s, err := postgres.New(ctx, connStr,
		postgres.WithItemTable(fmt.Sprintf("items_%d", n)),
		postgres.WithStepTable(fmt.Sprintf("steps_%d", n)),
		postgres.WithLogger(slog.Default()),
	)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if migErr := s.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return s
}

func TestPostgres(t *testing.T) {
	connStr := startPostgres(t)
	var seq atomic.Int64

	t.Run("Conformance", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) store.Store {
			return setupTestStore(t, connStr, &seq)
		})
	})

	t.Run("InvalidTableName", func(t *testing.T) {
		_, err := postgres.New(context.Background(), connStr, postgres.WithItemTable("1bad"))
		if !errors.Is(err, conveyor.ErrInvalidTable) {
			t.Fatalf("got %v, want ErrInvalidTable", err)
		}
	})

	t.Run("LeaseCheckConstraint", func(t *testing.T) {
		s := setupTestStore(t, connStr, &seq)
		ctx := context.Background()

		it := item.New(1, nil)
		if err := s.CreateItem(ctx, it); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		_, err := s.Pool().Exec(ctx,
			fmt.Sprintf(`UPDATE items_%d SET lease_owner = 'x' WHERE id = $1`, seq.Load()),
			it.ID.String())
		if err == nil {
			t.Fatal("expected check constraint violation for owner on a Ready row")
		}
	})

	t.Run("ManyConcurrentClaimers", func(t *testing.T) {
		s := setupTestStore(t, connStr, &seq)
		ctx := context.Background()

		const total = 50
		for range total {
			if err := s.CreateItem(ctx, item.New(1, nil)); err != nil {
				t.Fatalf("CreateItem: %v", err)
			}
		}

		type result struct {
			items []*item.Item
			err   error
		}
		out := make(chan result, 10)
		for w := range 10 {
			go func(w int) {
				var claimed []*item.Item
				for {
					got, err := s.ClaimItems(ctx, fmt.Sprintf("w%d", w), 1, 3)
					if err != nil {
						out <- result{err: err}
						return
					}
					if len(got) == 0 {
						out <- result{items: claimed}
						return
					}
					claimed = append(claimed, got...)
				}
			}(w)
		}

		seen := make(map[string]bool)
		for range 10 {
			r := <-out
			if r.err != nil {
				t.Fatalf("claim: %v", r.err)
			}
			for _, it := range r.items {
				if seen[it.ID.String()] {
					t.Fatalf("item %s claimed twice", it.ID)
				}
				seen[it.ID.String()] = true
			}
		}
		if len(seen) != total {
			t.Fatalf("claimed %d items, want %d", len(seen), total)
		}
	})
}
