//go:build integration

package tables_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/store/storetest"
	"github.com/xraph/conveyor/store/tables"
)

// Well-known Azurite development account.
const (
	azuriteAccount = "devstoreaccount1"
	azuriteKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

// setupAzurite starts the Azurite table service and returns a connection
// string for it.
func setupAzurite(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mcr.microsoft.com/azure-storage/azurite:latest",
			Cmd:          []string{"azurite-table", "--tableHost", "0.0.0.0", "--skipApiVersionCheck"},
			ExposedPorts: []string{"10002/tcp"},
			WaitingFor:   wait.ForListeningPort("10002/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start azurite container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "10002/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	return fmt.Sprintf(
		"DefaultEndpointsProtocol=http;AccountName=%s;AccountKey=%s;TableEndpoint=http://%s:%s/%s;",
		azuriteAccount, azuriteKey, host, port.Port(), azuriteAccount,
	)
}

func newStore(t *testing.T, conn string, seq *atomic.Int64, opts ...tables.Option) *tables.Store {
	t.Helper()

	n := seq.Add(1)
	opts = append([]tables.Option{
		tables.WithItemTable(fmt.Sprintf("items%d", n)),
		tables.WithStepTable(fmt.Sprintf("steps%d", n)),
	}, opts...)
	s, err := tables.NewFromConnectionString(conn, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if migErr := s.Migrate(context.Background()); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return s
}

func TestTables(t *testing.T) {
	conn := setupAzurite(t)
	var seq atomic.Int64

	t.Run("Conformance", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) store.Store { return newStore(t, conn, &seq) })
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t, conn, &seq)
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		s := newStore(t, conn, &seq)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("second Migrate: %v", err)
		}
	})

	t.Run("CompleteConflictExhaustsRetries", func(t *testing.T) {
		testCompleteConflict(t, conn, &seq)
	})

	t.Run("InvalidTableName", func(t *testing.T) {
		for _, name := range []string{"conveyor_items", "1items", "ab"} {
			_, err := tables.NewFromConnectionString(conn, tables.WithItemTable(name))
			if !errors.Is(err, conveyor.ErrInvalidTable) {
				t.Fatalf("table %q: expected ErrInvalidTable, got %v", name, err)
			}
		}
	})
}

// testCompleteConflict rewrites the second item from the store clock, so
// every replace of it fails its ETag check until the retry budget runs out.
func testCompleteConflict(t *testing.T, conn string, seq *atomic.Int64) {
	ctx := context.Background()
	svc, err := aztables.NewServiceClientFromConnectionString(conn, nil)
	if err != nil {
		t.Fatalf("service client: %v", err)
	}
	table := fmt.Sprintf("items%d", seq.Load()+1)
	raw := svc.NewClient(table)

	var contended atomic.Value
	clock := func() time.Time {
		if rowKey, ok := contended.Load().(string); ok {
			body := fmt.Sprintf(`{"PartitionKey":"item","RowKey":%q,"Touched":%d}`, rowKey, time.Now().UnixNano())
			etag := azcore.ETagAny
			if _, err := raw.UpdateEntity(ctx, []byte(body), &aztables.UpdateEntityOptions{
				IfMatch:    &etag,
				UpdateMode: aztables.UpdateModeMerge,
			}); err != nil {
				t.Errorf("touch %s: %v", rowKey, err)
			}
		}
		return time.Now().UTC()
	}
	s := newStore(t, conn, seq,
		tables.WithClock(clock),
		tables.WithRetry(backoff.NewConstant(time.Millisecond), 3),
	)

	first := item.New(1, nil)
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	first.UpdatedAt = first.CreatedAt
	second := item.New(1, nil)
	second.CreatedAt = time.Now().UTC()
	second.UpdatedAt = second.CreatedAt
	for _, it := range []*item.Item{first, second} {
		if err := s.CreateItem(ctx, it); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
	}
	if got, err := s.ClaimItems(ctx, "w", 1, 2); err != nil || len(got) != 2 {
		t.Fatalf("ClaimItems = %d items, %v", len(got), err)
	}

	contended.Store(second.ID.String())
	applied, err := s.CompleteItems(ctx, "w", 1, nil, []item.Completion{
		item.Succeed(first.ID),
		item.Succeed(second.ID),
	})
	if !errors.Is(err, conveyor.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}

	done, err := s.GetItem(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if done.Status != item.StatusCompleted {
		t.Fatalf("first status = %s, want Completed", done.Status)
	}
	stuck, err := s.GetItem(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if stuck.Status != item.StatusProcessing || stuck.LeaseOwner != "w" {
		t.Fatalf("second must stay leased, got %+v", stuck)
	}
}
