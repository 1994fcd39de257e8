package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/store/storetest"
)

var _ store.Store = (*Store)(nil)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestPingAfterClose(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, conveyor.ErrStoreClosed) {
		t.Fatalf("Ping after close: got %v, want ErrStoreClosed", err)
	}
}

// ──────────────────────────────────────────────────
// Clock tests
// ──────────────────────────────────────────────────

func TestClaimUsesClock(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	it := item.New(1, nil)
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	got, err := s.ClaimItems(ctx, "w", 1, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("ClaimItems = %d, %v", len(got), err)
	}
	if !got[0].UpdatedAt.Equal(fixed) {
		t.Fatalf("UpdatedAt = %v, want %v", got[0].UpdatedAt, fixed)
	}
	if got[0].CreatedAt.Equal(fixed) {
		t.Fatal("claim must not touch CreatedAt")
	}
}

func TestReturnedItemsAreCopies(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	it := item.New(1, []byte("payload"))
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	it.Payload[0] = 'X'

	got, err := s.GetItem(ctx, it.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if string(got.Payload) != "payload" {
		t.Fatalf("stored payload mutated through caller: %q", got.Payload)
	}

	got.Status = item.StatusCompleted
	again, _ := s.GetItem(ctx, it.ID)
	if again.Status != item.StatusReady {
		t.Fatalf("stored status mutated through returned item: %v", again.Status)
	}
}

func TestCreateRejectsInvalidItem(t *testing.T) {
	t.Parallel()
	s := New()

	it := item.New(1, nil)
	it.LeaseOwner = "w" // owner on a Ready item

	if err := s.CreateItem(context.Background(), it); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}
