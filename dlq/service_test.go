package dlq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store/memory"
)

const maxAttempts = 2

// failTimes claims and fails an item n times, reclaiming after the first.
func failTimes(t *testing.T, s *memory.Store, stepID step.ID, n int) id.ItemID {
	t.Helper()
	ctx := context.Background()

	it := item.New(stepID, []byte(`{"to":"alice@example.com"}`))
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := s.ClaimItems(ctx, "w1", stepID, 100); err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	for i := range n {
		if i > 0 {
			if _, err := s.ReclaimItems(ctx, "w1", stepID, 100, it.CreatedAt, maxAttempts); err != nil {
				t.Fatalf("ReclaimItems: %v", err)
			}
		}
		if _, err := s.CompleteItems(ctx, "w1", stepID, nil, []item.Completion{item.Fail(it.ID, "smtp timeout")}); err != nil {
			t.Fatalf("CompleteItems: %v", err)
		}
	}
	return it.ID
}

func TestListOnlyPoison(t *testing.T) {
	t.Parallel()
	s := memory.New()
	svc := dlq.NewService(s, maxAttempts)
	ctx := context.Background()

	poisoned := failTimes(t, s, 1, 2)
	failTimes(t, s, 1, 1) // still retryable
	failTimes(t, s, 2, 2) // other step

	entries, err := svc.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != poisoned {
		t.Fatalf("expected only %s, got %d entries", poisoned, len(entries))
	}
	if entries[0].Error != "smtp timeout" || entries[0].Attempt != maxAttempts {
		t.Fatalf("entry error %q attempt %d", entries[0].Error, entries[0].Attempt)
	}

	n, err := svc.Count(ctx, 1)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestReplay(t *testing.T) {
	t.Parallel()
	s := memory.New()
	svc := dlq.NewService(s, maxAttempts)
	ctx := context.Background()

	itemID := failTimes(t, s, 1, 2)
	if err := svc.Replay(ctx, itemID); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	got, err := s.GetItem(ctx, itemID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Status != item.StatusReady || got.Error != "" {
		t.Fatalf("replayed item: status %s error %q", got.Status, got.Error)
	}
	if got.Attempt != maxAttempts {
		t.Fatalf("replay must keep attempts, got %d", got.Attempt)
	}

	if err := svc.Replay(ctx, itemID); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Fatalf("replaying a ready item: expected ErrInvalidState, got %v", err)
	}
	if err := svc.Replay(ctx, id.NewItemID()); !errors.Is(err, conveyor.ErrItemNotFound) {
		t.Fatalf("replaying a missing item: expected ErrItemNotFound, got %v", err)
	}
}

func TestReplayAllAndPurge(t *testing.T) {
	t.Parallel()
	s := memory.New()
	svc := dlq.NewService(s, maxAttempts)
	ctx := context.Background()

	for range 3 {
		failTimes(t, s, 1, 2)
	}
	for range 2 {
		failTimes(t, s, 2, 2)
	}

	n, err := svc.ReplayAll(ctx, 1)
	if err != nil {
		t.Fatalf("ReplayAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("ReplayAll = %d, want 3", n)
	}
	ready, err := s.CountItems(ctx, item.CountOpts{Step: step.ID(1).Ptr(), Status: item.StatusReady})
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if ready != 3 {
		t.Fatalf("%d ready items at step 1, want 3", ready)
	}

	n, err = svc.Purge(ctx, 2)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("Purge = %d, want 2", n)
	}
	left, err := s.CountItems(ctx, item.CountOpts{Step: step.ID(2).Ptr()})
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if left != 0 {
		t.Fatalf("%d items left at step 2", left)
	}
}

func TestInvalidMaxAttempts(t *testing.T) {
	t.Parallel()
	svc := dlq.NewService(memory.New(), 0)
	if _, err := svc.List(context.Background(), 1, 10); !errors.Is(err, conveyor.ErrInvalidMaxAttempts) {
		t.Fatalf("expected ErrInvalidMaxAttempts, got %v", err)
	}
}
