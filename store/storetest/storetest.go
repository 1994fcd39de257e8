// Package storetest is a conformance suite run against every store.Store
// backend. Backends call Run from their own tests with a factory returning
// an empty, migrated store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store"
)

// Factory returns an empty, migrated store. It is called once per subtest;
// backends sharing a server should isolate subtests by table or prefix.
type Factory func(t *testing.T) store.Store

// Run executes the full suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"Lifecycle", testLifecycle},
		{"CreateAndGet", testCreateAndGet},
		{"DeleteItem", testDeleteItem},
		{"ListAndCount", testListAndCount},
		{"ClaimLeasesReadyItems", testClaimLeasesReadyItems},
		{"ClaimOldestFirst", testClaimOldestFirst},
		{"ClaimSkipsIneligible", testClaimSkipsIneligible},
		{"ClaimRejectsBadArguments", testClaimRejectsBadArguments},
		{"ConcurrentClaimsAreDisjoint", testConcurrentClaimsAreDisjoint},
		{"ReclaimStaleAndFailed", testReclaimStaleAndFailed},
		{"ReclaimFutureCutoffLeasesOnce", testReclaimFutureCutoffLeasesOnce},
		{"CompleteOutcomes", testCompleteOutcomes},
		{"CompleteSkipsForeignLeases", testCompleteSkipsForeignLeases},
		{"CompleteIsIdempotent", testCompleteIsIdempotent},
		{"PoisonAndRequeue", testPoisonAndRequeue},
		{"Steps", testSteps},
		{"PipelineScenario", testPipelineScenario},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// base is an hour in the past so that seeded items are always older than
// anything the store stamps with its own clock.
var base = time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

func seed(t *testing.T, s store.Store, stepID step.ID, age time.Duration, mutate func(*item.Item)) *item.Item {
	t.Helper()
	it := item.New(stepID, []byte(`{"n":1}`))
	it.CreatedAt = base.Add(-age)
	it.UpdatedAt = base.Add(-age)
	if mutate != nil {
		mutate(it)
	}
	if err := s.CreateItem(context.Background(), it); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return it
}

func mustGet(t *testing.T, s store.Store, itemID id.ItemID) *item.Item {
	t.Helper()
	got, err := s.GetItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("GetItem(%s): %v", itemID, err)
	}
	return got
}

func ids(items []*item.Item) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it.ID.String()] = true
	}
	return out
}

func processing(owner string, attempt int) func(*item.Item) {
	return func(it *item.Item) {
		it.Status = item.StatusProcessing
		it.LeaseOwner = owner
		it.Attempt = attempt
	}
}

func failed(reason string, attempt int) func(*item.Item) {
	return func(it *item.Item) {
		it.Status = item.StatusError
		it.Error = reason
		it.Attempt = attempt
	}
}

// ──────────────────────────────────────────────────
// Lifecycle & CRUD
// ──────────────────────────────────────────────────

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	it := seed(t, s, 1, 0, nil)

	got := mustGet(t, s, it.ID)
	if got.ID != it.ID || got.Status != item.StatusReady || got.StepID != 1 || got.Attempt != 0 {
		t.Fatalf("got %+v", got)
	}
	if got.LeaseOwner != "" || got.Error != "" {
		t.Fatalf("fresh item has owner %q error %q", got.LeaseOwner, got.Error)
	}
	if string(got.Payload) != `{"n":1}` {
		t.Fatalf("payload = %q", got.Payload)
	}

	if err := s.CreateItem(ctx, it); !errors.Is(err, conveyor.ErrItemAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrItemAlreadyExists", err)
	}
	if _, err := s.GetItem(ctx, id.NewItemID()); !errors.Is(err, conveyor.ErrItemNotFound) {
		t.Fatalf("missing get: got %v, want ErrItemNotFound", err)
	}
}

func testDeleteItem(t *testing.T, s store.Store) {
	ctx := context.Background()
	it := seed(t, s, 1, 0, nil)

	if err := s.DeleteItem(ctx, it.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := s.GetItem(ctx, it.ID); !errors.Is(err, conveyor.ErrItemNotFound) {
		t.Fatalf("get after delete: got %v", err)
	}
	if err := s.DeleteItem(ctx, it.ID); !errors.Is(err, conveyor.ErrItemNotFound) {
		t.Fatalf("second delete: got %v", err)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := seed(t, s, 1, 3*time.Second, nil)
	b := seed(t, s, 1, 2*time.Second, nil)
	seed(t, s, 2, time.Second, nil)
	seed(t, s, 1, 0, func(it *item.Item) { it.Status = item.StatusDraft })

	stepOne := step.ID(1)

	tests := []struct {
		name string
		opts item.ListOpts
		want int
	}{
		{"all", item.ListOpts{}, 4},
		{"by step", item.ListOpts{Step: &stepOne}, 3},
		{"by status", item.ListOpts{Status: item.StatusDraft}, 1},
		{"by step and status", item.ListOpts{Step: &stepOne, Status: item.StatusReady}, 2},
		{"limit", item.ListOpts{Limit: 2}, 2},
		{"offset", item.ListOpts{Offset: 3}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListItems(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListItems: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d items, want %d", len(got), tt.want)
			}
			n, err := s.CountItems(ctx, item.CountOpts{Step: tt.opts.Step, Status: tt.opts.Status})
			if err != nil {
				t.Fatalf("CountItems: %v", err)
			}
			if tt.opts.Limit == 0 && tt.opts.Offset == 0 && n != int64(tt.want) {
				t.Fatalf("count = %d, want %d", n, tt.want)
			}
		})
	}

	first, err := s.ListItems(ctx, item.ListOpts{Step: &stepOne, Limit: 2})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if first[0].ID != a.ID || first[1].ID != b.ID {
		t.Fatalf("list not ordered by creation: %s, %s", first[0].ID, first[1].ID)
	}
}

// ──────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────

func testClaimLeasesReadyItems(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 4 {
		seed(t, s, 1, time.Duration(i)*time.Second, nil)
	}

	got, err := s.ClaimItems(ctx, "worker-a", 1, 3)
	if err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("claimed %d items, want 3", len(got))
	}
	for _, it := range got {
		if it.LeaseOwner != "worker-a" || it.Status != item.StatusProcessing || it.Attempt != 1 {
			t.Fatalf("returned item not leased: %+v", it)
		}
		stored := mustGet(t, s, it.ID)
		if stored.LeaseOwner != "worker-a" || stored.Status != item.StatusProcessing || stored.Attempt != 1 {
			t.Fatalf("stored item not leased: %+v", stored)
		}
		if !stored.UpdatedAt.After(base) {
			t.Fatalf("UpdatedAt not refreshed: %v", stored.UpdatedAt)
		}
	}

	rest, err := s.ClaimItems(ctx, "worker-b", 1, 10)
	if err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("second claim got %d items, want 1", len(rest))
	}

	none, err := s.ClaimItems(ctx, "worker-c", 1, 10)
	if err != nil {
		t.Fatalf("ClaimItems on drained step: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("drained step returned %d items", len(none))
	}
}

func testClaimOldestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	newer := seed(t, s, 1, time.Second, nil)
	oldest := seed(t, s, 1, 3*time.Second, nil)
	middle := seed(t, s, 1, 2*time.Second, nil)

	got, err := s.ClaimItems(ctx, "w", 1, 2)
	if err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	claimed := ids(got)
	if len(got) != 2 || !claimed[oldest.ID.String()] || !claimed[middle.ID.String()] {
		t.Fatalf("claimed %v, want oldest two", claimed)
	}
	if claimed[newer.ID.String()] {
		t.Fatal("newest item claimed before older ones")
	}
}

func testClaimSkipsIneligible(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, 2, 0, nil)
	seed(t, s, 1, 0, func(it *item.Item) { it.Status = item.StatusDraft })
	seed(t, s, 1, 0, processing("other", 1))
	seed(t, s, 1, 0, failed("boom", 1))
	seed(t, s, 1, 0, func(it *item.Item) { it.Status = item.StatusCompleted })

	got, err := s.ClaimItems(ctx, "w", 1, 10)
	if err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("claimed %d ineligible items", len(got))
	}
}

func testClaimRejectsBadArguments(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.ClaimItems(ctx, "", 1, 1); !errors.Is(err, conveyor.ErrInvalidOwner) {
		t.Fatalf("empty owner: got %v", err)
	}
	if _, err := s.ClaimItems(ctx, "w", 1, 0); !errors.Is(err, conveyor.ErrInvalidLimit) {
		t.Fatalf("zero limit: got %v", err)
	}
	if _, err := s.ReclaimItems(ctx, "w", 1, 1, time.Now(), 0); !errors.Is(err, conveyor.ErrInvalidMaxAttempts) {
		t.Fatalf("zero max attempts: got %v", err)
	}
	if _, err := s.CompleteItems(ctx, "", 1, nil, nil); !errors.Is(err, conveyor.ErrInvalidOwner) {
		t.Fatalf("complete with empty owner: got %v", err)
	}
}

func testConcurrentClaimsAreDisjoint(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 5 {
		seed(t, s, 1, time.Duration(i)*time.Second, nil)
	}

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([][]*item.Item, 2)
		errs    = make([]error, 2)
	)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = s.ClaimItems(ctx, fmt.Sprintf("worker-%d", i), 1, 3)
		}(i)
	}
	close(start)
	wg.Wait()

	seen := make(map[string]string)
	for i, got := range results {
		if errs[i] != nil {
			t.Fatalf("worker-%d: %v", i, errs[i])
		}
		if len(got) > 3 {
			t.Fatalf("worker-%d claimed %d items, limit 3", i, len(got))
		}
		for _, it := range got {
			owner := fmt.Sprintf("worker-%d", i)
			if prev, dup := seen[it.ID.String()]; dup {
				t.Fatalf("item %s claimed by %s and %s", it.ID, prev, owner)
			}
			seen[it.ID.String()] = owner
		}
	}
	if len(seen) != 5 {
		t.Fatalf("union of claims = %d items, want 5", len(seen))
	}
}

// ──────────────────────────────────────────────────
// Reclaim
// ──────────────────────────────────────────────────

func testReclaimStaleAndFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	const maxAttempts = 3
	staleBefore := base.Add(time.Minute)

	stale := seed(t, s, 1, time.Minute, processing("crashed", 1))
	exhausted := seed(t, s, 1, time.Minute, processing("crashed", maxAttempts))
	errored := seed(t, s, 1, 0, failed("boom", 2))
	poison := seed(t, s, 1, 0, failed("boom", maxAttempts))
	fresh := seed(t, s, 1, -2*time.Hour, processing("alive", 1)) // updated in the future
	otherStep := seed(t, s, 2, time.Minute, processing("crashed", 1))
	seed(t, s, 1, time.Minute, nil) // Ready items are claimed, not reclaimed

	got, err := s.ReclaimItems(ctx, "rescuer", 1, 10, staleBefore, maxAttempts)
	if err != nil {
		t.Fatalf("ReclaimItems: %v", err)
	}
	reclaimed := ids(got)
	if len(got) != 2 || !reclaimed[stale.ID.String()] || !reclaimed[errored.ID.String()] {
		t.Fatalf("reclaimed %v, want stale and errored", reclaimed)
	}
	for _, excluded := range []*item.Item{exhausted, poison, fresh, otherStep} {
		if reclaimed[excluded.ID.String()] {
			t.Fatalf("item %s must not be reclaimed", excluded.ID)
		}
	}

	for _, it := range got {
		stored := mustGet(t, s, it.ID)
		if stored.LeaseOwner != "rescuer" || stored.Status != item.StatusProcessing || stored.Error != "" {
			t.Fatalf("reclaimed item not leased: %+v", stored)
		}
	}
	if a := mustGet(t, s, stale.ID).Attempt; a != 2 {
		t.Fatalf("stale attempt = %d, want 2", a)
	}
	if a := mustGet(t, s, errored.ID).Attempt; a != 3 {
		t.Fatalf("errored attempt = %d, want 3", a)
	}

	again, err := s.ReclaimItems(ctx, "rescuer", 1, 10, staleBefore, maxAttempts)
	if err != nil {
		t.Fatalf("ReclaimItems: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("freshly leased items reclaimed again: %v", ids(again))
	}
}

// A cutoff ahead of the store clock makes items leased during the call
// stale again; each must still come back once with one extra attempt.
func testReclaimFutureCutoffLeasesOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	staleBefore := base.Add(3 * time.Hour)

	errored := seed(t, s, 1, 0, failed("boom", 1))
	stale := seed(t, s, 1, time.Minute, processing("crashed", 1))
	boundary := seed(t, s, 1, -3*time.Hour, processing("alive", 1)) // updated exactly at the cutoff

	got, err := s.ReclaimItems(ctx, "rescuer", 1, 5, staleBefore, 5)
	if err != nil {
		t.Fatalf("ReclaimItems: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("reclaimed %d items, want 2: %v", len(got), ids(got))
	}
	reclaimed := ids(got)
	if len(reclaimed) != len(got) {
		t.Fatalf("duplicate items in one reclaim: %v", got)
	}
	if !reclaimed[errored.ID.String()] || !reclaimed[stale.ID.String()] {
		t.Fatalf("reclaimed %v, want errored and stale", reclaimed)
	}

	for _, it := range got {
		if it.Attempt != 2 {
			t.Fatalf("returned item %s attempt = %d, want 2", it.ID, it.Attempt)
		}
		if a := mustGet(t, s, it.ID).Attempt; a != 2 {
			t.Fatalf("stored item %s attempt = %d, want 2", it.ID, a)
		}
	}

	kept := mustGet(t, s, boundary.ID)
	if kept.LeaseOwner != "alive" || kept.Attempt != 1 {
		t.Fatalf("item updated at the cutoff was reclaimed: %+v", kept)
	}
}

// ──────────────────────────────────────────────────
// Complete
// ──────────────────────────────────────────────────

func testCompleteOutcomes(t *testing.T, s store.Store) {
	ctx := context.Background()
	toFail := seed(t, s, 1, 3*time.Second, nil)
	toFinish := seed(t, s, 1, 2*time.Second, nil)
	toAdvance := seed(t, s, 1, time.Second, nil)

	claimed, err := s.ClaimItems(ctx, "w", 1, 3)
	if err != nil || len(claimed) != 3 {
		t.Fatalf("ClaimItems = %d items, %v", len(claimed), err)
	}

	n, err := s.CompleteItems(ctx, "w", 1, nil, []item.Completion{
		item.Fail(toFail.ID, "bad input"),
		item.Succeed(toFinish.ID),
	})
	if err != nil || n != 2 {
		t.Fatalf("CompleteItems terminal = %d, %v", n, err)
	}
	next := step.ID(2)
	n, err = s.CompleteItems(ctx, "w", 1, &next, []item.Completion{item.Succeed(toAdvance.ID)})
	if err != nil || n != 1 {
		t.Fatalf("CompleteItems advance = %d, %v", n, err)
	}

	tests := []struct {
		name       string
		id         id.ItemID
		wantStatus item.Status
		wantStep   step.ID
		wantErr    string
	}{
		{"failed", toFail.ID, item.StatusError, 1, "bad input"},
		{"terminal success", toFinish.ID, item.StatusCompleted, 1, ""},
		{"advanced", toAdvance.ID, item.StatusReady, 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustGet(t, s, tt.id)
			if got.Status != tt.wantStatus || got.StepID != tt.wantStep || got.Error != tt.wantErr {
				t.Fatalf("got status=%v step=%v error=%q", got.Status, got.StepID, got.Error)
			}
			if got.LeaseOwner != "" {
				t.Fatalf("lease owner %q not cleared", got.LeaseOwner)
			}
			if got.Attempt != 1 {
				t.Fatalf("attempt = %d, want 1", got.Attempt)
			}
		})
	}
}

func testCompleteSkipsForeignLeases(t *testing.T, s store.Store) {
	ctx := context.Background()
	it := seed(t, s, 1, 0, nil)
	if _, err := s.ClaimItems(ctx, "owner", 1, 1); err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}

	tests := []struct {
		name    string
		owner   string
		current step.ID
		id      id.ItemID
	}{
		{"other owner", "intruder", 1, it.ID},
		{"other step", "owner", 2, it.ID},
		{"unknown item", "owner", 1, id.NewItemID()},
	}
	for _, tt := range tests {
		n, err := s.CompleteItems(ctx, tt.owner, tt.current, nil, []item.Completion{item.Succeed(tt.id)})
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if n != 0 {
			t.Fatalf("%s: applied %d, want 0", tt.name, n)
		}
	}

	if got := mustGet(t, s, it.ID); got.Status != item.StatusProcessing || got.LeaseOwner != "owner" {
		t.Fatalf("foreign completion changed item: %+v", got)
	}
}

func testCompleteIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	it := seed(t, s, 1, 0, nil)
	if _, err := s.ClaimItems(ctx, "w", 1, 1); err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}

	results := []item.Completion{item.Succeed(it.ID)}
	if n, err := s.CompleteItems(ctx, "w", 1, nil, results); err != nil || n != 1 {
		t.Fatalf("first complete = %d, %v", n, err)
	}
	if n, err := s.CompleteItems(ctx, "w", 1, nil, results); err != nil || n != 0 {
		t.Fatalf("second complete = %d, %v; want 0, nil", n, err)
	}
	if n, err := s.CompleteItems(ctx, "w", 1, nil, nil); err != nil || n != 0 {
		t.Fatalf("empty complete = %d, %v", n, err)
	}
	if got := mustGet(t, s, it.ID); got.Status != item.StatusCompleted {
		t.Fatalf("status = %v, want completed", got.Status)
	}
}

// ──────────────────────────────────────────────────
// Poison & requeue
// ──────────────────────────────────────────────────

func testPoisonAndRequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	const maxAttempts = 2

	poison := seed(t, s, 1, 0, failed("boom", maxAttempts))
	seed(t, s, 1, 0, failed("boom", 1))
	seed(t, s, 2, 0, failed("boom", maxAttempts))
	draft := seed(t, s, 1, 0, func(it *item.Item) { it.Status = item.StatusDraft })
	ready := seed(t, s, 1, 0, nil)

	got, err := s.ListPoison(ctx, 1, maxAttempts, 10)
	if err != nil {
		t.Fatalf("ListPoison: %v", err)
	}
	if len(got) != 1 || got[0].ID != poison.ID {
		t.Fatalf("poison = %v, want only %s", ids(got), poison.ID)
	}

	if err := s.RequeueItem(ctx, poison.ID); err != nil {
		t.Fatalf("RequeueItem(poison): %v", err)
	}
	requeued := mustGet(t, s, poison.ID)
	if requeued.Status != item.StatusReady || requeued.Error != "" || requeued.Attempt != maxAttempts {
		t.Fatalf("requeued item = %+v", requeued)
	}

	if err := s.RequeueItem(ctx, draft.ID); err != nil {
		t.Fatalf("RequeueItem(draft): %v", err)
	}
	if got := mustGet(t, s, draft.ID); got.Status != item.StatusReady {
		t.Fatalf("released draft status = %v", got.Status)
	}

	if err := s.RequeueItem(ctx, ready.ID); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Fatalf("requeue ready item: got %v, want ErrInvalidState", err)
	}
	if err := s.RequeueItem(ctx, id.NewItemID()); !errors.Is(err, conveyor.ErrItemNotFound) {
		t.Fatalf("requeue missing item: got %v, want ErrItemNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Steps
// ──────────────────────────────────────────────────

func testSteps(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, st := range []step.Step{{ID: 3, Name: "persist"}, {ID: 1, Name: "parse"}, {ID: 2, Name: "enrich"}} {
		if err := s.SaveStep(ctx, st); err != nil {
			t.Fatalf("SaveStep(%v): %v", st, err)
		}
	}

	if err := s.SaveStep(ctx, step.Step{ID: 2, Name: "enrich-v2"}); err != nil {
		t.Fatalf("SaveStep replace: %v", err)
	}
	if err := s.SaveStep(ctx, step.Step{ID: 9, Name: "parse"}); !errors.Is(err, conveyor.ErrStepAlreadyExists) {
		t.Fatalf("duplicate name: got %v, want ErrStepAlreadyExists", err)
	}

	got, err := s.GetStep(ctx, 2)
	if err != nil || got.Name != "enrich-v2" {
		t.Fatalf("GetStep = %v, %v", got, err)
	}
	if _, err := s.GetStep(ctx, 42); !errors.Is(err, conveyor.ErrStepNotFound) {
		t.Fatalf("missing step: got %v", err)
	}

	all, err := s.ListSteps(ctx)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(all) != 3 || all[0].ID != 1 || all[1].ID != 2 || all[2].ID != 3 {
		t.Fatalf("ListSteps = %v, want ordered by id", all)
	}
}

// ──────────────────────────────────────────────────
// End to end
// ──────────────────────────────────────────────────

func testPipelineScenario(t *testing.T, s store.Store) {
	ctx := context.Background()
	step1, step2, step3 := step.ID(1), step.ID(2), step.ID(3)

	it := seed(t, s, step1, 0, nil)

	// Worker A claims at step 1 and advances to step 2.
	a, err := s.ClaimItems(ctx, "A", step1, 1)
	if err != nil || len(a) != 1 {
		t.Fatalf("A claim = %d items, %v", len(a), err)
	}
	if a[0].Status != item.StatusProcessing || a[0].LeaseOwner != "A" || a[0].Attempt != 1 {
		t.Fatalf("A lease = %+v", a[0])
	}
	if n, err := s.CompleteItems(ctx, "A", step1, &step2, []item.Completion{item.Succeed(it.ID)}); err != nil || n != 1 {
		t.Fatalf("A complete = %d, %v", n, err)
	}
	if got := mustGet(t, s, it.ID); got.Status != item.StatusReady || got.StepID != step2 {
		t.Fatalf("after A: %+v", got)
	}

	// Worker B claims at step 2 and fails.
	b, err := s.ClaimItems(ctx, "B", step2, 1)
	if err != nil || len(b) != 1 {
		t.Fatalf("B claim = %d items, %v", len(b), err)
	}
	if n, err := s.CompleteItems(ctx, "B", step2, &step3, []item.Completion{item.Fail(it.ID, "downstream unavailable")}); err != nil || n != 1 {
		t.Fatalf("B complete = %d, %v", n, err)
	}
	got := mustGet(t, s, it.ID)
	if got.Status != item.StatusError || got.StepID != step2 || got.Attempt != 2 || got.LeaseOwner != "" {
		t.Fatalf("after B: %+v", got)
	}

	// Worker C reclaims the failed item.
	c, err := s.ReclaimItems(ctx, "C", step2, 1, time.Now().UTC(), 5)
	if err != nil || len(c) != 1 {
		t.Fatalf("C reclaim = %d items, %v", len(c), err)
	}
	if c[0].ID != it.ID || c[0].Attempt != 3 || c[0].LeaseOwner != "C" {
		t.Fatalf("C lease = %+v", c[0])
	}
}
