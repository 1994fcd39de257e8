package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/queue"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store/memory"
)

type invoice struct {
	Number string `json:"number" msgpack:"number"`
	Cents  int64  `json:"cents"  msgpack:"cents"`
}

const (
	stepParse   step.ID = 1
	stepEnrich  step.ID = 2
	stepPersist step.ID = 3
)

var pipeline = step.MustCatalog(
	step.Step{ID: stepParse, Name: "parse"},
	step.Step{ID: stepEnrich, Name: "enrich"},
	step.Step{ID: stepPersist, Name: "persist"},
)

func newQueue(t *testing.T) (*queue.Queue[invoice], *memory.Store) {
	t.Helper()
	s := memory.New()
	return queue.New(s, pipeline, queue.JSONCodec[invoice]{}), s
}

func TestEnqueueDefaultsToFirstStep(t *testing.T) {
	t.Parallel()
	q, _ := newQueue(t)
	ctx := context.Background()

	itemID, err := q.Enqueue(ctx, invoice{Number: "INV-1", Cents: 1200})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Get(ctx, itemID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Item.StepID != stepParse || got.Item.Status != item.StatusReady {
		t.Fatalf("item at %d/%s, want parse/ready", got.Item.StepID, got.Item.Status)
	}
	if got.Value.Number != "INV-1" || got.Value.Cents != 1200 {
		t.Fatalf("decoded %+v", got.Value)
	}
}

func TestEnqueueOptions(t *testing.T) {
	t.Parallel()
	q, _ := newQueue(t)
	ctx := context.Background()

	itemID, err := q.Enqueue(ctx, invoice{Number: "INV-2"}, queue.AtStep(stepEnrich), queue.AsDraft())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := q.Get(ctx, itemID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Item.StepID != stepEnrich || got.Item.Status != item.StatusDraft {
		t.Fatalf("item at %d/%s, want enrich/draft", got.Item.StepID, got.Item.Status)
	}

	if _, err := q.Enqueue(ctx, invoice{}, queue.AtStep(99)); !errors.Is(err, conveyor.ErrStepNotFound) {
		t.Fatalf("unknown step: expected ErrStepNotFound, got %v", err)
	}
}

func TestCompleteAdvancesThroughCatalog(t *testing.T) {
	t.Parallel()
	q, _ := newQueue(t)
	ctx := context.Background()

	itemID, err := q.Enqueue(ctx, invoice{Number: "INV-3"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for _, st := range []step.ID{stepParse, stepEnrich, stepPersist} {
		leased, err := q.Claim(ctx, "w1", st, 10)
		if err != nil {
			t.Fatalf("Claim %d: %v", st, err)
		}
		if len(leased) != 1 || leased[0].Item.ID != itemID {
			t.Fatalf("Claim %d returned %d items", st, len(leased))
		}
		n, err := q.Complete(ctx, "w1", st, []item.Completion{item.Succeed(itemID)})
		if err != nil || n != 1 {
			t.Fatalf("Complete %d: n=%d err=%v", st, n, err)
		}
	}

	got, err := q.Get(ctx, itemID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Item.Status != item.StatusCompleted || got.Item.StepID != stepPersist {
		t.Fatalf("final state %s at %d, want completed at persist", got.Item.Status, got.Item.StepID)
	}
	if got.Item.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3 (one claim per step)", got.Item.Attempt)
	}
}

func TestClaimUnknownStep(t *testing.T) {
	t.Parallel()
	q, _ := newQueue(t)

	_, err := q.Claim(context.Background(), "w1", 42, 1)
	if !errors.Is(err, conveyor.ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
}

func TestUndecodablePayloadIsFailed(t *testing.T) {
	t.Parallel()
	q, s := newQueue(t)
	ctx := context.Background()

	bad := item.New(stepParse, []byte("{not json"))
	if err := s.CreateItem(ctx, bad); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	good, err := q.Enqueue(ctx, invoice{Number: "INV-4"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	leased, err := q.Claim(ctx, "w1", stepParse, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(leased) != 1 || leased[0].Item.ID != good {
		t.Fatalf("expected only the decodable item, got %d", len(leased))
	}

	stored, err := s.GetItem(ctx, bad.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if stored.Status != item.StatusError || stored.LeaseOwner != "" || stored.Error == "" {
		t.Fatalf("undecodable item should be failed, got %s owner=%q err=%q",
			stored.Status, stored.LeaseOwner, stored.Error)
	}
}

// completeFails is a store whose CompleteItems always errors.
type completeFails struct {
	*memory.Store
}

func (completeFails) CompleteItems(context.Context, string, step.ID, *step.ID, []item.Completion) (int, error) {
	return 0, errors.New("store unavailable")
}

func TestUndecodableFailureKeepsGoodItems(t *testing.T) {
	t.Parallel()
	s := completeFails{memory.New()}
	q := queue.New(s, pipeline, queue.JSONCodec[invoice]{})
	ctx := context.Background()

	bad := item.New(stepParse, []byte("{not json"))
	if err := s.CreateItem(ctx, bad); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	good, err := q.Enqueue(ctx, invoice{Number: "INV-5"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	leased, err := q.Claim(ctx, "w1", stepParse, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(leased) != 1 || leased[0].Item.ID != good {
		t.Fatalf("expected the decodable item, got %d", len(leased))
	}

	stored, err := s.GetItem(ctx, bad.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if stored.Status != item.StatusProcessing || stored.LeaseOwner != "w1" {
		t.Fatalf("undecodable item should stay leased, got %s owner=%q", stored.Status, stored.LeaseOwner)
	}
}

func TestReclaimAndPoison(t *testing.T) {
	t.Parallel()
	q, _ := newQueue(t)
	ctx := context.Background()

	itemID, err := q.Enqueue(ctx, invoice{Number: "INV-5"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Claim(ctx, "w1", stepParse, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := q.Complete(ctx, "w1", stepParse, []item.Completion{item.Fail(itemID, "boom")}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	future := time.Now().Add(time.Hour)
	leased, err := q.Reclaim(ctx, "w2", stepParse, 10, future, 2)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if len(leased) != 1 || leased[0].Item.Attempt != 2 {
		t.Fatalf("expected one reclaimed item at attempt 2, got %+v", leased)
	}
	if _, err := q.Complete(ctx, "w2", stepParse, []item.Completion{item.Fail(itemID, "boom again")}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	leased, err = q.Reclaim(ctx, "w3", stepParse, 10, future, 2)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("item with no attempts left was reclaimed")
	}

	poison, err := q.Poison(ctx, stepParse, 2, 0)
	if err != nil {
		t.Fatalf("Poison: %v", err)
	}
	if len(poison) != 1 || poison[0].ID != itemID {
		t.Fatalf("expected the item in poison list, got %d", len(poison))
	}

	if err := q.Requeue(ctx, itemID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	leased, err = q.Claim(ctx, "w4", stepParse, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(leased) != 1 || leased[0].Item.Attempt != 3 {
		t.Fatalf("requeued item should be claimable with attempt 3, got %+v", leased)
	}
}

func TestTryVariants(t *testing.T) {
	t.Parallel()
	q, _ := newQueue(t)
	ctx := context.Background()

	enq := q.TryEnqueue(ctx, invoice{Number: "INV-6"})
	if !enq.IsSuccess() {
		t.Fatalf("TryEnqueue: %v", enq.Err())
	}

	claimed := q.TryClaim(ctx, "w1", stepParse, 5)
	if !claimed.IsSuccess() || len(claimed.Value()) != 1 {
		t.Fatalf("TryClaim: ok=%v n=%d err=%v", claimed.IsSuccess(), len(claimed.Value()), claimed.Err())
	}

	done := q.TryComplete(ctx, "w1", stepParse, []item.Completion{item.Succeed(enq.Value())})
	if n, err := done.Unwrap(); err != nil || n != 1 {
		t.Fatalf("TryComplete: n=%d err=%v", n, err)
	}

	bad := q.TryClaim(ctx, "", stepParse, 5)
	if bad.IsSuccess() || !errors.Is(bad.Err(), conveyor.ErrInvalidOwner) {
		t.Fatalf("TryClaim with empty owner: %v", bad.Err())
	}
	if bad.IsCancel() {
		t.Fatal("validation failure reported as cancellation")
	}

	empty := q.TryReclaim(ctx, "w1", stepParse, 5, time.Now(), 3)
	if !empty.IsSuccess() || len(empty.Value()) != 0 {
		t.Fatalf("TryReclaim on idle step: ok=%v n=%d", empty.IsSuccess(), len(empty.Value()))
	}
}

func TestResultCancel(t *testing.T) {
	t.Parallel()

	r := queue.Fail[int](context.DeadlineExceeded)
	if r.IsSuccess() || !r.IsCancel() {
		t.Fatalf("deadline should produce a cancelled result, got success=%v cancel=%v",
			r.IsSuccess(), r.IsCancel())
	}
	if s := queue.Success(7); !s.IsSuccess() || s.Value() != 7 || s.Err() != nil {
		t.Fatalf("Success(7) = %+v", s)
	}
}
