package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// Leased pairs a stored item with its decoded payload.
type Leased[T any] struct {
	Item  *item.Item
	Value T
}

// Option configures a Queue.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger for the queue.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOpts)

type enqueueOpts struct {
	step  *step.ID
	draft bool
}

// AtStep enqueues the item at stepID instead of the first step.
func AtStep(stepID step.ID) EnqueueOption {
	return func(o *enqueueOpts) { o.step = &stepID }
}

// AsDraft stores the item as a Draft, invisible to Claim until requeued.
func AsDraft() EnqueueOption {
	return func(o *enqueueOpts) { o.draft = true }
}

// Queue is a typed view of an item store for one pipeline.
type Queue[T any] struct {
	store   item.Store
	catalog *step.Catalog
	codec   Codec[T]
	logger  *slog.Logger
}

// New creates a Queue over s for the pipeline described by catalog.
func New[T any](s item.Store, catalog *step.Catalog, codec Codec[T], opts ...Option) *Queue[T] {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Queue[T]{store: s, catalog: catalog, codec: codec, logger: cfg.logger}
}

// Store returns the underlying item store.
func (q *Queue[T]) Store() item.Store { return q.store }

// Catalog returns the pipeline the queue advances items through.
func (q *Queue[T]) Catalog() *step.Catalog { return q.catalog }

// Enqueue encodes v and stores it as a new Ready item at the first step.
func (q *Queue[T]) Enqueue(ctx context.Context, v T, opts ...EnqueueOption) (id.ItemID, error) {
	var o enqueueOpts
	for _, opt := range opts {
		opt(&o)
	}

	var (
		st  step.Step
		err error
	)
	if o.step != nil {
		st, err = q.catalog.Lookup(*o.step)
	} else {
		st, err = q.catalog.First()
	}
	if err != nil {
		return id.Nil, fmt.Errorf("queue: enqueue: %w", err)
	}

	payload, err := q.codec.Encode(v)
	if err != nil {
		return id.Nil, fmt.Errorf("queue: encode payload: %w", err)
	}

	it := item.New(st.ID, payload)
	if o.draft {
		it = item.NewDraft(st.ID, payload)
	}
	if err := q.store.CreateItem(ctx, it); err != nil {
		return id.Nil, err
	}
	return it.ID, nil
}

// Get loads an item and decodes its payload.
func (q *Queue[T]) Get(ctx context.Context, itemID id.ItemID) (Leased[T], error) {
	it, err := q.store.GetItem(ctx, itemID)
	if err != nil {
		return Leased[T]{}, err
	}
	v, err := q.codec.Decode(it.Payload)
	if err != nil {
		return Leased[T]{}, fmt.Errorf("queue: decode item %s: %w", it.ID, err)
	}
	return Leased[T]{Item: it, Value: v}, nil
}

// Claim leases up to limit Ready items at stepID to owner.
func (q *Queue[T]) Claim(ctx context.Context, owner string, stepID step.ID, limit int) ([]Leased[T], error) {
	if _, err := q.catalog.Lookup(stepID); err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	items, err := q.store.ClaimItems(ctx, owner, stepID, limit)
	if err != nil {
		return nil, err
	}
	return q.decode(ctx, owner, stepID, items)
}

// Reclaim leases up to limit failed items and items whose lease went stale
// before staleBefore.
func (q *Queue[T]) Reclaim(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]Leased[T], error) {
	if _, err := q.catalog.Lookup(stepID); err != nil {
		return nil, fmt.Errorf("queue: reclaim: %w", err)
	}
	items, err := q.store.ReclaimItems(ctx, owner, stepID, limit, staleBefore, maxAttempts)
	if err != nil {
		return nil, err
	}
	return q.decode(ctx, owner, stepID, items)
}

// decode turns leased items into typed values. Items whose payload does not
// decode are failed on the spot. If that write fails they keep their lease
// until Reclaim picks them up; the decoded items are returned either way.
func (q *Queue[T]) decode(ctx context.Context, owner string, stepID step.ID, items []*item.Item) ([]Leased[T], error) {
	out := make([]Leased[T], 0, len(items))
	var broken []item.Completion
	for _, it := range items {
		v, err := q.codec.Decode(it.Payload)
		if err != nil {
			broken = append(broken, item.Fail(it.ID, "decode payload: "+err.Error()))
			continue
		}
		out = append(out, Leased[T]{Item: it, Value: v})
	}

	if len(broken) > 0 {
		q.logger.Warn("queue: failing undecodable items",
			"owner", owner, "step_id", int(stepID), "count", len(broken))
		if _, err := q.Complete(ctx, owner, stepID, broken); err != nil {
			q.logger.Error("queue: failing undecodable items",
				"owner", owner, "step_id", int(stepID), "error", err)
		}
	}
	return out, nil
}

// Complete applies completions for items owner leased at stepID. Succeeded
// items move to the catalog's next step, or to Completed after the last
// step.
func (q *Queue[T]) Complete(ctx context.Context, owner string, stepID step.ID, completions []item.Completion) (int, error) {
	next, err := q.catalog.Next(stepID)
	if err != nil {
		return 0, fmt.Errorf("queue: complete: %w", err)
	}
	var nextID *step.ID
	if next != nil {
		nextID = next.ID.Ptr()
	}
	return q.store.CompleteItems(ctx, owner, stepID, nextID, completions)
}

// Poison returns items at stepID that exhausted maxAttempts.
func (q *Queue[T]) Poison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	return q.store.ListPoison(ctx, stepID, maxAttempts, limit)
}

// Requeue moves an Error or Draft item back to Ready.
func (q *Queue[T]) Requeue(ctx context.Context, itemID id.ItemID) error {
	return q.store.RequeueItem(ctx, itemID)
}

// ── Try variants ─────────────────────────────────────────────────

// TryEnqueue is Enqueue returning a Result.
func (q *Queue[T]) TryEnqueue(ctx context.Context, v T, opts ...EnqueueOption) Result[id.ItemID] {
	return resultOf(q.Enqueue(ctx, v, opts...))
}

// TryClaim is Claim returning a Result. An empty value means no work is
// currently available.
func (q *Queue[T]) TryClaim(ctx context.Context, owner string, stepID step.ID, limit int) Result[[]Leased[T]] {
	return resultOf(q.Claim(ctx, owner, stepID, limit))
}

// TryReclaim is Reclaim returning a Result.
func (q *Queue[T]) TryReclaim(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) Result[[]Leased[T]] {
	return resultOf(q.Reclaim(ctx, owner, stepID, limit, staleBefore, maxAttempts))
}

// TryComplete is Complete returning a Result holding the applied count.
func (q *Queue[T]) TryComplete(ctx context.Context, owner string, stepID step.ID, completions []item.Completion) Result[int] {
	return resultOf(q.Complete(ctx, owner, stepID, completions))
}
