package item

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/step"
)

// ListOpts controls pagination and filtering for item list queries.
type ListOpts struct {
	// Step filters by step. Nil means all steps.
	Step *step.ID
	// Status filters by status. Zero means all statuses.
	Status Status
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
}

// CountOpts controls filtering for item count queries.
type CountOpts struct {
	// Step filters by step. Nil means all steps.
	Step *step.ID
	// Status filters by status. Zero means all statuses.
	Status Status
}

// Store defines the persistence contract for work items.
//
// ClaimItems, ReclaimItems, and CompleteItems are atomic with respect to
// concurrent callers on the same backend: concurrent claims for a step
// return disjoint items, and completions only touch items still leased by
// the caller. Cancelling ctx after the backend committed does not undo the
// write; callers must re-read state when an operation was cancelled.
type Store interface {
	// CreateItem persists a new item. Returns conveyor.ErrItemAlreadyExists
	// for a duplicate ID.
	CreateItem(ctx context.Context, it *Item) error

	// GetItem retrieves an item by ID.
	GetItem(ctx context.Context, itemID id.ItemID) (*Item, error)

	// DeleteItem removes an item by ID.
	DeleteItem(ctx context.Context, itemID id.ItemID) error

	// ListItems returns items matching opts ordered by creation time.
	ListItems(ctx context.Context, opts ListOpts) ([]*Item, error)

	// CountItems returns the number of items matching opts.
	CountItems(ctx context.Context, opts CountOpts) (int64, error)

	// ClaimItems leases up to limit unowned Ready items at stepID to owner,
	// oldest UpdatedAt first. Each returned item is Processing, owned by
	// owner, with Attempt incremented. An empty result means no work.
	ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*Item, error)

	// ReclaimItems leases up to limit items at stepID with fewer than
	// maxAttempts attempts that are either Error or Processing with
	// UpdatedAt before staleBefore. The lease is applied exactly as in
	// ClaimItems.
	ReclaimItems(ctx context.Context, owner string, stepID step.ID, limit int,
		staleBefore time.Time, maxAttempts int) ([]*Item, error)

	// CompleteItems applies each completion to the item if it is still
	// Processing at current and leased by owner; other items are skipped.
	// Successful items move to Ready at next, or to Completed when next is
	// nil. Failed items move to Error. Returns the number of items updated.
	CompleteItems(ctx context.Context, owner string, current step.ID, next *step.ID,
		results []Completion) (int, error)

	// ListPoison returns Error items at stepID that have used all
	// maxAttempts attempts and will never be reclaimed.
	ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*Item, error)

	// RequeueItem moves an Error or Draft item to Ready, clearing the error.
	// Attempt is preserved. Returns conveyor.ErrInvalidState for items in
	// other statuses.
	RequeueItem(ctx context.Context, itemID id.ItemID) error
}
