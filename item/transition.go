package item

import (
	"sort"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

// ValidateClaim checks ClaimItems arguments.
func ValidateClaim(owner string, limit int) error {
	if owner == "" {
		return conveyor.ErrInvalidOwner
	}
	if limit <= 0 {
		return conveyor.ErrInvalidLimit
	}
	return nil
}

// ValidateReclaim checks ReclaimItems arguments.
func ValidateReclaim(owner string, limit, maxAttempts int) error {
	if err := ValidateClaim(owner, limit); err != nil {
		return err
	}
	if maxAttempts <= 0 {
		return conveyor.ErrInvalidMaxAttempts
	}
	return nil
}

// ValidateComplete checks CompleteItems arguments.
func ValidateComplete(owner string) error {
	if owner == "" {
		return conveyor.ErrInvalidOwner
	}
	return nil
}

// Claimable reports whether ClaimItems may lease it for stepID.
func Claimable(it *Item, stepID step.ID) bool {
	return it.LeaseOwner == "" &&
		it.StepID == stepID &&
		it.Status == StatusReady
}

// Reclaimable reports whether ReclaimItems may lease it for stepID.
func Reclaimable(it *Item, stepID step.ID, staleBefore time.Time, maxAttempts int) bool {
	if it.StepID != stepID || it.Attempt >= maxAttempts {
		return false
	}
	switch it.Status {
	case StatusError:
		return true
	case StatusProcessing:
		return it.UpdatedAt.Before(staleBefore)
	default:
		return false
	}
}

// Poisoned reports whether it is an Error item at stepID with no attempts
// left.
func Poisoned(it *Item, stepID step.ID, maxAttempts int) bool {
	return it.StepID == stepID &&
		it.Status == StatusError &&
		it.Attempt >= maxAttempts
}

// Completable reports whether a completion by owner at current may be
// applied to it.
func Completable(it *Item, owner string, current step.ID) bool {
	return it.LeaseOwner == owner &&
		it.StepID == current &&
		it.Status == StatusProcessing
}

// Requeueable reports whether RequeueItem may move it back to Ready.
func Requeueable(it *Item) bool {
	return it.Status == StatusError || it.Status == StatusDraft
}

// Lease applies a successful claim or reclaim to it.
func (it *Item) Lease(owner string, now time.Time) {
	it.LeaseOwner = owner
	it.Status = StatusProcessing
	it.Attempt++
	it.Error = ""
	it.UpdatedAt = now
}

// Finish applies a completion outcome to it.
func (it *Item) Finish(out Outcome, next *step.ID, now time.Time) {
	it.Status, it.StepID, it.Error = out.Resolve(it.StepID, next)
	it.LeaseOwner = ""
	it.UpdatedAt = now
}

// Requeue moves it back to Ready. Attempt is kept.
func (it *Item) Requeue(now time.Time) {
	it.Status = StatusReady
	it.Error = ""
	it.LeaseOwner = ""
	it.UpdatedAt = now
}

// SortOldestFirst orders items by UpdatedAt ascending, then by ID for a
// stable order among equal timestamps.
func SortOldestFirst(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.Before(items[j].UpdatedAt)
		}
		return items[i].ID.Compare(items[j].ID) < 0
	})
}

// SortByCreated orders items by CreatedAt ascending, then by ID.
func SortByCreated(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID.Compare(items[j].ID) < 0
	})
}

// Matches reports whether it satisfies the list filter.
func (o ListOpts) Matches(it *Item) bool {
	return CountOpts{Step: o.Step, Status: o.Status}.Matches(it)
}

// Matches reports whether it satisfies the count filter.
func (o CountOpts) Matches(it *Item) bool {
	if o.Step != nil && it.StepID != *o.Step {
		return false
	}
	if o.Status != 0 && it.Status != o.Status {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already filtered and ordered slice.
func (o ListOpts) Page(items []*Item) []*Item {
	if o.Offset > 0 {
		if o.Offset >= len(items) {
			return nil
		}
		items = items[o.Offset:]
	}
	if o.Limit > 0 && o.Limit < len(items) {
		items = items[:o.Limit]
	}
	return items
}
