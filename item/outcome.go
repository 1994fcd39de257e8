package item

import (
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/step"
)

// Outcome is the result of processing one claimed item.
// The zero value is a success.
type Outcome struct {
	failed bool
	reason string
}

// Succeeded returns the success outcome.
func Succeeded() Outcome { return Outcome{} }

// Failed returns a failure outcome carrying reason as the item's error.
func Failed(reason string) Outcome {
	if reason == "" {
		reason = "failed"
	}
	return Outcome{failed: true, reason: reason}
}

// FailedErr is Failed(err.Error()); a nil err is a success.
func FailedErr(err error) Outcome {
	if err == nil {
		return Succeeded()
	}
	return Failed(err.Error())
}

// IsFailure reports whether the outcome is a failure.
func (o Outcome) IsFailure() bool { return o.failed }

// Reason returns the failure message, or "" for a success.
func (o Outcome) Reason() string { return o.reason }

// Completion pairs a claimed item with its outcome.
type Completion struct {
	ID      id.ItemID
	Outcome Outcome
}

// Succeed builds a successful Completion.
func Succeed(itemID id.ItemID) Completion {
	return Completion{ID: itemID, Outcome: Succeeded()}
}

// Fail builds a failed Completion.
func Fail(itemID id.ItemID, reason string) Completion {
	return Completion{ID: itemID, Outcome: Failed(reason)}
}

// Resolve returns the status, step, and error message an item leased at
// current takes on when completed with o.
func (o Outcome) Resolve(current step.ID, next *step.ID) (Status, step.ID, string) {
	switch {
	case o.failed:
		return StatusError, current, o.reason
	case next != nil:
		return StatusReady, *next, ""
	default:
		return StatusCompleted, current, ""
	}
}
