package item

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/step"
)

// Status is the lifecycle state of a work item. The numeric values are
// the codes persisted in the status_id column.
type Status int

const (
	// StatusError means the last attempt failed. The item has no owner and
	// may be reclaimed while attempts remain.
	StatusError Status = -1
	// StatusDraft means the producer has not released the item yet.
	StatusDraft Status = 1
	// StatusReady means the item is waiting to be claimed at its step.
	StatusReady Status = 2
	// StatusProcessing means a worker holds the lease.
	StatusProcessing Status = 3
	// StatusCompleted means the item finished the last step.
	StatusCompleted Status = 4

	// statusProcessed is the legacy code for Completed. It is accepted when
	// reading and never written.
	statusProcessed Status = 5
)

var statusNames = map[Status]string{
	StatusError:      "error",
	StatusDraft:      "draft",
	StatusReady:      "ready",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
}

// String returns the lower-case name of the status.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	if s == statusProcessed {
		return statusNames[StatusCompleted]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Code returns the persisted integer code.
func (s Status) Code() int { return int(s) }

// IsValid reports whether s is one of the canonical statuses.
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// StatusFromCode converts a persisted code into a Status, folding the
// legacy Processed code into Completed.
func StatusFromCode(code int) (Status, error) {
	s := Status(code)
	if s == statusProcessed {
		return StatusCompleted, nil
	}
	if !s.IsValid() {
		return 0, fmt.Errorf("item: unknown status code %d", code)
	}
	return s, nil
}

// ParseStatus parses a status name (case-insensitive). "processed" is
// accepted as a synonym of "completed".
func ParseStatus(name string) (Status, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "processed" {
		return StatusCompleted, nil
	}
	for s, sn := range statusNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("item: unknown status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(data []byte) error {
	parsed, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Item is a unit of work moving through a pipeline.
type Item struct {
	conveyor.Entity

	ID         id.ItemID `json:"id"`
	LeaseOwner string    `json:"lease_owner,omitempty"`
	Status     Status    `json:"status"`
	StepID     step.ID   `json:"step_id"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	Payload    []byte    `json:"payload,omitempty"`
}

// New returns a Ready item at stepID carrying payload.
func New(stepID step.ID, payload []byte) *Item {
	return &Item{
		Entity:  conveyor.NewEntity(),
		ID:      id.NewItemID(),
		Status:  StatusReady,
		StepID:  stepID,
		Payload: payload,
	}
}

// NewDraft returns a Draft item at stepID. Drafts are invisible to Claim
// until released with RequeueItem.
func NewDraft(stepID step.ID, payload []byte) *Item {
	it := New(stepID, payload)
	it.Status = StatusDraft
	return it
}

// Validate checks the invariants every persisted item must hold.
func (it *Item) Validate() error {
	if it.ID.IsNil() {
		return fmt.Errorf("item: missing id")
	}
	if !it.Status.IsValid() {
		return fmt.Errorf("item %s: invalid status %d", it.ID, int(it.Status))
	}
	if (it.LeaseOwner != "") != (it.Status == StatusProcessing) {
		return fmt.Errorf("item %s: lease owner must be set exactly when processing: %w",
			it.ID, conveyor.ErrInvalidState)
	}
	if it.Error != "" && it.Status != StatusError {
		return fmt.Errorf("item %s: error message on %s item: %w", it.ID, it.Status, conveyor.ErrInvalidState)
	}
	if it.Attempt < 0 {
		return fmt.Errorf("item %s: negative attempt", it.ID)
	}
	return nil
}

// Clone returns a deep copy of it.
func (it *Item) Clone() *Item {
	cp := *it
	if it.Payload != nil {
		cp.Payload = append([]byte(nil), it.Payload...)
	}
	return &cp
}

// Touch sets UpdatedAt, keeping CreatedAt if already set.
func (it *Item) Touch(now time.Time) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now
}
