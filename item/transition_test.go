package item_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code int
		want item.Status
	}{
		{-1, item.StatusError},
		{1, item.StatusDraft},
		{2, item.StatusReady},
		{3, item.StatusProcessing},
		{4, item.StatusCompleted},
		{5, item.StatusCompleted}, // legacy Processed
	}
	for _, tt := range tests {
		got, err := item.StatusFromCode(tt.code)
		if err != nil {
			t.Fatalf("StatusFromCode(%d): %v", tt.code, err)
		}
		if got != tt.want {
			t.Errorf("StatusFromCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}

	for _, bad := range []int{0, 6, -2} {
		if _, err := item.StatusFromCode(bad); err == nil {
			t.Errorf("StatusFromCode(%d): expected error", bad)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want item.Status
	}{
		{"ready", item.StatusReady},
		{"Processing", item.StatusProcessing},
		{"processed", item.StatusCompleted},
		{" error ", item.StatusError},
	}
	for _, tt := range tests {
		got, err := item.ParseStatus(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseStatus(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := item.ParseStatus("paused"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestValidateArgs(t *testing.T) {
	if err := item.ValidateClaim("", 1); !errors.Is(err, conveyor.ErrInvalidOwner) {
		t.Errorf("empty owner: got %v", err)
	}
	if err := item.ValidateClaim("w", 0); !errors.Is(err, conveyor.ErrInvalidLimit) {
		t.Errorf("zero limit: got %v", err)
	}
	if err := item.ValidateReclaim("w", 1, 0); !errors.Is(err, conveyor.ErrInvalidMaxAttempts) {
		t.Errorf("zero max attempts: got %v", err)
	}
	if err := item.ValidateReclaim("w", 1, 3); err != nil {
		t.Errorf("valid reclaim args: %v", err)
	}
}

func TestClaimable(t *testing.T) {
	ready := item.New(1, nil)

	owned := item.New(1, nil)
	owned.LeaseOwner = "other"

	otherStep := item.New(2, nil)

	draft := item.NewDraft(1, nil)

	tests := []struct {
		name string
		it   *item.Item
		want bool
	}{
		{"ready unowned", ready, true},
		{"owned", owned, false},
		{"other step", otherStep, false},
		{"draft", draft, false},
	}
	for _, tt := range tests {
		if got := item.Claimable(tt.it, 1); got != tt.want {
			t.Errorf("%s: Claimable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReclaimable(t *testing.T) {
	now := time.Now().UTC()
	stale := now.Add(-time.Hour)

	mk := func(status item.Status, updated time.Time, attempt int) *item.Item {
		it := item.New(1, nil)
		it.Status = status
		it.UpdatedAt = updated
		it.Attempt = attempt
		return it
	}

	tests := []struct {
		name string
		it   *item.Item
		want bool
	}{
		{"stale processing", mk(item.StatusProcessing, stale, 1), true},
		{"fresh processing", mk(item.StatusProcessing, now, 1), false},
		{"error with attempts left", mk(item.StatusError, now, 2), true},
		{"error exhausted", mk(item.StatusError, now, 3), false},
		{"stale processing exhausted", mk(item.StatusProcessing, stale, 3), false},
		{"ready", mk(item.StatusReady, stale, 0), false},
		{"completed", mk(item.StatusCompleted, stale, 1), false},
	}
	for _, tt := range tests {
		if got := item.Reclaimable(tt.it, 1, now.Add(-time.Minute), 3); got != tt.want {
			t.Errorf("%s: Reclaimable = %v, want %v", tt.name, got, tt.want)
		}
	}

	if item.Reclaimable(mk(item.StatusError, now, 0), 2, now, 3) {
		t.Error("item at another step must not be reclaimable")
	}
}

func TestLeaseAndFinish(t *testing.T) {
	now := time.Now().UTC()
	it := item.New(1, nil)

	it.Lease("worker-a", now)
	if it.Status != item.StatusProcessing || it.LeaseOwner != "worker-a" || it.Attempt != 1 {
		t.Fatalf("after lease: %+v", it)
	}
	if err := it.Validate(); err != nil {
		t.Fatalf("leased item invalid: %v", err)
	}
	if !item.Completable(it, "worker-a", 1) || item.Completable(it, "worker-b", 1) {
		t.Fatal("Completable must match owner only")
	}

	next := step.ID(2)

	tests := []struct {
		name       string
		outcome    item.Outcome
		next       *step.ID
		wantStatus item.Status
		wantStep   step.ID
		wantErr    string
	}{
		{"success with next", item.Succeeded(), &next, item.StatusReady, 2, ""},
		{"success terminal", item.Succeeded(), nil, item.StatusCompleted, 1, ""},
		{"failure", item.Failed("boom"), &next, item.StatusError, 1, "boom"},
		{"failure empty reason", item.Failed(""), nil, item.StatusError, 1, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := it.Clone()
			cp.Finish(tt.outcome, tt.next, now.Add(time.Second))
			if cp.Status != tt.wantStatus || cp.StepID != tt.wantStep || cp.Error != tt.wantErr {
				t.Fatalf("got status=%v step=%v err=%q", cp.Status, cp.StepID, cp.Error)
			}
			if cp.LeaseOwner != "" {
				t.Fatalf("lease owner not cleared: %q", cp.LeaseOwner)
			}
			if cp.Attempt != 1 {
				t.Fatalf("attempt changed to %d", cp.Attempt)
			}
			if err := cp.Validate(); err != nil {
				t.Fatalf("finished item invalid: %v", err)
			}
		})
	}
}

func TestFailedErr(t *testing.T) {
	if item.FailedErr(nil).IsFailure() {
		t.Fatal("nil error must be a success")
	}
	out := item.FailedErr(errors.New("disk full"))
	if !out.IsFailure() || out.Reason() != "disk full" {
		t.Fatalf("got %+v", out)
	}
}

func TestValidate(t *testing.T) {
	owned := item.New(1, nil)
	owned.LeaseOwner = "w"
	if err := owned.Validate(); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Errorf("owner on ready item: got %v", err)
	}

	msg := item.New(1, nil)
	msg.Error = "x"
	if err := msg.Validate(); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Errorf("error on ready item: got %v", err)
	}
}

func TestListOptsPage(t *testing.T) {
	items := []*item.Item{item.New(1, nil), item.New(1, nil), item.New(1, nil)}

	if got := (item.ListOpts{Offset: 1, Limit: 1}).Page(items); len(got) != 1 || got[0] != items[1] {
		t.Fatalf("offset 1 limit 1: got %d items", len(got))
	}
	if got := (item.ListOpts{Offset: 5}).Page(items); got != nil {
		t.Fatalf("offset past end: got %d items", len(got))
	}
	if got := (item.ListOpts{}).Page(items); len(got) != 3 {
		t.Fatalf("no paging: got %d items", len(got))
	}
}
