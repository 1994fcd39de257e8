package tables

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conveyor/item"
)

func TestItemEntityRoundTrip(t *testing.T) {
	t.Parallel()

	it := item.New(3, []byte("payload"))
	it.Lease("w1", time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC))
	it.CreatedAt = time.Date(2024, 5, 1, 11, 0, 0, 1, time.UTC)

	body, err := toItemEntity(it).marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{
		`"CreatedAt@odata.type":"Edm.Int64"`,
		`"UpdatedAt@odata.type":"Edm.Int64"`,
		`"Payload@odata.type":"Edm.Binary"`,
		`"PartitionKey":"item"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("entity %s missing %s", body, want)
		}
	}
	if strings.Contains(string(body), "odata.etag") {
		t.Fatalf("write body must not carry the etag: %s", body)
	}

	var e itemEntity
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := e.toItem()
	if err != nil {
		t.Fatalf("toItem: %v", err)
	}
	if got.ID != it.ID || got.LeaseOwner != "w1" || got.Status != item.StatusProcessing || got.Attempt != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.UpdatedAt.Equal(it.UpdatedAt) || !got.CreatedAt.Equal(it.CreatedAt) {
		t.Fatalf("timestamps lost precision: %v / %v", got.CreatedAt, got.UpdatedAt)
	}
	if string(got.Payload) != "payload" {
		t.Fatalf("payload = %q", got.Payload)
	}
}

func TestItemEntityOmitsEmptyPayload(t *testing.T) {
	t.Parallel()

	body, err := toItemEntity(item.New(1, nil)).marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(body), "Payload") {
		t.Fatalf("empty payload should be omitted: %s", body)
	}
}

func TestStepRowKeyOrdersNumerically(t *testing.T) {
	t.Parallel()

	if !(stepRowKey(2) < stepRowKey(10)) {
		t.Fatalf("row keys %q and %q sort out of numeric order", stepRowKey(2), stepRowKey(10))
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"parse", "'parse'"},
		{"o'brien", "'o''brien'"},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := quote(tt.in); got != tt.want {
			t.Errorf("quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	got := filter(stepCond(2), statusCond(item.StatusReady))
	want := "PartitionKey eq 'item' and StepID eq 2 and StatusID eq 2"
	if got != want {
		t.Fatalf("filter = %q, want %q", got, want)
	}
}
