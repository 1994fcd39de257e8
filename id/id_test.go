package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/conveyor/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"ItemID", id.NewItemID, "wi_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"ItemID", id.NewItemID, id.ParseItemID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	worker := id.NewWorkerID().String()
	if _, err := id.ParseItemID(worker); err == nil {
		t.Errorf("expected ParseItemID to reject %q", worker)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "not-an-id", "wi_"} {
		if _, err := id.Parse(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestNilID(t *testing.T) {
	var n id.ID
	if !n.IsNil() {
		t.Fatal("zero ID should be nil")
	}
	if n.String() != "" {
		t.Errorf("expected empty string, got %q", n.String())
	}
	v, err := n.Value()
	if err != nil || v != nil {
		t.Errorf("expected nil value, got %v (%v)", v, err)
	}
}

func TestScan(t *testing.T) {
	original := id.NewItemID()

	tests := []struct {
		name    string
		src     any
		wantNil bool
		wantErr bool
	}{
		{"string", original.String(), false, false},
		{"bytes", []byte(original.String()), false, false},
		{"nil", nil, true, false},
		{"empty", "", true, false},
		{"int", 42, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got id.ID
			err := got.Scan(tt.src)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if got.IsNil() != tt.wantNil {
				t.Fatalf("IsNil = %v, want %v", got.IsNil(), tt.wantNil)
			}
			if !tt.wantNil && got.String() != original.String() {
				t.Errorf("got %q, want %q", got.String(), original.String())
			}
		})
	}
}

func TestCompare(t *testing.T) {
	a, err := id.ParseItemID("wi_01h2xcejqtf2nbrexx3vqjhp41")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := id.ParseItemID("wi_01h2xcejqtf2nbrexx3vqjhp42")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		name string
		x, y id.ID
		want int
	}{
		{"earlier first", a, b, -1},
		{"later second", b, a, 1},
		{"equal", a, a, 0},
		{"nil first", id.Nil, a, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.x.Compare(tt.y); got != tt.want {
				t.Fatalf("Compare = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseWithPrefixReportsActualPrefix(t *testing.T) {
	_, err := id.ParseWithPrefix(id.NewWorkerID().String(), id.PrefixItem)
	if err == nil || !strings.Contains(err.Error(), `got "wkr"`) {
		t.Fatalf("expected prefix mismatch naming wkr, got %v", err)
	}
}
