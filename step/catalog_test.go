package step_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/step"
)

var (
	parse   = step.Step{ID: 1, Name: "parse"}
	enrich  = step.Step{ID: 2, Name: "enrich"}
	persist = step.Step{ID: 3, Name: "persist"}
)

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name    string
		steps   []step.Step
		wantErr bool
	}{
		{"valid", []step.Step{parse, enrich, persist}, false},
		{"empty", nil, false},
		{"duplicate id", []step.Step{parse, {ID: 1, Name: "other"}}, true},
		{"duplicate name", []step.Step{parse, {ID: 9, Name: "parse"}}, true},
		{"missing name", []step.Step{{ID: 4}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := step.NewCatalog(tt.steps...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCatalog_Next(t *testing.T) {
	c := step.MustCatalog(parse, enrich, persist)

	tests := []struct {
		name     string
		from     step.ID
		wantNext *step.ID
		wantErr  error
	}{
		{"first to second", parse.ID, enrich.ID.Ptr(), nil},
		{"second to third", enrich.ID, persist.ID.Ptr(), nil},
		{"last is terminal", persist.ID, nil, nil},
		{"unknown", 42, nil, conveyor.ErrStepNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Next(tt.from)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			switch {
			case tt.wantNext == nil && got != nil:
				t.Fatalf("got next %v, want nil", got.ID)
			case tt.wantNext != nil && (got == nil || got.ID != *tt.wantNext):
				t.Fatalf("got next %v, want %v", got, *tt.wantNext)
			}
		})
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := step.MustCatalog(parse, enrich)

	if s, err := c.Lookup(enrich.ID); err != nil || s != enrich {
		t.Fatalf("Lookup = %v, %v", s, err)
	}
	if s, err := c.ByName("parse"); err != nil || s != parse {
		t.Fatalf("ByName = %v, %v", s, err)
	}
	if _, err := c.ByName("missing"); !errors.Is(err, conveyor.ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
	if first, err := c.First(); err != nil || first != parse {
		t.Fatalf("First = %v, %v", first, err)
	}
	if _, err := step.MustCatalog().First(); !errors.Is(err, conveyor.ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound for empty catalog, got %v", err)
	}
}

type mapStore map[step.ID]step.Step

func (m mapStore) SaveStep(_ context.Context, s step.Step) error {
	m[s.ID] = s
	return nil
}

func (m mapStore) GetStep(_ context.Context, stepID step.ID) (step.Step, error) {
	s, ok := m[stepID]
	if !ok {
		return step.Step{}, conveyor.ErrStepNotFound
	}
	return s, nil
}

func (m mapStore) ListSteps(_ context.Context) ([]step.Step, error) {
	out := make([]step.Step, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out, nil
}

func TestCatalog_SyncAndLoad(t *testing.T) {
	ctx := context.Background()
	store := mapStore{}

	if err := step.MustCatalog(persist, parse, enrich).Sync(ctx, store); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	loaded, err := step.Load(ctx, store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := loaded.Steps()
	want := []step.Step{parse, enrich, persist}
	if len(got) != len(want) {
		t.Fatalf("got %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %v, want %v", i, got[i], want[i])
		}
	}
}
