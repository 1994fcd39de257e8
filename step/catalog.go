package step

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/conveyor"
)

// Catalog is an immutable, ordered pipeline of steps. Order is the order
// the steps were given to NewCatalog, not their IDs.
type Catalog struct {
	steps  []Step
	byID   map[ID]int
	byName map[string]int
}

// NewCatalog builds a catalog from steps in pipeline order. IDs and names
// must be unique and names non-empty.
func NewCatalog(steps ...Step) (*Catalog, error) {
	c := &Catalog{
		steps:  make([]Step, 0, len(steps)),
		byID:   make(map[ID]int, len(steps)),
		byName: make(map[string]int, len(steps)),
	}
	for _, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("step: step %d has no name", s.ID)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("step: duplicate step id %d", s.ID)
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("step: duplicate step name %q", s.Name)
		}
		c.byID[s.ID] = len(c.steps)
		c.byName[s.Name] = len(c.steps)
		c.steps = append(c.steps, s)
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error. Use for pipelines
// declared as package-level variables.
func MustCatalog(steps ...Step) *Catalog {
	c, err := NewCatalog(steps...)
	if err != nil {
		panic(err)
	}
	return c
}

// Load builds a catalog from every step in the store, ordered by ID.
func Load(ctx context.Context, s Store) (*Catalog, error) {
	steps, err := s.ListSteps(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return NewCatalog(steps...)
}

// Sync saves every step of the catalog into the store.
func (c *Catalog) Sync(ctx context.Context, s Store) error {
	for _, st := range c.steps {
		if err := s.SaveStep(ctx, st); err != nil {
			return fmt.Errorf("step: sync %q: %w", st.Name, err)
		}
	}
	return nil
}

// Steps returns a copy of the steps in pipeline order.
func (c *Catalog) Steps() []Step {
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Len returns the number of steps.
func (c *Catalog) Len() int { return len(c.steps) }

// Lookup returns the step with the given ID.
func (c *Catalog) Lookup(stepID ID) (Step, error) {
	i, ok := c.byID[stepID]
	if !ok {
		return Step{}, fmt.Errorf("%w: id %d", conveyor.ErrStepNotFound, stepID)
	}
	return c.steps[i], nil
}

// ByName returns the step with the given name.
func (c *Catalog) ByName(name string) (Step, error) {
	i, ok := c.byName[name]
	if !ok {
		return Step{}, fmt.Errorf("%w: name %q", conveyor.ErrStepNotFound, name)
	}
	return c.steps[i], nil
}

// First returns the entry step of the pipeline.
func (c *Catalog) First() (Step, error) {
	if len(c.steps) == 0 {
		return Step{}, fmt.Errorf("%w: empty catalog", conveyor.ErrStepNotFound)
	}
	return c.steps[0], nil
}

// Next returns the step following stepID, or nil when stepID is the last
// step and items finishing it become Completed.
func (c *Catalog) Next(stepID ID) (*Step, error) {
	i, ok := c.byID[stepID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", conveyor.ErrStepNotFound, stepID)
	}
	if i+1 == len(c.steps) {
		return nil, nil
	}
	next := c.steps[i+1]
	return &next, nil
}
