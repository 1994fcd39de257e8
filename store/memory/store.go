// Package memory provides a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// Ensure Store implements the subsystem stores at compile time.
// We can't import store here (import cycle in tests), so we verify each one.
var (
	_ item.Store = (*Store)(nil)
	_ step.Store = (*Store)(nil)
)

// Option configures a memory Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for lease timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps items and steps in maps guarded by one mutex. Every claim,
// reclaim, and complete runs entirely under the write lock.
type Store struct {
	mu sync.RWMutex

	items map[string]*item.Item
	steps map[step.ID]step.Step

	logger *slog.Logger
	now    func() time.Time
	closed bool
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		items:  make(map[string]*item.Item),
		steps:  make(map[step.ID]step.Step),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conveyor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept so tests can inspect it.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Item Store
// ──────────────────────────────────────────────────

// CreateItem persists a new item.
func (m *Store) CreateItem(_ context.Context, it *item.Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("conveyor/memory: create item: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := it.ID.String()
	if _, exists := m.items[key]; exists {
		return conveyor.ErrItemAlreadyExists
	}
	cp := it.Clone()
	cp.Touch(m.stamp(cp.UpdatedAt))
	m.items[key] = cp
	return nil
}

// GetItem retrieves an item by ID.
func (m *Store) GetItem(_ context.Context, itemID id.ItemID) (*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[itemID.String()]
	if !ok {
		return nil, conveyor.ErrItemNotFound
	}
	return it.Clone(), nil
}

// DeleteItem removes an item by ID.
func (m *Store) DeleteItem(_ context.Context, itemID id.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemID.String()
	if _, ok := m.items[key]; !ok {
		return conveyor.ErrItemNotFound
	}
	delete(m.items, key)
	return nil
}

// ListItems returns items matching opts ordered by creation time.
func (m *Store) ListItems(_ context.Context, opts item.ListOpts) ([]*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*item.Item, 0, len(m.items))
	for _, it := range m.items {
		if opts.Matches(it) {
			matched = append(matched, it)
		}
	}
	item.SortByCreated(matched)
	return cloneAll(opts.Page(matched)), nil
}

// CountItems returns the number of items matching opts.
func (m *Store) CountItems(_ context.Context, opts item.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, it := range m.items {
		if opts.Matches(it) {
			n++
		}
	}
	return n, nil
}

// ClaimItems leases up to limit Ready items at stepID to owner.
func (m *Store) ClaimItems(_ context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	if err := item.ValidateClaim(owner, limit); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lease(owner, limit, func(it *item.Item) bool {
		return item.Claimable(it, stepID)
	}), nil
}

// ReclaimItems leases up to limit failed or abandoned items at stepID to owner.
func (m *Store) ReclaimItems(
	_ context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	if err := item.ValidateReclaim(owner, limit, maxAttempts); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lease(owner, limit, func(it *item.Item) bool {
		return item.Reclaimable(it, stepID, staleBefore, maxAttempts)
	}), nil
}

// lease must be called with mu held for writing.
func (m *Store) lease(owner string, limit int, eligible func(*item.Item) bool) []*item.Item {
	candidates := make([]*item.Item, 0)
	for _, it := range m.items {
		if eligible(it) {
			candidates = append(candidates, it)
		}
	}
	item.SortOldestFirst(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := m.now()
	result := make([]*item.Item, len(candidates))
	for i, it := range candidates {
		it.Lease(owner, now)
		result[i] = it.Clone()
	}
	return result
}

// CompleteItems applies each completion whose item is still leased by owner
// at current.
func (m *Store) CompleteItems(
	_ context.Context, owner string, current step.ID, next *step.ID,
	results []item.Completion,
) (int, error) {
	if err := item.ValidateComplete(owner); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	applied := 0
	for _, r := range results {
		it, ok := m.items[r.ID.String()]
		if !ok || !item.Completable(it, owner, current) {
			continue
		}
		it.Finish(r.Outcome, next, now)
		applied++
	}

	if skipped := len(results) - applied; skipped > 0 {
		m.logger.Debug("memory: completions skipped",
			slog.String("owner", owner),
			slog.Int("step_id", int(current)),
			slog.Int("count", skipped),
		)
	}
	return applied, nil
}

// ListPoison returns Error items at stepID with no attempts left.
func (m *Store) ListPoison(_ context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*item.Item, 0)
	for _, it := range m.items {
		if item.Poisoned(it, stepID, maxAttempts) {
			matched = append(matched, it)
		}
	}
	item.SortOldestFirst(matched)
	return cloneAll(item.ListOpts{Limit: limit}.Page(matched)), nil
}

// RequeueItem moves an Error or Draft item back to Ready.
func (m *Store) RequeueItem(_ context.Context, itemID id.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID.String()]
	if !ok {
		return conveyor.ErrItemNotFound
	}
	if !item.Requeueable(it) {
		return fmt.Errorf("conveyor/memory: requeue %s item: %w", it.Status, conveyor.ErrInvalidState)
	}
	it.Requeue(m.now())
	return nil
}

// ──────────────────────────────────────────────────
// Step Store
// ──────────────────────────────────────────────────

// SaveStep inserts or replaces a step definition.
func (m *Store) SaveStep(_ context.Context, s step.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for existingID, existing := range m.steps {
		if existingID != s.ID && existing.Name == s.Name {
			return conveyor.ErrStepAlreadyExists
		}
	}
	m.steps[s.ID] = s
	return nil
}

// GetStep retrieves a step by ID.
func (m *Store) GetStep(_ context.Context, stepID step.ID) (step.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.steps[stepID]
	if !ok {
		return step.Step{}, conveyor.ErrStepNotFound
	}
	return s, nil
}

// ListSteps returns all steps ordered by ID.
func (m *Store) ListSteps(_ context.Context) ([]step.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]step.Step, 0, len(m.steps))
	for _, s := range m.steps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// stamp returns t, or the current time when t is zero.
func (m *Store) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}
	return t
}

func cloneAll(items []*item.Item) []*item.Item {
	out := make([]*item.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
