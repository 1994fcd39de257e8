package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service provides dead letter operations over an item store.
type Service struct {
	store       item.Store
	maxAttempts int
	logger      *slog.Logger
}

// NewService creates a dead letter service. maxAttempts must match the
// attempt budget workers reclaim with.
func NewService(store item.Store, maxAttempts int, opts ...Option) *Service {
	s := &Service{store: store, maxAttempts: maxAttempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the attempt budget that defines a poison item.
func (s *Service) MaxAttempts() int { return s.maxAttempts }

// List returns up to limit poison items at stepID, oldest failure first.
// A non-positive limit returns all of them.
func (s *Service) List(ctx context.Context, stepID step.ID, limit int) ([]*item.Item, error) {
	if s.maxAttempts < 1 {
		return nil, conveyor.ErrInvalidMaxAttempts
	}
	return s.store.ListPoison(ctx, stepID, s.maxAttempts, limit)
}

// Count returns the number of poison items at stepID.
func (s *Service) Count(ctx context.Context, stepID step.ID) (int, error) {
	items, err := s.List(ctx, stepID, 0)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Replay moves one poison item back to Ready.
func (s *Service) Replay(ctx context.Context, itemID id.ItemID) error {
	if err := s.store.RequeueItem(ctx, itemID); err != nil {
		return fmt.Errorf("dlq: replay %s: %w", itemID, err)
	}
	return nil
}

// ReplayAll moves every poison item at stepID back to Ready and returns how
// many moved. Items that changed state since they were listed are skipped.
func (s *Service) ReplayAll(ctx context.Context, stepID step.ID) (int, error) {
	return s.each(ctx, stepID, "replay", func(ctx context.Context, it *item.Item) error {
		return s.store.RequeueItem(ctx, it.ID)
	}, conveyor.ErrInvalidState)
}

// Purge deletes every poison item at stepID and returns how many were
// deleted.
func (s *Service) Purge(ctx context.Context, stepID step.ID) (int, error) {
	return s.each(ctx, stepID, "purge", func(ctx context.Context, it *item.Item) error {
		return s.store.DeleteItem(ctx, it.ID)
	}, conveyor.ErrItemNotFound)
}

func (s *Service) each(
	ctx context.Context, stepID step.ID, op string,
	fn func(context.Context, *item.Item) error, skip error,
) (int, error) {
	items, err := s.List(ctx, stepID, 0)
	if err != nil {
		return 0, err
	}

	var n int
	for _, it := range items {
		err := fn(ctx, it)
		switch {
		case err == nil:
			n++
		case errors.Is(err, skip), errors.Is(err, conveyor.ErrItemNotFound):
			s.logger.Debug("dlq: item moved before "+op,
				slog.String("item_id", it.ID.String()),
				slog.Int("step_id", int(stepID)),
			)
		default:
			return n, fmt.Errorf("dlq: %s %s: %w", op, it.ID, err)
		}
	}

	if n > 0 {
		s.logger.Info("dlq: "+op,
			slog.Int("step_id", int(stepID)),
			slog.Int("count", n),
		)
	}
	return n, nil
}
