package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor/item"
)

// Logging returns middleware that logs item start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) error {
		logger.Debug("item started",
			slog.String("item_id", it.ID.String()),
			slog.Int("step_id", int(it.StepID)),
			slog.Int("attempt", it.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("item failed",
				slog.String("item_id", it.ID.String()),
				slog.Int("step_id", int(it.StepID)),
				slog.Int("attempt", it.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("item processed",
				slog.String("item_id", it.ID.String()),
				slog.Int("step_id", int(it.StepID)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
