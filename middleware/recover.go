package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/conveyor/item"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("item handler panicked",
					slog.String("item_id", it.ID.String()),
					slog.Int("step_id", int(it.StepID)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic processing item %s: %v", it.ID, r)
			}
		}()
		return next(ctx)
	}
}
