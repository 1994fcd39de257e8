package middleware

import (
	"context"
	"time"

	"github.com/xraph/conveyor/item"
)

// Timeout returns middleware that gives each handler call at most d. A
// handler that honors its context then fails with context.DeadlineExceeded.
// A non-positive d disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *item.Item, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
