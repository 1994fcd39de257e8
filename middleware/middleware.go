package middleware

import (
	"context"

	"github.com/xraph/conveyor/item"
)

// Handler is the terminal function that processes the item.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// item being processed and the next handler to call.
type Middleware func(ctx context.Context, it *item.Item, next Handler) error

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging, recover, timeout, handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, it, prev)
			}
		}
		return h(ctx)
	}
}
