// Package middleware provides composable middleware around item handlers.
//
// A [Middleware] wraps the call that processes one leased item. Middleware
// are composed with [Chain] and run before the handler sees the item. The
// first middleware in the list is the outermost wrapper.
//
//	// logging, then recover, then handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs item id, step, attempt and outcome
//   - [Recover] turns panics into errors
//   - [Timeout] bounds each handler call
//   - [Tracing] wraps each call in an OpenTelemetry span
//   - [Metrics] records handler duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, it *item.Item, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
