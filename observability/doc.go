// Package observability instruments an item.Store with OpenTelemetry.
//
// [Wrap] returns a store that opens a span around each lease operation and
// records how many items were claimed, reclaimed, completed, failed,
// skipped and requeued. Spans and instruments come from the global
// providers unless [WithTracerProvider] or [WithMeterProvider] is given.
//
// For per-handler tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
