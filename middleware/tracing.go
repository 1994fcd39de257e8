package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor/item"
)

// tracerName is the instrumentation scope name for conveyor tracing.
const tracerName = "github.com/xraph/conveyor"

// Tracing returns middleware that wraps each handler call in an
// OpenTelemetry span from the global TracerProvider.
//
// Span attributes: conveyor.item.id, conveyor.step_id, conveyor.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) error {
		ctx, span := tracer.Start(ctx, "conveyor.item.process",
			trace.WithAttributes(
				attribute.String("conveyor.item.id", it.ID.String()),
				attribute.Int("conveyor.step_id", int(it.StepID)),
				attribute.Int("conveyor.attempt", it.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
