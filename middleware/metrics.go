package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor/item"
)

// meterName is the instrumentation scope name for conveyor metrics.
const meterName = "github.com/xraph/conveyor"

// Metrics returns middleware that records handler metrics using the global
// MeterProvider.
//
// Instruments:
//   - conveyor.item.duration (Float64Histogram): handler time in seconds,
//     with attributes: step_id, status ("ok" or "error")
//   - conveyor.item.executions (Int64Counter): handler calls,
//     with attributes: step_id, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"conveyor.item.duration",
		metric.WithDescription("Duration of item handler calls in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"conveyor.item.executions",
		metric.WithDescription("Total number of item handler calls"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, it *item.Item, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.Int("step_id", int(it.StepID)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
