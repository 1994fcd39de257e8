package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/step"
)

// scopeName is the instrumentation scope for conveyor store telemetry.
const scopeName = "github.com/xraph/conveyor/observability"

// Compile-time interface check.
var _ item.Store = (*Store)(nil)

// Option configures Wrap.
type Option func(*options)

type options struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider sets the provider instruments are created from.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// Store decorates an item.Store with spans and counters. CRUD calls pass
// through untouched.
type Store struct {
	item.Store

	tracer trace.Tracer

	claimed   metric.Int64Counter
	reclaimed metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	skipped   metric.Int64Counter
	requeued  metric.Int64Counter
	duration  metric.Float64Histogram
}

// Wrap returns s instrumented with OpenTelemetry.
func Wrap(s item.Store, opts ...Option) *Store {
	o := options{tp: otel.GetTracerProvider(), mp: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.mp.Meter(scopeName)

	// On error the API hands back noop instruments.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{item}"))
		return c
	}
	duration, _ := meter.Float64Histogram("conveyor.store.duration",
		metric.WithDescription("Duration of lease operations in seconds"),
		metric.WithUnit("s"),
	)

	return &Store{
		Store:     s,
		tracer:    o.tp.Tracer(scopeName),
		claimed:   counter("conveyor.item.claimed", "Items leased by ClaimItems"),
		reclaimed: counter("conveyor.item.reclaimed", "Items leased by ReclaimItems"),
		completed: counter("conveyor.item.completed", "Successful completions applied"),
		failed:    counter("conveyor.item.failed", "Failed completions applied"),
		skipped:   counter("conveyor.item.skipped", "Completions skipped for lost leases"),
		requeued:  counter("conveyor.item.requeued", "Items moved back to Ready"),
		duration:  duration,
	}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() item.Store { return s.Store }

func (s *Store) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func(error)) {
	ctx, span := s.tracer.Start(ctx, "conveyor.item."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	begin := time.Now()

	return ctx, span, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		s.duration.Record(ctx, time.Since(begin).Seconds(), metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		))
		span.End()
	}
}

// ClaimItems implements item.Store.
func (s *Store) ClaimItems(ctx context.Context, owner string, stepID step.ID, limit int) ([]*item.Item, error) {
	ctx, span, end := s.start(ctx, "claim",
		attribute.String("conveyor.owner", owner),
		attribute.Int("conveyor.step_id", int(stepID)),
		attribute.Int("conveyor.limit", limit),
	)
	items, err := s.Store.ClaimItems(ctx, owner, stepID, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("conveyor.leased", len(items)))
		s.claimed.Add(ctx, int64(len(items)), stepAttr(stepID))
	}
	end(err)
	return items, err
}

// ReclaimItems implements item.Store.
func (s *Store) ReclaimItems(
	ctx context.Context, owner string, stepID step.ID, limit int,
	staleBefore time.Time, maxAttempts int,
) ([]*item.Item, error) {
	ctx, span, end := s.start(ctx, "reclaim",
		attribute.String("conveyor.owner", owner),
		attribute.Int("conveyor.step_id", int(stepID)),
		attribute.Int("conveyor.limit", limit),
		attribute.Int("conveyor.max_attempts", maxAttempts),
	)
	items, err := s.Store.ReclaimItems(ctx, owner, stepID, limit, staleBefore, maxAttempts)
	if err == nil {
		span.SetAttributes(attribute.Int("conveyor.leased", len(items)))
		s.reclaimed.Add(ctx, int64(len(items)), stepAttr(stepID))
	}
	end(err)
	return items, err
}

// CompleteItems implements item.Store. Applied completions are split into
// completed and failed by outcome; the shortfall is counted as skipped.
func (s *Store) CompleteItems(
	ctx context.Context, owner string, current step.ID, next *step.ID,
	results []item.Completion,
) (int, error) {
	ctx, span, end := s.start(ctx, "complete",
		attribute.String("conveyor.owner", owner),
		attribute.Int("conveyor.step_id", int(current)),
		attribute.Int("conveyor.results", len(results)),
	)
	n, err := s.Store.CompleteItems(ctx, owner, current, next, results)
	if err == nil {
		var failures int
		for _, r := range results {
			if r.Outcome.IsFailure() {
				failures++
			}
		}
		// Which completions were skipped is not reported, so failures are
		// capped by the applied count.
		failures = min(failures, n)
		attrs := stepAttr(current)
		s.completed.Add(ctx, int64(n-failures), attrs)
		s.failed.Add(ctx, int64(failures), attrs)
		s.skipped.Add(ctx, int64(len(results)-n), attrs)
		span.SetAttributes(attribute.Int("conveyor.applied", n))
	}
	end(err)
	return n, err
}

// ListPoison implements item.Store.
func (s *Store) ListPoison(ctx context.Context, stepID step.ID, maxAttempts, limit int) ([]*item.Item, error) {
	ctx, _, end := s.start(ctx, "list_poison",
		attribute.Int("conveyor.step_id", int(stepID)),
		attribute.Int("conveyor.max_attempts", maxAttempts),
	)
	items, err := s.Store.ListPoison(ctx, stepID, maxAttempts, limit)
	end(err)
	return items, err
}

// RequeueItem implements item.Store.
func (s *Store) RequeueItem(ctx context.Context, itemID id.ItemID) error {
	ctx, _, end := s.start(ctx, "requeue", attribute.String("conveyor.item.id", itemID.String()))
	err := s.Store.RequeueItem(ctx, itemID)
	if err == nil {
		s.requeued.Add(ctx, 1)
	}
	end(err)
	return err
}

func stepAttr(stepID step.ID) metric.AddOption {
	return metric.WithAttributes(attribute.Int("step_id", int(stepID)))
}
