package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor/middleware"
)

func newRecorder() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  codes.Code
		wantEvent bool
	}{
		{name: "success", wantCode: codes.Ok},
		{name: "failure", err: errors.New("handler failed"), wantCode: codes.Error, wantEvent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, tracer := newRecorder()
			it := newTestItem()

			err := middleware.TracingWithTracer(tracer)(context.Background(), it, func(_ context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}

			spans := sr.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != "conveyor.item.process" {
				t.Errorf("span name = %q", span.Name())
			}
			if span.Status().Code != tt.wantCode {
				t.Errorf("status = %v, want %v", span.Status().Code, tt.wantCode)
			}
			if tt.err != nil && span.Status().Description != tt.err.Error() {
				t.Errorf("status description = %q", span.Status().Description)
			}

			var sawException bool
			for _, ev := range span.Events() {
				sawException = sawException || ev.Name == "exception"
			}
			if sawException != tt.wantEvent {
				t.Errorf("exception event recorded = %v, want %v", sawException, tt.wantEvent)
			}
		})
	}
}

func TestTracing_ItemAttributes(t *testing.T) {
	sr, tracer := newRecorder()
	it := newTestItem()

	_ = middleware.TracingWithTracer(tracer)(context.Background(), it, func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	got := make(map[attribute.Key]attribute.Value)
	for _, a := range spans[0].Attributes() {
		got[a.Key] = a.Value
	}
	if v := got["conveyor.item.id"].AsString(); v != it.ID.String() {
		t.Errorf("conveyor.item.id = %q, want %q", v, it.ID)
	}
	if v := got["conveyor.step_id"].AsInt64(); v != 3 {
		t.Errorf("conveyor.step_id = %d, want 3", v)
	}
	if v := got["conveyor.attempt"].AsInt64(); v != 2 {
		t.Errorf("conveyor.attempt = %d, want 2", v)
	}
}

func TestTracing_HandlerSeesSpan(t *testing.T) {
	sr, tracer := newRecorder()

	var inner trace.SpanContext
	_ = middleware.TracingWithTracer(tracer)(context.Background(), newTestItem(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if !inner.IsValid() || inner.SpanID() != spans[0].SpanContext().SpanID() {
		t.Fatal("handler context does not carry the item span")
	}
}

func TestTracing_GlobalProvider(t *testing.T) {
	called := false
	err := middleware.Tracing()(context.Background(), newTestItem(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("handler called = %v, err = %v", called, err)
	}
}
