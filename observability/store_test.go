package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/item"
	"github.com/xraph/conveyor/observability"
	"github.com/xraph/conveyor/step"
	"github.com/xraph/conveyor/store/memory"
)

type harness struct {
	store  *observability.Store
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func setup(t *testing.T) harness {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	s := observability.Wrap(memory.New(),
		observability.WithTracerProvider(tp),
		observability.WithMeterProvider(mp),
	)
	return harness{store: s, spans: sr, reader: reader}
}

func (h harness) seed(t *testing.T, stepID step.ID, n int) []id.ItemID {
	t.Helper()
	ids := make([]id.ItemID, 0, n)
	for range n {
		it := item.New(stepID, nil)
		if err := h.store.CreateItem(context.Background(), it); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		ids = append(ids, it.ID)
	}
	return ids
}

func (h harness) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func (h harness) spanNames() []string {
	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func TestClaimAndComplete(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	ids := h.seed(t, 1, 3)

	claimed, err := h.store.ClaimItems(ctx, "w1", 1, 10)
	if err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d, want 3", len(claimed))
	}

	next := step.ID(2)
	n, err := h.store.CompleteItems(ctx, "w1", 1, &next, []item.Completion{
		item.Succeed(ids[0]),
		item.Succeed(ids[1]),
		item.Fail(ids[2], "bad input"),
		item.Succeed(id.NewItemID()),
	})
	if err != nil {
		t.Fatalf("CompleteItems: %v", err)
	}
	if n != 3 {
		t.Fatalf("applied %d, want 3", n)
	}

	want := map[string]int64{
		"conveyor.item.claimed":   3,
		"conveyor.item.completed": 2,
		"conveyor.item.failed":    1,
		"conveyor.item.skipped":   1,
	}
	for name, v := range want {
		if got := h.counter(t, name); got != v {
			t.Errorf("%s = %d, want %d", name, got, v)
		}
	}

	names := h.spanNames()
	if len(names) != 2 || names[0] != "conveyor.item.claim" || names[1] != "conveyor.item.complete" {
		t.Fatalf("unexpected spans %v", names)
	}
}

func TestClaimSpanAttributes(t *testing.T) {
	h := setup(t)
	h.seed(t, 4, 2)

	if _, err := h.store.ClaimItems(context.Background(), "w9", 4, 1); err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}

	spans := h.spans.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, a := range spans[0].Attributes() {
		attrs[a.Key] = a.Value
	}

	if got := attrs["conveyor.owner"].AsString(); got != "w9" {
		t.Errorf("owner = %q, want w9", got)
	}
	if got := attrs["conveyor.step_id"].AsInt64(); got != 4 {
		t.Errorf("step_id = %d, want 4", got)
	}
	if got := attrs["conveyor.leased"].AsInt64(); got != 1 {
		t.Errorf("leased = %d, want 1", got)
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}
}

func TestErrorSetsSpanStatus(t *testing.T) {
	h := setup(t)

	_, err := h.store.ClaimItems(context.Background(), "", 1, 1)
	if !errors.Is(err, conveyor.ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}

	spans := h.spans.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
	found := false
	for _, ev := range spans[0].Events() {
		if ev.Name == "exception" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
	if got := h.counter(t, "conveyor.item.claimed"); got != 0 {
		t.Errorf("failed claim counted %d items", got)
	}
}

func TestReclaimAndRequeue(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	ids := h.seed(t, 1, 1)

	if _, err := h.store.ClaimItems(ctx, "w1", 1, 1); err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	if _, err := h.store.CompleteItems(ctx, "w1", 1, nil, []item.Completion{item.Fail(ids[0], "boom")}); err != nil {
		t.Fatalf("CompleteItems: %v", err)
	}

	poison, err := h.store.ListPoison(ctx, 1, 1, 10)
	if err != nil {
		t.Fatalf("ListPoison: %v", err)
	}
	if len(poison) != 1 {
		t.Fatalf("poison = %d, want 1", len(poison))
	}
	if err := h.store.RequeueItem(ctx, ids[0]); err != nil {
		t.Fatalf("RequeueItem: %v", err)
	}
	if _, err := h.store.ClaimItems(ctx, "w2", 1, 1); err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	reclaimed, err := h.store.ReclaimItems(ctx, "w3", 1, 1, time.Now().Add(time.Hour), 5)
	if err != nil {
		t.Fatalf("ReclaimItems: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("reclaimed %d, want 1", len(reclaimed))
	}

	if got := h.counter(t, "conveyor.item.requeued"); got != 1 {
		t.Errorf("requeued = %d, want 1", got)
	}
	if got := h.counter(t, "conveyor.item.reclaimed"); got != 1 {
		t.Errorf("reclaimed = %d, want 1", got)
	}
}

func TestPassThroughAndUnwrap(t *testing.T) {
	h := setup(t)
	ids := h.seed(t, 1, 2)

	n, err := h.store.CountItems(context.Background(), item.CountOpts{})
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if n != int64(len(ids)) {
		t.Fatalf("count = %d, want %d", n, len(ids))
	}
	if _, ok := h.store.Unwrap().(*memory.Store); !ok {
		t.Fatalf("Unwrap returned %T", h.store.Unwrap())
	}
	if names := h.spanNames(); len(names) != 0 {
		t.Fatalf("CRUD calls must not open spans, got %v", names)
	}
}
