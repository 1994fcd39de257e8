package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conveyor/middleware"
)

// collect returns the data of every metric recorded by reader, keyed by name.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics_Records(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{name: "success", wantStatus: "ok"},
		{name: "failure", err: errors.New("boom"), wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			mw := middleware.MetricsWithMeter(mp.Meter("test"))

			err := mw(context.Background(), newTestItem(), func(_ context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}

			data := collect(t, reader)

			hist, ok := data["conveyor.item.duration"].(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("conveyor.item.duration: unexpected data %#v", data["conveyor.item.duration"])
			}
			if hist.DataPoints[0].Count != 1 {
				t.Errorf("duration count = %d, want 1", hist.DataPoints[0].Count)
			}

			sum, ok := data["conveyor.item.executions"].(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("conveyor.item.executions: unexpected data %#v", data["conveyor.item.executions"])
			}
			dp := sum.DataPoints[0]
			if dp.Value != 1 {
				t.Errorf("executions = %d, want 1", dp.Value)
			}
			if v, ok := dp.Attributes.Value("status"); !ok || v.AsString() != tt.wantStatus {
				t.Errorf("status attribute = %v, want %q", v.AsString(), tt.wantStatus)
			}
			if v, ok := dp.Attributes.Value("step_id"); !ok || v.AsInt64() != 3 {
				t.Errorf("step_id attribute = %v, want 3", v.AsInt64())
			}
		})
	}
}

func TestMetrics_GlobalProvider(t *testing.T) {
	called := false
	err := middleware.Metrics()(context.Background(), newTestItem(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("handler called = %v, err = %v", called, err)
	}
}
