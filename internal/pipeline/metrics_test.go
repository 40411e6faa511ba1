package pipeline

import (
	"context"
	"testing"

	"github.com/dejobratic/orderflow/internal/events"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordOutcome(t *testing.T) {
	t.Run("counts outcomes per event name", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

		metrics, err := NewMetrics(mp.Meter("test"))
		if err != nil {
			t.Fatalf("NewMetrics() failed: %v", err)
		}

		ctx := context.Background()
		metrics.RecordOutcome(ctx, events.OrderCreated, OutcomeProcessed)
		metrics.RecordOutcome(ctx, events.OrderCreated, OutcomeProcessed)
		metrics.RecordOutcome(ctx, events.OrderStatusUpdated, OutcomeDropped)
		metrics.RecordHandlerDuration(ctx, events.OrderCreated, 0.01)
		metrics.RecordBatch(ctx, 2)

		var rm metricdata.ResourceMetrics
		if err := reader.Collect(ctx, &rm); err != nil {
			t.Fatalf("Failed to collect metrics: %v", err)
		}

		found := map[string]bool{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				found[m.Name] = true
				if m.Name != "events_processed_total" {
					continue
				}
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatal("Expected Sum[int64] data type")
				}
				if len(sum.DataPoints) != 2 {
					t.Errorf("Expected 2 data points, got %d", len(sum.DataPoints))
				}
			}
		}

		for _, name := range []string{"events_processed_total", "event_handler_duration_seconds", "event_batch_size"} {
			if !found[name] {
				t.Errorf("%s metric not found", name)
			}
		}
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		var metrics *Metrics
		metrics.RecordOutcome(context.Background(), events.OrderCreated, OutcomeProcessed)
		metrics.RecordBatch(context.Background(), 1)
	})
}
