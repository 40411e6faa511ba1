package pipeline

import (
	"context"
	"fmt"

	"github.com/dejobratic/orderflow/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	processedTotal  metric.Int64Counter
	handlerDuration metric.Float64Histogram
	batchSize       metric.Int64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.processedTotal, err = meter.Int64Counter(
		"events_processed_total",
		metric.WithDescription("Events settled by the consumer, by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events_processed_total counter: %w", err)
	}

	m.handlerDuration, err = meter.Float64Histogram(
		"event_handler_duration_seconds",
		metric.WithDescription("Duration of event handler invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create event_handler_duration histogram: %w", err)
	}

	m.batchSize, err = meter.Int64Histogram(
		"event_batch_size",
		metric.WithDescription("Number of events per dispatched batch"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create event_batch_size histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordOutcome(ctx context.Context, name events.Name, outcome Outcome) {
	if m == nil {
		return
	}
	m.processedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(name)),
		attribute.String("outcome", string(outcome)),
	))
}

func (m *Metrics) RecordHandlerDuration(ctx context.Context, name events.Name, durationSeconds float64) {
	if m == nil {
		return
	}
	m.handlerDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("event", string(name)),
	))
}

func (m *Metrics) RecordBatch(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.batchSize.Record(ctx, int64(size))
}
