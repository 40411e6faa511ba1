package kafka

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments the Kafka transport and source. A nil *Metrics
// records nothing.
type Metrics struct {
	producerLatency metric.Float64Histogram
	producedTotal   metric.Int64Counter
	consumedTotal   metric.Int64Counter
	committedTotal  metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.producerLatency, err = meter.Float64Histogram(
		"kafka_producer_latency_seconds",
		metric.WithDescription("Kafka producer latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_producer_latency histogram: %w", err)
	}

	m.producedTotal, err = meter.Int64Counter(
		"kafka_messages_produced_total",
		metric.WithDescription("Kafka messages written by the producer"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_messages_produced_total counter: %w", err)
	}

	m.consumedTotal, err = meter.Int64Counter(
		"kafka_messages_consumed_total",
		metric.WithDescription("Kafka messages fetched by the consumer"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_messages_consumed_total counter: %w", err)
	}

	m.committedTotal, err = meter.Int64Counter(
		"kafka_messages_committed_total",
		metric.WithDescription("Kafka message offsets committed by the consumer"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka_messages_committed_total counter: %w", err)
	}

	return m, nil
}

// RecordPublish records one write of count messages.
func (m *Metrics) RecordPublish(ctx context.Context, topic string, count int, durationSeconds float64, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", statusLabel(success)),
	)
	m.producerLatency.Record(ctx, durationSeconds, attrs)
	m.producedTotal.Add(ctx, int64(count), attrs)
}

func (m *Metrics) RecordConsumed(ctx context.Context, topic string, decoded bool) {
	if m == nil {
		return
	}
	m.consumedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", statusLabel(decoded)),
	))
}

func (m *Metrics) RecordCommit(ctx context.Context, topic string, count int, success bool) {
	if m == nil {
		return
	}
	m.committedTotal.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", statusLabel(success)),
	))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
