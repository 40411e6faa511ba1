// Package metrics holds the order domain instruments shared by the API and
// the worker.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Checkout outcomes.
const (
	CheckoutCreated = "created"
	CheckoutPending = "pending"
	CheckoutFailed  = "error"
)

type Metrics struct {
	checkoutsTotal         metric.Int64Counter
	checkoutDuration       metric.Float64Histogram
	statusTransitionsTotal metric.Int64Counter
	degradedPublishesTotal metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.checkoutsTotal, err = meter.Int64Counter(
		"orders_created_total",
		metric.WithDescription("Checkouts by outcome: created, pending (awaiting the consumer) or error"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders_created_total counter: %w", err)
	}

	m.checkoutDuration, err = meter.Float64Histogram(
		"order_creation_duration_seconds",
		metric.WithDescription("Checkout duration from validation to event hand-off"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_creation_duration_seconds histogram: %w", err)
	}

	m.statusTransitionsTotal, err = meter.Int64Counter(
		"order_status_transitions_total",
		metric.WithDescription("Status requests applied to orders, by result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_status_transitions_total counter: %w", err)
	}

	m.degradedPublishesTotal, err = meter.Int64Counter(
		"order_events_degraded_total",
		metric.WithDescription("Order events the transport did not accept after the order was committed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_events_degraded_total counter: %w", err)
	}

	return m, nil
}

// RecordCheckout counts one checkout and its duration under outcome.
func (m *Metrics) RecordCheckout(ctx context.Context, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.checkoutsTotal.Add(ctx, 1, attrs)
	m.checkoutDuration.Record(ctx, durationSeconds, attrs)
}

// RecordStatusTransition counts one status request. result is one of
// changed, unchanged, rejected or error.
func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to, result string) {
	m.statusTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordDegradedPublish(ctx context.Context, event string) {
	m.degradedPublishesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
	))
}
