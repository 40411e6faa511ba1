package events

import (
	"context"
	"time"

	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ObservableTransport records a span and publish metrics around a Transport.
type ObservableTransport struct {
	transport Transport
	metrics   *Metrics
}

func NewObservableTransport(transport Transport, metrics *Metrics) *ObservableTransport {
	return &ObservableTransport{
		transport: transport,
		metrics:   metrics,
	}
}

func (t *ObservableTransport) Send(ctx context.Context, events ...Event) error {
	ctx, span := telemetry.StartSpan(ctx, "EventTransport.Send", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	attrs := []attribute.KeyValue{attribute.Int("event.count", len(events))}
	if len(events) == 1 {
		attrs = append(attrs,
			attribute.String("event.name", string(events[0].Name)),
			attribute.String("event.id", events[0].ID),
			attribute.String("order.id", events[0].OrderID()),
			attribute.Int("event.attempt", events[0].Attempt),
		)
	}
	telemetry.AddSpanAttributes(span, attrs...)

	carrier := telemetry.InjectTrace(ctx)
	if carrier != nil {
		traced := make([]Event, len(events))
		for i, e := range events {
			e.Trace = carrier
			traced[i] = e
		}
		events = traced
	}

	start := time.Now()
	err := t.transport.Send(ctx, events...)
	duration := time.Since(start).Seconds()

	for _, e := range events {
		t.metrics.RecordPublish(ctx, e.Name, duration, err == nil)
	}

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}
