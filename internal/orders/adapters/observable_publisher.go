package adapters

import (
	"context"

	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservablePublisher traces publishes and counts those the transport did
// not accept.
type ObservablePublisher struct {
	publisher ports.EventPublisher
	metrics   *metrics.Metrics
}

func NewObservablePublisher(publisher ports.EventPublisher, metrics *metrics.Metrics) *ObservablePublisher {
	return &ObservablePublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *ObservablePublisher) Publish(ctx context.Context, name events.Name, payload events.Payload) events.Receipt {
	ctx, span := telemetry.StartSpan(ctx, "EventPublisher.Publish")
	defer span.End()

	orderID, _ := payload.String("orderId")
	telemetry.AddSpanAttributes(span,
		attribute.String("event.name", string(name)),
		attribute.String("order.id", orderID),
	)

	receipt := p.publisher.Publish(ctx, name, payload)

	telemetry.AddSpanAttributes(span,
		attribute.String("event.id", receipt.EventID),
		attribute.Bool("event.accepted", receipt.Accepted),
	)

	if !receipt.Accepted {
		p.metrics.RecordDegradedPublish(ctx, string(name))
		if receipt.Err != nil {
			telemetry.RecordSpanError(span, receipt.Err)
		}
		return receipt
	}

	telemetry.SetSpanSuccess(span)
	return receipt
}
