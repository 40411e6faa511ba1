package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableCommandHandler struct {
	handler CommandHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableCommandHandler(handler CommandHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableCommandHandler {
	return &ObservableCommandHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "CreateOrderCommand.Handle")
	defer span.End()

	start := time.Now()
	outcome := metrics.CheckoutFailed
	defer func() {
		o.metrics.RecordCheckout(ctx, outcome, time.Since(start).Seconds())
	}()

	o.logger.InfoContext(ctx, "creating order",
		"user_id", cmd.OwnerID,
		"line_items", len(cmd.LineItems),
	)

	result, err := o.handler.Handle(ctx, cmd)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.logger.ErrorContext(ctx, "failed to create order",
			"error", err,
			"user_id", cmd.OwnerID,
		)
		return result, err
	}

	order := result.Order
	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("order.owner_id", order.OwnerID),
		attribute.Int64("order.amount_cents", order.AmountCents),
		attribute.String("order.status", string(order.Status)),
		attribute.Bool("order.pending", result.Pending),
		attribute.Bool("event.accepted", result.Receipt.Accepted),
	)

	if !result.Receipt.Accepted {
		o.logger.WarnContext(ctx, "order created but event was not published",
			"order_id", order.ID,
			"event_id", result.Receipt.EventID,
			"error", result.Receipt.Err,
		)
	}

	o.logger.InfoContext(ctx, "order created successfully",
		"order_id", order.ID,
		"user_id", order.OwnerID,
		"amount_cents", order.AmountCents,
		"pending", result.Pending,
	)

	outcome = metrics.CheckoutCreated
	if result.Pending {
		outcome = metrics.CheckoutPending
	}
	telemetry.SetSpanSuccess(span)

	return result, nil
}
