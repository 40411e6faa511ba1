package commands

import (
	"context"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableStatusApplier struct {
	applier StatusApplier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableStatusApplier(applier StatusApplier, logger *slog.Logger, metrics *metrics.Metrics) *ObservableStatusApplier {
	return &ObservableStatusApplier{
		applier: applier,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableStatusApplier) Handle(ctx context.Context, cmd ApplyStatusCommand) (domain.StatusChange, error) {
	ctx, span := telemetry.StartSpan(ctx, "ApplyStatusCommand.Handle")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.requested_status", cmd.Status),
		attribute.String("event.id", cmd.EventID),
	)

	change, err := o.applier.Handle(ctx, cmd)
	if err != nil {
		o.metrics.RecordStatusTransition(ctx, "", cmd.Status, "error")
		telemetry.RecordSpanError(span, err)
		o.logger.WarnContext(ctx, "status not applied",
			"order_id", cmd.OrderID,
			"status", cmd.Status,
			"event_id", cmd.EventID,
			"error", err,
		)
		return change, err
	}

	result := "unchanged"
	switch {
	case change.Changed:
		result = "changed"
	case change.Rejected:
		result = "rejected"
	}
	o.metrics.RecordStatusTransition(ctx, string(change.Previous), cmd.Status, result)

	telemetry.AddSpanAttributes(span,
		attribute.String("order.previous_status", string(change.Previous)),
		attribute.String("order.status", string(change.Current)),
		attribute.String("transition.result", result),
	)

	if change.Rejected {
		o.logger.WarnContext(ctx, "status transition not allowed",
			"order_id", cmd.OrderID,
			"from", change.Previous,
			"to", cmd.Status,
			"event_id", cmd.EventID,
		)
	} else {
		o.logger.InfoContext(ctx, "status applied",
			"order_id", cmd.OrderID,
			"from", change.Previous,
			"to", change.Current,
			"changed", change.Changed,
			"event_id", cmd.EventID,
		)
	}

	telemetry.SetSpanSuccess(span)
	return change, nil
}
