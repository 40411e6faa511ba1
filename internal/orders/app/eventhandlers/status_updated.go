package eventhandlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/pipeline"
)

// StatusUpdated applies order/status.updated events. The apply and notify
// steps are checkpointed, so a redelivery after a failed notification does
// not apply the transition twice.
type StatusUpdated struct {
	applier  commands.StatusApplier
	notifier *Notifier
	logger   *slog.Logger
}

func NewStatusUpdated(applier commands.StatusApplier, notifier *Notifier, logger *slog.Logger) *StatusUpdated {
	return &StatusUpdated{applier: applier, notifier: notifier, logger: logger}
}

func (h *StatusUpdated) Handle(ctx context.Context, run *pipeline.Run, e events.Event) (pipeline.Outcome, error) {
	if err := events.ValidatePayload(e.Name, e.Payload); err != nil {
		return pipeline.OutcomeRejected, err
	}

	orderID, _ := e.Payload.String("orderId")
	status, _ := e.Payload.String("status")
	ownerID, _ := e.Payload.String("userId")
	actorID, _ := e.Payload.String("actorId")

	change, err := pipeline.Step(ctx, run, "apply", func(ctx context.Context) (domain.StatusChange, error) {
		return h.applier.Handle(ctx, commands.ApplyStatusCommand{
			OrderID:           orderID,
			Status:            status,
			RequestingOwnerID: ownerID,
			EventID:           e.ID,
			ActorID:           actorID,
		})
	})
	if err != nil {
		return pipeline.OutcomeFailed, terminal(fmt.Errorf("apply status %s to %s: %w", status, orderID, err))
	}

	if change.Rejected {
		h.logger.WarnContext(ctx, "status transition not allowed",
			"order_id", orderID,
			"from", change.Previous,
			"to", status,
			"event_id", e.ID,
		)
	}

	if change.Changed {
		_, err := pipeline.Step(ctx, run, "notify", func(ctx context.Context) (string, error) {
			return h.notifier.Notify(ctx, change, e.ID)
		})
		if err != nil {
			return pipeline.OutcomeFailed, err
		}
	}

	return outcomeOf(change), nil
}
