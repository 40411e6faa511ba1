package commands

import (
	"context"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type UpdateStatusCommand struct {
	OrderID   string
	Status    string
	Principal auth.Principal
}

type UpdateStatusResult struct {
	Change  domain.StatusChange
	Receipt events.Receipt
}

// UpdateStatusCommandHandler serves the seller status action: it applies the
// transition synchronously and then announces it for downstream consumers.
type UpdateStatusCommandHandler struct {
	applier   StatusApplier
	publisher ports.EventPublisher
}

func NewUpdateStatusCommandHandler(applier StatusApplier, publisher ports.EventPublisher) *UpdateStatusCommandHandler {
	return &UpdateStatusCommandHandler{applier: applier, publisher: publisher}
}

func (h *UpdateStatusCommandHandler) Handle(ctx context.Context, cmd UpdateStatusCommand) (UpdateStatusResult, error) {
	if err := auth.CanManageOrders(cmd.Principal); err != nil {
		return UpdateStatusResult{}, err
	}

	change, err := h.applier.Handle(ctx, ApplyStatusCommand{
		OrderID: cmd.OrderID,
		Status:  cmd.Status,
		ActorID: cmd.Principal.UserID,
	})
	if err != nil {
		return UpdateStatusResult{}, err
	}

	result := UpdateStatusResult{Change: change}
	if !change.Changed {
		return result, nil
	}

	result.Receipt = h.publisher.Publish(ctx, events.OrderStatusUpdated, events.Payload{
		"orderId":        change.OrderID,
		"status":         string(change.Current),
		"previousStatus": string(change.Previous),
		"userId":         change.OwnerID,
		"actorId":        cmd.Principal.UserID,
	})
	return result, nil
}
