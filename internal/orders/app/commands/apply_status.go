package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

const maxSaveAttempts = 3

// ApplyStatusCommand requests a status for an order. RequestingOwnerID, when
// set, must match the order owner. EventID and ActorID are recorded on the
// transition for reconciliation.
type ApplyStatusCommand struct {
	OrderID           string
	Status            string
	RequestingOwnerID string
	EventID           string
	ActorID           string
}

func (c ApplyStatusCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return fmt.Errorf("%w: orderId is required", domain.ErrValidation)
	}
	return nil
}

type StatusApplier interface {
	Handle(ctx context.Context, cmd ApplyStatusCommand) (domain.StatusChange, error)
}

// ApplyStatusCommandHandler is the only writer of order status after creation.
type ApplyStatusCommandHandler struct {
	repo ports.OrderRepository
	now  func() time.Time
}

func NewApplyStatusCommandHandler(repo ports.OrderRepository) *ApplyStatusCommandHandler {
	return &ApplyStatusCommandHandler{repo: repo, now: time.Now}
}

// Handle applies the transition idempotently. Repeating a status or asking
// for a move outside the table succeeds without touching the order.
func (h *ApplyStatusCommandHandler) Handle(ctx context.Context, cmd ApplyStatusCommand) (domain.StatusChange, error) {
	if err := cmd.Validate(); err != nil {
		return domain.StatusChange{}, err
	}

	next, err := domain.ParseStatus(cmd.Status)
	if err != nil {
		return domain.StatusChange{}, err
	}

	for attempt := 1; ; attempt++ {
		change, err := h.apply(ctx, cmd, next)
		if !errors.Is(err, ports.ErrConflict) || attempt == maxSaveAttempts {
			return change, err
		}
	}
}

func (h *ApplyStatusCommandHandler) apply(ctx context.Context, cmd ApplyStatusCommand, next domain.OrderStatus) (domain.StatusChange, error) {
	order, err := h.repo.GetByID(ctx, cmd.OrderID)
	if err != nil {
		return domain.StatusChange{}, err
	}

	if err := auth.CanMutateOrder(cmd.RequestingOwnerID, order.OwnerID); err != nil {
		return domain.StatusChange{}, fmt.Errorf("order %s: %w", order.ID, err)
	}

	now := h.now().UTC()
	change, err := order.Advance(next, now)
	if err != nil || !change.Changed {
		return change, err
	}

	transition := domain.Transition{
		OrderID:    order.ID,
		From:       change.Previous,
		To:         change.Current,
		EventID:    cmd.EventID,
		ActorID:    cmd.ActorID,
		OccurredAt: now,
	}
	if err := h.repo.Save(ctx, *order, transition); err != nil {
		return domain.StatusChange{}, err
	}

	return change, nil
}
