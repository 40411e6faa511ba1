package queries

import (
	"context"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type GetTransitionsQuery struct {
	OrderID   string
	Principal auth.Principal
}

// GetTransitionsQueryHandler returns the status history used to reconcile an order.
type GetTransitionsQueryHandler struct {
	orders *GetOrderQueryHandler
	repo   ports.OrderRepository
}

func NewGetTransitionsQueryHandler(repo ports.OrderRepository) *GetTransitionsQueryHandler {
	return &GetTransitionsQueryHandler{orders: NewGetOrderQueryHandler(repo), repo: repo}
}

func (h *GetTransitionsQueryHandler) Handle(ctx context.Context, query GetTransitionsQuery) ([]domain.Transition, error) {
	if _, err := h.orders.Handle(ctx, GetOrderQuery(query)); err != nil {
		return nil, err
	}
	return h.repo.Transitions(ctx, query.OrderID)
}
