package queries

import (
	"context"
	"fmt"
	"strings"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type GetOrderQuery struct {
	OrderID   string
	Principal auth.Principal
}

func (q GetOrderQuery) Validate() error {
	if strings.TrimSpace(q.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	return nil
}

// GetOrderQueryHandler loads one order for its owner or a seller. Anonymous
// callers are refused before the repository is read.
type GetOrderQueryHandler struct {
	repo ports.OrderRepository
}

func NewGetOrderQueryHandler(repo ports.OrderRepository) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{repo: repo}
}

func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*domain.Order, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if !query.Principal.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}

	order, err := h.repo.GetByID(ctx, strings.TrimSpace(query.OrderID))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", query.OrderID, err)
	}
	if err := auth.CanViewOrder(query.Principal, order.OwnerID); err != nil {
		return nil, err
	}
	return order, nil
}
