package queries

import (
	"context"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

const maxPageSize = 100

type ListOrdersQuery struct {
	Principal auth.Principal
	Status    string
	Page      int
	PageSize  int
}

type ListOrdersQueryHandler struct {
	repo ports.OrderRepository
}

func NewListOrdersQueryHandler(repo ports.OrderRepository) *ListOrdersQueryHandler {
	return &ListOrdersQueryHandler{repo: repo}
}

// Handle lists the principal's own orders, or every order for sellers.
func (h *ListOrdersQueryHandler) Handle(ctx context.Context, query ListOrdersQuery) ([]domain.Order, error) {
	if query.Principal.UserID == "" {
		return nil, auth.ErrUnauthenticated
	}

	filter := ports.ListFilter{
		Page:     query.Page,
		PageSize: min(query.PageSize, maxPageSize),
	}
	if !query.Principal.HasRole(auth.RoleSeller) {
		filter.OwnerID = query.Principal.UserID
	}
	if query.Status != "" {
		status, err := domain.ParseStatus(query.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = &status
	}

	return h.repo.List(ctx, filter)
}
