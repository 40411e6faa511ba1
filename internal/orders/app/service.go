package app

import (
	"context"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/app/queries"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Service bundles use cases for handling orders via the API.
type Service struct {
	idemStore           ports.IdempotencyStore
	createOrderHandler  commands.CommandHandler
	updateStatusHandler *commands.UpdateStatusCommandHandler
	getOrderHandler     *queries.GetOrderQueryHandler
	listOrdersHandler   *queries.ListOrdersQueryHandler
	transitionsHandler  *queries.GetTransitionsQueryHandler
	mode                commands.CreationMode
}

// NewService wires required dependencies.
func NewService(
	repo ports.OrderRepository,
	catalog ports.ProductCatalog,
	publisher ports.EventPublisher,
	idem ports.IdempotencyStore,
	mode commands.CreationMode,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *Service {
	createHandler := commands.NewObservableCommandHandler(
		commands.NewCreateOrderCommandHandler(repo, catalog, publisher, mode),
		logger,
		metrics,
	)
	applier := commands.NewObservableStatusApplier(
		commands.NewApplyStatusCommandHandler(repo),
		logger,
		metrics,
	)

	return &Service{
		idemStore:           idem,
		createOrderHandler:  createHandler,
		updateStatusHandler: commands.NewUpdateStatusCommandHandler(applier, publisher),
		getOrderHandler:     queries.NewGetOrderQueryHandler(repo),
		listOrdersHandler:   queries.NewListOrdersQueryHandler(repo),
		transitionsHandler:  queries.NewGetTransitionsQueryHandler(repo),
		mode:                mode,
	}
}

// CreateOrderInput captures payload for creating an order.
type CreateOrderInput struct {
	LineItems       []domain.LineItem `json:"lineItems"`
	ShippingAddress domain.Address    `json:"shippingAddress"`
}

// CreateOrder runs checkout for the principal.
func (s *Service) CreateOrder(ctx context.Context, principal auth.Principal, input CreateOrderInput) (commands.CreateOrderResult, error) {
	return s.createOrderHandler.Handle(ctx, commands.CreateOrderCommand{
		OwnerID:         principal.UserID,
		LineItems:       input.LineItems,
		ShippingAddress: input.ShippingAddress,
	})
}

// UpdateStatus applies a seller's status change and announces it.
func (s *Service) UpdateStatus(ctx context.Context, principal auth.Principal, orderID, status string) (commands.UpdateStatusResult, error) {
	return s.updateStatusHandler.Handle(ctx, commands.UpdateStatusCommand{
		OrderID:   orderID,
		Status:    status,
		Principal: principal,
	})
}

// GetOrder retrieves an order by ID.
func (s *Service) GetOrder(ctx context.Context, principal auth.Principal, id string) (*domain.Order, error) {
	return s.getOrderHandler.Handle(ctx, queries.GetOrderQuery{OrderID: id, Principal: principal})
}

// ListOrders returns orders visible to the principal.
func (s *Service) ListOrders(ctx context.Context, query queries.ListOrdersQuery) ([]domain.Order, error) {
	return s.listOrdersHandler.Handle(ctx, query)
}

// Transitions returns an order's status history.
func (s *Service) Transitions(ctx context.Context, principal auth.Principal, id string) ([]domain.Transition, error) {
	return s.transitionsHandler.Handle(ctx, queries.GetTransitionsQuery{OrderID: id, Principal: principal})
}

// CreationMode reports how checkout persists orders.
func (s *Service) CreationMode() commands.CreationMode {
	return s.mode
}

// ReserveIdempotencyKey claims key for a new checkout, or returns the response
// an earlier checkout stored under it.
func (s *Service) ReserveIdempotencyKey(ctx context.Context, key string) (*ports.StoredResponse, error) {
	return s.idemStore.Reserve(ctx, key)
}

// ReleaseIdempotencyKey frees a reservation whose checkout failed.
func (s *Service) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return s.idemStore.Release(ctx, key)
}

// SaveIdempotentResponse writes response details for a key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}
