package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/google/uuid"
)

// CreationMode selects the single authoritative creation path of a deployment.
type CreationMode string

const (
	// ModeAdvance writes the order at checkout; the consumer moves it to processing.
	ModeAdvance CreationMode = "advance"
	// ModeMaterialize publishes the order at checkout; the consumer writes it.
	ModeMaterialize CreationMode = "materialize"
)

func ParseCreationMode(raw string) (CreationMode, error) {
	switch mode := CreationMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeAdvance, ModeMaterialize:
		return mode, nil
	case "":
		return ModeAdvance, nil
	default:
		return "", fmt.Errorf("unknown creation mode %q", raw)
	}
}

// ErrPublishRequired is returned in materialize mode when the event that
// carries the order could not be handed to the transport.
var ErrPublishRequired = errors.New("order event was not accepted")

type CreateOrderCommand struct {
	OwnerID         string
	LineItems       []domain.LineItem
	ShippingAddress domain.Address
}

func (c CreateOrderCommand) Validate() error {
	if strings.TrimSpace(c.OwnerID) == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if len(c.LineItems) == 0 {
		return fmt.Errorf("%w: at least one line item is required", domain.ErrValidation)
	}
	for _, item := range c.LineItems {
		if strings.TrimSpace(item.ProductRef) == "" {
			return fmt.Errorf("%w: line item productRef is required", domain.ErrValidation)
		}
		if item.Quantity <= 0 || item.Quantity > domain.MaxLineQuantity {
			return fmt.Errorf("%w: line item quantity must be between 1 and %d", domain.ErrValidation, domain.MaxLineQuantity)
		}
	}
	if strings.TrimSpace(c.ShippingAddress.FullName) == "" || strings.TrimSpace(c.ShippingAddress.City) == "" {
		return fmt.Errorf("%w: shipping address requires fullName and city", domain.ErrValidation)
	}
	return nil
}

// CreateOrderResult carries the order and the outcome of announcing it.
// Pending is set in materialize mode, where the order is not stored yet.
type CreateOrderResult struct {
	Order   *domain.Order
	Receipt events.Receipt
	Pending bool
}

type CommandHandler interface {
	Handle(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
}

type CreateOrderCommandHandler struct {
	repo      ports.OrderRepository
	catalog   ports.ProductCatalog
	publisher ports.EventPublisher
	mode      CreationMode
}

func NewCreateOrderCommandHandler(
	repo ports.OrderRepository,
	catalog ports.ProductCatalog,
	publisher ports.EventPublisher,
	mode CreationMode,
) *CreateOrderCommandHandler {
	if mode == "" {
		mode = ModeAdvance
	}
	return &CreateOrderCommandHandler{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		mode:      mode,
	}
}

func (h *CreateOrderCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if err := cmd.Validate(); err != nil {
		return CreateOrderResult{}, err
	}

	subtotal, err := h.price(ctx, cmd.LineItems)
	if err != nil {
		return CreateOrderResult{}, err
	}
	amount, err := domain.ComputeAmount(subtotal)
	if err != nil {
		return CreateOrderResult{}, err
	}

	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:              uuid.NewString(),
		OwnerID:         cmd.OwnerID,
		LineItems:       cmd.LineItems,
		AmountCents:     amount,
		ShippingAddress: cmd.ShippingAddress,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return CreateOrderResult{}, err
	}

	if h.mode == ModeMaterialize {
		receipt := h.publisher.Publish(ctx, events.OrderCreated, MaterializePayload(*order))
		if !receipt.Accepted {
			return CreateOrderResult{Order: order, Receipt: receipt}, fmt.Errorf("%w: %w", ErrPublishRequired, receipt.Err)
		}
		return CreateOrderResult{Order: order, Receipt: receipt, Pending: true}, nil
	}

	if err := h.repo.Create(ctx, *order); err != nil {
		return CreateOrderResult{}, err
	}

	receipt := h.publisher.Publish(ctx, events.OrderCreated, events.Payload{
		"orderId": order.ID,
		"userId":  order.OwnerID,
	})
	return CreateOrderResult{Order: order, Receipt: receipt}, nil
}

func (h *CreateOrderCommandHandler) price(ctx context.Context, items []domain.LineItem) (int64, error) {
	var subtotal int64
	for _, item := range items {
		price, err := h.catalog.PriceOf(ctx, item.ProductRef)
		if err != nil {
			if errors.Is(err, ports.ErrUnknownProduct) {
				return 0, fmt.Errorf("%w: %w: %s", domain.ErrValidation, err, item.ProductRef)
			}
			return 0, fmt.Errorf("price %s: %w", item.ProductRef, err)
		}
		line, err := domain.LineTotal(price, item.Quantity)
		if err != nil {
			return 0, fmt.Errorf("price %s: %w", item.ProductRef, err)
		}
		if subtotal, err = domain.AddCents(subtotal, line); err != nil {
			return 0, err
		}
	}
	return subtotal, nil
}

// MaterializePayload is the order/created payload that carries the full order.
func MaterializePayload(order domain.Order) events.Payload {
	items := make([]any, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		items = append(items, map[string]any{
			"productRef": item.ProductRef,
			"quantity":   item.Quantity,
		})
	}
	return events.Payload{
		"orderId":     order.ID,
		"userId":      order.OwnerID,
		"lineItems":   items,
		"amountCents": order.AmountCents,
		"shippingAddress": map[string]any{
			"fullName":    order.ShippingAddress.FullName,
			"phoneNumber": order.ShippingAddress.PhoneNumber,
			"pincode":     order.ShippingAddress.Pincode,
			"area":        order.ShippingAddress.Area,
			"city":        order.ShippingAddress.City,
			"state":       order.ShippingAddress.State,
		},
		"createdAt": order.CreatedAt.Format(time.RFC3339Nano),
	}
}
