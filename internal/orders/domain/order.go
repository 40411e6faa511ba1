package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// SurchargePercent is the fixed service fee added on top of line totals.
	SurchargePercent = 2
	// MaxLineQuantity bounds the quantity of a single line item.
	MaxLineQuantity = 10_000
)

// LineItem is one product reference and quantity on an order.
type LineItem struct {
	ProductRef string `json:"productRef"`
	Quantity   int    `json:"quantity"`
}

// Address is the shipping address embedded in an order.
type Address struct {
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	Pincode     string `json:"pincode"`
	Area        string `json:"area"`
	City        string `json:"city"`
	State       string `json:"state"`
}

// Order represents a purchase placed through checkout. Everything except
// Status is immutable after creation, and Status only changes via Advance.
type Order struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"ownerId"`
	LineItems       []LineItem  `json:"lineItems"`
	AmountCents     int64       `json:"amountCents"`
	ShippingAddress Address     `json:"shippingAddress"`
	Status          OrderStatus `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	Version         int64       `json:"version"`
}

// StatusChange describes the outcome of a status request against an order.
type StatusChange struct {
	OrderID  string      `json:"orderId"`
	OwnerID  string      `json:"ownerId"`
	Previous OrderStatus `json:"previousStatus"`
	Current  OrderStatus `json:"status"`
	Changed  bool        `json:"changed"`
	// Rejected is set when the table does not allow the move; the order is left untouched.
	Rejected bool `json:"rejected,omitempty"`
}

// Transition is one entry of an order's status history.
type Transition struct {
	OrderID    string      `json:"orderId"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	EventID    string      `json:"eventId,omitempty"`
	ActorID    string      `json:"actorId,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// NewOrderParams carries the fields fixed at order creation.
type NewOrderParams struct {
	ID              string
	OwnerID         string
	LineItems       []LineItem
	AmountCents     int64
	ShippingAddress Address
	CreatedAt       time.Time
}

// NewOrder builds a validated order in the initial status.
func NewOrder(p NewOrderParams) (*Order, error) {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	items := make([]LineItem, len(p.LineItems))
	copy(items, p.LineItems)

	order := &Order{
		ID:              p.ID,
		OwnerID:         p.OwnerID,
		LineItems:       items,
		AmountCents:     p.AmountCents,
		ShippingAddress: p.ShippingAddress,
		Status:          StatusPlaced,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// Validate ensures the order adheres to business constraints.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return validationError("id is required")
	}
	if strings.TrimSpace(o.OwnerID) == "" {
		return validationError("ownerId is required")
	}
	if len(o.LineItems) == 0 {
		return validationError("at least one line item is required")
	}
	for _, item := range o.LineItems {
		if strings.TrimSpace(item.ProductRef) == "" {
			return validationError("line item productRef is required")
		}
		if item.Quantity <= 0 || item.Quantity > MaxLineQuantity {
			return validationError(fmt.Sprintf("line item quantity must be between 1 and %d", MaxLineQuantity))
		}
	}
	if o.AmountCents < 0 {
		return validationError("amountCents must not be negative")
	}
	if strings.TrimSpace(o.ShippingAddress.FullName) == "" || strings.TrimSpace(o.ShippingAddress.City) == "" {
		return validationError("shipping address requires fullName and city")
	}
	if !o.Status.IsValid() {
		return &InvalidStatusError{Value: string(o.Status)}
	}
	return nil
}

// IsTerminal indicates whether the order is in a terminal state.
func (o Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Advance moves the order to next when the transition table allows it.
// Requesting the current status, or a move outside the table, leaves the
// order untouched and reports Changed=false.
func (o *Order) Advance(next OrderStatus, now time.Time) (StatusChange, error) {
	if !next.IsValid() {
		return StatusChange{}, &InvalidStatusError{Value: string(next)}
	}

	change := StatusChange{
		OrderID:  o.ID,
		OwnerID:  o.OwnerID,
		Previous: o.Status,
		Current:  o.Status,
	}

	if next == o.Status {
		return change, nil
	}
	if !o.Status.CanTransitionTo(next) {
		change.Rejected = true
		return change, nil
	}

	o.Status = next
	o.UpdatedAt = now.UTC()

	change.Current = next
	change.Changed = true
	return change, nil
}

// LineTotal returns price times quantity in cents. Totals that do not fit
// in int64 are rejected rather than wrapped.
func LineTotal(priceCents int64, quantity int) (int64, error) {
	switch {
	case priceCents < 0:
		return 0, validationError("price must not be negative")
	case quantity <= 0:
		return 0, validationError("line item quantity must be positive")
	case priceCents > 0 && int64(quantity) > math.MaxInt64/priceCents:
		return 0, validationError("line total exceeds the supported amount")
	}
	return priceCents * int64(quantity), nil
}

// AddCents sums two non-negative amounts, rejecting overflow.
func AddCents(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, validationError("amounts must not be negative")
	}
	if a > math.MaxInt64-b {
		return 0, validationError("order total exceeds the supported amount")
	}
	return a + b, nil
}

// ComputeAmount adds the fixed surcharge, rounded down, to a line subtotal.
// The surcharge is split by hundreds so the multiply cannot overflow.
func ComputeAmount(subtotalCents int64) (int64, error) {
	if subtotalCents <= 0 {
		return 0, nil
	}
	surcharge := subtotalCents/100*SurchargePercent + subtotalCents%100*SurchargePercent/100
	return AddCents(subtotalCents, surcharge)
}
