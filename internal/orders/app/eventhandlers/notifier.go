package eventhandlers

import (
	"context"
	"fmt"

	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Notifier announces applied transitions as order/status.changed. A nil
// Notifier is valid and announces nothing.
type Notifier struct {
	publisher ports.EventPublisher
}

func NewNotifier(publisher ports.EventPublisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// Notify publishes change when it moved the order and returns the event id.
func (n *Notifier) Notify(ctx context.Context, change domain.StatusChange, causeID string) (string, error) {
	if n == nil || !change.Changed {
		return "", nil
	}

	receipt := n.publisher.Publish(ctx, events.OrderStatusChanged, events.Payload{
		"orderId":        change.OrderID,
		"status":         string(change.Current),
		"previousStatus": string(change.Previous),
		"userId":         change.OwnerID,
		"causeId":        causeID,
	})
	if !receipt.Accepted {
		return "", fmt.Errorf("notify %s: %w", change.OrderID, receipt.Err)
	}
	return receipt.EventID, nil
}
