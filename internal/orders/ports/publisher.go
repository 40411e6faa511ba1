package ports

import (
	"context"

	"github.com/dejobratic/orderflow/internal/events"
)

// EventPublisher emits order events after local state has committed. It
// reports failures in the receipt instead of returning an error.
type EventPublisher interface {
	Publish(ctx context.Context, name events.Name, payload events.Payload) events.Receipt
}
