package events

import (
	"context"
	"errors"
)

// ErrSourceClosed is returned by Fetch once a source has been shut down.
var ErrSourceClosed = errors.New("event source closed")

// Delivery is one received event plus the transport handle needed to
// acknowledge it.
type Delivery struct {
	Event Event
	Ack   any
}

// Source is the consuming side of a transport. Commit acknowledges
// deliveries so the transport stops redelivering them.
type Source interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, deliveries ...Delivery) error
}
