package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const defaultPublishTimeout = 5 * time.Second

// Transport hands events to the delivery mechanism.
type Transport interface {
	Send(ctx context.Context, events ...Event) error
}

// Receipt reports whether the transport accepted an event. Accepted says
// nothing about whether any consumer processed it.
type Receipt struct {
	EventID  string
	Accepted bool
	Err      error
}

// Publisher emits events after the caller's own state change has committed.
// It never returns an error into the caller's critical path.
type Publisher struct {
	transport Transport
	logger    *slog.Logger
	timeout   time.Duration
}

// NewPublisher wires a publisher over transport. A non-positive timeout
// falls back to a default.
func NewPublisher(transport Transport, logger *slog.Logger, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Publisher{transport: transport, logger: logger, timeout: timeout}
}

// Publish validates and sends one event. Failures are logged and reflected
// in the receipt; the send is detached from caller cancellation.
func (p *Publisher) Publish(ctx context.Context, name Name, payload Payload) (receipt Receipt) {
	event := New(name, payload)
	receipt.EventID = event.ID

	defer func() {
		if rec := recover(); rec != nil {
			receipt.Accepted = false
			receipt.Err = fmt.Errorf("%w: panic: %v", ErrTransport, rec)
			p.logger.ErrorContext(ctx, "event publish panicked",
				"event", name,
				"event_id", event.ID,
				"error", rec,
			)
		}
	}()

	if err := ValidatePayload(name, payload); err != nil {
		receipt.Err = err
		p.logger.WarnContext(ctx, "event rejected before publish",
			"event", name,
			"event_id", event.ID,
			"error", err,
		)
		return receipt
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.transport.Send(sendCtx, event); err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		receipt.Err = err
		p.logger.WarnContext(ctx, "event publish failed",
			"event", name,
			"event_id", event.ID,
			"order_id", event.OrderID(),
			"error", err,
		)
		return receipt
	}

	receipt.Accepted = true
	p.logger.DebugContext(ctx, "event published",
		"event", name,
		"event_id", event.ID,
		"order_id", event.OrderID(),
	)
	return receipt
}
