// Package memory provides an in-process event transport for local runs and
// tests. Events are lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dejobratic/orderflow/internal/events"
)

const defaultCapacity = 1024

// Transport is a buffered channel implementing both events.Transport and
// events.Source.
type Transport struct {
	queue chan events.Event

	mu        sync.RWMutex
	closed    bool
	committed int
}

// NewTransport creates a transport holding up to capacity undelivered events.
func NewTransport(capacity int) *Transport {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Transport{queue: make(chan events.Event, capacity)}
}

// Send enqueues events, blocking while the buffer is full. Close waits for
// in-flight sends, so a send never races the channel close.
func (t *Transport) Send(ctx context.Context, evs ...events.Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return fmt.Errorf("%w: transport closed", events.ErrTransport)
	}

	for _, e := range evs {
		select {
		case t.queue <- e:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", events.ErrTransport, ctx.Err())
		}
	}
	return nil
}

// Fetch blocks until an event is available, ctx is done, or the transport closes.
func (t *Transport) Fetch(ctx context.Context) (events.Delivery, error) {
	select {
	case e, ok := <-t.queue:
		if !ok {
			return events.Delivery{}, events.ErrSourceClosed
		}
		return events.Delivery{Event: e}, nil
	case <-ctx.Done():
		return events.Delivery{}, ctx.Err()
	}
}

// Commit records acknowledgements; in-memory deliveries need no bookkeeping.
func (t *Transport) Commit(_ context.Context, deliveries ...events.Delivery) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed += len(deliveries)
	return nil
}

// Committed returns the number of acknowledged deliveries.
func (t *Transport) Committed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// Pending returns the number of buffered events.
func (t *Transport) Pending() int {
	return len(t.queue)
}

// Close stops accepting events. Buffered events can still be fetched.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	return nil
}
