package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dejobratic/orderflow/internal/events"
)

// Handler processes one event. A non-nil error overrides the returned
// outcome through Classify.
type Handler interface {
	Handle(ctx context.Context, run *Run, event events.Event) (Outcome, error)
}

// HandlerFunc is an adapter to use ordinary functions as handlers.
type HandlerFunc func(ctx context.Context, run *Run, event events.Event) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, run *Run, event events.Event) (Outcome, error) {
	return f(ctx, run, event)
}

// BatchHandler receives every event of one name in a batch at once and
// returns one result per event, in the same order.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []events.Event) []ItemResult
}

type BatchHandlerFunc func(ctx context.Context, batch []events.Event) []ItemResult

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch []events.Event) []ItemResult {
	return f(ctx, batch)
}

// Registry routes event names to exactly one handler.
type Registry struct {
	mu      sync.RWMutex
	single  map[events.Name]Handler
	batched map[events.Name]BatchHandler
}

func NewRegistry() *Registry {
	return &Registry{
		single:  make(map[events.Name]Handler),
		batched: make(map[events.Name]BatchHandler),
	}
}

func (r *Registry) Register(name events.Name, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFree(name); err != nil {
		return err
	}
	r.single[name] = h
	return nil
}

func (r *Registry) RegisterBatch(name events.Name, h BatchHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFree(name); err != nil {
		return err
	}
	r.batched[name] = h
	return nil
}

func (r *Registry) checkFree(name events.Name) error {
	if name == "" {
		return fmt.Errorf("register handler: empty event name")
	}
	_, single := r.single[name]
	_, batched := r.batched[name]
	if single || batched {
		return fmt.Errorf("register handler: %s already has a handler", name)
	}
	return nil
}

func (r *Registry) lookup(name events.Name) (Handler, BatchHandler) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.single[name], r.batched[name]
}

// Names lists every routed event name.
func (r *Registry) Names() []events.Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]events.Name, 0, len(r.single)+len(r.batched))
	for name := range r.single {
		names = append(names, name)
	}
	for name := range r.batched {
		names = append(names, name)
	}
	return names
}
