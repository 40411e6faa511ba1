package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Repository provides an in-memory store useful for local development and tests.
type Repository struct {
	mu          sync.RWMutex
	orders      map[string]domain.Order
	transitions map[string][]domain.Transition
}

// NewRepository constructs a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		orders:      make(map[string]domain.Order),
		transitions: make(map[string][]domain.Transition),
	}
}

// Create stores a new order instance.
func (r *Repository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return ports.ErrAlreadyExists
	}
	r.orders[order.ID] = clone(order)
	return nil
}

// CreateMany inserts the orders whose id is not stored yet.
func (r *Repository) CreateMany(_ context.Context, orders []domain.Order) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := make([]string, 0, len(orders))
	for _, order := range orders {
		if _, ok := r.orders[order.ID]; ok {
			continue
		}
		r.orders[order.ID] = clone(order)
		inserted = append(inserted, order.ID)
	}
	return inserted, nil
}

// GetByID fetches a single order by identifier.
func (r *Repository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	found := clone(order)
	return &found, nil
}

// Save writes the status of order when its version matches and appends
// transition. Like the Postgres adapter, every other field keeps its stored
// value.
func (r *Repository) Save(_ context.Context, order domain.Order, transition domain.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if stored.Version != order.Version {
		return ports.ErrConflict
	}

	stored.Status = order.Status
	stored.UpdatedAt = order.UpdatedAt
	stored.Version++
	r.orders[order.ID] = stored
	r.transitions[order.ID] = append(r.transitions[order.ID], transition)
	return nil
}

// List returns orders newest first, respecting the filter. Pagination is 1-based.
func (r *Repository) List(_ context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Order
	for _, order := range r.orders {
		if filter.OwnerID != "" && order.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		result = append(result, clone(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	if start >= len(result) {
		return []domain.Order{}, nil
	}
	end := min(start+pageSize, len(result))

	return result[start:end], nil
}

// Transitions returns the status history of an order, oldest first.
func (r *Repository) Transitions(_ context.Context, orderID string) ([]domain.Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.orders[orderID]; !ok {
		return nil, ports.ErrNotFound
	}
	history := make([]domain.Transition, len(r.transitions[orderID]))
	copy(history, r.transitions[orderID])
	return history, nil
}

func clone(order domain.Order) domain.Order {
	items := make([]domain.LineItem, len(order.LineItems))
	copy(items, order.LineItems)
	order.LineItems = items
	return order
}
