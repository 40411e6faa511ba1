package ports

import (
	"context"
	"errors"

	"github.com/dejobratic/orderflow/internal/orders/domain"
)

// OrderRepository exposes persistence operations required by the application layer.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	// CreateMany inserts orders whose id is not stored yet and returns the
	// ids it inserted. Existing ids are left untouched.
	CreateMany(ctx context.Context, orders []domain.Order) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// Save persists order if its stored version still equals order.Version,
	// bumping the version and appending transition in one unit of work.
	Save(ctx context.Context, order domain.Order, transition domain.Transition) error
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	Transitions(ctx context.Context, orderID string) ([]domain.Transition, error)
}

// ListFilter narrows list queries by owner, status and pagination.
type ListFilter struct {
	OwnerID  string
	Status   *domain.OrderStatus
	Page     int
	PageSize int
}

var (
	// ErrNotFound is returned when the requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists is returned by Create for a duplicate id.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrConflict is returned by Save when the order changed since it was read.
	ErrConflict = errors.New("order was modified concurrently")
	// ErrPersistence wraps failures of the underlying store.
	ErrPersistence = errors.New("order store failure")
)
