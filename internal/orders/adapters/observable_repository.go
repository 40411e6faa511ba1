package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableRepository struct {
	repo    ports.OrderRepository
	metrics *database.Metrics
}

func NewObservableRepository(repo ports.OrderRepository, metrics *database.Metrics) *ObservableRepository {
	return &ObservableRepository{
		repo:    repo,
		metrics: metrics,
	}
}

func (r *ObservableRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, span := telemetry.StartSpan(ctx, "OrderRepository.Create")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("operation", "create"),
	)

	start := time.Now()
	err := r.repo.Create(ctx, order)
	r.metrics.RecordQuery(ctx, "create_order", time.Since(start).Seconds(), err)
	if err == nil {
		r.metrics.RecordRowsWritten(ctx, "create_order", 1)
	}

	return telemetry.RecordResult(span, err)
}

func (r *ObservableRepository) CreateMany(ctx context.Context, orders []domain.Order) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderRepository.CreateMany")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("operation", "create_many"),
		attribute.Int("batch.size", len(orders)),
	)

	start := time.Now()
	inserted, err := r.repo.CreateMany(ctx, orders)
	r.metrics.RecordQuery(ctx, "create_orders", time.Since(start).Seconds(), err)

	if err == nil {
		r.metrics.RecordRowsWritten(ctx, "create_orders", len(inserted))
		telemetry.AddSpanAttributes(span, attribute.Int("result.inserted", len(inserted)))
	}
	return inserted, telemetry.RecordResult(span, err)
}

func (r *ObservableRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderRepository.GetByID")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", id),
		attribute.String("operation", "get_by_id"),
	)

	start := time.Now()
	order, err := r.repo.GetByID(ctx, id)
	r.metrics.RecordQuery(ctx, "get_order_by_id", time.Since(start).Seconds(), queryError(err))

	return order, telemetry.RecordResult(span, err)
}

func (r *ObservableRepository) Save(ctx context.Context, order domain.Order, transition domain.Transition) error {
	ctx, span := telemetry.StartSpan(ctx, "OrderRepository.Save")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("order.from_status", string(transition.From)),
		attribute.String("order.to_status", string(transition.To)),
		attribute.Int64("order.version", order.Version),
		attribute.String("operation", "save"),
	)

	start := time.Now()
	err := r.repo.Save(ctx, order, transition)
	r.metrics.RecordQuery(ctx, "save_order", time.Since(start).Seconds(), queryError(err))
	if err == nil {
		// order row plus its transition row
		r.metrics.RecordRowsWritten(ctx, "save_order", 2)
	}

	return telemetry.RecordResult(span, err)
}

func (r *ObservableRepository) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderRepository.List")
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("operation", "list"),
		attribute.Int("page", filter.Page),
		attribute.Int("page_size", filter.PageSize),
		attribute.Bool("filter.owner", filter.OwnerID != ""),
	}
	if filter.Status != nil {
		attrs = append(attrs, attribute.String("filter.status", string(*filter.Status)))
	}
	telemetry.AddSpanAttributes(span, attrs...)

	start := time.Now()
	orders, err := r.repo.List(ctx, filter)
	r.metrics.RecordQuery(ctx, "list_orders", time.Since(start).Seconds(), err)

	if err == nil {
		telemetry.AddSpanAttributes(span, attribute.Int("result.count", len(orders)))
	}
	return orders, telemetry.RecordResult(span, err)
}

func (r *ObservableRepository) Transitions(ctx context.Context, orderID string) ([]domain.Transition, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderRepository.Transitions")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", orderID),
		attribute.String("operation", "transitions"),
	)

	start := time.Now()
	history, err := r.repo.Transitions(ctx, orderID)
	r.metrics.RecordQuery(ctx, "list_order_transitions", time.Since(start).Seconds(), queryError(err))

	return history, telemetry.RecordResult(span, err)
}

// queryError hides outcomes that are answers rather than store failures.
func queryError(err error) error {
	if errors.Is(err, ports.ErrNotFound) || errors.Is(err, ports.ErrConflict) {
		return nil
	}
	return err
}
