package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const orderColumns = `id, owner_id, line_items, amount_cents, shipping_address, status, version, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, order domain.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	args, err := insertArgs(order)
	if err != nil {
		return err
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("%w: insert order: %w", ports.ErrPersistence, err)
	}

	return nil
}

func (r *Repository) CreateMany(ctx context.Context, orders []domain.Order) ([]string, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`

	batch := &pgx.Batch{}
	for _, order := range orders {
		args, err := insertArgs(order)
		if err != nil {
			return nil, err
		}
		batch.Queue(query, args...)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := make([]string, 0, len(orders))
	for range orders {
		var id string
		err := results.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: insert orders: %w", ports.ErrPersistence, err)
		}
		inserted = append(inserted, id)
	}

	return inserted, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("%w: select order: %w", ports.ErrPersistence, err)
	}

	return order, nil
}

func (r *Repository) Save(ctx context.Context, order domain.Order, transition domain.Transition) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE orders
			SET status = $1, updated_at = $2, version = version + 1
			WHERE id = $3 AND version = $4
		`, order.Status, order.UpdatedAt, order.ID, order.Version)
		if err != nil {
			return fmt.Errorf("%w: update order: %w", ports.ErrPersistence, err)
		}

		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
				return fmt.Errorf("%w: check order: %w", ports.ErrPersistence, err)
			}
			if !exists {
				return ports.ErrNotFound
			}
			return ports.ErrConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO order_transitions (order_id, from_status, to_status, event_id, actor_id, occurred_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		`, transition.OrderID, transition.From, transition.To, transition.EventID, transition.ActorID, transition.OccurredAt)
		if err != nil {
			return fmt.Errorf("%w: insert transition: %w", ports.ErrPersistence, err)
		}

		return nil
	})
}

func (r *Repository) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR owner_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	var ownerFilter, statusFilter *string
	if filter.OwnerID != "" {
		ownerFilter = &filter.OwnerID
	}
	if filter.Status != nil {
		s := string(*filter.Status)
		statusFilter = &s
	}

	offset := (page - 1) * pageSize

	rows, err := r.pool.Query(ctx, query, ownerFilter, statusFilter, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: query orders: %w", ports.ErrPersistence, err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan order: %w", ports.ErrPersistence, err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate orders: %w", ports.ErrPersistence, err)
	}

	return orders, nil
}

func (r *Repository) Transitions(ctx context.Context, orderID string) ([]domain.Transition, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: check order: %w", ports.ErrPersistence, err)
	}
	if !exists {
		return nil, ports.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT order_id, from_status, to_status, COALESCE(event_id, ''), COALESCE(actor_id, ''), occurred_at
		FROM order_transitions
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: query transitions: %w", ports.ErrPersistence, err)
	}
	defer rows.Close()

	history := []domain.Transition{}
	for rows.Next() {
		var t domain.Transition
		if err := rows.Scan(&t.OrderID, &t.From, &t.To, &t.EventID, &t.ActorID, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("%w: scan transition: %w", ports.ErrPersistence, err)
		}
		history = append(history, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transitions: %w", ports.ErrPersistence, err)
	}

	return history, nil
}

func insertArgs(order domain.Order) ([]any, error) {
	items, err := json.Marshal(order.LineItems)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("encode shipping address: %w", err)
	}
	return []any{
		order.ID,
		order.OwnerID,
		items,
		order.AmountCents,
		address,
		order.Status,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	}, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order   domain.Order
		items   []byte
		address []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.OwnerID,
		&items,
		&order.AmountCents,
		&address,
		&order.Status,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &order.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items of %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address of %s: %w", order.ID, err)
	}

	return &order, nil
}
