package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTTL = 24 * time.Hour

// Store persists create responses in the idempotency_keys table. A key is
// honoured for ttl after its first save; after that it may be reused. Rows
// with completed = false are reservations and lapse after the lease.
type Store struct {
	pool  *pgxpool.Pool
	ttl   time.Duration
	lease time.Duration
}

func NewStore(pool *pgxpool.Pool, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{pool: pool, ttl: ttl, lease: ports.IdempotencyLease}
}

// Reserve inserts a pending row for key, taking over rows that have lapsed.
// When a live row is already there it is either replayed or reported as busy.
func (s *Store) Reserve(ctx context.Context, key string) (*ports.StoredResponse, error) {
	query := `
		INSERT INTO idempotency_keys (key, status_code, body, order_id, completed)
		VALUES ($1, 0, ''::bytea, '', FALSE)
		ON CONFLICT (key) DO UPDATE
		SET status_code = 0,
		    body = ''::bytea,
		    order_id = '',
		    completed = FALSE,
		    created_at = NOW()
		WHERE (idempotency_keys.completed AND idempotency_keys.created_at <= NOW() - make_interval(secs => $2))
		   OR (NOT idempotency_keys.completed AND idempotency_keys.created_at <= NOW() - make_interval(secs => $3))
		RETURNING key
	`

	var reserved string
	err := s.pool.QueryRow(ctx, query, key, s.ttl.Seconds(), s.lease.Seconds()).Scan(&reserved)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: reserve idempotency key: %w", ports.ErrPersistence, err)
	}

	resp, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ports.ErrRequestInProgress
	}
	return resp, nil
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	query := `
		SELECT status_code, body, order_id
		FROM idempotency_keys
		WHERE key = $1 AND completed AND created_at > NOW() - make_interval(secs => $2)
	`

	var resp ports.StoredResponse
	err := s.pool.QueryRow(ctx, query, key, s.ttl.Seconds()).Scan(
		&resp.StatusCode,
		&resp.Body,
		&resp.OrderID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: select idempotency key: %w", ports.ErrPersistence, err)
	}

	return &resp, nil
}

// Save completes a reservation. A live response already stored for key wins.
func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	query := `
		INSERT INTO idempotency_keys (key, status_code, body, order_id, completed)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (key) DO UPDATE
		SET status_code = EXCLUDED.status_code,
		    body = EXCLUDED.body,
		    order_id = EXCLUDED.order_id,
		    completed = TRUE,
		    created_at = NOW()
		WHERE NOT idempotency_keys.completed
		   OR idempotency_keys.created_at <= NOW() - make_interval(secs => $5)
	`

	_, err := s.pool.Exec(ctx, query, key, response.StatusCode, response.Body, response.OrderID, s.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("%w: upsert idempotency key: %w", ports.ErrPersistence, err)
	}

	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND NOT completed`, key)
	if err != nil {
		return fmt.Errorf("%w: release idempotency key: %w", ports.ErrPersistence, err)
	}
	return nil
}

// Purge deletes expired keys and lapsed reservations and returns how many
// were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE (completed AND created_at <= NOW() - make_interval(secs => $1))
		   OR (NOT completed AND created_at <= NOW() - make_interval(secs => $2))`,
		s.ttl.Seconds(), s.lease.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: purge idempotency keys: %w", ports.ErrPersistence, err)
	}
	return result.RowsAffected(), nil
}
