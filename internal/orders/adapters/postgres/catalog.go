package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog reads prices from the products table.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) PriceOf(ctx context.Context, productRef string) (int64, error) {
	var price int64
	err := c.pool.QueryRow(ctx, `SELECT price_cents FROM products WHERE ref = $1`, productRef).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ports.ErrUnknownProduct
		}
		return 0, fmt.Errorf("%w: select product price: %w", ports.ErrPersistence, err)
	}
	return price, nil
}

// Upsert sets the price of a product, creating it when missing.
func (c *Catalog) Upsert(ctx context.Context, productRef, name string, priceCents int64) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO products (ref, name, price_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (ref) DO UPDATE SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents
	`, productRef, name, priceCents)
	if err != nil {
		return fmt.Errorf("%w: upsert product: %w", ports.ErrPersistence, err)
	}
	return nil
}
