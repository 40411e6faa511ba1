package ports

import (
	"context"
	"errors"
)

// ErrUnknownProduct is returned when a product reference has no price.
var ErrUnknownProduct = errors.New("unknown product")

// ProductCatalog prices products at checkout.
type ProductCatalog interface {
	PriceOf(ctx context.Context, productRef string) (int64, error)
}
