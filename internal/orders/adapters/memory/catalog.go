package memory

import (
	"context"
	"sync"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Catalog is a fixed price list.
type Catalog struct {
	mu     sync.RWMutex
	prices map[string]int64
}

func NewCatalog(prices map[string]int64) *Catalog {
	c := &Catalog{prices: make(map[string]int64, len(prices))}
	for ref, price := range prices {
		c.prices[ref] = price
	}
	return c
}

func (c *Catalog) PriceOf(_ context.Context, productRef string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[productRef]
	if !ok {
		return 0, ports.ErrUnknownProduct
	}
	return price, nil
}

// SetPrice adds or replaces a product price.
func (c *Catalog) SetPrice(productRef string, priceCents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[productRef] = priceCents
}
