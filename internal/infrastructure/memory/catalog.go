package memory

import (
	"context"
	"sync"
	"time"

	"github.com/minishop-io/inventory-engine/internal/domain/catalog"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[int64]*catalog.Product
}

func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[int64]*catalog.Product),
	}
}

func (c *Catalog) Product(_ context.Context, id int64) (*catalog.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (c *Catalog) Register(_ context.Context, p *catalog.Product) error {
	if p == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	clone := *p
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	c.products[clone.ID] = &clone
	return nil
}

func (c *Catalog) Retire(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return catalog.ErrNotFound
	}
	p.Retired = true
	return nil
}

func (c *Catalog) Remove(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.products[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(c.products, id)
	return nil
}
