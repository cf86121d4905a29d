package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: product not found")

// Product is the slice of the external catalog this engine needs: identity
// and whether the product still accepts stock movements.
type Product struct {
	ID        int64
	Name      string
	Retired   bool
	CreatedAt time.Time
}

// Catalog resolves product existence for mutation entry points. The catalog
// itself is owned elsewhere; this engine only reads it, plus the lifecycle
// hooks that keep ledgers aligned with products.
type Catalog interface {
	Product(ctx context.Context, id int64) (*Product, error)
	Register(ctx context.Context, p *Product) error
	Retire(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
}
