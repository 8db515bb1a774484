// Package catalog holds the authoritative product catalog used to price carts.
package catalog

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable is returned when the catalog cannot be loaded and no
	// fresh copy is cached.
	ErrUnavailable = errors.New("product catalog unavailable")
	// ErrProductNotFound is returned when a product reference matches neither
	// a catalog key nor a product id.
	ErrProductNotFound = errors.New("product not found")
)

// Size describes one purchasable size of a product.
type Size struct {
	Name      string
	StockID   string
	Available bool
	Stock     int
}

// Product is a catalog entry. Price is authoritative.
type Product struct {
	ID    string
	Key   string
	Title string
	Price decimal.Decimal
	Image string
	Sizes map[string]Size
}

// Size returns the named size and whether the product offers it.
func (p Product) Size(name string) (Size, bool) {
	s, ok := p.Sizes[name]
	return s, ok
}

// Catalog is an immutable snapshot of all products, indexed by key and id.
type Catalog struct {
	byKey map[string]Product
	keyOf map[string]string
	keys  []string
}

// New builds a Catalog from the given products. Products without a key are
// indexed by id.
func New(products []Product) *Catalog {
	c := &Catalog{
		byKey: make(map[string]Product, len(products)),
		keyOf: make(map[string]string, len(products)),
		keys:  make([]string, 0, len(products)),
	}
	for _, p := range products {
		if p.Key == "" {
			p.Key = p.ID
		}
		if _, dup := c.byKey[p.Key]; !dup {
			c.keys = append(c.keys, p.Key)
		}
		c.byKey[p.Key] = p
		if p.ID != "" {
			c.keyOf[p.ID] = p.Key
		}
	}
	sort.Strings(c.keys)
	return c
}

// Lookup resolves a product by catalog key first, then by product id.
func (c *Catalog) Lookup(ref string) (Product, error) {
	if p, ok := c.byKey[ref]; ok {
		return p, nil
	}
	if key, ok := c.keyOf[ref]; ok {
		return c.byKey[key], nil
	}
	return Product{}, errors.Wrapf(ErrProductNotFound, "lookup %q", ref)
}

// Products returns all products ordered by key.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.byKey[k])
	}
	return out
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	return len(c.keys)
}

// Source loads a complete catalog from its backing store.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}
