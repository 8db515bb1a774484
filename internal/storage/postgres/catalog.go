package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT id, key, title, price, image
		FROM products WHERE active ORDER BY key`

	listSizesSQL = `SELECT s.product_id, s.name, s.stock_id, s.available, s.stock
		FROM product_sizes s JOIN products p ON p.id = s.product_id
		WHERE p.active ORDER BY s.product_id, s.name`

	upsertProductSQL = `INSERT INTO products (id, key, title, price, image, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, now())
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key, title = EXCLUDED.title, price = EXCLUDED.price,
			image = EXCLUDED.image, active = TRUE, updated_at = now()`

	upsertSizeSQL = `INSERT INTO product_sizes (product_id, name, stock_id, available, stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, name) DO UPDATE SET
			stock_id = EXCLUDED.stock_id, available = EXCLUDED.available, stock = EXCLUDED.stock`

	deactivateMissingSQL = `UPDATE products SET active = FALSE, updated_at = now()
		WHERE active AND NOT (id = ANY($1))`
)

var _ catalog.Source = (*CatalogSource)(nil)

// CatalogSource implements catalog.Source backed by PostgreSQL.
type CatalogSource struct {
	pool *pgxpool.Pool
}

// NewCatalogSource returns a CatalogSource that uses the given pool.
func NewCatalogSource(pool *pgxpool.Pool) *CatalogSource {
	return &CatalogSource{pool: pool}
}

// Load implements catalog.Source. Only active products are returned.
func (s *CatalogSource) Load(ctx context.Context) (*catalog.Catalog, error) {
	rows, err := s.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	rows, err = s.pool.Query(ctx, listSizesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing sizes: %w", err)
	}
	sizes, err := pgx.CollectRows(rows, scanSize)
	if err != nil {
		return nil, fmt.Errorf("listing sizes: %w", err)
	}

	byID := make(map[string]*catalog.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for _, sz := range sizes {
		if p, ok := byID[sz.productID]; ok {
			p.Sizes[sz.Name] = sz.Size
		}
	}
	return catalog.New(products), nil
}

// Ping reports whether the database is reachable.
func (s *CatalogSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertCatalog writes products and their sizes in one transaction and
// deactivates products missing from the list.
func (s *CatalogSource) UpsertCatalog(ctx context.Context, products []catalog.Product) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning catalog upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(products))
	for _, p := range products {
		if p.ID == "" {
			return fmt.Errorf("product %q has no id", p.Key)
		}
		ids = append(ids, p.ID)

		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Key, p.Title, p.Price, p.Image); err != nil {
			return fmt.Errorf("upserting product %q: %w", p.Key, err)
		}
		for name, sz := range p.Sizes {
			if _, err := tx.Exec(ctx, upsertSizeSQL, p.ID, name, sz.StockID, sz.Available, sz.Stock); err != nil {
				return fmt.Errorf("upserting size %q of %q: %w", name, p.Key, err)
			}
		}
	}
	if _, err := tx.Exec(ctx, deactivateMissingSQL, ids); err != nil {
		return fmt.Errorf("deactivating missing products: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing catalog upsert: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p     catalog.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Key, &p.Title, &price, &p.Image)
	p.Price = price
	p.Sizes = map[string]catalog.Size{}
	return p, err
}

type sizeRow struct {
	catalog.Size
	productID string
}

func scanSize(row pgx.CollectableRow) (sizeRow, error) {
	var s sizeRow
	err := row.Scan(&s.productID, &s.Name, &s.StockID, &s.Available, &s.Stock)
	return s, err
}
