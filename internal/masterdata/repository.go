package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Catalog reads master data from PostgreSQL.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog constructs Catalog.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

const productColumns = `id, sku, name, cost_price::text, selling_price::text, reorder_point, reorder_quantity, is_active, created_at`

// GetProduct fetches a product by id.
func (c *Catalog) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := c.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// ListProducts returns products ordered by id, optionally only active ones.
func (c *Catalog) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE ($1 = FALSE OR is_active) ORDER BY id`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetWarehouse fetches a warehouse by id.
func (c *Catalog) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := c.pool.QueryRow(ctx, `SELECT id, code, name, is_active, created_at FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return w, err
}

// GetSupplier fetches a supplier by id.
func (c *Catalog) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := c.pool.QueryRow(ctx, `SELECT id, code, name, is_active, created_at FROM suppliers WHERE id=$1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.IsActive, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, err
}

// ListActiveSuppliers returns active suppliers ordered by id.
func (c *Catalog) ListActiveSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, code, name, is_active, created_at FROM suppliers WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var cost, selling string
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &cost, &selling, &p.ReorderPoint, &p.ReorderQuantity, &p.IsActive, &p.CreatedAt); err != nil {
		return Product{}, err
	}
	var err error
	if p.CostPrice, err = decimal.NewFromString(cost); err != nil {
		return Product{}, err
	}
	if p.SellingPrice, err = decimal.NewFromString(selling); err != nil {
		return Product{}, err
	}
	return p, nil
}
