// Package masterdata exposes read-only access to the product, supplier and
// warehouse catalogs owned by the master-data service.
package masterdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var (
	// ErrProductNotFound indicates an unknown product id.
	ErrProductNotFound = fmt.Errorf("masterdata: product %w", shared.ErrNotFound)
	// ErrSupplierNotFound indicates an unknown supplier id.
	ErrSupplierNotFound = fmt.Errorf("masterdata: supplier %w", shared.ErrNotFound)
	// ErrWarehouseNotFound indicates an unknown warehouse id.
	ErrWarehouseNotFound = fmt.Errorf("masterdata: warehouse %w", shared.ErrNotFound)
)

// Warehouse represents a stocking location.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Supplier represents a vendor purchase orders are raised against.
type Supplier struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Product represents a stocked item together with its replenishment settings.
type Product struct {
	ID              int64           `json:"id"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	ReorderPoint    int64           `json:"reorder_point"`
	ReorderQuantity int64           `json:"reorder_quantity"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
}
