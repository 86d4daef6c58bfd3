// Package reorder computes replenishment quantities from recent demand and
// raises DRAFT purchase orders for inventory that fell to its reorder point.
package reorder

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
)

const (
	defaultLeadTimeDays     = 7
	defaultDemandWindowDays = 30
	defaultMinOrderQuantity = 10
)

var defaultSafetyFactor = decimal.RequireFromString("0.2")

// Config tunes the replenishment formula.
type Config struct {
	LeadTimeDays     int
	DemandWindowDays int
	SafetyFactor     decimal.Decimal
	MinOrderQuantity int64
}

// DefaultConfig returns the standard replenishment settings.
func DefaultConfig() Config {
	return Config{
		LeadTimeDays:     defaultLeadTimeDays,
		DemandWindowDays: defaultDemandWindowDays,
		SafetyFactor:     defaultSafetyFactor,
		MinOrderQuantity: defaultMinOrderQuantity,
	}
}

func (c Config) normalized() Config {
	if c.LeadTimeDays <= 0 {
		c.LeadTimeDays = defaultLeadTimeDays
	}
	if c.DemandWindowDays <= 0 {
		c.DemandWindowDays = defaultDemandWindowDays
	}
	if c.SafetyFactor.IsNegative() {
		c.SafetyFactor = defaultSafetyFactor
	}
	if c.MinOrderQuantity <= 0 {
		c.MinOrderQuantity = defaultMinOrderQuantity
	}
	return c
}

// Params are the inputs of Calculate.
type Params struct {
	AverageDailyDemand decimal.Decimal
	LeadTimeDays       int
	SafetyFactor       decimal.Decimal
	Available          int64
	MinOrderQuantity   int64
}

// Suggestion is the outcome of the replenishment formula for one pair.
type Suggestion struct {
	ProductID          int64           `json:"product_id"`
	WarehouseID        int64           `json:"warehouse_id"`
	SKU                string          `json:"sku,omitempty"`
	Available          int64           `json:"quantity_available"`
	AverageDailyDemand decimal.Decimal `json:"average_daily_demand"`
	SafetyStock        decimal.Decimal `json:"safety_stock"`
	ReorderPoint       decimal.Decimal `json:"reorder_point"`
	Quantity           int64           `json:"suggested_quantity"`
	OpenCoverage       int64           `json:"open_coverage"`
	ShouldOrder        bool            `json:"should_order"`
}

// AverageDailyDemand spreads an outbound total over the window.
func AverageDailyDemand(outbound int64, windowDays int) decimal.Decimal {
	if windowDays <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(outbound).Div(decimal.NewFromInt(int64(windowDays)))
}

// Calculate applies the replenishment formula:
//
//	safety   = demand * lead * factor
//	point    = demand * lead + safety
//	raw      = ceil(point - available)
//	quantity = max(raw, minOrder) when raw > 0, else no order
func Calculate(p Params) Suggestion {
	leadDemand := p.AverageDailyDemand.Mul(decimal.NewFromInt(int64(p.LeadTimeDays)))
	safety := leadDemand.Mul(p.SafetyFactor)
	point := leadDemand.Add(safety)
	s := Suggestion{
		Available:          p.Available,
		AverageDailyDemand: p.AverageDailyDemand,
		SafetyStock:        safety,
		ReorderPoint:       point,
	}
	raw := point.Sub(decimal.NewFromInt(p.Available)).Ceil().IntPart()
	if raw <= 0 {
		return s
	}
	s.Quantity = max(raw, p.MinOrderQuantity)
	s.ShouldOrder = true
	return s
}

// Skip reasons reported when a pair is not evaluated or not ordered.
const (
	SkipInactive     = "product inactive"
	SkipNoCost       = "product has no cost price"
	SkipAbovePoint   = "available above reorder point"
	SkipNoShortfall  = "no projected shortfall"
	SkipCoveredByPOs = "covered by open purchase orders"
	SkipInProgress   = "reorder in progress elsewhere"
)

// eligibility reports why a pair should not be considered, or "".
func eligibility(product masterdata.Product, rec inventory.Record) string {
	switch {
	case !product.IsActive:
		return SkipInactive
	case !product.CostPrice.IsPositive():
		return SkipNoCost
	case rec.Available() > product.ReorderPoint:
		return SkipAbovePoint
	}
	return ""
}

// minOrderFor prefers the product's own reorder quantity.
func minOrderFor(product masterdata.Product, cfg Config) int64 {
	if product.ReorderQuantity > 0 {
		return product.ReorderQuantity
	}
	return cfg.MinOrderQuantity
}
