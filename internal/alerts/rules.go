package alerts

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
)

var printer = message.NewPrinter(language.English)

// StockConditions evaluates the stock level rules for one inventory record.
// OUT_OF_STOCK and LOW_STOCK are mutually exclusive.
func StockConditions(rec inventory.Record, product masterdata.Product) []Condition {
	available := rec.Available()
	out := Condition{
		Key:      Key{Type: TypeOutOfStock, ReferenceType: ReferenceInventory, ReferenceID: rec.ID},
		Holds:    available <= 0,
		Severity: SeverityCritical,
		Priority: PriorityUrgent,
		Title:    "Out of stock: " + product.SKU,
		Message: printer.Sprintf("%s has no available stock in warehouse %d (on hand %d, reserved %d).",
			product.Name, rec.WarehouseID, rec.OnHand, rec.Reserved),
	}
	low := Condition{
		Key:      Key{Type: TypeLowStock, ReferenceType: ReferenceInventory, ReferenceID: rec.ID},
		Holds:    available > 0 && available <= product.ReorderPoint,
		Severity: SeverityMedium,
		Priority: PriorityHigh,
		Title:    "Low stock: " + product.SKU,
		Message: printer.Sprintf("%s has %d units available in warehouse %d, at or below reorder point %d.",
			product.Name, available, rec.WarehouseID, product.ReorderPoint),
	}
	return []Condition{out, low}
}

// OrderConditions evaluates the delivery rules for one purchase order as of
// the given calendar day.
func OrderConditions(order procurement.PurchaseOrder, today time.Time) []Condition {
	expected := order.ExpectedDeliveryDate
	scheduled := !expected.IsZero()
	day := truncateDay(today)
	expected = truncateDay(expected)

	due := Condition{
		Key: Key{Type: TypeOrderDue, ReferenceType: ReferencePurchaseOrder, ReferenceID: order.ID},
		Holds: scheduled && expected.Equal(day) &&
			(order.Status == procurement.POStatusApproved || order.Status == procurement.POStatusOrdered),
		Severity: SeverityHigh,
		Priority: PriorityHigh,
		Title:    "Purchase order due: " + order.Number,
		Message:  printer.Sprintf("%s from supplier %d is expected today (total %s).", order.Number, order.SupplierID, order.TotalAmount.StringFixed(2)),
	}
	overdue := Condition{
		Key: Key{Type: TypeOrderOverdue, ReferenceType: ReferencePurchaseOrder, ReferenceID: order.ID},
		Holds: scheduled && expected.Before(day) &&
			order.Status != procurement.POStatusFullyReceived &&
			order.Status != procurement.POStatusClosed &&
			order.Status != procurement.POStatusCancelled,
		Severity: SeverityCritical,
		Priority: PriorityUrgent,
		Title:    "Purchase order overdue: " + order.Number,
		Message: printer.Sprintf("%s from supplier %d was expected on %s and is %d days late.",
			order.Number, order.SupplierID, expected.Format("2006-01-02"), int(day.Sub(expected).Hours()/24)),
	}
	return []Condition{due, overdue}
}

// AdjustmentCondition describes the informational alert for a manual adjustment.
func AdjustmentCondition(mv inventory.StockMovement) Condition {
	return Condition{
		Key:      Key{Type: TypeInventoryAdjustment, ReferenceType: ReferenceMovement, ReferenceID: mv.ID},
		Holds:    true,
		Severity: SeverityLow,
		Priority: PriorityNormal,
		Title:    "Inventory adjusted",
		Message: printer.Sprintf("Product %d in warehouse %d adjusted by %d (%d -> %d): %s",
			mv.ProductID, mv.WarehouseID, mv.Delta(), mv.QuantityBefore, mv.QuantityAfter, mv.Note),
	}
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
