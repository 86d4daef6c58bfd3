package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusSubmitted         POStatus = "SUBMITTED"
	POStatusApproved          POStatus = "APPROVED"
	POStatusOrdered           POStatus = "ORDERED"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusFullyReceived     POStatus = "FULLY_RECEIVED"
	POStatusCancelled         POStatus = "CANCELLED"
	POStatusClosed            POStatus = "CLOSED"
)

var transitions = map[POStatus][]POStatus{
	POStatusDraft:             {POStatusSubmitted, POStatusCancelled},
	POStatusSubmitted:         {POStatusApproved, POStatusCancelled},
	POStatusApproved:          {POStatusOrdered, POStatusCancelled},
	POStatusOrdered:           {POStatusPartiallyReceived, POStatusFullyReceived, POStatusCancelled},
	POStatusPartiallyReceived: {POStatusFullyReceived, POStatusCancelled},
	POStatusFullyReceived:     {POStatusClosed},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to POStatus) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s POStatus) Valid() bool {
	switch s {
	case POStatusDraft, POStatusSubmitted, POStatusApproved, POStatusOrdered,
		POStatusPartiallyReceived, POStatusFullyReceived, POStatusCancelled, POStatusClosed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s POStatus) Terminal() bool {
	return s == POStatusClosed || s == POStatusCancelled
}

// Receivable reports whether goods may be received against an order in s.
func (s POStatus) Receivable() bool {
	return s == POStatusApproved || s == POStatusOrdered || s == POStatusPartiallyReceived
}

// Open reports whether the order still commits supplier stock.
func (s POStatus) Open() bool {
	return s.Valid() && !s.Terminal()
}

var (
	// ErrInvalidStatusTransition indicates a transition outside the lifecycle table.
	ErrInvalidStatusTransition = fmt.Errorf("procurement: %w", shared.ErrInvalidTransition)
	// ErrOrderNotEditable indicates an edit outside DRAFT.
	ErrOrderNotEditable = fmt.Errorf("procurement: order not editable: %w", shared.ErrInvalidTransition)
	// ErrOrderNotReceivable indicates a receipt against a non-receivable status.
	ErrOrderNotReceivable = fmt.Errorf("procurement: order not receivable: %w", shared.ErrInvalidTransition)
	// ErrOrderNotFound indicates an unknown order id or number.
	ErrOrderNotFound = fmt.Errorf("procurement: order %w", shared.ErrNotFound)
	// ErrItemNotFound indicates a receipt line for an item outside the order.
	ErrItemNotFound = fmt.Errorf("procurement: order item %w", shared.ErrNotFound)
	// ErrOverReceipt indicates receiving beyond the ordered quantity.
	ErrOverReceipt = fmt.Errorf("procurement: %w", shared.ErrOverReceipt)
	// ErrInactiveMaster indicates an inactive supplier, warehouse or product.
	ErrInactiveMaster = fmt.Errorf("procurement: inactive master data: %w", shared.ErrValidation)
	// ErrInvalidLine indicates a malformed order or receipt line.
	ErrInvalidLine = fmt.Errorf("procurement: invalid line: %w", shared.ErrValidation)
	// ErrNumberExhausted indicates PO number generation kept colliding.
	ErrNumberExhausted = fmt.Errorf("procurement: could not allocate order number: %w", shared.ErrDuplicateReference)
)

// PurchaseOrder is the order aggregate. Items are loaded alongside it but
// stored in their own table keyed by order id.
type PurchaseOrder struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"po_number"`
	SupplierID           int64           `json:"supplier_id"`
	WarehouseID          int64           `json:"warehouse_id"`
	OrderDate            time.Time       `json:"order_date"`
	ExpectedDeliveryDate time.Time       `json:"expected_delivery_date"`
	Status               POStatus        `json:"status"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Notes                string          `json:"notes"`
	Version              int64           `json:"version"`
	CreatedBy            int64           `json:"created_by"`
	UpdatedBy            int64           `json:"updated_by"`
	ApprovedBy           int64           `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	ReceivedAt           *time.Time      `json:"received_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Items                []Item          `json:"items"`
}

// Item is one order line.
type Item struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"purchase_order_id"`
	ProductID        int64           `json:"product_id"`
	QuantityOrdered  int64           `json:"quantity_ordered"`
	QuantityReceived int64           `json:"quantity_received"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Notes            string          `json:"notes"`
}

// Remaining is the quantity still expected from the supplier.
func (i Item) Remaining() int64 {
	return i.QuantityOrdered - i.QuantityReceived
}

// FullyReceived reports whether every line has been received in full.
func (o PurchaseOrder) FullyReceived() bool {
	for _, item := range o.Items {
		if item.QuantityReceived != item.QuantityOrdered {
			return false
		}
	}
	return len(o.Items) > 0
}

// item returns the line with the given id.
func (o PurchaseOrder) item(id int64) (int, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func lineTotals(items []Item) ([]Item, decimal.Decimal) {
	total := decimal.Zero
	out := make([]Item, len(items))
	for i, item := range items {
		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(item.QuantityOrdered))
		total = total.Add(item.TotalPrice)
		out[i] = item
	}
	return out, total
}

// LineInput describes an order line on create or update.
type LineInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes" validate:"max=500"`
}

// CreateOrderInput describes a new DRAFT order.
type CreateOrderInput struct {
	SupplierID           int64       `json:"supplier_id" validate:"required,gt=0"`
	WarehouseID          int64       `json:"warehouse_id" validate:"required,gt=0"`
	OrderDate            time.Time   `json:"order_date"`
	ExpectedDeliveryDate time.Time   `json:"expected_delivery_date"`
	Notes                string      `json:"notes" validate:"max=1000"`
	Lines                []LineInput `json:"lines" validate:"required,min=1,dive"`
	ActorID              int64       `json:"-" validate:"required,gt=0"`
}

// UpdateOrderInput replaces the editable fields of a DRAFT order.
type UpdateOrderInput struct {
	SupplierID           int64       `json:"supplier_id" validate:"required,gt=0"`
	WarehouseID          int64       `json:"warehouse_id" validate:"required,gt=0"`
	ExpectedDeliveryDate time.Time   `json:"expected_delivery_date"`
	Notes                string      `json:"notes" validate:"max=1000"`
	Lines                []LineInput `json:"lines" validate:"required,min=1,dive"`
	ActorID              int64       `json:"-" validate:"required,gt=0"`
}

// ReceiptLine receives quantity against one order item.
type ReceiptLine struct {
	ItemID   int64 `json:"item_id" validate:"required,gt=0"`
	Quantity int64 `json:"quantity"`
}

// ReceiveInput is a goods receipt against an order.
type ReceiveInput struct {
	OrderID int64         `json:"-" validate:"required,gt=0"`
	Lines   []ReceiptLine `json:"lines" validate:"required,min=1,dive"`
	Notes   string        `json:"notes" validate:"max=500"`
	ActorID int64         `json:"-" validate:"required,gt=0"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	SupplierID  int64
	WarehouseID int64
	Status      POStatus
	Page        int
	PerPage     int
}

// StatusCount is the number of orders in one status.
type StatusCount struct {
	Status POStatus `json:"status"`
	Count  int      `json:"count"`
}

// DeliveryStat summarises on-time delivery for a supplier.
type DeliveryStat struct {
	SupplierID int64 `json:"supplier_id"`
	Delivered  int   `json:"delivered"`
	OnTime     int   `json:"on_time"`
}

// OnTimeRate is the share of deliveries received by the expected date.
func (d DeliveryStat) OnTimeRate() float64 {
	if d.Delivered == 0 {
		return 0
	}
	return float64(d.OnTime) / float64(d.Delivered)
}
