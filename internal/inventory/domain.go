package inventory

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MovementType enumerates stock movement kinds.
type MovementType string

const (
	// MovementIn records goods received.
	MovementIn MovementType = "IN"
	// MovementOut records goods issued.
	MovementOut MovementType = "OUT"
	// MovementTransfer records one leg of an inter-warehouse transfer.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjustment records a manual correction.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Direction tells whether a movement adds to or removes from on-hand stock.
type Direction string

const (
	// DirectionInbound adds stock.
	DirectionInbound Direction = "INBOUND"
	// DirectionOutbound removes stock.
	DirectionOutbound Direction = "OUTBOUND"
)

// ReferenceType identifies the business document behind a movement.
type ReferenceType string

const (
	// ReferencePurchaseOrder links a movement to a purchase order.
	ReferencePurchaseOrder ReferenceType = "PURCHASE_ORDER"
	// ReferenceSaleOrder links a movement to a sale order.
	ReferenceSaleOrder ReferenceType = "SALE_ORDER"
	// ReferenceTransfer links a movement to a transfer.
	ReferenceTransfer ReferenceType = "TRANSFER"
	// ReferenceAdjustment links a movement to a manual adjustment.
	ReferenceAdjustment ReferenceType = "ADJUSTMENT"
)

var (
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	// ErrDirectionRequired indicates a transfer or adjustment without direction.
	ErrDirectionRequired = fmt.Errorf("inventory: direction required for %s and %s movements: %w", MovementTransfer, MovementAdjustment, shared.ErrValidation)
	// ErrSameWarehouse indicates a transfer into its own source.
	ErrSameWarehouse = fmt.Errorf("inventory: source and destination warehouse must differ: %w", shared.ErrValidation)
	// ErrInsufficientStock indicates an outbound movement exceeding stock.
	ErrInsufficientStock = fmt.Errorf("inventory: %w", shared.ErrInsufficientStock)
	// ErrUnknownProductOrWarehouse indicates a movement against unknown or inactive masters.
	ErrUnknownProductOrWarehouse = fmt.Errorf("inventory: unknown product or warehouse: %w", shared.ErrNotFound)
	// ErrRecordNotFound indicates no record exists for the pair.
	ErrRecordNotFound = fmt.Errorf("inventory: record %w", shared.ErrNotFound)
	errActorRequired = fmt.Errorf("inventory: actor required: %w", shared.ErrValidation)
	errInvalidRange  = fmt.Errorf("inventory: date range end before start: %w", shared.ErrValidation)
	// ErrLedgerCorrupted indicates stored state disagrees with the movement log.
	ErrLedgerCorrupted = fmt.Errorf("inventory: ledger corrupted: %w", shared.ErrInvariant)
)

// StockMovement is an immutable ledger entry.
type StockMovement struct {
	ID             int64         `json:"id"`
	ProductID      int64         `json:"product_id"`
	WarehouseID    int64         `json:"warehouse_id"`
	Type           MovementType  `json:"movement_type"`
	Direction      Direction     `json:"direction"`
	Quantity       int64         `json:"quantity"`
	ReferenceType  ReferenceType `json:"reference_type"`
	ReferenceID    int64         `json:"reference_id"`
	QuantityBefore int64         `json:"quantity_before"`
	QuantityAfter  int64         `json:"quantity_after"`
	Note           string        `json:"note"`
	ActorID        int64         `json:"actor_id"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// Delta returns the signed on-hand change of the movement.
func (m StockMovement) Delta() int64 {
	if m.Direction == DirectionOutbound {
		return -m.Quantity
	}
	return m.Quantity
}

// Record is the current stock position of a product in a warehouse.
type Record struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	WarehouseID   int64     `json:"warehouse_id"`
	OnHand        int64     `json:"quantity_on_hand"`
	Reserved      int64     `json:"quantity_reserved"`
	Version       int64     `json:"version"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Available is on-hand stock not held by reservations.
func (r Record) Available() int64 {
	return r.OnHand - r.Reserved
}

// Check verifies the record invariants.
func (r Record) Check() error {
	if r.OnHand < 0 || r.Reserved < 0 || r.Available() < 0 {
		return fmt.Errorf("%w: product %d warehouse %d on_hand=%d reserved=%d",
			ErrLedgerCorrupted, r.ProductID, r.WarehouseID, r.OnHand, r.Reserved)
	}
	return nil
}

// apply returns the record after moving quantity in direction. Outbound
// movements may not take on-hand below zero or below the reserved quantity.
func (r Record) apply(direction Direction, quantity int64) (Record, error) {
	next := r
	switch direction {
	case DirectionInbound:
		next.OnHand += quantity
	case DirectionOutbound:
		if quantity > r.Available() {
			return r, fmt.Errorf("%w: requested %d, available %d (product %d, warehouse %d)",
				ErrInsufficientStock, quantity, r.Available(), r.ProductID, r.WarehouseID)
		}
		next.OnHand -= quantity
	default:
		return r, ErrDirectionRequired
	}
	return next, nil
}

// Replay folds movements, in order, over an empty position and returns the
// resulting on-hand quantity.
func Replay(movements []StockMovement) (int64, error) {
	var onHand int64
	for _, m := range movements {
		if m.Quantity <= 0 {
			return 0, fmt.Errorf("%w: movement %d has quantity %d", ErrLedgerCorrupted, m.ID, m.Quantity)
		}
		onHand += m.Delta()
		if onHand < 0 {
			return 0, fmt.Errorf("%w: movement %d drives on-hand to %d", ErrLedgerCorrupted, m.ID, onHand)
		}
	}
	return onHand, nil
}

// MovementInput describes a single ledger posting.
type MovementInput struct {
	ProductID     int64         `json:"product_id" validate:"required,gt=0"`
	WarehouseID   int64         `json:"warehouse_id" validate:"required,gt=0"`
	Type          MovementType  `json:"movement_type" validate:"required,oneof=IN OUT TRANSFER ADJUSTMENT"`
	Direction     Direction     `json:"direction" validate:"omitempty,oneof=INBOUND OUTBOUND"`
	Quantity      int64         `json:"quantity"`
	ReferenceType ReferenceType `json:"reference_type" validate:"required,oneof=PURCHASE_ORDER SALE_ORDER TRANSFER ADJUSTMENT"`
	ReferenceID   int64         `json:"reference_id" validate:"gte=0"`
	Note          string        `json:"note" validate:"max=500"`
	ActorID       int64         `json:"-" validate:"required,gt=0"`
}

// direction resolves the movement direction from its type.
func (in MovementInput) direction() (Direction, error) {
	switch in.Type {
	case MovementIn:
		return DirectionInbound, nil
	case MovementOut:
		return DirectionOutbound, nil
	}
	if in.Direction == "" {
		return "", ErrDirectionRequired
	}
	return in.Direction, nil
}

// AdjustmentInput is a signed manual correction.
type AdjustmentInput struct {
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID    int64  `json:"warehouse_id" validate:"required,gt=0"`
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason" validate:"required,max=500"`
	IdempotencyKey string `json:"-" validate:"omitempty,uuid"`
	ActorID        int64  `json:"-" validate:"required,gt=0"`
}

// TransferInput moves stock between two warehouses.
type TransferInput struct {
	ProductID              int64  `json:"product_id" validate:"required,gt=0"`
	SourceWarehouseID      int64  `json:"source_warehouse_id" validate:"required,gt=0"`
	DestinationWarehouseID int64  `json:"destination_warehouse_id" validate:"required,gt=0"`
	Quantity               int64  `json:"quantity"`
	Note                   string `json:"note" validate:"max=500"`
	ActorID                int64  `json:"-" validate:"required,gt=0"`
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Source      Record `json:"source"`
	Destination Record `json:"destination"`
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	ProductID    int64
	WarehouseID  int64
	LowStockOnly bool
	Page         int
	PerPage      int
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	Type        MovementType
	From        time.Time
	To          time.Time
	Page        int
	PerPage     int
}

// ReconcileReport compares a stored record with its replayed movement log.
type ReconcileReport struct {
	ProductID      int64 `json:"product_id"`
	WarehouseID    int64 `json:"warehouse_id"`
	StoredOnHand   int64 `json:"stored_on_hand"`
	ReplayedOnHand int64 `json:"replayed_on_hand"`
	Movements      int   `json:"movements"`
	Consistent     bool  `json:"consistent"`
}
