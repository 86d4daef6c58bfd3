package inventory

import "context"

// StockObserver is notified after ledger changes commit.
type StockObserver interface {
	RecordChanged(ctx context.Context, record Record, actorID int64) error
	StockAdjusted(ctx context.Context, movement StockMovement, record Record) error
}
