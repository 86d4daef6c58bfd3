package procurement

import "context"

// OrderObserver is notified after order changes commit.
type OrderObserver interface {
	OrderChanged(ctx context.Context, order PurchaseOrder, actorID int64) error
}
