package reorder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ErrNoActiveSupplier indicates there is nobody to order from.
var ErrNoActiveSupplier = fmt.Errorf("reorder: no active supplier: %w", shared.ErrNotFound)

// SupplierSelector picks the supplier for an automatic order.
type SupplierSelector interface {
	Select(ctx context.Context, product masterdata.Product) (masterdata.Supplier, error)
}

// SupplierLister lists suppliers that can receive orders.
type SupplierLister interface {
	ListActiveSuppliers(ctx context.Context) ([]masterdata.Supplier, error)
}

// DeliveryHistory exposes per-supplier delivery statistics.
type DeliveryHistory interface {
	DeliveryStats(ctx context.Context, since time.Time) ([]procurement.DeliveryStat, error)
}

// FirstActive selects the active supplier with the lowest id.
type FirstActive struct {
	Suppliers SupplierLister
}

// Select implements SupplierSelector.
func (f FirstActive) Select(ctx context.Context, _ masterdata.Product) (masterdata.Supplier, error) {
	suppliers, err := f.Suppliers.ListActiveSuppliers(ctx)
	if err != nil {
		return masterdata.Supplier{}, err
	}
	if len(suppliers) == 0 {
		return masterdata.Supplier{}, ErrNoActiveSupplier
	}
	sort.Slice(suppliers, func(i, j int) bool { return suppliers[i].ID < suppliers[j].ID })
	return suppliers[0], nil
}

// Performance ranks active suppliers by on-time delivery rate over a
// trailing window. Ties go to the supplier with more deliveries, then the
// lower id.
type Performance struct {
	Suppliers SupplierLister
	History   DeliveryHistory
	Window    time.Duration
	Now       func() time.Time
}

// NewPerformance builds a selector over a 90 day window.
func NewPerformance(suppliers SupplierLister, history DeliveryHistory) *Performance {
	return &Performance{
		Suppliers: suppliers,
		History:   history,
		Window:    90 * 24 * time.Hour,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Select implements SupplierSelector.
func (p *Performance) Select(ctx context.Context, _ masterdata.Product) (masterdata.Supplier, error) {
	suppliers, err := p.Suppliers.ListActiveSuppliers(ctx)
	if err != nil {
		return masterdata.Supplier{}, err
	}
	if len(suppliers) == 0 {
		return masterdata.Supplier{}, ErrNoActiveSupplier
	}
	stats, err := p.History.DeliveryStats(ctx, p.Now().Add(-p.Window))
	if err != nil {
		return masterdata.Supplier{}, err
	}
	bySupplier := make(map[int64]procurement.DeliveryStat, len(stats))
	for _, s := range stats {
		bySupplier[s.SupplierID] = s
	}
	sort.Slice(suppliers, func(i, j int) bool {
		a, b := bySupplier[suppliers[i].ID], bySupplier[suppliers[j].ID]
		if ra, rb := a.OnTimeRate(), b.OnTimeRate(); ra != rb {
			return ra > rb
		}
		if a.Delivered != b.Delivered {
			return a.Delivered > b.Delivered
		}
		return suppliers[i].ID < suppliers[j].ID
	})
	return suppliers[0], nil
}
