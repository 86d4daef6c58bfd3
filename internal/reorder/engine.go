package reorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// StockPort reads inventory state and demand.
type StockPort interface {
	AllRecords(ctx context.Context) ([]inventory.Record, error)
	GetRecord(ctx context.Context, productID, warehouseID int64) (inventory.Record, error)
	OutboundQuantity(ctx context.Context, productID, warehouseID int64, since time.Time) (int64, error)
}

// CatalogPort resolves products.
type CatalogPort interface {
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
}

// OrderPort creates orders and reports open coverage.
type OrderPort interface {
	CreateOrder(ctx context.Context, input procurement.CreateOrderInput) (procurement.PurchaseOrder, error)
	OpenCoverage(ctx context.Context, productID, warehouseID int64) (int64, error)
}

// PairLocker guards a pair across processes while an order is raised.
type PairLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

const pairLockTTL = 30 * time.Second

// Counter receives engine events.
type Counter interface {
	DraftCreated()
	PairFailed()
}

// Outcome is the result of evaluating one pair.
type Outcome struct {
	Suggestion Suggestion                 `json:"suggestion"`
	Skipped    string                     `json:"skipped,omitempty"`
	Order      *procurement.PurchaseOrder `json:"order,omitempty"`
}

// RunResult summarises a full run.
type RunResult struct {
	Evaluated int      `json:"evaluated"`
	Created   int      `json:"created"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Orders    []string `json:"orders"`
}

// Engine evaluates inventory against demand and raises DRAFT orders.
type Engine struct {
	cfg      Config
	stock    StockPort
	catalog  CatalogPort
	orders   OrderPort
	selector SupplierSelector
	counter  Counter
	locker   PairLocker
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewEngine constructs the reorder engine.
func NewEngine(cfg Config, stock StockPort, catalog CatalogPort, orders OrderPort, selector SupplierSelector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg.normalized(),
		stock:    stock,
		catalog:  catalog,
		orders:   orders,
		selector: selector,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetCounter registers a metrics sink.
func (e *Engine) SetCounter(counter Counter) {
	e.counter = counter
}

// SetLocker registers a cross-process pair lock.
func (e *Engine) SetLocker(locker PairLocker) {
	e.locker = locker
}

// Run evaluates every inventory record. Failures on a pair are logged and
// counted; the run continues with the next pair.
func (e *Engine) Run(ctx context.Context, actorID int64) (RunResult, error) {
	records, err := e.stock.AllRecords(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("reorder: load records: %w", err)
	}
	result := RunResult{Orders: []string{}}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Evaluated++
		outcome, err := e.evaluate(ctx, rec, actorID)
		switch {
		case err != nil:
			result.Failed++
			if e.counter != nil {
				e.counter.PairFailed()
			}
			e.logger.Error("reorder pair failed", slog.Int64("product_id", rec.ProductID),
				slog.Int64("warehouse_id", rec.WarehouseID), slog.Any("error", err))
		case outcome.Order != nil:
			result.Created++
			result.Orders = append(result.Orders, outcome.Order.Number)
		default:
			result.Skipped++
		}
	}
	e.logger.Info("reorder run finished", slog.Int("evaluated", result.Evaluated), slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped), slog.Int("failed", result.Failed))
	return result, nil
}

// RunFor evaluates a single pair on demand. Concurrent calls for the same
// pair share one evaluation.
func (e *Engine) RunFor(ctx context.Context, productID, warehouseID, actorID int64) (Outcome, error) {
	rec, err := e.stock.GetRecord(ctx, productID, warehouseID)
	if err != nil {
		return Outcome{}, err
	}
	return e.evaluate(ctx, rec, actorID)
}

// Suggest reports the pairs that would be ordered without creating orders.
func (e *Engine) Suggest(ctx context.Context) ([]Suggestion, error) {
	records, err := e.stock.AllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("reorder: load records: %w", err)
	}
	suggestions := []Suggestion{}
	for _, rec := range records {
		product, err := e.catalog.GetProduct(ctx, rec.ProductID)
		if err != nil {
			e.logger.Warn("reorder suggestion skipped", slog.Int64("product_id", rec.ProductID), slog.Any("error", err))
			continue
		}
		s, skip, err := e.suggest(ctx, product, rec)
		if err != nil {
			e.logger.Warn("reorder suggestion skipped", slog.Int64("product_id", rec.ProductID), slog.Any("error", err))
			continue
		}
		if skip != "" {
			continue
		}
		if s.OpenCoverage, err = e.orders.OpenCoverage(ctx, rec.ProductID, rec.WarehouseID); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

// pairRun is the shared result of one coalesced pair evaluation.
type pairRun struct {
	outcome Outcome
	actorID int64
}

// evaluate coalesces concurrent evaluations of the same pair. The shared call
// is detached from the leader's cancellation so followers are not failed by
// it. A follower acting for a different actor does not receive the leader's
// order; it sees the pair as being reordered elsewhere.
func (e *Engine) evaluate(ctx context.Context, rec inventory.Record, actorID int64) (Outcome, error) {
	key := fmt.Sprintf("%d:%d", rec.ProductID, rec.WarehouseID)
	v, err, _ := e.group.Do(key, func() (any, error) {
		outcome, err := e.evaluatePair(context.WithoutCancel(ctx), rec, actorID)
		return pairRun{outcome: outcome, actorID: actorID}, err
	})
	if err != nil {
		return Outcome{}, err
	}
	run := v.(pairRun)
	if run.actorID != actorID && run.outcome.Order != nil {
		return Outcome{Suggestion: run.outcome.Suggestion, Skipped: SkipInProgress}, nil
	}
	return run.outcome, nil
}

func (e *Engine) evaluatePair(ctx context.Context, rec inventory.Record, actorID int64) (Outcome, error) {
	product, err := e.catalog.GetProduct(ctx, rec.ProductID)
	if err != nil {
		return Outcome{}, err
	}
	s, skip, err := e.suggest(ctx, product, rec)
	if err != nil || skip != "" {
		return Outcome{Suggestion: s, Skipped: skip}, err
	}
	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, shared.PairLockKey("reorder", rec.ProductID, rec.WarehouseID), pairLockTTL)
		if errors.Is(err, shared.ErrLockHeld) {
			return Outcome{Suggestion: s, Skipped: SkipInProgress}, nil
		}
		if err != nil {
			return Outcome{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("release reorder pair lock", slog.Any("error", err))
			}
		}()
	}
	coverage, err := e.orders.OpenCoverage(ctx, rec.ProductID, rec.WarehouseID)
	if err != nil {
		return Outcome{}, err
	}
	s.OpenCoverage = coverage
	if coverage >= s.Quantity {
		return Outcome{Suggestion: s, Skipped: SkipCoveredByPOs}, nil
	}
	supplier, err := e.selector.Select(ctx, product)
	if err != nil {
		return Outcome{}, err
	}
	today := e.now()
	order, err := e.orders.CreateOrder(ctx, procurement.CreateOrderInput{
		SupplierID:           supplier.ID,
		WarehouseID:          rec.WarehouseID,
		OrderDate:            today,
		ExpectedDeliveryDate: today.AddDate(0, 0, e.cfg.LeadTimeDays),
		Notes:                fmt.Sprintf("Automatic reorder: available %d, reorder point %s", rec.Available(), s.ReorderPoint.StringFixed(2)),
		Lines: []procurement.LineInput{{
			ProductID: product.ID,
			Quantity:  s.Quantity,
			UnitPrice: product.CostPrice,
		}},
		ActorID: actorID,
	})
	if err != nil {
		return Outcome{}, err
	}
	if e.counter != nil {
		e.counter.DraftCreated()
	}
	e.logger.Info("reorder draft created", slog.String("po_number", order.Number), slog.Int64("product_id", product.ID),
		slog.Int64("warehouse_id", rec.WarehouseID), slog.Int64("quantity", s.Quantity), slog.Int64("supplier_id", supplier.ID))
	return Outcome{Suggestion: s, Order: &order}, nil
}

func (e *Engine) suggest(ctx context.Context, product masterdata.Product, rec inventory.Record) (Suggestion, string, error) {
	base := Suggestion{ProductID: rec.ProductID, WarehouseID: rec.WarehouseID, SKU: product.SKU, Available: rec.Available()}
	if skip := eligibility(product, rec); skip != "" {
		return base, skip, nil
	}
	since := e.now().AddDate(0, 0, -e.cfg.DemandWindowDays)
	outbound, err := e.stock.OutboundQuantity(ctx, rec.ProductID, rec.WarehouseID, since)
	if err != nil {
		return base, "", err
	}
	s := Calculate(Params{
		AverageDailyDemand: AverageDailyDemand(outbound, e.cfg.DemandWindowDays),
		LeadTimeDays:       e.cfg.LeadTimeDays,
		SafetyFactor:       e.cfg.SafetyFactor,
		Available:          rec.Available(),
		MinOrderQuantity:   minOrderFor(product, e.cfg),
	})
	s.ProductID, s.WarehouseID, s.SKU = base.ProductID, base.WarehouseID, base.SKU
	if !s.ShouldOrder {
		return s, SkipNoShortfall, nil
	}
	return s, "", nil
}
