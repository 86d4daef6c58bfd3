package reorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var fixedNow = time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC)

type stubStock struct {
	mu       sync.Mutex
	records  []inventory.Record
	outbound map[int64]int64
	since    time.Time
}

func (s *stubStock) AllRecords(ctx context.Context) ([]inventory.Record, error) {
	return s.records, nil
}

func (s *stubStock) GetRecord(ctx context.Context, productID, warehouseID int64) (inventory.Record, error) {
	for _, rec := range s.records {
		if rec.ProductID == productID && rec.WarehouseID == warehouseID {
			return rec, nil
		}
	}
	return inventory.Record{}, inventory.ErrRecordNotFound
}

func (s *stubStock) OutboundQuantity(ctx context.Context, productID, warehouseID int64, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = since
	return s.outbound[productID], nil
}

type stubCatalog struct {
	products map[int64]masterdata.Product
}

func (c stubCatalog) GetProduct(ctx context.Context, id int64) (masterdata.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return masterdata.Product{}, masterdata.ErrProductNotFound
	}
	return p, nil
}

func (c stubCatalog) ListProducts(ctx context.Context, activeOnly bool) ([]masterdata.Product, error) {
	var out []masterdata.Product
	for id := int64(1); id <= 1000; id++ {
		if p, ok := c.products[id]; ok && (!activeOnly || p.IsActive) {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubOrders struct {
	mu      sync.Mutex
	created []procurement.CreateOrderInput
	delay   time.Duration
}

func (o *stubOrders) CreateOrder(ctx context.Context, input procurement.CreateOrderInput) (procurement.PurchaseOrder, error) {
	select {
	case <-time.After(o.delay):
	case <-ctx.Done():
		return procurement.PurchaseOrder{}, ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, input)
	return procurement.PurchaseOrder{
		ID:                   int64(len(o.created)),
		Number:               fmt.Sprintf("PO-20240603-%03d", len(o.created)),
		SupplierID:           input.SupplierID,
		WarehouseID:          input.WarehouseID,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Status:               procurement.POStatusDraft,
	}, nil
}

func (o *stubOrders) OpenCoverage(ctx context.Context, productID, warehouseID int64) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var qty int64
	for _, in := range o.created {
		if in.WarehouseID != warehouseID {
			continue
		}
		for _, l := range in.Lines {
			if l.ProductID == productID {
				qty += l.Quantity
			}
		}
	}
	return qty, nil
}

type stubSuppliers []masterdata.Supplier

func (s stubSuppliers) ListActiveSuppliers(ctx context.Context) ([]masterdata.Supplier, error) {
	return append([]masterdata.Supplier(nil), s...), nil
}

type tally struct {
	mu       sync.Mutex
	drafts   int
	failures int
}

func (t *tally) DraftCreated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drafts++
}

func (t *tally) PairFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
}

func widget(id int64) masterdata.Product {
	return masterdata.Product{ID: id, SKU: fmt.Sprintf("W-%d", id), IsActive: true, CostPrice: decimal.RequireFromString("4.25"), ReorderPoint: 20}
}

type fixture struct {
	engine  *Engine
	stock   *stubStock
	catalog stubCatalog
	orders  *stubOrders
	tally   *tally
}

func newFixture() *fixture {
	f := &fixture{
		stock: &stubStock{
			records:  []inventory.Record{{ID: 1, ProductID: 1, WarehouseID: 1, OnHand: 10}},
			outbound: map[int64]int64{1: 150},
		},
		catalog: stubCatalog{products: map[int64]masterdata.Product{1: widget(1)}},
		orders:  &stubOrders{},
		tally:   &tally{},
	}
	selector := FirstActive{Suppliers: stubSuppliers{{ID: 9, IsActive: true}, {ID: 4, IsActive: true}}}
	f.engine = NewEngine(DefaultConfig(), f.stock, f.catalog, f.orders, selector, nil)
	f.engine.now = func() time.Time { return fixedNow }
	f.engine.SetCounter(f.tally)
	return f
}

func TestRunCreatesDraftOrder(t *testing.T) {
	f := newFixture()

	result, err := f.engine.Run(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, RunResult{Evaluated: 1, Created: 1, Orders: []string{"PO-20240603-001"}}, result)

	require.Len(t, f.orders.created, 1)
	input := f.orders.created[0]
	require.Equal(t, int64(4), input.SupplierID)
	require.Equal(t, int64(1), input.WarehouseID)
	require.Equal(t, int64(99), input.ActorID)
	require.Equal(t, fixedNow.AddDate(0, 0, 7), input.ExpectedDeliveryDate)
	require.Len(t, input.Lines, 1)
	require.Equal(t, int64(32), input.Lines[0].Quantity)
	require.True(t, input.Lines[0].UnitPrice.Equal(decimal.RequireFromString("4.25")))
	require.Equal(t, fixedNow.AddDate(0, 0, -30), f.stock.since)
	require.Equal(t, 1, f.tally.drafts)
}

func TestRepeatRunDoesNotDuplicateOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.engine.Run(ctx, 99)
	require.NoError(t, err)
	result, err := f.engine.Run(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, 0, result.Created)
	require.Equal(t, 1, result.Skipped)
	require.Len(t, f.orders.created, 1)

	outcome, err := f.engine.RunFor(ctx, 1, 1, 99)
	require.NoError(t, err)
	require.Equal(t, SkipCoveredByPOs, outcome.Skipped)
	require.Equal(t, int64(32), outcome.Suggestion.OpenCoverage)
}

func TestRunUsesProductReorderQuantity(t *testing.T) {
	f := newFixture()
	p := widget(1)
	p.ReorderQuantity = 100
	f.catalog.products[1] = p

	_, err := f.engine.Run(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, int64(100), f.orders.created[0].Lines[0].Quantity)
}

func TestRunSkipsIneligibleAndContinuesPastFailures(t *testing.T) {
	f := newFixture()
	inactive := widget(2)
	inactive.IsActive = false
	free := widget(3)
	free.CostPrice = decimal.Zero
	f.catalog.products[2] = inactive
	f.catalog.products[3] = free
	f.catalog.products[4] = widget(4)
	f.stock.records = []inventory.Record{
		{ProductID: 901, WarehouseID: 1},
		{ProductID: 2, WarehouseID: 1},
		{ProductID: 3, WarehouseID: 1},
		{ProductID: 4, WarehouseID: 1, OnHand: 500},
		{ProductID: 1, WarehouseID: 1, OnHand: 10},
	}

	result, err := f.engine.Run(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, 5, result.Evaluated)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 3, result.Skipped)
	require.Equal(t, 1, result.Created)
	require.Equal(t, 1, f.tally.failures)
}

func TestRunForCoalescesConcurrentCalls(t *testing.T) {
	f := newFixture()
	f.orders.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RunFor(context.Background(), 1, 1, 99)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, f.orders.created, 1)
}

func TestRunForCoalescedCallerKeepsOwnActor(t *testing.T) {
	f := newFixture()
	f.orders.delay = 30 * time.Millisecond
	ctx := context.Background()

	var (
		first    Outcome
		firstErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		first, firstErr = f.engine.RunFor(ctx, 1, 1, 99)
	}()
	time.Sleep(5 * time.Millisecond)
	follower, err := f.engine.RunFor(ctx, 1, 1, 42)
	require.NoError(t, err)
	<-done
	require.NoError(t, firstErr)

	require.NotNil(t, first.Order)
	require.Len(t, f.orders.created, 1)
	require.Equal(t, int64(99), f.orders.created[0].ActorID)
	require.Nil(t, follower.Order)
	require.Equal(t, SkipInProgress, follower.Skipped)
}

func TestRunForSurvivesCoalescedLeaderCancellation(t *testing.T) {
	f := newFixture()
	f.orders.delay = 30 * time.Millisecond

	leaderCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.engine.RunFor(leaderCtx, 1, 1, 99)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	outcome, err := f.engine.RunFor(context.Background(), 1, 1, 99)
	require.NoError(t, err)
	<-done
	require.NotNil(t, outcome.Order)
	require.Len(t, f.orders.created, 1)
}

func TestRunForUnknownPair(t *testing.T) {
	f := newFixture()
	_, err := f.engine.RunFor(context.Background(), 1, 2, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRunForWithoutSupplier(t *testing.T) {
	f := newFixture()
	f.engine.selector = FirstActive{Suppliers: stubSuppliers{}}
	_, err := f.engine.RunFor(context.Background(), 1, 1, 99)
	require.ErrorIs(t, err, ErrNoActiveSupplier)
	require.Empty(t, f.orders.created)
}

func TestSuggestIsReportOnly(t *testing.T) {
	f := newFixture()
	f.catalog.products[4] = widget(4)
	f.stock.records = append(f.stock.records, inventory.Record{ProductID: 4, WarehouseID: 1, OnHand: 500})

	suggestions, err := f.engine.Suggest(context.Background())
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, int64(1), suggestions[0].ProductID)
	require.Equal(t, int64(32), suggestions[0].Quantity)
	require.Equal(t, "W-1", suggestions[0].SKU)
	require.Empty(t, f.orders.created)
}

type stubHistory []procurement.DeliveryStat

func (h stubHistory) DeliveryStats(ctx context.Context, since time.Time) ([]procurement.DeliveryStat, error) {
	return h, nil
}

func TestPerformanceSelectorRanksByOnTimeRate(t *testing.T) {
	suppliers := stubSuppliers{{ID: 1, IsActive: true}, {ID: 2, IsActive: true}, {ID: 3, IsActive: true}}
	history := stubHistory{
		{SupplierID: 1, Delivered: 10, OnTime: 6},
		{SupplierID: 2, Delivered: 4, OnTime: 4},
		{SupplierID: 3, Delivered: 8, OnTime: 8},
	}
	selector := NewPerformance(suppliers, history)
	best, err := selector.Select(context.Background(), masterdata.Product{})
	require.NoError(t, err)
	require.Equal(t, int64(3), best.ID)

	fresh := NewPerformance(suppliers, stubHistory{})
	best, err = fresh.Select(context.Background(), masterdata.Product{})
	require.NoError(t, err)
	require.Equal(t, int64(1), best.ID)

	_, err = NewPerformance(stubSuppliers{}, history).Select(context.Background(), masterdata.Product{})
	require.True(t, errors.Is(err, ErrNoActiveSupplier))
}

func TestRunForSkipsPairLockedElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewLocker(client)
	f := newFixture()
	f.engine.SetLocker(locker)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, shared.PairLockKey("reorder", 1, 1), time.Minute)
	require.NoError(t, err)
	outcome, err := f.engine.RunFor(ctx, 1, 1, 99)
	require.NoError(t, err)
	require.Equal(t, SkipInProgress, outcome.Skipped)
	require.Empty(t, f.orders.created)

	require.NoError(t, release(ctx))
	outcome, err = f.engine.RunFor(ctx, 1, 1, 99)
	require.NoError(t, err)
	require.NotNil(t, outcome.Order)
	require.False(t, mr.Exists(shared.PairLockKey("reorder", 1, 1)))
}
