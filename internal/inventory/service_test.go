package inventory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type pairKey struct {
	product   int64
	warehouse int64
}

type memoryRepo struct {
	mu             sync.Mutex
	records        map[pairKey]Record
	movements      []StockMovement
	nextRecordID   int64
	nextMovementID int64
	failInsert     error
	// conflicts fails this many commits with a serialization error.
	conflicts int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[pairKey]Record)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make(map[pairKey]Record, len(r.records))
	for k, v := range r.records {
		records[k] = v
	}
	movements := len(r.movements)
	recordID, movementID := r.nextRecordID, r.nextMovementID
	err := fn(ctx, &memoryTx{repo: r})
	if err == nil && r.conflicts > 0 {
		r.conflicts--
		err = fmt.Errorf("%w: could not serialize access", shared.ErrConflict)
	}
	if err != nil {
		r.records = records
		r.movements = r.movements[:movements]
		r.nextRecordID, r.nextMovementID = recordID, movementID
		return err
	}
	return nil
}

func (r *memoryRepo) GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[pairKey{productID, warehouseID}]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (r *memoryRepo) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error) {
	all, _ := r.AllRecords(ctx)
	var out []Record
	for _, rec := range all {
		if filter.ProductID > 0 && rec.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID > 0 && rec.WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (r *memoryRepo) AllRecords(ctx context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockMovement
	for _, m := range r.movements {
		if filter.ProductID > 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID > 0 && m.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		out = append(out, m)
	}
	return out, len(out), nil
}

func (r *memoryRepo) MovementsForPair(ctx context.Context, productID, warehouseID int64) ([]StockMovement, error) {
	movements, _, err := r.ListMovements(ctx, MovementFilter{ProductID: productID, WarehouseID: warehouseID})
	return movements, err
}

func (r *memoryRepo) ListOutbound(ctx context.Context, productID, warehouseID int64, since time.Time) ([]StockMovement, error) {
	movements, _, err := r.ListMovements(ctx, MovementFilter{ProductID: productID, WarehouseID: warehouseID, Type: MovementOut})
	var out []StockMovement
	for _, m := range movements {
		if !m.OccurredAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, err
}

func (tx *memoryTx) EnsureRecord(ctx context.Context, productID, warehouseID int64) error {
	key := pairKey{productID, warehouseID}
	if _, ok := tx.repo.records[key]; ok {
		return nil
	}
	tx.repo.nextRecordID++
	tx.repo.records[key] = Record{ID: tx.repo.nextRecordID, ProductID: productID, WarehouseID: warehouseID}
	return nil
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error) {
	rec, ok := tx.repo.records[pairKey{productID, warehouseID}]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	if tx.repo.failInsert != nil {
		return 0, tx.repo.failInsert
	}
	tx.repo.nextMovementID++
	m.ID = tx.repo.nextMovementID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) UpdateRecord(ctx context.Context, rec Record) (Record, error) {
	key := pairKey{rec.ProductID, rec.WarehouseID}
	current := tx.repo.records[key]
	if current.Version != rec.Version {
		return Record{}, shared.ErrConflict
	}
	rec.Version++
	tx.repo.records[key] = rec
	return rec, nil
}

type stubCatalog struct {
	inactiveProducts map[int64]bool
}

func (c stubCatalog) GetProduct(ctx context.Context, id int64) (masterdata.Product, error) {
	if id >= 900 {
		return masterdata.Product{}, masterdata.ErrProductNotFound
	}
	return masterdata.Product{ID: id, IsActive: !c.inactiveProducts[id], CostPrice: decimal.NewFromInt(5)}, nil
}

func (c stubCatalog) GetWarehouse(ctx context.Context, id int64) (masterdata.Warehouse, error) {
	if id >= 900 {
		return masterdata.Warehouse{}, masterdata.ErrWarehouseNotFound
	}
	return masterdata.Warehouse{ID: id, IsActive: true}, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	changed  []Record
	adjusted []StockMovement
}

func (o *recordingObserver) RecordChanged(ctx context.Context, rec Record, actorID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, rec)
	return nil
}

func (o *recordingObserver) StockAdjusted(ctx context.Context, m StockMovement, rec Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adjusted = append(o.adjusted, m)
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[module+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+key] = true
	return nil
}

func (m *memoryIdempotency) Release(ctx context.Context, key, module string) error {
	delete(m.keys, module+key)
	return nil
}

func newTestService(repo *memoryRepo) (*Service, *recordingObserver) {
	svc := NewService(repo, stubCatalog{}, nil, &memoryIdempotency{keys: map[string]bool{}}, nil)
	obs := &recordingObserver{}
	svc.SetObserver(obs)
	return svc, obs
}

func inbound(product, warehouse, qty int64) MovementInput {
	return MovementInput{ProductID: product, WarehouseID: warehouse, Type: MovementIn, Quantity: qty, ReferenceType: ReferencePurchaseOrder, ReferenceID: 1, ActorID: 7}
}

func outbound(product, warehouse, qty int64) MovementInput {
	return MovementInput{ProductID: product, WarehouseID: warehouse, Type: MovementOut, Quantity: qty, ReferenceType: ReferenceSaleOrder, ReferenceID: 2, ActorID: 7}
}

func TestApplyMovementCreatesRecordLazily(t *testing.T) {
	repo := newMemoryRepo()
	svc, obs := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.ApplyMovement(ctx, inbound(1, 1, 40))
	require.NoError(t, err)
	require.EqualValues(t, 40, rec.OnHand)
	require.EqualValues(t, 40, rec.Available())
	require.EqualValues(t, 1, rec.Version)
	require.Len(t, repo.movements, 1)
	require.EqualValues(t, 0, repo.movements[0].QuantityBefore)
	require.EqualValues(t, 40, repo.movements[0].QuantityAfter)
	require.Len(t, obs.changed, 1)
}

func TestApplyMovementRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 0))
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.ApplyMovement(ctx, inbound(1, 1, -3))
	require.ErrorIs(t, err, shared.ErrValidation)

	noActor := inbound(1, 1, 3)
	noActor.ActorID = 0
	_, err = svc.ApplyMovement(ctx, noActor)
	require.ErrorIs(t, err, shared.ErrValidation)

	transfer := inbound(1, 1, 3)
	transfer.Type = MovementTransfer
	_, err = svc.ApplyMovement(ctx, transfer)
	require.ErrorIs(t, err, ErrDirectionRequired)
}

func TestApplyMovementUnknownMasters(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, stubCatalog{inactiveProducts: map[int64]bool{3: true}}, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(999, 1, 5))
	require.ErrorIs(t, err, ErrUnknownProductOrWarehouse)
	_, err = svc.ApplyMovement(ctx, inbound(1, 999, 5))
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.ApplyMovement(ctx, inbound(3, 1, 5))
	require.ErrorIs(t, err, ErrUnknownProductOrWarehouse)
	require.Empty(t, repo.movements)
}

func TestInsufficientStockLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 3))
	require.NoError(t, err)

	_, err = svc.ApplyMovement(ctx, outbound(1, 1, 5))
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	rec, err := svc.GetRecord(ctx, 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, rec.OnHand)
	require.EqualValues(t, 1, rec.Version)
	require.Len(t, repo.movements, 1)
}

func TestOutboundCannotConsumeReservedStock(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 10))
	require.NoError(t, err)
	rec := repo.records[pairKey{1, 1}]
	rec.Reserved = 4
	repo.records[pairKey{1, 1}] = rec

	_, err = svc.ApplyMovement(ctx, outbound(1, 1, 7))
	require.ErrorIs(t, err, ErrInsufficientStock)

	rec, err = svc.ApplyMovement(ctx, outbound(1, 1, 6))
	require.NoError(t, err)
	require.EqualValues(t, 4, rec.OnHand)
	require.EqualValues(t, 0, rec.Available())
}

func TestFailedAppendRollsBackRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc, obs := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 10))
	require.NoError(t, err)

	repo.failInsert = errors.New("disk full")
	_, err = svc.ApplyMovement(ctx, inbound(1, 1, 10))
	require.Error(t, err)

	rec, err := svc.GetRecord(ctx, 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, rec.OnHand)
	require.Len(t, repo.movements, 1)
	require.Len(t, obs.changed, 1)
}

func TestTransferMovesStock(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 20))
	require.NoError(t, err)

	result, err := svc.PostTransfer(ctx, TransferInput{ProductID: 1, SourceWarehouseID: 1, DestinationWarehouseID: 2, Quantity: 5, ActorID: 7})
	require.NoError(t, err)
	require.EqualValues(t, 15, result.Source.OnHand)
	require.EqualValues(t, 5, result.Destination.OnHand)

	transfers, _, err := svc.ListMovements(ctx, MovementFilter{Type: MovementTransfer})
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	require.Equal(t, DirectionOutbound, transfers[0].Direction)
	require.Equal(t, DirectionInbound, transfers[1].Direction)

	_, err = svc.PostTransfer(ctx, TransferInput{ProductID: 1, SourceWarehouseID: 1, DestinationWarehouseID: 2, Quantity: 50, ActorID: 7})
	require.ErrorIs(t, err, ErrInsufficientStock)
	dst, err := svc.GetRecord(ctx, 1, 2)
	require.NoError(t, err)
	require.EqualValues(t, 5, dst.OnHand)

	_, err = svc.PostTransfer(ctx, TransferInput{ProductID: 1, SourceWarehouseID: 1, DestinationWarehouseID: 1, Quantity: 1, ActorID: 7})
	require.ErrorIs(t, err, ErrSameWarehouse)
}

func TestMovementRetriesAfterSerializationConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc, obs := newTestService(repo)
	ctx := context.Background()
	repo.conflicts = 1

	rec, err := svc.ApplyMovement(ctx, inbound(1, 1, 40))
	require.NoError(t, err)
	require.EqualValues(t, 40, rec.OnHand)
	require.EqualValues(t, 1, rec.Version)
	require.Len(t, repo.movements, 1)
	require.Len(t, obs.changed, 1)
	require.Zero(t, repo.conflicts)
}

func TestTransferRetriesAfterSerializationConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 20))
	require.NoError(t, err)
	repo.conflicts = 2

	result, err := svc.PostTransfer(ctx, TransferInput{ProductID: 1, SourceWarehouseID: 1, DestinationWarehouseID: 2, Quantity: 5, ActorID: 7})
	require.NoError(t, err)
	require.EqualValues(t, 15, result.Source.OnHand)
	require.EqualValues(t, 5, result.Destination.OnHand)
	require.Len(t, repo.movements, 3)
}

func TestMovementGivesUpAfterRepeatedConflicts(t *testing.T) {
	repo := newMemoryRepo()
	svc, obs := newTestService(repo)
	ctx := context.Background()
	repo.conflicts = db.ConflictAttempts

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 40))
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, repo.movements)
	require.Empty(t, obs.changed)
	_, err = svc.GetRecord(ctx, 1, 1)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAdjustmentIsSignedAndIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc, obs := newTestService(repo)
	ctx := context.Background()

	key := "0b1c3a52-5f7e-4f38-8a3d-53d2a1f0f9a1"
	rec, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, WarehouseID: 1, Delta: 12, Reason: "cycle count", IdempotencyKey: key, ActorID: 7})
	require.NoError(t, err)
	require.EqualValues(t, 12, rec.OnHand)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, WarehouseID: 1, Delta: 12, Reason: "cycle count", IdempotencyKey: key, ActorID: 7})
	require.ErrorIs(t, err, shared.ErrDuplicateReference)

	rec, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, WarehouseID: 1, Delta: -2, Reason: "damaged", ActorID: 7})
	require.NoError(t, err)
	require.EqualValues(t, 10, rec.OnHand)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, WarehouseID: 1, Delta: -11, Reason: "lost", ActorID: 7})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, WarehouseID: 1, Delta: 0, Reason: "noop", ActorID: 7})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	require.Len(t, obs.adjusted, 2)
	require.Equal(t, DirectionOutbound, obs.adjusted[1].Direction)
	require.EqualValues(t, 2, obs.adjusted[1].Quantity)
}

func TestFailedAdjustmentReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	key := "9f6c2d7e-0a4b-4a51-9d0e-7b3c1e2f4a55"
	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, WarehouseID: 1, Delta: -1, Reason: "shrink", IdempotencyKey: key, ActorID: 7})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, WarehouseID: 1, Delta: 1, Reason: "found", IdempotencyKey: key, ActorID: 7})
	require.NoError(t, err)
}

func TestConcurrentMovementsDoNotLoseUpdates(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.ApplyMovement(ctx, inbound(1, 1, 3))
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.ApplyMovement(ctx, outbound(1, 1, 2))
		}()
	}
	wg.Wait()

	rec, err := svc.GetRecord(ctx, 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 150, rec.OnHand)
	require.EqualValues(t, 101, rec.Version)

	report, err := svc.Reconcile(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, report.Consistent)
}

func TestRandomSequencesReplayToStoredRecord(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		repo := newMemoryRepo()
		svc, _ := newTestService(repo)
		ctx := context.Background()

		var expected int64
		for i := 0; i < 60; i++ {
			qty := int64(rng.Intn(20) + 1)
			if rng.Intn(3) == 0 {
				_, err := svc.ApplyMovement(ctx, outbound(1, 1, qty))
				if qty > expected {
					require.ErrorIs(t, err, ErrInsufficientStock)
					continue
				}
				require.NoError(t, err)
				expected -= qty
				continue
			}
			_, err := svc.ApplyMovement(ctx, inbound(1, 1, qty))
			require.NoError(t, err)
			expected += qty
		}

		rec, err := svc.GetRecord(ctx, 1, 1)
		require.NoError(t, err)
		require.Equal(t, expected, rec.OnHand)
		require.Equal(t, rec.OnHand-rec.Reserved, rec.Available())
		report, err := svc.Reconcile(ctx, 1, 1)
		require.NoError(t, err)
		require.Equal(t, expected, report.ReplayedOnHand)
	}
}

func TestReconcileDetectsCorruption(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 8))
	require.NoError(t, err)
	rec := repo.records[pairKey{1, 1}]
	rec.OnHand = 11
	repo.records[pairKey{1, 1}] = rec

	report, err := svc.Reconcile(ctx, 1, 1)
	require.ErrorIs(t, err, ErrLedgerCorrupted)
	require.ErrorIs(t, err, shared.ErrInvariant)
	require.False(t, report.Consistent)
	require.EqualValues(t, 8, report.ReplayedOnHand)
	require.EqualValues(t, 11, report.StoredOnHand)
}

func TestOutboundQuantityWindow(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	_, err := svc.ApplyMovement(ctx, inbound(1, 1, 100))
	require.NoError(t, err)
	_, err = svc.ApplyMovement(ctx, outbound(1, 1, 30))
	require.NoError(t, err)
	clock = clock.AddDate(0, 0, 20)
	_, err = svc.ApplyMovement(ctx, outbound(1, 1, 12))
	require.NoError(t, err)

	total, err := svc.OutboundQuantity(ctx, 1, 1, clock.AddDate(0, 0, -10))
	require.NoError(t, err)
	require.EqualValues(t, 12, total)
	total, err = svc.OutboundQuantity(ctx, 1, 1, clock.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.EqualValues(t, 42, total)
}

func TestProvisionRecordIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.ProvisionRecord(ctx, 4, 2, 7)
	require.NoError(t, err)
	second, err := svc.ProvisionRecord(ctx, 4, 2, 7)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Zero(t, second.OnHand)

	_, err = svc.ProvisionRecord(ctx, 4, 2, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListMovementsRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	now := time.Now()
	_, _, err := svc.ListMovements(context.Background(), MovementFilter{From: now, To: now.Add(-time.Hour)})
	require.ErrorIs(t, err, shared.ErrValidation)
}
