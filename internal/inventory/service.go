package inventory

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const idempotencyModule = "inventory.adjustment"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error)
	AllRecords(ctx context.Context) ([]Record, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error)
	MovementsForPair(ctx context.Context, productID, warehouseID int64) ([]StockMovement, error)
	ListOutbound(ctx context.Context, productID, warehouseID int64, since time.Time) ([]StockMovement, error)
}

// CatalogPort resolves product and warehouse masters.
type CatalogPort interface {
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
	GetWarehouse(ctx context.Context, id int64) (masterdata.Warehouse, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// Service is the inventory ledger. It is the only writer of inventory records.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	audit       AuditPort
	idempotency IdempotencyPort
	observer    StockObserver
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		catalog:     catalog,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver registers the post-commit observer.
func (s *Service) SetObserver(observer StockObserver) {
	s.observer = observer
}

type movementParams struct {
	ProductID     int64
	WarehouseID   int64
	Type          MovementType
	Direction     Direction
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   int64
	Note          string
	ActorID       int64
}

// ApplyMovement appends a movement and updates the matching record atomically.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (Record, error) {
	if input.Quantity <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	if err := shared.Validate(input); err != nil {
		return Record{}, err
	}
	direction, err := input.direction()
	if err != nil {
		return Record{}, err
	}
	if err := s.ensureKnown(ctx, input.ProductID, input.WarehouseID); err != nil {
		return Record{}, err
	}
	params := movementParams{
		ProductID:     input.ProductID,
		WarehouseID:   input.WarehouseID,
		Type:          input.Type,
		Direction:     direction,
		Quantity:      input.Quantity,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Note:          input.Note,
		ActorID:       input.ActorID,
	}
	var (
		record   Record
		movement StockMovement
	)
	err = s.atomically(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		record, movement, err = s.post(ctx, tx, params)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	s.afterPost(ctx, shared.AuditStockMovement, movement, record)
	return record, nil
}

// PostAdjustment applies a signed manual correction as an ADJUSTMENT movement.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (Record, error) {
	if input.Delta == 0 {
		return Record{}, ErrInvalidQuantity
	}
	if err := shared.Validate(input); err != nil {
		return Record{}, err
	}
	if err := s.ensureKnown(ctx, input.ProductID, input.WarehouseID); err != nil {
		return Record{}, err
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return Record{}, err
		}
	}
	params := movementParams{
		ProductID:     input.ProductID,
		WarehouseID:   input.WarehouseID,
		Type:          MovementAdjustment,
		Direction:     DirectionInbound,
		Quantity:      input.Delta,
		ReferenceType: ReferenceAdjustment,
		Note:          input.Reason,
		ActorID:       input.ActorID,
	}
	if input.Delta < 0 {
		params.Direction = DirectionOutbound
		params.Quantity = -input.Delta
	}
	var (
		record   Record
		movement StockMovement
	)
	err := s.atomically(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		record, movement, err = s.post(ctx, tx, params)
		return err
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if relErr := s.idempotency.Release(ctx, input.IdempotencyKey, idempotencyModule); relErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", relErr))
			}
		}
		return Record{}, err
	}
	s.afterPost(ctx, shared.AuditStockAdjustment, movement, record)
	if s.observer != nil {
		db.AfterCommit(ctx, func(ctx context.Context) {
			if err := s.observer.StockAdjusted(ctx, movement, record); err != nil {
				s.logger.Warn("stock adjusted observer", slog.Int64("movement_id", movement.ID), slog.Any("error", err))
			}
		})
	}
	return record, nil
}

// PostTransfer moves stock between warehouses as two TRANSFER movements in
// one transaction.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.Quantity <= 0 {
		return TransferResult{}, ErrInvalidQuantity
	}
	if err := shared.Validate(input); err != nil {
		return TransferResult{}, err
	}
	if input.SourceWarehouseID == input.DestinationWarehouseID {
		return TransferResult{}, ErrSameWarehouse
	}
	if err := s.ensureKnown(ctx, input.ProductID, input.SourceWarehouseID); err != nil {
		return TransferResult{}, err
	}
	if err := s.ensureKnown(ctx, input.ProductID, input.DestinationWarehouseID); err != nil {
		return TransferResult{}, err
	}
	outParams := movementParams{
		ProductID:     input.ProductID,
		WarehouseID:   input.SourceWarehouseID,
		Type:          MovementTransfer,
		Direction:     DirectionOutbound,
		Quantity:      input.Quantity,
		ReferenceType: ReferenceTransfer,
		ReferenceID:   input.DestinationWarehouseID,
		Note:          input.Note,
		ActorID:       input.ActorID,
	}
	inParams := outParams
	inParams.WarehouseID = input.DestinationWarehouseID
	inParams.Direction = DirectionInbound
	inParams.ReferenceID = input.SourceWarehouseID

	var (
		result      TransferResult
		outMv, inMv StockMovement
	)
	err := s.atomically(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock both rows in warehouse order so opposing transfers cannot deadlock.
		first, second := input.SourceWarehouseID, input.DestinationWarehouseID
		if second < first {
			first, second = second, first
		}
		for _, wh := range []int64{first, second} {
			if err := tx.EnsureRecord(ctx, input.ProductID, wh); err != nil {
				return err
			}
			if _, err := tx.GetRecordForUpdate(ctx, input.ProductID, wh); err != nil {
				return err
			}
		}
		var err error
		if result.Source, outMv, err = s.post(ctx, tx, outParams); err != nil {
			return err
		}
		result.Destination, inMv, err = s.post(ctx, tx, inParams)
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.afterPost(ctx, shared.AuditStockTransfer, outMv, result.Source)
	s.afterPost(ctx, shared.AuditStockTransfer, inMv, result.Destination)
	return result, nil
}

// ProvisionRecord creates an empty record for the pair if none exists.
func (s *Service) ProvisionRecord(ctx context.Context, productID, warehouseID, actorID int64) (Record, error) {
	if productID <= 0 || warehouseID <= 0 {
		return Record{}, ErrUnknownProductOrWarehouse
	}
	if actorID <= 0 {
		return Record{}, errActorRequired
	}
	if err := s.ensureKnown(ctx, productID, warehouseID); err != nil {
		return Record{}, err
	}
	var record Record
	err := s.atomically(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureRecord(ctx, productID, warehouseID); err != nil {
			return err
		}
		var err error
		record, err = tx.GetRecordForUpdate(ctx, productID, warehouseID)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	if s.observer != nil {
		db.AfterCommit(ctx, func(ctx context.Context) {
			if err := s.observer.RecordChanged(ctx, record, actorID); err != nil {
				s.logger.Warn("record observer", slog.Int64("record_id", record.ID), slog.Any("error", err))
			}
		})
	}
	return record, nil
}

// GetRecord returns the record for a pair.
func (s *Service) GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	return s.repo.GetRecord(ctx, productID, warehouseID)
}

// ListRecords lists records with pagination.
func (s *Service) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	return s.repo.ListRecords(ctx, filter)
}

// AllRecords returns every record, used by scheduled sweeps.
func (s *Service) AllRecords(ctx context.Context) ([]Record, error) {
	return s.repo.AllRecords(ctx)
}

// ListMovements returns movement history, oldest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, 0, errInvalidRange
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	return s.repo.ListMovements(ctx, filter)
}

// OutboundQuantity sums OUT movements for the pair since the given instant.
// A zero warehouseID sums across warehouses.
func (s *Service) OutboundQuantity(ctx context.Context, productID, warehouseID int64, since time.Time) (int64, error) {
	movements, err := s.repo.ListOutbound(ctx, productID, warehouseID, since)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range movements {
		total += m.Quantity
	}
	return total, nil
}

// ListOutbound returns OUT movements since the given instant.
func (s *Service) ListOutbound(ctx context.Context, productID, warehouseID int64, since time.Time) ([]StockMovement, error) {
	return s.repo.ListOutbound(ctx, productID, warehouseID, since)
}

// Reconcile replays the movement log of a pair and compares it with the
// stored record.
func (s *Service) Reconcile(ctx context.Context, productID, warehouseID int64) (ReconcileReport, error) {
	record, err := s.repo.GetRecord(ctx, productID, warehouseID)
	if err != nil {
		return ReconcileReport{}, err
	}
	movements, err := s.repo.MovementsForPair(ctx, productID, warehouseID)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{
		ProductID:    productID,
		WarehouseID:  warehouseID,
		StoredOnHand: record.OnHand,
		Movements:    len(movements),
	}
	replayed, replayErr := Replay(movements)
	report.ReplayedOnHand = replayed
	report.Consistent = replayErr == nil && replayed == record.OnHand && record.Check() == nil
	if report.Consistent {
		return report, nil
	}
	s.logger.Error("inventory ledger corrupted",
		slog.Int64("product_id", productID),
		slog.Int64("warehouse_id", warehouseID),
		slog.Int64("stored_on_hand", record.OnHand),
		slog.Int64("stored_reserved", record.Reserved),
		slog.Int64("replayed_on_hand", replayed),
		slog.Int("movements", len(movements)),
		slog.Any("replay_error", replayErr),
	)
	return report, ErrLedgerCorrupted
}

// atomically runs fn in one transaction, retrying it when it loses a
// serialization or deadlock race to a concurrent writer.
func (s *Service) atomically(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.RetryConflict(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
}

func (s *Service) post(ctx context.Context, tx TxRepository, params movementParams) (Record, StockMovement, error) {
	if err := tx.EnsureRecord(ctx, params.ProductID, params.WarehouseID); err != nil {
		return Record{}, StockMovement{}, err
	}
	current, err := tx.GetRecordForUpdate(ctx, params.ProductID, params.WarehouseID)
	if err != nil {
		return Record{}, StockMovement{}, err
	}
	if err := current.Check(); err != nil {
		s.logger.Error("inventory record invariant broken",
			slog.Int64("record_id", current.ID),
			slog.Int64("product_id", current.ProductID),
			slog.Int64("warehouse_id", current.WarehouseID),
			slog.Int64("on_hand", current.OnHand),
			slog.Int64("reserved", current.Reserved),
		)
		return Record{}, StockMovement{}, err
	}
	next, err := current.apply(params.Direction, params.Quantity)
	if err != nil {
		return Record{}, StockMovement{}, err
	}
	now := s.now()
	movement := StockMovement{
		ProductID:      params.ProductID,
		WarehouseID:    params.WarehouseID,
		Type:           params.Type,
		Direction:      params.Direction,
		Quantity:       params.Quantity,
		ReferenceType:  params.ReferenceType,
		ReferenceID:    params.ReferenceID,
		QuantityBefore: current.OnHand,
		QuantityAfter:  next.OnHand,
		Note:           params.Note,
		ActorID:        params.ActorID,
		OccurredAt:     now,
	}
	if movement.ID, err = tx.InsertMovement(ctx, movement); err != nil {
		return Record{}, StockMovement{}, err
	}
	next.LastUpdatedAt = now
	saved, err := tx.UpdateRecord(ctx, next)
	if err != nil {
		return Record{}, StockMovement{}, err
	}
	return saved, movement, nil
}

// afterPost records the audit entry and notifies the observer once the
// surrounding transaction commits.
func (s *Service) afterPost(ctx context.Context, action string, movement StockMovement, record Record) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.audit != nil {
			err := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  movement.ActorID,
				Action:   action,
				Entity:   "inventory_record",
				EntityID: strconv.FormatInt(record.ID, 10),
				Meta: map[string]any{
					"movement_id":    movement.ID,
					"movement_type":  movement.Type,
					"direction":      movement.Direction,
					"quantity":       movement.Quantity,
					"reference_type": movement.ReferenceType,
					"reference_id":   movement.ReferenceID,
					"on_hand":        record.OnHand,
				},
				At: movement.OccurredAt,
			})
			if err != nil {
				s.logger.Warn("inventory audit", slog.Int64("movement_id", movement.ID), slog.Any("error", err))
			}
		}
		if s.observer != nil {
			if err := s.observer.RecordChanged(ctx, record, movement.ActorID); err != nil {
				s.logger.Warn("record observer", slog.Int64("record_id", record.ID), slog.Any("error", err))
			}
		}
	})
}

func (s *Service) ensureKnown(ctx context.Context, productID, warehouseID int64) error {
	if s.catalog == nil {
		return nil
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrUnknownProductOrWarehouse
		}
		return err
	}
	if !product.IsActive {
		return ErrUnknownProductOrWarehouse
	}
	warehouse, err := s.catalog.GetWarehouse(ctx, warehouseID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrUnknownProductOrWarehouse
		}
		return err
	}
	if !warehouse.IsActive {
		return ErrUnknownProductOrWarehouse
	}
	return nil
}
