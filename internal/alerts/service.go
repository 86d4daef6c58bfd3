package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const (
	sweepConcurrency  = 8
	maxStatusAttempts = 3
)

// RepositoryPort persists alerts.
type RepositoryPort interface {
	FindActive(ctx context.Context, key Key) (Alert, bool, error)
	ListUnresolved(ctx context.Context, key Key) ([]Alert, error)
	Insert(ctx context.Context, alert Alert) (Alert, error)
	Get(ctx context.Context, id int64) (Alert, error)
	Save(ctx context.Context, alert Alert, from Status) (Alert, error)
	List(ctx context.Context, filter Filter) ([]Alert, int, error)
	Counts(ctx context.Context) (Counts, error)
}

// CatalogPort resolves product settings for stock rules.
type CatalogPort interface {
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
}

// StockSource lists inventory records for a sweep.
type StockSource interface {
	AllRecords(ctx context.Context) ([]inventory.Record, error)
}

// OrderSource lists purchase orders for a sweep.
type OrderSource interface {
	ListOpenOrders(ctx context.Context) ([]procurement.PurchaseOrder, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Counter receives raise and resolve events.
type Counter interface {
	Raised(alertType string)
	Resolved(alertType string)
}

// Service evaluates rules and owns the alert lifecycle.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	stock   StockSource
	orders  OrderSource
	audit   AuditPort
	counter Counter
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the alert service.
func NewService(repo RepositoryPort, catalog CatalogPort, stock StockSource, orders OrderSource, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		stock:   stock,
		orders:  orders,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetCounter registers a metrics sink.
func (s *Service) SetCounter(counter Counter) {
	s.counter = counter
}

// RecordChanged re-evaluates stock rules after a ledger change.
func (s *Service) RecordChanged(ctx context.Context, rec inventory.Record, actorID int64) error {
	_, _, err := s.evaluateRecord(ctx, rec, actorID)
	return err
}

// StockAdjusted raises the informational alert for a manual adjustment.
func (s *Service) StockAdjusted(ctx context.Context, mv inventory.StockMovement, _ inventory.Record) error {
	_, err := s.raise(ctx, AdjustmentCondition(mv), mv.ActorID)
	return err
}

// OrderChanged re-evaluates delivery rules after an order change.
func (s *Service) OrderChanged(ctx context.Context, order procurement.PurchaseOrder, actorID int64) error {
	_, _, err := s.apply(ctx, OrderConditions(order, s.now()), actorID)
	return err
}

// Sweep evaluates every inventory record and every open order. Failures on
// individual items are logged and counted; the sweep continues.
func (s *Service) Sweep(ctx context.Context, actorID int64) (SweepResult, error) {
	records, err := s.stock.AllRecords(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("alerts: load records: %w", err)
	}
	orders, err := s.orders.ListOpenOrders(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("alerts: load orders: %w", err)
	}
	today := s.now()

	var evaluated, raised, resolved, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, rec := range records {
		g.Go(func() error {
			r, c, err := s.evaluateRecord(gctx, rec, actorID)
			evaluated.Add(1)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("alert sweep record failed", slog.Int64("product_id", rec.ProductID),
					slog.Int64("warehouse_id", rec.WarehouseID), slog.Any("error", err))
				return nil
			}
			raised.Add(int64(r))
			resolved.Add(int64(c))
			return nil
		})
	}
	for _, order := range orders {
		g.Go(func() error {
			r, c, err := s.apply(gctx, OrderConditions(order, today), actorID)
			evaluated.Add(1)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("alert sweep order failed", slog.String("po_number", order.Number), slog.Any("error", err))
				return nil
			}
			raised.Add(int64(r))
			resolved.Add(int64(c))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{
		Evaluated: int(evaluated.Load()),
		Raised:    int(raised.Load()),
		Resolved:  int(resolved.Load()),
		Failed:    int(failed.Load()),
	}
	s.logger.Info("alert sweep finished", slog.Int("evaluated", result.Evaluated), slog.Int("raised", result.Raised),
		slog.Int("resolved", result.Resolved), slog.Int("failed", result.Failed))
	return result, ctx.Err()
}

// Get returns one alert.
func (s *Service) Get(ctx context.Context, id int64) (Alert, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of alerts, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Alert, int, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	return s.repo.List(ctx, filter)
}

// Counts returns alert totals per status, type, severity and priority.
func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.repo.Counts(ctx)
}

// Acknowledge marks an ACTIVE alert as seen.
func (s *Service) Acknowledge(ctx context.Context, id, actorID int64) (Alert, error) {
	return s.changeStatus(ctx, id, StatusAcknowledged, actorID)
}

// Resolve closes an unresolved alert.
func (s *Service) Resolve(ctx context.Context, id, actorID int64) (Alert, error) {
	return s.changeStatus(ctx, id, StatusResolved, actorID)
}

// Dismiss closes an unresolved alert without action.
func (s *Service) Dismiss(ctx context.Context, id, actorID int64) (Alert, error) {
	return s.changeStatus(ctx, id, StatusDismissed, actorID)
}

func (s *Service) changeStatus(ctx context.Context, id int64, target Status, actorID int64) (Alert, error) {
	if actorID <= 0 {
		return Alert{}, fmt.Errorf("%w: actor required", shared.ErrValidation)
	}
	alert, err := s.repo.Get(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	saved, from, err := s.transition(ctx, alert, target, actorID, "")
	if err != nil {
		return Alert{}, err
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   shared.AuditAlertStatusChange,
			Entity:   "alert",
			EntityID: strconv.FormatInt(saved.ID, 10),
			Meta:     map[string]any{"from": from, "to": target, "type": saved.Type},
		})
		if err != nil {
			s.logger.Warn("alert audit", slog.Int64("alert_id", saved.ID), slog.Any("error", err))
		}
	}
	return saved, nil
}

// transition moves alert to target with a guarded write. When a concurrent
// writer changed the status first, the alert is re-read and the lifecycle
// check repeated against the stored status.
func (s *Service) transition(ctx context.Context, alert Alert, target Status, actorID int64, notes string) (Alert, Status, error) {
	for attempt := 1; ; attempt++ {
		from := alert.Status
		if !CanTransition(from, target) {
			return Alert{}, from, fmt.Errorf("%w: %s -> %s", ErrInvalidAlertTransition, from, target)
		}
		next := s.stamp(alert, target, actorID)
		if notes != "" {
			next.Notes = notes
		}
		saved, err := s.repo.Save(ctx, next, from)
		if !errors.Is(err, ErrStaleAlert) || attempt == maxStatusAttempts {
			return saved, from, err
		}
		if alert, err = s.repo.Get(ctx, alert.ID); err != nil {
			return Alert{}, from, err
		}
	}
}

func (s *Service) stamp(alert Alert, target Status, actorID int64) Alert {
	now := s.now()
	alert.Status = target
	alert.UpdatedBy = actorID
	switch target {
	case StatusAcknowledged:
		alert.AcknowledgedAt = &now
	case StatusResolved, StatusDismissed:
		alert.ResolvedAt = &now
	}
	return alert
}

func (s *Service) evaluateRecord(ctx context.Context, rec inventory.Record, actorID int64) (int, int, error) {
	product, err := s.catalog.GetProduct(ctx, rec.ProductID)
	if err != nil {
		return 0, 0, err
	}
	return s.apply(ctx, StockConditions(rec, product), actorID)
}

// apply raises conditions that hold and resolves those that cleared.
func (s *Service) apply(ctx context.Context, conditions []Condition, actorID int64) (raised, resolved int, err error) {
	for _, cond := range conditions {
		if cond.Holds {
			ok, err := s.raise(ctx, cond, actorID)
			if err != nil {
				return raised, resolved, err
			}
			if ok {
				raised++
			}
			continue
		}
		n, err := s.resolveCleared(ctx, cond.Key, actorID)
		if err != nil {
			return raised, resolved, err
		}
		resolved += n
	}
	return raised, resolved, nil
}

// raise inserts an ACTIVE alert unless one already exists for the key.
func (s *Service) raise(ctx context.Context, cond Condition, actorID int64) (bool, error) {
	if _, ok, err := s.repo.FindActive(ctx, cond.Key); err != nil || ok {
		return false, err
	}
	now := s.now()
	alert, err := s.repo.Insert(ctx, Alert{
		Type:          cond.Key.Type,
		Severity:      cond.Severity,
		Priority:      cond.Priority,
		Status:        StatusActive,
		ReferenceType: cond.Key.ReferenceType,
		ReferenceID:   cond.Key.ReferenceID,
		Title:         cond.Title,
		Message:       cond.Message,
		TriggeredAt:   now,
		CreatedBy:     actorID,
		UpdatedBy:     actorID,
	})
	if errors.Is(err, shared.ErrDuplicateReference) {
		// Lost the race to a concurrent evaluator.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Info("alert raised", slog.Int64("alert_id", alert.ID), slog.String("key", cond.Key.String()),
		slog.String("severity", string(alert.Severity)))
	if s.counter != nil {
		s.counter.Raised(string(alert.Type))
	}
	return true, nil
}

func (s *Service) resolveCleared(ctx context.Context, key Key, actorID int64) (int, error) {
	open, err := s.repo.ListUnresolved(ctx, key)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, alert := range open {
		_, _, err := s.transition(ctx, alert, StatusResolved, actorID, "condition cleared")
		if errors.Is(err, ErrInvalidAlertTransition) {
			// Closed by an operator in the meantime.
			continue
		}
		if err != nil {
			return resolved, err
		}
		resolved++
		if s.counter != nil {
			s.counter.Resolved(string(alert.Type))
		}
	}
	return resolved, nil
}
