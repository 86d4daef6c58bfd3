package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/alerts"
	"github.com/odyssey-erp/odyssey-stock/internal/reorder"
)

// ReorderRunner is satisfied by *reorder.Engine.
type ReorderRunner interface {
	Run(ctx context.Context, actorID int64) (reorder.RunResult, error)
	Suggest(ctx context.Context) ([]reorder.Suggestion, error)
}

// AlertSweeper is satisfied by *alerts.Service.
type AlertSweeper interface {
	Sweep(ctx context.Context, actorID int64) (alerts.SweepResult, error)
}

// ForecastRefresher is satisfied by *reorder.Forecaster.
type ForecastRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// KeyCleaner is satisfied by *shared.IdempotencyStore.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ReorderJob handles the reorder run and the report-only suggestions task.
type ReorderJob struct {
	Runtime
	Engine ReorderRunner
}

// NewReorderJob wires the reorder engine into task handlers.
func NewReorderJob(engine ReorderRunner, rt Runtime) *ReorderJob {
	return &ReorderJob{Runtime: rt, Engine: engine}
}

// HandleRun processes TaskReorderRun.
func (j *ReorderJob) HandleRun(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("reorder run: handler not configured")
	}
	return j.guard(ctx, TaskReorderRun, t, func(ctx context.Context, actorID int64, logger *slog.Logger) error {
		result, err := j.Engine.Run(ctx, actorID)
		if err != nil {
			return err
		}
		logger.Info("reorder run summary",
			slog.Int("evaluated", result.Evaluated),
			slog.Int("created", result.Created),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed),
			slog.Any("orders", result.Orders))
		return nil
	})
}

// HandleSuggestions processes TaskReorderSuggestions.
func (j *ReorderJob) HandleSuggestions(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("reorder suggestions: handler not configured")
	}
	return j.guard(ctx, TaskReorderSuggestions, t, func(ctx context.Context, _ int64, logger *slog.Logger) error {
		suggestions, err := j.Engine.Suggest(ctx)
		if err != nil {
			return err
		}
		for _, s := range suggestions {
			logger.Info("reorder suggestion",
				slog.Int64("product_id", s.ProductID),
				slog.Int64("warehouse_id", s.WarehouseID),
				slog.Int64("available", s.Available),
				slog.Int64("quantity", s.Quantity))
		}
		logger.Info("reorder suggestions ready", slog.Int("count", len(suggestions)))
		return nil
	})
}

// AlertSweepJob re-evaluates alert rules over all stock and open orders.
type AlertSweepJob struct {
	Runtime
	Alerts AlertSweeper
}

// NewAlertSweepJob constructs the sweep handler.
func NewAlertSweepJob(svc AlertSweeper, rt Runtime) *AlertSweepJob {
	return &AlertSweepJob{Runtime: rt, Alerts: svc}
}

// Handle processes TaskAlertSweep.
func (j *AlertSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Alerts == nil {
		return errors.New("alert sweep: handler not configured")
	}
	return j.guard(ctx, TaskAlertSweep, t, func(ctx context.Context, actorID int64, logger *slog.Logger) error {
		result, err := j.Alerts.Sweep(ctx, actorID)
		if err != nil {
			return err
		}
		logger.Info("alert sweep summary",
			slog.Int("evaluated", result.Evaluated),
			slog.Int("raised", result.Raised),
			slog.Int("resolved", result.Resolved),
			slog.Int("failed", result.Failed))
		return nil
	})
}

// ForecastJob refreshes the cached weekly forecasts.
type ForecastJob struct {
	Runtime
	Forecaster ForecastRefresher
}

// NewForecastJob constructs the forecast refresh handler.
func NewForecastJob(forecaster ForecastRefresher, rt Runtime) *ForecastJob {
	return &ForecastJob{Runtime: rt, Forecaster: forecaster}
}

// Handle processes TaskForecastRefresh.
func (j *ForecastJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Forecaster == nil {
		return errors.New("forecast refresh: handler not configured")
	}
	return j.guard(ctx, TaskForecastRefresh, t, func(ctx context.Context, _ int64, logger *slog.Logger) error {
		count, err := j.Forecaster.Refresh(ctx)
		if err != nil {
			return err
		}
		logger.Info("forecasts refreshed", slog.Int("products", count))
		return nil
	})
}

// CleanupJob purges idempotency keys past their retention.
type CleanupJob struct {
	Runtime
	Store     KeyCleaner
	Retention time.Duration
}

// NewCleanupJob constructs the idempotency cleanup handler.
func NewCleanupJob(store KeyCleaner, retention time.Duration, rt Runtime) *CleanupJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &CleanupJob{Runtime: rt, Store: store, Retention: retention}
}

// Handle processes TaskIdempotencyCleanup.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	return j.guard(ctx, TaskIdempotencyCleanup, t, func(ctx context.Context, _ int64, logger *slog.Logger) error {
		removed, err := j.Store.Cleanup(ctx, j.Retention)
		if err != nil {
			return err
		}
		logger.Info("idempotency keys purged", slog.Int64("removed", removed))
		return nil
	})
}
