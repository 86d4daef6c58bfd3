package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultLockTTL = 30 * time.Minute

// Locker guards a job run against overlapping executions.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Runtime holds the dependencies every job shares.
type Runtime struct {
	Locker      Locker
	LockTTL     time.Duration
	SystemActor int64
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// guard decodes the payload, takes the job lock, and tracks the run. A held
// lock skips the run without error so asynq does not retry it.
func (rt Runtime) guard(ctx context.Context, job string, t *asynq.Task, fn func(ctx context.Context, actorID int64, logger *slog.Logger) error) error {
	logger := rt.logger().With(slog.String("job", job))
	payload, err := decodePayload(t)
	if err != nil {
		logger.Error("decode payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	actorID := payload.ActorID
	if actorID == 0 {
		actorID = rt.SystemActor
	}

	metrics := rt.metrics()
	if rt.Locker != nil {
		ttl := rt.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		release, err := rt.Locker.Acquire(ctx, shared.JobLockKey(job), ttl)
		if errors.Is(err, shared.ErrLockHeld) {
			metrics.Skipped(job)
			logger.Warn("previous run still in progress, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release job lock", slog.Any("error", err))
			}
		}()
	}

	tracker := metrics.Track(job)
	start := time.Now()
	logger.Info("job started", slog.Int64("actor_id", actorID))
	err = tracker.End(fn(ctx, actorID, logger))
	if err != nil {
		logger.Error("job failed", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
		return err
	}
	logger.Info("job finished", slog.Duration("duration", time.Since(start)))
	return nil
}

func (rt Runtime) logger() *slog.Logger {
	if rt.Logger != nil {
		return rt.Logger
	}
	return slog.Default()
}

func (rt Runtime) metrics() *jobmetrics.Metrics {
	if rt.Metrics != nil {
		return rt.Metrics
	}
	return defaultJobMetrics
}
