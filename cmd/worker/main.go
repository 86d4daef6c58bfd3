package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// metricsAddr serves the worker's own /metrics endpoint.
const metricsAddr = ":9091"

func main() {
	if app.Disabled(app.ComponentWorker) {
		slog.Default().Info("worker disabled, exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, pool, redisClient, metrics.Jobs(), logger)

	runtime := jobs.Runtime{
		Locker:      services.Locker,
		LockTTL:     cfg.JobLockTTL,
		SystemActor: cfg.SystemActorID,
		Logger:      logger,
		Metrics:     metrics.Jobs(),
	}
	reorderJob := jobs.NewReorderJob(services.Reorder, runtime)
	sweepJob := jobs.NewAlertSweepJob(services.Alerts, runtime)
	forecastJob := jobs.NewForecastJob(services.Forecaster, runtime)
	cleanupJob := jobs.NewCleanupJob(services.Idempotency, cfg.IdempotencyRetention, runtime)

	schedule := []struct {
		spec     string
		taskType string
	}{
		{cfg.ReorderCron, jobs.TaskReorderRun},
		{cfg.SuggestionsCron, jobs.TaskReorderSuggestions},
		{cfg.AlertSweepCron, jobs.TaskAlertSweep},
		{cfg.ForecastCron, jobs.TaskForecastRefresh},
		{cfg.CleanupCron, jobs.TaskIdempotencyCleanup},
	}
	if app.Disabled(app.ComponentScheduler) {
		schedule = schedule[:0]
	}
	cron := make([]jobs.CronRegistration, 0, len(schedule))
	for _, entry := range schedule {
		task, err := jobs.NewTask(entry.taskType, jobs.RunPayload{})
		if err != nil {
			logger.Error("build task", slog.String("task", entry.taskType), slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: entry.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReorderRun, Handler: reorderJob.HandleRun},
			{Type: jobs.TaskReorderSuggestions, Handler: reorderJob.HandleSuggestions},
			{Type: jobs.TaskAlertSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskForecastRefresh, Handler: forecastJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started", slog.Int("cron_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
