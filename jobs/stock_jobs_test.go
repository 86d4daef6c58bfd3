package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/alerts"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/reorder"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const systemActor = 999

type fakeEngine struct {
	mu      sync.Mutex
	actors  []int64
	err     error
	suggest []reorder.Suggestion
	block   chan struct{}
}

func (f *fakeEngine) Run(ctx context.Context, actorID int64) (reorder.RunResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actors = append(f.actors, actorID)
	if f.err != nil {
		return reorder.RunResult{}, f.err
	}
	return reorder.RunResult{Evaluated: 3, Created: 1, Orders: []string{"PO-20240501-001"}}, nil
}

func (f *fakeEngine) Suggest(ctx context.Context) ([]reorder.Suggestion, error) {
	return f.suggest, f.err
}

func (f *fakeEngine) calls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.actors...)
}

type fakeSweeper struct{ actor int64 }

func (f *fakeSweeper) Sweep(ctx context.Context, actorID int64) (alerts.SweepResult, error) {
	f.actor = actorID
	return alerts.SweepResult{Evaluated: 4, Raised: 2}, nil
}

type fakeForecaster struct{ calls int }

func (f *fakeForecaster) Refresh(ctx context.Context) (int, error) {
	f.calls++
	return 5, nil
}

type fakeCleaner struct{ olderThan time.Duration }

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 2, nil
}

func newRuntime(t *testing.T) (Runtime, *shared.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewLocker(client)
	rt := Runtime{
		Locker:      locker,
		LockTTL:     time.Minute,
		SystemActor: systemActor,
		Metrics:     jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	return rt, locker, mr
}

func task(t *testing.T, taskType string, payload RunPayload) *asynq.Task {
	t.Helper()
	tk, err := NewTask(taskType, payload)
	require.NoError(t, err)
	return tk
}

func TestReorderRunUsesSystemActorByDefault(t *testing.T) {
	rt, _, mr := newRuntime(t)
	engine := &fakeEngine{}
	job := NewReorderJob(engine, rt)

	require.NoError(t, job.HandleRun(context.Background(), task(t, TaskReorderRun, RunPayload{})))
	require.NoError(t, job.HandleRun(context.Background(), task(t, TaskReorderRun, RunPayload{ActorID: 42})))

	require.Equal(t, []int64{systemActor, 42}, engine.calls())
	require.False(t, mr.Exists(shared.JobLockKey(TaskReorderRun)), "lock must be released after the run")
}

func TestReorderRunSkipsWhenLockHeld(t *testing.T) {
	rt, locker, _ := newRuntime(t)
	engine := &fakeEngine{}
	job := NewReorderJob(engine, rt)

	release, err := locker.Acquire(context.Background(), shared.JobLockKey(TaskReorderRun), time.Minute)
	require.NoError(t, err)

	require.NoError(t, job.HandleRun(context.Background(), task(t, TaskReorderRun, RunPayload{})))
	require.Empty(t, engine.calls())

	require.NoError(t, release(context.Background()))
	require.NoError(t, job.HandleRun(context.Background(), task(t, TaskReorderRun, RunPayload{})))
	require.Len(t, engine.calls(), 1)
}

func TestOverlappingRunsExecuteOnce(t *testing.T) {
	rt, _, mr := newRuntime(t)
	engine := &fakeEngine{block: make(chan struct{})}
	job := NewReorderJob(engine, rt)

	first := make(chan error, 1)
	go func() {
		first <- job.HandleRun(context.Background(), task(t, TaskReorderRun, RunPayload{}))
	}()
	require.Eventually(t, func() bool {
		return mr.Exists(shared.JobLockKey(TaskReorderRun))
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, job.HandleRun(context.Background(), task(t, TaskReorderRun, RunPayload{})))
	close(engine.block)
	require.NoError(t, <-first)
	require.Len(t, engine.calls(), 1)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	rt, _, _ := newRuntime(t)
	job := NewReorderJob(&fakeEngine{}, rt)

	err := job.HandleRun(context.Background(), asynq.NewTask(TaskReorderRun, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEngineFailurePropagatesAndReleasesLock(t *testing.T) {
	rt, _, mr := newRuntime(t)
	boom := errors.New("database down")
	job := NewReorderJob(&fakeEngine{err: boom}, rt)

	err := job.HandleRun(context.Background(), task(t, TaskReorderRun, RunPayload{}))
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(shared.JobLockKey(TaskReorderRun)))
}

func TestSuggestionsJobReportsOnly(t *testing.T) {
	rt, _, _ := newRuntime(t)
	engine := &fakeEngine{suggest: []reorder.Suggestion{{ProductID: 1, WarehouseID: 2, Quantity: 30, ShouldOrder: true}}}
	job := NewReorderJob(engine, rt)

	require.NoError(t, job.HandleSuggestions(context.Background(), task(t, TaskReorderSuggestions, RunPayload{})))
	require.Empty(t, engine.calls())
}

func TestSweepForecastAndCleanupJobs(t *testing.T) {
	rt, _, _ := newRuntime(t)
	ctx := context.Background()

	sweeper := &fakeSweeper{}
	require.NoError(t, NewAlertSweepJob(sweeper, rt).Handle(ctx, task(t, TaskAlertSweep, RunPayload{})))
	require.Equal(t, int64(systemActor), sweeper.actor)

	forecaster := &fakeForecaster{}
	require.NoError(t, NewForecastJob(forecaster, rt).Handle(ctx, task(t, TaskForecastRefresh, RunPayload{})))
	require.Equal(t, 1, forecaster.calls)

	cleaner := &fakeCleaner{}
	require.NoError(t, NewCleanupJob(cleaner, 0, rt).Handle(ctx, task(t, TaskIdempotencyCleanup, RunPayload{})))
	require.Equal(t, 7*24*time.Hour, cleaner.olderThan)
}

func TestUnconfiguredJobsFail(t *testing.T) {
	var job *AlertSweepJob
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskAlertSweep, nil)))
	require.Error(t, NewForecastJob(nil, Runtime{}).Handle(context.Background(), asynq.NewTask(TaskForecastRefresh, nil)))
}

func TestEnqueueRejectsUnknownTask(t *testing.T) {
	client, err := NewClient(asynq.RedisClientOpt{Addr: miniredis.RunT(t).Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.Enqueue(context.Background(), "mail:send", 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 3, body.Pending)
	require.Equal(t, 1, body.Retry)
}

func TestHealthEndpointUnavailable(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis gone")}, slogDiscard()).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
