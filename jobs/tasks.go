package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskReorderRun creates DRAFT purchase orders for every pair below its reorder point.
	TaskReorderRun = "reorder:run"
	// TaskReorderSuggestions logs report-only reorder suggestions.
	TaskReorderSuggestions = "reorder:suggestions"
	// TaskAlertSweep re-evaluates stock and order alert rules.
	TaskAlertSweep = "alerts:sweep"
	// TaskForecastRefresh recomputes weekly demand forecasts.
	TaskForecastRefresh = "reorder:forecast"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// TaskTypes lists every task the worker knows how to process.
var TaskTypes = []string{
	TaskReorderRun,
	TaskReorderSuggestions,
	TaskAlertSweep,
	TaskForecastRefresh,
	TaskIdempotencyCleanup,
}

// RunPayload carries scheduling metadata shared by all stock jobs.
// A zero ActorID means the configured system actor.
type RunPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	ActorID      int64     `json:"actor_id,omitempty"`
}

// NewTask constructs an Asynq task of the given type.
func NewTask(taskType string, payload RunPayload, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return asynq.NewTask(taskType, body, opts...), nil
}

// NewReorderRunTask builds the daily reorder task.
func NewReorderRunTask(actorID int64) (*asynq.Task, error) {
	return NewTask(TaskReorderRun, RunPayload{ScheduledFor: time.Now().UTC(), ActorID: actorID})
}

func decodePayload(t *asynq.Task) (RunPayload, error) {
	var payload RunPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
