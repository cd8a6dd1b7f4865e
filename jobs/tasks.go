// Package jobs hosts the asynq worker plumbing and the background tasks
// that drive the outbox dispatcher.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-fin/meridian/internal/outbox"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOutboxDispatch drains pending outbox events.
	TaskOutboxDispatch = "outbox:dispatch"
)

// OutboxDispatchPayload bounds one dispatch pass.
type OutboxDispatchPayload struct {
	Limit int `json:"limit"`
}

// NewOutboxDispatchTask constructs an Asynq task for one dispatch pass.
func NewOutboxDispatchTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(OutboxDispatchPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDispatch, data), nil
}

// OutboxDispatchJob runs the dispatcher from the worker process.
type OutboxDispatchJob struct {
	dispatcher   *outbox.Dispatcher
	logger       *slog.Logger
	defaultLimit int
}

// NewOutboxDispatchJob constructs the job.
func NewOutboxDispatchJob(dispatcher *outbox.Dispatcher, logger *slog.Logger, defaultLimit int) *OutboxDispatchJob {
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	return &OutboxDispatchJob{dispatcher: dispatcher, logger: logger, defaultLimit: defaultLimit}
}

// Handle processes TaskOutboxDispatch tasks. Store-level failures return an
// error so asynq retries the pass; per-event consumer failures are already
// recorded on the events themselves and do not fail the task.
func (j *OutboxDispatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OutboxDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	limit := payload.Limit
	if limit < 1 {
		limit = j.defaultLimit
	}
	summary, err := j.dispatcher.ProcessPending(ctx, limit)
	if err != nil {
		j.logger.Error("outbox dispatch pass failed", slog.Any("error", err))
		return err
	}
	if summary.Failed > 0 {
		j.logger.Warn("outbox dispatch pass had consumer failures",
			slog.Int("processed", summary.Processed),
			slog.Int("failed", summary.Failed))
	}
	return nil
}
