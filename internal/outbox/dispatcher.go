package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/observability"
)

// Consumer processes one event. A nil return marks the event dispatched; an
// error return records a failed attempt and leaves the event for retry.
// Consumers must be idempotent because delivery is at-least-once.
type Consumer interface {
	Consume(ctx context.Context, event Event) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, event Event) error

// Consume implements Consumer.
func (f ConsumerFunc) Consume(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Registry maps event names to their consumers.
type Registry struct {
	consumers map[string]Consumer
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{consumers: make(map[string]Consumer)}
}

// Register binds a consumer to an event name, replacing any previous binding.
func (r *Registry) Register(eventName string, c Consumer) {
	r.consumers[eventName] = c
}

// Handle routes the event to its consumer.
func (r *Registry) Handle(ctx context.Context, event Event) error {
	c, ok := r.consumers[event.EventName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConsumer, event.EventName)
	}
	return c.Consume(ctx, event)
}

// Summary reports the outcome of one dispatch pass.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Result reports the outcome of a single-event dispatch.
type Result struct {
	EventID uuid.UUID `json:"eventId"`
	Status  Status    `json:"status"`
	Error   string    `json:"error,omitempty"`
}

// Dispatcher drains pending outbox events to registered consumers.
type Dispatcher struct {
	store       StorePort
	registry    *Registry
	logger      *slog.Logger
	metrics     *observability.Metrics
	maxAttempts int
}

// NewDispatcher constructs the Dispatcher.
func NewDispatcher(store StorePort, registry *Registry, logger *slog.Logger, metrics *observability.Metrics, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{store: store, registry: registry, logger: logger, metrics: metrics, maxAttempts: maxAttempts}
}

// ProcessPending claims up to limit pending events oldest first and delivers
// each to its consumer. One consumer failure does not abort the batch: the
// failure is recorded on that event and the pass continues. Status updates
// commit together when the claim transaction commits.
func (d *Dispatcher) ProcessPending(ctx context.Context, limit int) (Summary, error) {
	if limit < 1 {
		limit = 1
	}
	start := time.Now()
	var summary Summary
	err := d.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		events, err := tx.ClaimBatch(ctx, limit)
		if err != nil {
			return err
		}
		for _, event := range events {
			summary.Processed++
			if err := d.registry.Handle(ctx, event); err != nil {
				summary.Failed++
				d.logger.Warn("outbox dispatch failed",
					slog.String("event_id", event.ID.String()),
					slog.String("event_name", event.EventName),
					slog.Int("attempt", event.AttemptCount+1),
					slog.Any("error", err))
				if markErr := tx.MarkFailed(ctx, event.ID, err.Error(), d.maxAttempts); markErr != nil {
					return markErr
				}
				continue
			}
			summary.Succeeded++
			if err := tx.MarkDispatched(ctx, event.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	if d.metrics != nil {
		d.metrics.AddDispatched(summary.Succeeded)
		d.metrics.AddFailed(summary.Failed)
		d.metrics.ObserveDispatch(time.Since(start))
	}
	if summary.Processed > 0 {
		d.logger.Info("outbox pass complete",
			slog.Int("processed", summary.Processed),
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("failed", summary.Failed))
	}
	return summary, nil
}

// DispatchByID retries a single event, typically one parked as FAILED. It is
// a no-op for already dispatched events and fails fast on unknown IDs.
func (d *Dispatcher) DispatchByID(ctx context.Context, id uuid.UUID) (Result, error) {
	result := Result{EventID: id}
	err := d.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		event, err := tx.GetForDispatch(ctx, id)
		if err != nil {
			return err
		}
		if event.Status == StatusDispatched {
			result.Status = StatusDispatched
			return nil
		}
		if err := d.registry.Handle(ctx, event); err != nil {
			// The consumer error is part of the result, not a reason to
			// roll back the failure record.
			result.Status = StatusFailed
			result.Error = err.Error()
			return tx.MarkFailed(ctx, event.ID, err.Error(), d.maxAttempts)
		}
		result.Status = StatusDispatched
		return tx.MarkDispatched(ctx, event.ID)
	})
	if err != nil {
		return Result{}, err
	}
	if d.metrics != nil {
		switch result.Status {
		case StatusDispatched:
			d.metrics.AddDispatched(1)
		case StatusFailed:
			d.metrics.AddFailed(1)
		}
	}
	return result, nil
}
