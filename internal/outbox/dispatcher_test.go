package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	events map[uuid.UUID]*Event
	clock  time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		events: make(map[uuid.UUID]*Event),
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *memoryStore) seed(name string, tenantID int64) uuid.UUID {
	id := uuid.New()
	s.clock = s.clock.Add(time.Second)
	s.events[id] = &Event{
		ID:         id,
		OccurredAt: s.clock,
		EventName:  name,
		TenantID:   tenantID,
		Payload:    json.RawMessage(`{}`),
		Status:     StatusPending,
	}
	return id
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, s)
}

func (s *memoryStore) Enqueue(ctx context.Context, in EnqueueInput) (uuid.UUID, error) {
	if err := in.Validate(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	s.clock = s.clock.Add(time.Second)
	s.events[id] = &Event{
		ID: id, OccurredAt: s.clock, EventName: in.EventName,
		OriginID: in.OriginID, TenantID: in.TenantID, Source: in.Source,
		Payload: in.Payload, Status: StatusPending,
	}
	return id, nil
}

func (s *memoryStore) EnqueueTx(ctx context.Context, tx pgx.Tx, in EnqueueInput) (uuid.UUID, error) {
	return s.Enqueue(ctx, in)
}

func (s *memoryStore) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	e, ok := s.events[id]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return *e, nil
}

func (s *memoryStore) ClaimBatch(ctx context.Context, limit int) ([]Event, error) {
	var pending []Event
	for _, e := range s.events {
		if e.Status == StatusPending {
			pending = append(pending, *e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].OccurredAt.Equal(pending[j].OccurredAt) {
			return pending[i].ID.String() < pending[j].ID.String()
		}
		return pending[i].OccurredAt.Before(pending[j].OccurredAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *memoryStore) GetForDispatch(ctx context.Context, id uuid.UUID) (Event, error) {
	return s.GetEvent(ctx, id)
}

func (s *memoryStore) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	e := s.events[id]
	if e.Status == StatusDispatched {
		return nil
	}
	now := time.Now()
	e.Status = StatusDispatched
	e.DispatchedAt = &now
	e.LastError = ""
	return nil
}

func (s *memoryStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	e := s.events[id]
	if e.Status == StatusDispatched {
		return nil
	}
	e.AttemptCount++
	e.LastError = reason
	if e.AttemptCount >= maxAttempts {
		e.Status = StatusFailed
	} else {
		e.Status = StatusPending
	}
	return nil
}

type recordingConsumer struct {
	seen []uuid.UUID
	fail func(Event) error
}

func (c *recordingConsumer) Consume(ctx context.Context, event Event) error {
	if c.fail != nil {
		if err := c.fail(event); err != nil {
			return err
		}
	}
	c.seen = append(c.seen, event.ID)
	return nil
}

func newTestDispatcher(store *memoryStore, consumer Consumer, maxAttempts int) *Dispatcher {
	registry := NewRegistry()
	registry.Register("financial.payable.created", consumer)
	return NewDispatcher(store, registry, slog.Default(), nil, maxAttempts)
}

func TestProcessPendingHonorsLimitAndOrder(t *testing.T) {
	store := newMemoryStore()
	var ids []uuid.UUID
	for range 8 {
		ids = append(ids, store.seed("financial.payable.created", 1))
	}

	consumer := &recordingConsumer{}
	d := newTestDispatcher(store, consumer, 3)

	summary, err := d.ProcessPending(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, Summary{Processed: 5, Succeeded: 5, Failed: 0}, summary)
	require.Equal(t, ids[:5], consumer.seen)

	// Two more events arrive between passes. The follow-up pass drains the
	// three leftovers first, then the newcomers, still in occurredAt order.
	ids = append(ids, store.seed("financial.payable.created", 1))
	ids = append(ids, store.seed("financial.payable.created", 1))

	summary, err = d.ProcessPending(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, Summary{Processed: 5, Succeeded: 5, Failed: 0}, summary)
	require.Equal(t, ids, consumer.seen)

	for _, id := range ids {
		require.Equal(t, StatusDispatched, store.events[id].Status)
	}
}

func TestProcessPendingContinuesAfterConsumerFailure(t *testing.T) {
	store := newMemoryStore()
	good1 := store.seed("financial.payable.created", 1)
	bad := store.seed("financial.payable.created", 1)
	good2 := store.seed("financial.payable.created", 1)

	consumer := &recordingConsumer{fail: func(e Event) error {
		if e.ID == bad {
			return errors.New("account not postable")
		}
		return nil
	}}
	d := newTestDispatcher(store, consumer, 3)

	summary, err := d.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, Summary{Processed: 3, Succeeded: 2, Failed: 1}, summary)

	require.Equal(t, StatusDispatched, store.events[good1].Status)
	require.Equal(t, StatusDispatched, store.events[good2].Status)
	require.Equal(t, StatusPending, store.events[bad].Status)
	require.Equal(t, 1, store.events[bad].AttemptCount)
	require.Equal(t, "account not postable", store.events[bad].LastError)
}

func TestProcessPendingParksEventAfterMaxAttempts(t *testing.T) {
	store := newMemoryStore()
	id := store.seed("financial.payable.created", 1)

	consumer := &recordingConsumer{fail: func(Event) error {
		return errors.New("rule table unreachable")
	}}
	d := newTestDispatcher(store, consumer, 2)

	for range 2 {
		summary, err := d.ProcessPending(context.Background(), 10)
		require.NoError(t, err)
		require.Equal(t, 1, summary.Failed)
	}
	require.Equal(t, StatusFailed, store.events[id].Status)
	require.Equal(t, 2, store.events[id].AttemptCount)

	// Parked events are no longer claimed by passes.
	summary, err := d.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, summary.Processed)
}

func TestProcessPendingRecordsMissingConsumer(t *testing.T) {
	store := newMemoryStore()
	id := store.seed("financial.unknown.event", 1)
	d := NewDispatcher(store, NewRegistry(), slog.Default(), nil, 3)

	summary, err := d.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, Summary{Processed: 1, Succeeded: 0, Failed: 1}, summary)
	require.Contains(t, store.events[id].LastError, "no consumer registered")
}

func TestDispatchByIDRetriesParkedEvent(t *testing.T) {
	store := newMemoryStore()
	id := store.seed("financial.payable.created", 1)
	store.events[id].Status = StatusFailed
	store.events[id].AttemptCount = 3

	consumer := &recordingConsumer{}
	d := newTestDispatcher(store, consumer, 3)

	result, err := d.DispatchByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, result.Status)
	require.Equal(t, StatusDispatched, store.events[id].Status)
	require.Equal(t, []uuid.UUID{id}, consumer.seen)
}

func TestDispatchByIDNoOpWhenAlreadyDispatched(t *testing.T) {
	store := newMemoryStore()
	id := store.seed("financial.payable.created", 1)
	require.NoError(t, store.MarkDispatched(context.Background(), id))

	consumer := &recordingConsumer{fail: func(Event) error {
		return fmt.Errorf("consumer must not run twice")
	}}
	d := newTestDispatcher(store, consumer, 3)

	result, err := d.DispatchByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, result.Status)
	require.Empty(t, consumer.seen)
}

func TestDispatchByIDUnknownEvent(t *testing.T) {
	d := newTestDispatcher(newMemoryStore(), &recordingConsumer{}, 3)
	_, err := d.DispatchByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrEventNotFound)
}
