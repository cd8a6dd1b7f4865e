package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/platform/db"
)

// TxStore exposes claim and mark operations scoped to one dispatch transaction.
type TxStore interface {
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	GetForDispatch(ctx context.Context, id uuid.UUID) (Event, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error
}

// StorePort abstracts the outbox store for the dispatcher and handlers.
type StorePort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Enqueue(ctx context.Context, in EnqueueInput) (uuid.UUID, error)
	EnqueueTx(ctx context.Context, tx pgx.Tx, in EnqueueInput) (uuid.UUID, error)
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
}

// Store persists outbox events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const eventColumns = `id, occurred_at, event_name, origin_id, tenant_id, source, payload, status, dispatched_at, attempt_count, last_error`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.OccurredAt, &e.EventName, &e.OriginID, &e.TenantID, &e.Source,
		&e.Payload, &e.Status, &e.DispatchedAt, &e.AttemptCount, &e.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return e, nil
}

// WithTx executes fn within a repeatable-read transaction. Rows claimed inside
// fn stay row-locked until the transaction ends, which is the mutual-exclusion
// boundary between concurrent dispatcher workers.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if s == nil {
		return errors.New("outbox store not initialised")
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// Enqueue stores an event in its own transaction. External collaborators that
// do not share a database transaction with this service use this path.
func (s *Store) Enqueue(ctx context.Context, in EnqueueInput) (uuid.UUID, error) {
	if err := in.Validate(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `INSERT INTO outbox_events (id, event_name, origin_id, tenant_id, source, payload, status)
VALUES ($1,$2,$3,$4,$5,$6,'PENDING')`, id, in.EventName, in.OriginID, in.TenantID, in.Source, in.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EnqueueTx stores an event inside the caller's transaction so the event and
// the business write commit or roll back together.
func (s *Store) EnqueueTx(ctx context.Context, tx pgx.Tx, in EnqueueInput) (uuid.UUID, error) {
	if err := in.Validate(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err := tx.Exec(ctx, `INSERT INTO outbox_events (id, event_name, origin_id, tenant_id, source, payload, status)
VALUES ($1,$2,$3,$4,$5,$6,'PENDING')`, id, in.EventName, in.OriginID, in.TenantID, in.Source, in.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// GetEvent loads a single event outside any dispatch transaction.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	return scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id=$1`, id))
}

type txStore struct {
	tx pgx.Tx
}

// ClaimBatch selects up to limit pending events oldest first. SKIP LOCKED
// makes concurrent workers claim disjoint sets; occurred_at ordering keeps
// events for the same origin in causal order.
func (s *txStore) ClaimBatch(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events
WHERE status='PENDING' ORDER BY occurred_at ASC, id ASC LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.EventName, &e.OriginID, &e.TenantID, &e.Source,
			&e.Payload, &e.Status, &e.DispatchedAt, &e.AttemptCount, &e.LastError); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetForDispatch locks a single event for the manual retry path.
func (s *txStore) GetForDispatch(ctx context.Context, id uuid.UUID) (Event, error) {
	return scanEvent(s.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id=$1 FOR UPDATE`, id))
}

// MarkDispatched flips the event to DISPATCHED. Calling it on an already
// dispatched event is a no-op.
func (s *txStore) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := s.tx.Exec(ctx, `UPDATE outbox_events
SET status='DISPATCHED', dispatched_at=NOW(), last_error=''
WHERE id=$1 AND status <> 'DISPATCHED'`, id)
	return err
}

// MarkFailed records the failure and increments the attempt counter. The
// event stays PENDING for the next tick until maxAttempts is reached, then
// parks as FAILED awaiting manual retry. Dispatched events are untouched.
func (s *txStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error {
	_, err := s.tx.Exec(ctx, `UPDATE outbox_events
SET attempt_count=attempt_count+1,
    last_error=$2,
    status=CASE WHEN attempt_count+1 >= $3 THEN 'FAILED' ELSE 'PENDING' END
WHERE id=$1 AND status <> 'DISPATCHED'`, id, reason, maxAttempts)
	return err
}
