// Package outbox implements the transactional outbox: domain events are
// written in the same transaction as the business change that raised them,
// then dispatched asynchronously at-least-once to registered consumers.
package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status enumerates outbox event lifecycle states.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDispatched Status = "DISPATCHED"
	StatusFailed     Status = "FAILED"
)

// MaxPayloadBytes caps stored payload size.
const MaxPayloadBytes = 1 << 20

// Event is a durable record of a domain event awaiting dispatch. Rows are
// append-only: they change status but are never deleted.
type Event struct {
	ID           uuid.UUID
	OccurredAt   time.Time
	EventName    string
	OriginID     *int64
	TenantID     int64
	Source       string
	Payload      json.RawMessage
	Status       Status
	DispatchedAt *time.Time
	AttemptCount int
	LastError    string
}

// EnqueueInput groups fields required to enqueue an event.
type EnqueueInput struct {
	EventName string
	OriginID  *int64
	TenantID  int64
	Source    string
	Payload   json.RawMessage
}

var (
	// ErrEventNotFound indicates a missing outbox row.
	ErrEventNotFound = errors.New("outbox: event not found")
	// ErrNoConsumer indicates no consumer is registered for an event name.
	ErrNoConsumer = errors.New("outbox: no consumer registered")
	// ErrPayloadInvalid indicates a payload that is not valid JSON or too large.
	ErrPayloadInvalid = errors.New("outbox: payload must be valid JSON within size limits")
)

// Validate ensures enqueue input meets minimum criteria.
func (in EnqueueInput) Validate() error {
	if in.EventName == "" {
		return errors.New("outbox: event name required")
	}
	if in.TenantID == 0 {
		return errors.New("outbox: tenant required")
	}
	if len(in.Payload) == 0 || len(in.Payload) > MaxPayloadBytes || !json.Valid(in.Payload) {
		return ErrPayloadInvalid
	}
	return nil
}
