package outbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
)

const defaultDispatchLimit = 20

// Handler exposes the event intake and manual dispatch endpoints.
type Handler struct {
	logger     *slog.Logger
	store      StorePort
	dispatcher *Dispatcher
	validator  *validator.Validate
}

// NewHandler builds the Handler instance.
func NewHandler(logger *slog.Logger, store StorePort, dispatcher *Dispatcher) *Handler {
	return &Handler{logger: logger, store: store, dispatcher: dispatcher, validator: validator.New()}
}

// MountEventRoutes registers the event intake routes.
func (h *Handler) MountEventRoutes(r chi.Router) {
	r.Post("/", h.enqueue)
	r.Get("/{id}", h.get)
}

// MountDispatchRoutes registers the manual dispatch route.
func (h *Handler) MountDispatchRoutes(r chi.Router) {
	r.Post("/", h.dispatch)
}

type enqueueRequest struct {
	EventName string          `json:"eventName" validate:"required"`
	OriginID  *int64          `json:"originId"`
	TenantID  int64           `json:"tenantId" validate:"required"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := h.store.Enqueue(r.Context(), EnqueueInput{
		EventName: req.EventName,
		OriginID:  req.OriginID,
		TenantID:  req.TenantID,
		Source:    req.Source,
		Payload:   req.Payload,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"eventId": id})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "event id must be a UUID")
		return
	}
	event, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, eventResponse(event))
}

type dispatchRequest struct {
	ID    *uuid.UUID `json:"id"`
	Limit int        `json:"limit"`
}

// dispatch runs one pass over pending events, or retries a single event when
// the body carries an id.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if req.ID != nil {
		result, err := h.dispatcher.DispatchByID(r.Context(), *req.ID)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"mode": "single", "result": result})
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultDispatchLimit
	}
	summary, err := h.dispatcher.ProcessPending(r.Context(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"mode":      "batch",
		"processed": summary.Processed,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	})
}

type eventView struct {
	ID           uuid.UUID       `json:"id"`
	OccurredAt   string          `json:"occurredAt"`
	EventName    string          `json:"eventName"`
	OriginID     *int64          `json:"originId,omitempty"`
	TenantID     int64           `json:"tenantId"`
	Source       string          `json:"source,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	DispatchedAt *string         `json:"dispatchedAt,omitempty"`
	AttemptCount int             `json:"attemptCount"`
	LastError    string          `json:"lastError,omitempty"`
}

func eventResponse(e Event) eventView {
	view := eventView{
		ID:           e.ID,
		OccurredAt:   e.OccurredAt.Format(time.RFC3339),
		EventName:    e.EventName,
		OriginID:     e.OriginID,
		TenantID:     e.TenantID,
		Source:       e.Source,
		Payload:      e.Payload,
		Status:       e.Status,
		AttemptCount: e.AttemptCount,
		LastError:    e.LastError,
	}
	if e.DispatchedAt != nil {
		ts := e.DispatchedAt.Format(time.RFC3339)
		view.DispatchedAt = &ts
	}
	return view
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEventNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "Not Found", "event_not_found", err.Error())
	case errors.Is(err, ErrPayloadInvalid):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "Invalid Payload", "payload_invalid", err.Error())
	default:
		h.logger.Error("outbox request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
