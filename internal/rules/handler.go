package rules

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
)

// Handler manages posting rule configuration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers posting rule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/{id}/deactivate", h.deactivate)
}

type createRuleRequest struct {
	TenantID            int64  `json:"tenantId" validate:"required"`
	Origin              string `json:"origin" validate:"required"`
	Subtype             string `json:"subtype"`
	FinancialCategoryID int64  `json:"financialCategoryId" validate:"required"`
	DebitAccountID      int64  `json:"debitAccountId" validate:"required"`
	CreditAccountID     int64  `json:"creditAccountId" validate:"required"`
	Automatic           bool   `json:"automatic"`
	Description         string `json:"description"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rule, err := h.service.Create(r.Context(), CreateInput{
		TenantID:            req.TenantID,
		Origin:              Origin(req.Origin),
		Subtype:             req.Subtype,
		FinancialCategoryID: req.FinancialCategoryID,
		DebitAccountID:      req.DebitAccountID,
		CreditAccountID:     req.CreditAccountID,
		Automatic:           req.Automatic,
		Description:         req.Description,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenantId"), 10, 64)
	if err != nil || tenantID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Tenant", "tenantId query parameter required")
		return
	}
	out, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "rule id must be numeric")
		return
	}
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRuleNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "Not Found", "rule_not_found", err.Error())
	case errors.Is(err, ErrSameAccount):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "Invalid Rule", "same_account", err.Error())
	case errors.Is(err, ErrAccountNotPostable):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "Invalid Rule", "account_not_postable", err.Error())
	default:
		h.logger.Error("rules request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
