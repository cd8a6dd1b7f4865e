package reports

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
)

// Handler exposes the report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/income-statement", h.incomeStatement)
	r.Get("/balance-sheet", h.balanceSheet)
}

func (h *Handler) incomeStatement(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := queryTenant(w, r)
	if !ok {
		return
	}
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Range", "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Range", "to must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Range", "to must not precede from")
		return
	}
	rows, err := h.service.IncomeStatement(r.Context(), tenantID, from, to)
	if err != nil {
		h.logger.Error("income statement failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []IncomeRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := queryTenant(w, r)
	if !ok {
		return
	}
	asOf, err := time.Parse("2006-01-02", r.URL.Query().Get("asOf"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "asOf must be YYYY-MM-DD")
		return
	}
	sheet, err := h.service.BalanceSheet(r.Context(), tenantID, asOf)
	if err != nil {
		h.logger.Error("balance sheet failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func queryTenant(w http.ResponseWriter, r *http.Request) (int64, bool) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenantId"), 10, 64)
	if err != nil || tenantID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Tenant", "tenantId query parameter required")
		return 0, false
	}
	return tenantID, true
}
