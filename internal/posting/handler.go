package posting

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-fin/meridian/internal/platform/httpx"
)

// Handler exposes the read-only journal audit endpoint.
type Handler struct {
	logger *slog.Logger
	repo   RepositoryPort
}

// NewHandler builds the Handler instance.
func NewHandler(logger *slog.Logger, repo RepositoryPort) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers journal entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listBySource)
}

// listBySource serves the idempotency and audit lookup for a business record.
func (h *Handler) listBySource(w http.ResponseWriter, r *http.Request) {
	sourceTable := r.URL.Query().Get("sourceTable")
	sourceID, err := strconv.ParseInt(r.URL.Query().Get("sourceId"), 10, 64)
	if sourceTable == "" || err != nil || sourceID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "sourceTable and numeric sourceId are required")
		return
	}
	entries, err := h.repo.ListBySource(r.Context(), sourceTable, sourceID)
	if err != nil {
		h.logger.Error("journal lookup failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}
