package outbox

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store *memoryStore, d *Dispatcher) http.Handler {
	h := NewHandler(slog.Default(), store, d)
	r := chi.NewRouter()
	r.Route("/events", h.MountEventRoutes)
	r.Route("/dispatch", h.MountDispatchRoutes)
	return r
}

func TestEnqueueEndpointCreatesEvent(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(store, newTestDispatcher(store, &recordingConsumer{}, 3))

	body := `{"eventName":"financial.payable.created","tenantId":1,"payload":{"amount":10}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		EventID string `json:"eventId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.EventID)
	require.Len(t, store.events, 1)
}

func TestEnqueueEndpointRejectsMissingFields(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(store, newTestDispatcher(store, &recordingConsumer{}, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"tenantId":1}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, store.events)
}

func TestDispatchEndpointBatchMode(t *testing.T) {
	store := newMemoryStore()
	for range 3 {
		store.seed("financial.payable.created", 1)
	}
	router := newTestRouter(store, newTestDispatcher(store, &recordingConsumer{}, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(`{"limit":10}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Mode      string `json:"mode"`
		Processed int    `json:"processed"`
		Succeeded int    `json:"succeeded"`
		Failed    int    `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "batch", resp.Mode)
	require.Equal(t, 3, resp.Processed)
	require.Equal(t, 3, resp.Succeeded)
	require.Zero(t, resp.Failed)
}

func TestDispatchEndpointSingleMode(t *testing.T) {
	store := newMemoryStore()
	id := store.seed("financial.payable.created", 1)
	router := newTestRouter(store, newTestDispatcher(store, &recordingConsumer{}, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dispatch",
		strings.NewReader(`{"id":"`+id.String()+`"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Mode   string `json:"mode"`
		Result Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "single", resp.Mode)
	require.Equal(t, StatusDispatched, resp.Result.Status)
}

func TestDispatchEndpointUnknownEvent(t *testing.T) {
	store := newMemoryStore()
	router := newTestRouter(store, newTestDispatcher(store, &recordingConsumer{}, 3))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dispatch",
		strings.NewReader(`{"id":"00000000-0000-0000-0000-000000000001"}`)))

	require.Equal(t, http.StatusNotFound, rec.Code)
}
