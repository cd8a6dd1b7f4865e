package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the posting engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	eventsDispatched prometheus.Counter
	eventsFailed     prometheus.Counter
	entriesPosted    prometheus.Counter
	manualPostings   prometheus.Counter
	dispatchDuration prometheus.Histogram
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_outbox_events_dispatched_total",
		Help: "Outbox events dispatched successfully.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_outbox_events_failed_total",
		Help: "Outbox events whose consumer returned an error.",
	})
	posted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_journal_entries_posted_total",
		Help: "Journal entries created by the posting engine.",
	})
	manual := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_manual_postings_required_total",
		Help: "Events handled without a journal entry because no automatic rule matched.",
	})
	dispatchDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meridian_outbox_dispatch_duration_seconds",
		Help:    "Wall time of one outbox dispatch batch.",
		Buckets: prometheus.DefBuckets,
	})
	registry.MustRegister(requests, duration, dispatched, failed, posted, manual, dispatchDur)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		eventsDispatched: dispatched,
		eventsFailed:     failed,
		entriesPosted:    posted,
		manualPostings:   manual,
		dispatchDuration: dispatchDur,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// AddDispatched increments the dispatched-events counter.
func (m *Metrics) AddDispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsDispatched.Add(float64(n))
}

// AddFailed increments the failed-events counter.
func (m *Metrics) AddFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsFailed.Add(float64(n))
}

// IncEntriesPosted increments the journal-entry counter.
func (m *Metrics) IncEntriesPosted() {
	if m == nil {
		return
	}
	m.entriesPosted.Inc()
}

// IncManualPosting increments the manual-posting counter.
func (m *Metrics) IncManualPosting() {
	if m == nil {
		return
	}
	m.manualPostings.Inc()
}

// ObserveDispatch records the duration of one dispatch batch.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
