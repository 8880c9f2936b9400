package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	evaluationsTotal *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	sweepsExpired    prometheus.Counter
	sweepsFailed     prometheus.Counter
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sherpa_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sherpa_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sherpa_authz_evaluations_total",
		Help: "Permission evaluations by decision reason.",
	}, []string{"reason"})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sherpa_authz_cache_lookups_total",
		Help: "Permission cache lookups by result.",
	}, []string{"result"})
	sweepsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sherpa_authz_assignments_expired_total",
		Help: "Assignments deactivated by the expiry sweeper.",
	})
	sweepsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sherpa_authz_sweep_failures_total",
		Help: "Per-record failures during expiry sweeps.",
	})
	registry.MustRegister(requests, duration, evaluations, cacheLookups, sweepsExpired, sweepsFailed)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		evaluationsTotal: evaluations,
		cacheLookups:     cacheLookups,
		sweepsExpired:    sweepsExpired,
		sweepsFailed:     sweepsFailed,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// ObserveEvaluation records one permission decision.
func (m *Metrics) ObserveEvaluation(reason string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(reason).Inc()
}

// ObserveCacheLookup records a cache hit, miss or error.
func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveSweep records the outcome counts of one expiry sweep.
func (m *Metrics) ObserveSweep(expired, failed int) {
	if m == nil {
		return
	}
	m.sweepsExpired.Add(float64(expired))
	m.sweepsFailed.Add(float64(failed))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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
