package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	lifecycleOps    *prometheus.CounterVec
	reconcileRuns   prometheus.Counter
	reconcileFlips  *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "active_session_cache_hits_total",
		Help: "Active session cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "active_session_cache_misses_total",
		Help: "Active session cache misses",
	})

	lifecycleOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "student_lifecycle_operations_total",
		Help: "Completed student lifecycle operations",
	}, []string{"operation", "outcome"})

	reconcileRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "term_reconcile_runs_total",
		Help: "Total term reconciliation sweeps",
	})

	reconcileFlips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "term_reconcile_flips_total",
		Help: "Term activation flags flipped by reconciliation",
	}, []string{"direction"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, lifecycleOps, reconcileRuns, reconcileFlips, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		lifecycleOps:    lifecycleOps,
		reconcileRuns:   reconcileRuns,
		reconcileFlips:  reconcileFlips,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup records an active-session cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordLifecycleOperation counts an enroll/promote/transfer outcome.
func (m *MetricsService) RecordLifecycleOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.lifecycleOps.WithLabelValues(operation, outcome).Inc()
}

// RecordReconcile counts a reconciliation sweep and its flips.
func (m *MetricsService) RecordReconcile(deactivated, activated int64) {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc()
	m.reconcileFlips.WithLabelValues("deactivated").Add(float64(deactivated))
	m.reconcileFlips.WithLabelValues("activated").Add(float64(activated))
}
