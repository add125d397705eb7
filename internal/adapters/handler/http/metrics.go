package http

import (
	"strconv"
	"time"

	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"watchpost.core/internal/core/bus"
	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/services"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RegisterCollectors wires gauges and counters that read live values out of
// the core services at scrape time.
func RegisterCollectors(jobs *services.JobService, agg *services.Aggregator, wd *services.Watchdog, b *bus.Bus) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "job_queue_depth",
		Help: "Number of jobs waiting in the queue",
	}, func() float64 { return float64(jobs.Stats().QueueDepth) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "jobs_inflight",
		Help: "Number of jobs queued or running",
	}, func() float64 { return float64(jobs.Stats().Inflight) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "job_cache_hits_total",
		Help: "Job submissions served from the result cache",
	}, func() float64 { return float64(jobs.Stats().CacheHits) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "job_invocations_total",
		Help: "External tool invocations started",
	}, func() float64 { return float64(jobs.Stats().Invocations) })

	for _, state := range []domain.JobState{
		domain.JobStateSucceeded, domain.JobStateFailed,
		domain.JobStateCancelled, domain.JobStateTimedOut,
	} {
		state := state
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Name:        "jobs_completed_total",
			Help:        "Jobs reaching a terminal state",
			ConstLabels: prometheus.Labels{"state": string(state)},
		}, func() float64 { return float64(jobs.Stats().Completed[state]) })
	}

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "telemetry_snapshots_total",
		Help: "Telemetry snapshots published",
	}, func() float64 { return float64(agg.Ticks()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "telemetry_adapter_failures_total",
		Help: "Metric adapter samples that failed or timed out",
	}, func() float64 { return float64(agg.AdapterFailures()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "jobs_stalled_total",
		Help: "Jobs force-failed by the watchdog",
	}, func() float64 { return float64(wd.Stalled()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "bus_dropped_total",
		Help: "Bus messages dropped for slow subscribers",
	}, func() float64 { return float64(b.Dropped()) })
}

// MetricsMiddleware records HTTP request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics for WebSocket upgrade requests
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
