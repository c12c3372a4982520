// Package metrics provides Prometheus instrumentation for the ranking
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts ranking runs by outcome and dry-run flag.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankengine_runs_total",
		Help: "Ranking runs by outcome",
	}, []string{"outcome", "dry_run"})

	// RunDuration tracks end-to-end run duration.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rankengine_run_duration_seconds",
		Help:    "Ranking run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// DistributedCents accumulates the cents actually distributed to
	// recipients (pool minus parked platform revenue).
	DistributedCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankengine_distributed_cents_total",
		Help: "Total cents distributed to recipients",
	})

	// PayoutsTotal counts payout rows executed, partitioned by role.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankengine_payouts_total",
		Help: "Payout rows executed",
	}, []string{"role"})

	// TransfersTotal counts external transfer attempts by result.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankengine_transfers_total",
		Help: "External transfer attempts by result",
	}, []string{"result"})

	// TransferQueueDepth tracks outbox rows awaiting processing.
	TransferQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rankengine_transfer_queue_depth",
		Help: "Outbox transfer requests due for processing",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rankengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rankengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
