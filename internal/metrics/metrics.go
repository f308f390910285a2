// Package metrics provides Prometheus instrumentation for the paper engine.
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
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts rejected trades by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_trade_rejections_total",
		Help: "Trades rejected by ledger validation",
	}, []string{"reason"})

	// PersistenceFailures counts best-effort saves that failed after the
	// trade had already been applied in memory.
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegis_persistence_failures_total",
		Help: "Ledger saves that failed after the in-memory state changed",
	})

	// QuoteRequests counts quote gateway lookups by source.
	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_quote_requests_total",
		Help: "Quote gateway lookups",
	}, []string{"source"})

	// AnalysisRuns counts debate runs by terminal status.
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_analysis_runs_total",
		Help: "Analysis runs by status",
	}, []string{"status"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
