// Package metrics provides Prometheus instrumentation for the edge engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CatalogRefreshes counts upstream catalog fetches by outcome (ok, error).
	CatalogRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_catalog_refreshes_total",
		Help: "Catalog refresh attempts by outcome",
	}, []string{"outcome"})

	// CatalogMarkets tracks the size of the last fetched catalog.
	CatalogMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_edge_catalog_markets",
		Help: "Number of markets in the current catalog snapshot",
	})

	// CatalogStaleServes counts requests answered from a stale snapshot.
	CatalogStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_edge_catalog_stale_serves_total",
		Help: "Discovery requests served from a stale catalog after a failed refresh",
	})

	// AnalysisOutcomes counts analyses by terminal state.
	AnalysisOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_analysis_total",
		Help: "Analysis requests by outcome",
	}, []string{"mode", "outcome"})

	// ModelLatency tracks model call duration by mode.
	ModelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_edge_model_latency_seconds",
		Help:    "Model call latency in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
	}, []string{"mode"})

	// SignalsCreated counts persisted signals by confidence.
	SignalsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_signals_created_total",
		Help: "Signals persisted by confidence",
	}, []string{"confidence"})

	// QuotaRejections counts deep analyses rejected by the per-client quota.
	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_edge_quota_rejections_total",
		Help: "Deep analysis requests rejected by the client quota",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weather_edge_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_edge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_edge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
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

		// Route patterns keep the label set bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
