// Package metrics provides Prometheus instrumentation for the competition
// engine.
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
	// OrdersTotal counts placeOrder outcomes by side and result code.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeclash_orders_total",
		Help: "Total number of orders by side and outcome",
	}, []string{"side", "code"})

	// OrderLatency tracks end-to-end placeOrder latency, retries included.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeclash_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// OrderConflictRetries counts ledger transactions retried after a
	// concurrent commit.
	OrderConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeclash_order_conflict_retries_total",
		Help: "Ledger transactions retried after a write conflict",
	})

	// TradeVolume tracks cumulative executed notional per asset type.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeclash_trade_notional_total",
		Help: "Cumulative absolute notional of executed trades",
	}, []string{"asset_type"})

	// MarketDataFetches counts quote fetches by provider and outcome.
	MarketDataFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeclash_market_data_fetches_total",
		Help: "Quote fetches by provider and result",
	}, []string{"provider", "result"})

	// MarketDataLastSuccess is the unix time of the last successful batch.
	MarketDataLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeclash_market_data_last_success_timestamp_seconds",
		Help: "Unix time of the last successful quote batch write",
	})

	// LeaderboardRecomputes counts valuation write-backs.
	LeaderboardRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeclash_leaderboard_recomputes_total",
		Help: "Leaderboard recomputations written back to participants",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeclash_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeclash_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeclash_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so ids do not explode the
// label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes WebSocket upgrades through to the underlying writer.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
