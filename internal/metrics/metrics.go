// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// TicksTotal counts completed ticks by loop (grid, momentum, sweep).
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_ticks_total",
		Help: "Total number of scheduler ticks run",
	}, []string{"instrument", "loop"})

	// TickErrors counts ticks skipped because of a collaborator failure.
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_tick_errors_total",
		Help: "Ticks skipped due to feed, sink or store errors",
	}, []string{"instrument", "loop"})

	// TickLatency tracks tick duration by loop.
	TickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_tick_latency_seconds",
		Help:    "Tick execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})

	// OrdersPlaced counts orders accepted by the order sink.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_placed_total",
		Help: "Orders accepted by the order sink",
	}, []string{"instrument", "strategy", "side"})

	// OrdersCancelled counts orders cancelled on rebalance, deactivation or stale attach.
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_cancelled_total",
		Help: "Pending orders cancelled",
	}, []string{"instrument"})

	// Fills counts order fills that opened a position.
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_fills_total",
		Help: "Order fills that opened a position",
	}, []string{"instrument", "strategy"})

	// Rebalances counts ladder replacements.
	Rebalances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_rebalances_total",
		Help: "Grid ladder replacements",
	}, []string{"instrument"})

	// RealizedProfit tracks cumulative realized profit in USD; losses
	// are counted in RealizedLoss so both stay monotonic.
	RealizedProfit = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_realized_profit_usd_total",
		Help: "Cumulative realized profit in USD",
	}, []string{"instrument", "strategy"})

	// RealizedLoss tracks cumulative realized losses in USD as a positive number.
	RealizedLoss = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_realized_loss_usd_total",
		Help: "Cumulative realized loss in USD",
	}, []string{"instrument", "strategy"})

	// PayoutsQueued counts withdrawals handed to the withdrawer by outcome.
	PayoutsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_payouts_total",
		Help: "Payout withdrawals requested",
	}, []string{"outcome"})

	// OpenPositions tracks open positions per instrument.
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_open_positions",
		Help: "Number of currently open positions",
	}, []string{"instrument"})

	// ActiveInstruments tracks the number of instruments being traded.
	ActiveInstruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_instruments",
		Help: "Number of currently active instruments",
	})

	// RiskRejections counts orders rejected by the exposure limiter.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_risk_rejections_total",
		Help: "Orders rejected by the exposure limiter",
	}, []string{"instrument"})

	// InvariantViolations counts skipped invariant errors outside dev mode.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_invariant_violations_total",
		Help: "Invariant violations logged and skipped",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// ObserveTick records one tick's outcome and latency.
func ObserveTick(instrument, loop string, start time.Time, err error) {
	TicksTotal.WithLabelValues(instrument, loop).Inc()
	if err != nil {
		TickErrors.WithLabelValues(instrument, loop).Inc()
	}
	TickLatency.WithLabelValues(loop).Observe(time.Since(start).Seconds())
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

// Hijack lets WebSocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
