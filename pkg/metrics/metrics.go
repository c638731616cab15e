// Package metrics provides Prometheus instrumentation for the vault.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts vault operations by name and outcome kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypervault_operations_total",
		Help: "Vault operations by result",
	}, []string{"op", "result"})

	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hypervault_operation_latency_seconds",
		Help:    "Vault operation latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"op"})

	// PoolAmount, ReservedAmount and FeeReserve are in whole token units.
	PoolAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hypervault_pool_amount",
		Help: "Pool amount per token",
	}, []string{"token"})

	ReservedAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hypervault_reserved_amount",
		Help: "Reserved amount per token",
	}, []string{"token"})

	FeeReserve = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hypervault_fee_reserve",
		Help: "Accumulated fees per token",
	}, []string{"token"})

	GuaranteedUsd = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hypervault_guaranteed_usd",
		Help: "Guaranteed USD owed by longs per token",
	}, []string{"token"})

	// CumulativeFundingRate is at 1e6 precision.
	CumulativeFundingRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hypervault_cumulative_funding_rate",
		Help: "Cumulative funding rate per collateral token",
	}, []string{"token"})

	StableSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hypervault_stable_supply",
		Help: "Stable units outstanding",
	})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypervault_liquidations_total",
		Help: "Positions liquidated, by liquidation state",
	}, []string{"state"})

	KeeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypervault_keeper_runs_total",
		Help: "Keeper job executions by job and result",
	}, []string{"job", "result"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hypervault_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypervault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hypervault_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOperation records one vault operation.
func ObserveOperation(op, result string, d time.Duration) {
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and duration per route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

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
