// Package metrics exposes Prometheus metrics the engine updates during
// operation:
//   - engine_trades_total{result}        – trades by outcome (open|won|lost)
//   - engine_signals_total{action}       – strategy signals (call|put|hold)
//   - engine_cycles_total{user}          – trading cycles completed per user
//   - engine_reconnects_total            – protocol client reconnect attempts
//   - engine_breaker_trips_total         – circuit breaker trips
//   - engine_active_sessions             – sessions currently running (gauge)
//   - engine_session_pnl{user}           – realized session PnL (gauge)
//
// Served at /metrics in Prometheus text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Trades by outcome",
		},
		[]string{"result"},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Strategy signals emitted",
		},
		[]string{"action"},
	)

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Trading cycles completed",
		},
		[]string{"user"},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reconnects_total",
			Help: "Protocol client reconnect attempts",
		},
	)

	BreakerTripsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_breaker_trips_total",
			Help: "Circuit breaker trips",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_active_sessions",
			Help: "Sessions currently running",
		},
	)

	SessionPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_session_pnl",
			Help: "Realized session PnL in account currency",
		},
		[]string{"user"},
	)
)

func init() {
	prometheus.MustRegister(
		TradesTotal,
		SignalsTotal,
		CyclesTotal,
		ReconnectsTotal,
		BreakerTripsTotal,
		ActiveSessions,
		SessionPnL,
	)
}

// Serve starts the metrics endpoint on addr. It blocks, so callers run it in
// a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
