// Package metrics holds the Prometheus collectors the engine updates.
//
//   - tradeguard_executions_total{result}          submitted|rejected|failed|unknown
//   - tradeguard_execution_blocked_total{reason}   one per disabled reason
//   - tradeguard_breaker_locks_total{reason}       lock transitions
//   - tradeguard_preflight_total{result}           confirmed|rejected
//   - tradeguard_trades_closed_total{result}       win|loss|scratch
//   - tradeguard_active_sessions                   sessions started today
//   - tradeguard_http_request_duration_seconds{method,status}
//
// Collectors are registered in init() and served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_executions_total",
			Help: "Order submissions by outcome",
		},
		[]string{"result"},
	)

	ExecutionBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_execution_blocked_total",
			Help: "Execution attempts refused, by disabled reason",
		},
		[]string{"reason"},
	)

	BreakerLocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_breaker_locks_total",
			Help: "Circuit breaker lock transitions by reason",
		},
		[]string{"reason"},
	)

	Preflight = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_preflight_total",
			Help: "Preflight submissions by result",
		},
		[]string{"result"},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_trades_closed_total",
			Help: "Closed trades by result",
		},
		[]string{"result"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_active_sessions",
			Help: "Sessions started for the current trading day",
		},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeguard_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		Executions,
		ExecutionBlocked,
		BreakerLocks,
		Preflight,
		TradesClosed,
		ActiveSessions,
		HTTPDuration,
	)
}
