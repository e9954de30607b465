package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carreto"

// Transition outcomes
const (
	OutcomeOK          = "ok"
	OutcomeGuardFailed = "guard_failed"
	OutcomeError       = "error"
)

var (
	// TransitionsTotal counts ride transitions by operation and outcome.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride state transitions by operation and outcome"},
		[]string{"operation", "outcome", "reason"},
	)
	AcceptLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "accept_latency_seconds",
		Help:      "Latency of the guarded accept transaction",
		Buckets:   prometheus.DefBuckets,
	})
	RidesExpiredTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_expired_total", Help: "Open rides cancelled by the timeout supervisor"})
	LedgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ledger_entries_total", Help: "Wallet ledger entries appended"},
		[]string{"type", "reason"},
	)
	DispatchResultSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_result_size",
		Help:      "Number of rides returned per dispatch query",
		Buckets:   []float64{0, 1, 2, 3},
	})
	DriversOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers with a live presence record"},
		[]string{"bairro"},
	)
	PushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "push_failures_total", Help: "Best-effort event publishes that failed"})
	StreamsOpen       = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "streams_open", Help: "Open SSE and WebSocket connections"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordTransition counts one transition attempt.
func RecordTransition(operation, outcome, reason string) {
	TransitionsTotal.WithLabelValues(operation, outcome, reason).Inc()
}
