package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the dispatch layer
type Metrics struct {
	// Load balancer metrics
	WorkersRegistered  prometheus.Gauge
	WorkersHealthy     prometheus.Gauge
	QueueDepth         prometheus.Gauge
	QueueRejected      prometheus.Counter
	QueueDropped       prometheus.Counter
	QueueRequeued      prometheus.Counter
	RequestsDispatched prometheus.Counter
	RequestsCompleted  prometheus.Counter
	RequestsFailed     prometheus.Counter
	DispatchTimeouts   prometheus.Counter
	DispatchLatency    prometheus.Histogram

	// Circuit breaker metrics
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	// RPC failover metrics
	RPCRequestsTotal    *prometheus.CounterVec
	RPCRequestsFailed   *prometheus.CounterVec
	RPCProbeLatency     *prometheus.HistogramVec
	RPCHealthyEndpoints prometheus.Gauge
	RPCEndpointSwitches prometheus.Counter
	RPCCooldownsStarted prometheus.Counter
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics returns the singleton Metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		WorkersRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bot_workers_registered",
			Help: "Number of worker processes currently registered",
		}),
		WorkersHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bot_workers_healthy",
			Help: "Number of registered workers currently healthy",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bot_request_queue_depth",
			Help: "Number of requests waiting in the backlog",
		}),
		QueueRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_request_queue_rejected_total",
			Help: "Requests rejected because the backlog was full",
		}),
		QueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_request_queue_dropped_total",
			Help: "Queued requests dropped after exceeding the max requeue age",
		}),
		QueueRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_request_queue_requeued_total",
			Help: "Requests reinserted at the queue front after a failed dispatch",
		}),
		RequestsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_requests_dispatched_total",
			Help: "Requests sent to a worker",
		}),
		RequestsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_requests_completed_total",
			Help: "Requests acknowledged complete by a worker",
		}),
		RequestsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_requests_failed_total",
			Help: "Requests that ended with a worker error message",
		}),
		DispatchTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_dispatch_timeouts_total",
			Help: "Dispatches that timed out waiting for completion",
		}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_dispatch_duration_seconds",
			Help:    "Time from dispatch to completion acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),

		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half_open",
		}, []string{"breaker"}),
		BreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_circuit_breaker_trips_total",
			Help: "Transitions into the open state",
		}, []string{"breaker"}),

		RPCRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_rpc_requests_total",
			Help: "RPC attempts per endpoint and operation label",
		}, []string{"endpoint", "label"}),
		RPCRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_rpc_requests_failed_total",
			Help: "Failed RPC attempts per endpoint and error class",
		}, []string{"endpoint", "class"}),
		RPCProbeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bot_rpc_probe_duration_seconds",
			Help:    "Latency of the identity probe against an endpoint",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		RPCHealthyEndpoints: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bot_rpc_healthy_endpoints",
			Help: "Endpoints currently considered healthy",
		}),
		RPCEndpointSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_rpc_endpoint_switches_total",
			Help: "Failover switches between endpoints",
		}),
		RPCCooldownsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bot_rpc_cooldowns_started_total",
			Help: "Rate-limit cooldowns entered",
		}),
	}
}
