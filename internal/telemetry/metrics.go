// Package telemetry holds the gateway's Prometheus metrics and logger wiring.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var CaptureRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "capture",
		Name:      "requests_total",
		Help:      "Total number of capture requests by outcome.",
	},
	[]string{"outcome"},
)

var CaptureDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hookline",
		Subsystem: "capture",
		Name:      "duration_seconds",
		Help:      "Capture handler processing duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
	[]string{"outcome"},
)

var DedupSkippedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "capture",
		Name:      "dedup_skipped_total",
		Help:      "Total number of requests skipped as duplicates.",
	},
)

var CircuitStateGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "hookline",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state: 0=closed, 1=half-open, 2=open.",
	},
)

var BreakerFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "breaker",
		Name:      "failures_total",
		Help:      "Total number of CP failures recorded by the circuit breaker.",
	},
)

var FlushBatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "flush",
		Name:      "batches_total",
		Help:      "Total number of flush batches by result.",
	},
	[]string{"result"},
)

var FlushBatchSize = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "hookline",
		Subsystem: "flush",
		Name:      "batch_size",
		Help:      "Number of requests per flushed batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	},
)

var CSWritesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "cs",
		Name:      "writes_total",
		Help:      "Total number of fire-and-forget CS writes by result.",
	},
	[]string{"result"},
)

var WarmerRefreshesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "warmer",
		Name:      "refreshes_total",
		Help:      "Total number of cache warmer refresh attempts by kind and result.",
	},
	[]string{"kind", "result"},
)

var RetentionSweepsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "retention",
		Name:      "sweeps_total",
		Help:      "Total number of retention sweeps by result.",
	},
	[]string{"result"},
)

var RetentionUsersDeleted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "hookline",
		Subsystem: "retention",
		Name:      "users_processed_total",
		Help:      "Total number of free-tier users processed by the retention sweep.",
	},
)

// All returns every gateway metric for registration against a Prometheus registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CaptureRequestsTotal,
		CaptureDuration,
		DedupSkippedTotal,
		CircuitStateGauge,
		BreakerFailuresTotal,
		FlushBatchesTotal,
		FlushBatchSize,
		CSWritesTotal,
		WarmerRefreshesTotal,
		RetentionSweepsTotal,
		RetentionUsersDeleted,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors plus every gateway-specific collector from All.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
