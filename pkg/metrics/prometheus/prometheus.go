package prometheus

import (
	"time"

	"bank-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
// It is itself a prometheus.Collector, so it can be registered in one call.
type PrometheusCollector struct {
	namespace string

	transfers       *prometheus.CounterVec
	transferLatency *prometheus.HistogramVec

	reads       *prometheus.CounterVec
	readLatency *prometheus.HistogramVec

	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheWrites  *prometheus.CounterVec
	cacheErrors  *prometheus.CounterVec
	getLatency   *prometheus.HistogramVec
	writeLatency *prometheus.HistogramVec

	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	latencyBuckets := prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

	return &PrometheusCollector{
		namespace: namespace,
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Total number of transfer executions by outcome status",
			},
			[]string{"status"},
		),
		transferLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Transfer execution latency including the store transaction",
				Buckets:   latencyBuckets,
			},
			[]string{"status"},
		),
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_reads_total",
				Help:      "Total number of account reads by kind and cache result",
			},
			[]string{"kind", "cache"},
		),
		readLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "account_read_duration_seconds",
				Help:      "Account read latency by kind",
				Buckets:   latencyBuckets,
			},
			[]string{"kind"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits per layer",
			},
			[]string{"layer"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses per layer",
			},
			[]string{"layer"},
		),
		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_writes_total",
				Help:      "Total number of cache writes per layer and operation",
			},
			[]string{"layer", "operation"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of failed cache writes per layer and operation",
			},
			[]string{"layer", "operation"},
		),
		getLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_get_duration_seconds",
				Help:      "Cache get latency per layer",
				Buckets:   latencyBuckets,
			},
			[]string{"layer"},
		),
		writeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_write_duration_seconds",
				Help:      "Cache write latency per layer and operation",
				Buckets:   latencyBuckets,
			},
			[]string{"layer", "operation"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per layer",
			},
			[]string{"layer"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per layer (0=closed, 1=open, 2=half-open)",
			},
			[]string{"layer"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "warm_queue_depth",
				Help:      "Current async warm-up queue depth per layer",
			},
			[]string{"layer"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warm_dropped_total",
				Help:      "Total number of dropped async warm-up writes per layer",
			},
			[]string{"layer"},
		),
	}
}

func (pc *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.transfers,
		pc.transferLatency,
		pc.reads,
		pc.readLatency,
		pc.cacheHits,
		pc.cacheMisses,
		pc.cacheWrites,
		pc.cacheErrors,
		pc.getLatency,
		pc.writeLatency,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedWrites,
	}
}

// Describe implements prometheus.Collector.
func (pc *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range pc.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (pc *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, c := range pc.collectors() {
		c.Collect(ch)
	}
}

// Register registers all metrics with the given registerer.
func (pc *PrometheusCollector) Register(registerer prometheus.Registerer) error {
	return registerer.Register(pc)
}

func (pc *PrometheusCollector) RecordTransfer(status string, duration time.Duration) {
	pc.transfers.WithLabelValues(status).Inc()
	pc.transferLatency.WithLabelValues(status).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordRead(kind string, cacheHit bool, duration time.Duration) {
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	pc.reads.WithLabelValues(kind, result).Inc()
	pc.readLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordCacheGet(layer string, hit bool, duration time.Duration) {
	if hit {
		pc.cacheHits.WithLabelValues(layer).Inc()
	} else {
		pc.cacheMisses.WithLabelValues(layer).Inc()
	}
	pc.getLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordCacheWrite(layer, op string, success bool, duration time.Duration) {
	pc.cacheWrites.WithLabelValues(layer, op).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(layer, op).Inc()
	}
	pc.writeLatency.WithLabelValues(layer, op).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordCircuitState(layer string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(layer).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(layer).Inc()
	}
}

func (pc *PrometheusCollector) RecordQueueDepth(layer string, depth int) {
	pc.queueDepth.WithLabelValues(layer).Set(float64(depth))
}

func (pc *PrometheusCollector) RecordWriteDropped(layer string) {
	pc.droppedWrites.WithLabelValues(layer).Inc()
}
