package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"finance-client/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Store layers
	layerOps      *prometheus.CounterVec
	layerErrors   *prometheus.CounterVec
	layerLatency  *prometheus.HistogramVec
	circuitState  *prometheus.GaugeVec
	circuitOpens  *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec
	chainGets     *prometheus.CounterVec
	chainLatency  *prometheus.HistogramVec

	// Query cache
	queryReads    *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	dedups        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	refetches     *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	mutationTime  *prometheus.HistogramVec

	// Backend
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// NewPrometheusCollector creates a collector whose metrics live under
// namespace and are registered on a private registry.
func NewPrometheusCollector(namespace string) (*PrometheusCollector, error) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   latencyBuckets,
		}, labels)
	}

	pc := &PrometheusCollector{
		registry: prometheus.NewRegistry(),

		layerOps:      counter("store_operations_total", "Store layer operations by outcome", "layer", "operation", "outcome"),
		layerErrors:   counter("store_errors_total", "Store layer errors by type", "layer", "operation", "error_type"),
		layerLatency:  histogram("store_operation_duration_seconds", "Store layer operation latency", "layer", "operation"),
		circuitState:  gauge("circuit_state", "Circuit breaker state per layer (0=closed, 1=open, 2=half-open)", "layer"),
		circuitOpens:  counter("circuit_opens_total", "Circuit breaker opens per layer", "layer"),
		queueDepth:    gauge("writer_queue_depth", "Async writer queue depth per layer", "layer"),
		droppedWrites: counter("writer_dropped_total", "Async writes dropped because the queue was full", "layer"),
		asyncWrites:   counter("writer_writes_total", "Async writes by status", "layer", "status"),
		chainGets:     counter("chain_gets_total", "Chain lookups by serving layer (miss when none)", "layer_index"),
		chainLatency:  histogram("chain_get_duration_seconds", "Chain lookup latency", "hit"),

		queryReads:    counter("query_reads_total", "Query reads by state of the cached entry", "resource", "state"),
		fetches:       counter("query_fetches_total", "Backend fetches started by the query cache", "resource", "outcome"),
		fetchLatency:  histogram("query_fetch_duration_seconds", "Query fetch latency including retries", "resource"),
		dedups:        counter("query_dedup_total", "Reads that joined an in-flight fetch", "resource"),
		invalidations: counter("query_invalidations_total", "Invalidated cache entries", "resource"),
		refetches:     counter("query_refetches_total", "Refetches triggered by invalidation", "resource"),
		conflicts:     counter("query_conflicts_total", "Stale mutation responses discarded by version stamp", "resource"),
		mutations:     counter("mutations_total", "Mutations by outcome", "mutation", "outcome"),
		mutationTime:  histogram("mutation_duration_seconds", "Mutation latency", "mutation"),

		requests:       counter("backend_requests_total", "Backend HTTP requests by method and status", "method", "status"),
		requestLatency: histogram("backend_request_duration_seconds", "Backend HTTP request latency", "method"),
	}

	collectors := []prometheus.Collector{
		pc.layerOps, pc.layerErrors, pc.layerLatency, pc.circuitState, pc.circuitOpens,
		pc.queueDepth, pc.droppedWrites, pc.asyncWrites, pc.chainGets, pc.chainLatency,
		pc.queryReads, pc.fetches, pc.fetchLatency, pc.dedups, pc.invalidations,
		pc.refetches, pc.conflicts, pc.mutations, pc.mutationTime,
		pc.requests, pc.requestLatency,
	}
	for _, c := range collectors {
		if err := pc.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return pc, nil
}

// Registry exposes the registry so callers can add their own collectors.
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{Registry: pc.registry})
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (pc *PrometheusCollector) RecordGet(layer string, hit bool, duration time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pc.layerOps.WithLabelValues(layer, "get", result).Inc()
	pc.layerLatency.WithLabelValues(layer, "get").Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordSet(layer string, success bool, duration time.Duration) {
	pc.layerOps.WithLabelValues(layer, "set", outcome(success)).Inc()
	pc.layerLatency.WithLabelValues(layer, "set").Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordDelete(layer string, success bool, duration time.Duration) {
	pc.layerOps.WithLabelValues(layer, "delete", outcome(success)).Inc()
	pc.layerLatency.WithLabelValues(layer, "delete").Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordLayerError(layer, operation, errorType string) {
	pc.layerErrors.WithLabelValues(layer, operation, errorType).Inc()
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

func (pc *PrometheusCollector) RecordAsyncWrite(layer string, success bool, _ time.Duration) {
	pc.asyncWrites.WithLabelValues(layer, outcome(success)).Inc()
}

func (pc *PrometheusCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {
	index := "miss"
	if hit {
		index = strconv.Itoa(layerIndex)
	}
	pc.chainGets.WithLabelValues(index).Inc()
	pc.chainLatency.WithLabelValues(strconv.FormatBool(hit)).Observe(totalDuration.Seconds())
}

func (pc *PrometheusCollector) RecordQueryRead(resource string, state metrics.ReadState) {
	pc.queryReads.WithLabelValues(resource, string(state)).Inc()
}

func (pc *PrometheusCollector) RecordFetch(resource string, success bool, duration time.Duration) {
	pc.fetches.WithLabelValues(resource, outcome(success)).Inc()
	pc.fetchLatency.WithLabelValues(resource).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordDedup(resource string) {
	pc.dedups.WithLabelValues(resource).Inc()
}

func (pc *PrometheusCollector) RecordInvalidation(resource string, refetched int) {
	pc.invalidations.WithLabelValues(resource).Inc()
	pc.refetches.WithLabelValues(resource).Add(float64(refetched))
}

func (pc *PrometheusCollector) RecordConflict(resource string) {
	pc.conflicts.WithLabelValues(resource).Inc()
}

func (pc *PrometheusCollector) RecordMutation(name string, success bool, duration time.Duration) {
	pc.mutations.WithLabelValues(name, outcome(success)).Inc()
	pc.mutationTime.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordRequest records a backend call; status 0 is a transport failure.
func (pc *PrometheusCollector) RecordRequest(method string, status int, duration time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	pc.requests.WithLabelValues(method, label).Inc()
	pc.requestLatency.WithLabelValues(method).Observe(duration.Seconds())
}

var _ metrics.MetricsCollector = (*PrometheusCollector)(nil)
