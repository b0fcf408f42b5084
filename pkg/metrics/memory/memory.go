package memory

import (
	"sync"
	"time"

	"finance-client/pkg/metrics"
)

// MemoryCollector implements MetricsCollector in memory. Tests use it to
// assert on what the store and the query cache did.
type MemoryCollector struct {
	mu sync.RWMutex

	layers    map[string]*LayerMetrics
	resources map[string]*ResourceMetrics
	mutations map[string]*MutationMetrics
	requests  map[int]int64

	chainHits        int64
	chainMisses      int64
	chainHitsByLayer map[int]int64
}

// LayerMetrics holds metrics for a single store layer.
type LayerMetrics struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64

	ErrorsByType map[string]int64

	CircuitState metrics.CircuitState
	CircuitOpens int64

	QueueDepth    int
	DroppedWrites int64
	AsyncWrites   int64
	AsyncErrors   int64
}

// ResourceMetrics holds query cache metrics for one resource (first key
// segment).
type ResourceMetrics struct {
	Fresh         int64
	Stale         int64
	Misses        int64
	Fetches       int64
	FetchErrors   int64
	Dedups        int64
	Invalidations int64
	Refetches     int64
	Conflicts     int64
	FetchLatency  []time.Duration
}

// MutationMetrics holds outcome counts for one mutation name.
type MutationMetrics struct {
	Succeeded int64
	Failed    int64
}

func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.Reset()
	return mc
}

// layer and resource must be called with mc.mu held.
func (mc *MemoryCollector) layer(name string) *LayerMetrics {
	lm, ok := mc.layers[name]
	if !ok {
		lm = &LayerMetrics{ErrorsByType: make(map[string]int64)}
		mc.layers[name] = lm
	}
	return lm
}

func (mc *MemoryCollector) resource(name string) *ResourceMetrics {
	rm, ok := mc.resources[name]
	if !ok {
		rm = &ResourceMetrics{}
		mc.resources[name] = rm
	}
	return rm
}

func (mc *MemoryCollector) RecordGet(layer string, hit bool, _ time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
}

func (mc *MemoryCollector) RecordSet(layer string, success bool, _ time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Sets++
	if !success {
		lm.Errors++
	}
}

func (mc *MemoryCollector) RecordDelete(layer string, success bool, _ time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Deletes++
	if !success {
		lm.Errors++
	}
}

func (mc *MemoryCollector) RecordLayerError(layer, _ string, errorType string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).ErrorsByType[errorType]++
}

// RecordCircuitState counts transitions into the open state.
func (mc *MemoryCollector) RecordCircuitState(layer string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if lm.CircuitState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		lm.CircuitOpens++
	}
	lm.CircuitState = state
}

func (mc *MemoryCollector) RecordQueueDepth(layer string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).QueueDepth = depth
}

func (mc *MemoryCollector) RecordWriteDropped(layer string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).DroppedWrites++
}

func (mc *MemoryCollector) RecordAsyncWrite(layer string, success bool, _ time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.AsyncWrites++
	if !success {
		lm.AsyncErrors++
	}
}

func (mc *MemoryCollector) RecordChainGet(hit bool, layerIndex int, _ time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.chainHits++
		mc.chainHitsByLayer[layerIndex]++
	} else {
		mc.chainMisses++
	}
}

func (mc *MemoryCollector) RecordQueryRead(resource string, state metrics.ReadState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	rm := mc.resource(resource)
	switch state {
	case metrics.ReadFresh:
		rm.Fresh++
	case metrics.ReadStale:
		rm.Stale++
	default:
		rm.Misses++
	}
}

func (mc *MemoryCollector) RecordFetch(resource string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	rm := mc.resource(resource)
	rm.Fetches++
	if !success {
		rm.FetchErrors++
	}
	rm.FetchLatency = append(rm.FetchLatency, duration)
}

func (mc *MemoryCollector) RecordDedup(resource string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.resource(resource).Dedups++
}

func (mc *MemoryCollector) RecordInvalidation(resource string, refetched int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	rm := mc.resource(resource)
	rm.Invalidations++
	rm.Refetches += int64(refetched)
}

func (mc *MemoryCollector) RecordConflict(resource string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.resource(resource).Conflicts++
}

func (mc *MemoryCollector) RecordMutation(name string, success bool, _ time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mm, ok := mc.mutations[name]
	if !ok {
		mm = &MutationMetrics{}
		mc.mutations[name] = mm
	}
	if success {
		mm.Succeeded++
	} else {
		mm.Failed++
	}
}

// RecordRequest counts backend requests by status; 0 means a transport failure.
func (mc *MemoryCollector) RecordRequest(_ string, status int, _ time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requests[status]++
}

// Snapshot is a point-in-time copy of everything collected.
type Snapshot struct {
	Layers           map[string]LayerMetrics
	Resources        map[string]ResourceMetrics
	Mutations        map[string]MutationMetrics
	Requests         map[int]int64
	ChainHits        int64
	ChainMisses      int64
	ChainHitsByLayer map[int]int64
}

func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		Layers:           make(map[string]LayerMetrics, len(mc.layers)),
		Resources:        make(map[string]ResourceMetrics, len(mc.resources)),
		Mutations:        make(map[string]MutationMetrics, len(mc.mutations)),
		Requests:         make(map[int]int64, len(mc.requests)),
		ChainHits:        mc.chainHits,
		ChainMisses:      mc.chainMisses,
		ChainHitsByLayer: make(map[int]int64, len(mc.chainHitsByLayer)),
	}

	for name, lm := range mc.layers {
		c := *lm
		c.ErrorsByType = make(map[string]int64, len(lm.ErrorsByType))
		for k, v := range lm.ErrorsByType {
			c.ErrorsByType[k] = v
		}
		s.Layers[name] = c
	}
	for name, rm := range mc.resources {
		c := *rm
		c.FetchLatency = append([]time.Duration(nil), rm.FetchLatency...)
		s.Resources[name] = c
	}
	for name, mm := range mc.mutations {
		s.Mutations[name] = *mm
	}
	for status, n := range mc.requests {
		s.Requests[status] = n
	}
	for idx, n := range mc.chainHitsByLayer {
		s.ChainHitsByLayer[idx] = n
	}

	return s
}

// Layer returns a copy of the metrics for one layer, or nil.
func (mc *MemoryCollector) Layer(name string) *LayerMetrics {
	s := mc.Snapshot()
	if lm, ok := s.Layers[name]; ok {
		return &lm
	}
	return nil
}

// Resource returns a copy of the metrics for one resource. Unknown resources
// yield a zero value.
func (mc *MemoryCollector) Resource(name string) ResourceMetrics {
	return mc.Snapshot().Resources[name]
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layers = make(map[string]*LayerMetrics)
	mc.resources = make(map[string]*ResourceMetrics)
	mc.mutations = make(map[string]*MutationMetrics)
	mc.requests = make(map[int]int64)
	mc.chainHits = 0
	mc.chainMisses = 0
	mc.chainHitsByLayer = make(map[int]int64)
}

var _ metrics.MetricsCollector = (*MemoryCollector)(nil)
