package memory

import (
	"sync"
	"time"

	"bank-ledger/pkg/metrics"
)

// MemoryCollector implements MetricsCollector in memory, for tests.
type MemoryCollector struct {
	mu sync.RWMutex

	transfers map[string]int64
	reads     map[string]*ReadMetrics
	layers    map[string]*LayerMetrics
}

// ReadMetrics counts read-through cache results for one read kind.
type ReadMetrics struct {
	Hits   int64
	Misses int64
}

// LayerMetrics holds metrics for a single cache layer.
type LayerMetrics struct {
	Hits          int64
	Misses        int64
	Writes        map[string]int64
	WriteErrors   map[string]int64
	CircuitState  metrics.CircuitState
	CircuitOpens  int64
	QueueDepth    int
	DroppedWrites int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		transfers: make(map[string]int64),
		reads:     make(map[string]*ReadMetrics),
		layers:    make(map[string]*LayerMetrics),
	}
}

// layer must be called with mu held.
func (mc *MemoryCollector) layer(name string) *LayerMetrics {
	lm, ok := mc.layers[name]
	if !ok {
		lm = &LayerMetrics{
			Writes:      make(map[string]int64),
			WriteErrors: make(map[string]int64),
		}
		mc.layers[name] = lm
	}
	return lm
}

func (mc *MemoryCollector) RecordTransfer(status string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.transfers[status]++
}

func (mc *MemoryCollector) RecordRead(kind string, cacheHit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	rm, ok := mc.reads[kind]
	if !ok {
		rm = &ReadMetrics{}
		mc.reads[kind] = rm
	}
	if cacheHit {
		rm.Hits++
	} else {
		rm.Misses++
	}
}

func (mc *MemoryCollector) RecordCacheGet(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
}

func (mc *MemoryCollector) RecordCacheWrite(layer, op string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	lm.Writes[op]++
	if !success {
		lm.WriteErrors[op]++
	}
}

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

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Transfers map[string]int64        `json:"transfers"`
	Reads     map[string]ReadMetrics  `json:"reads"`
	Layers    map[string]LayerMetrics `json:"layers"`
}

// Snapshot returns a deep copy of the current state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		Transfers: make(map[string]int64, len(mc.transfers)),
		Reads:     make(map[string]ReadMetrics, len(mc.reads)),
		Layers:    make(map[string]LayerMetrics, len(mc.layers)),
	}
	for k, v := range mc.transfers {
		s.Transfers[k] = v
	}
	for k, v := range mc.reads {
		s.Reads[k] = *v
	}
	for k, v := range mc.layers {
		cp := *v
		cp.Writes = copyCounts(v.Writes)
		cp.WriteErrors = copyCounts(v.WriteErrors)
		s.Layers[k] = cp
	}
	return s
}

// Transfers returns how many transfers ended with status.
func (mc *MemoryCollector) Transfers(status string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.transfers[status]
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.transfers = make(map[string]int64)
	mc.reads = make(map[string]*ReadMetrics)
	mc.layers = make(map[string]*LayerMetrics)
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
