package memory

import (
	"testing"
	"time"

	"bank-ledger/pkg/metrics"
)

func TestMemoryCollector_Transfers(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordTransfer("success", time.Millisecond)
	mc.RecordTransfer("success", time.Millisecond)
	mc.RecordTransfer("unauthorized", time.Millisecond)

	if got := mc.Transfers("success"); got != 2 {
		t.Errorf("Expected 2 successes, got %d", got)
	}
	if got := mc.Transfers("unauthorized"); got != 1 {
		t.Errorf("Expected 1 unauthorized, got %d", got)
	}
	if got := mc.Transfers("internal"); got != 0 {
		t.Errorf("Expected 0 internal, got %d", got)
	}
}

func TestMemoryCollector_CircuitOpensCountsTransitions(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordCircuitState("L2", metrics.CircuitOpen)
	mc.RecordCircuitState("L2", metrics.CircuitOpen)
	mc.RecordCircuitState("L2", metrics.CircuitHalfOpen)
	mc.RecordCircuitState("L2", metrics.CircuitOpen)

	snap := mc.Snapshot()
	if got := snap.Layers["L2"].CircuitOpens; got != 2 {
		t.Errorf("Expected 2 open transitions, got %d", got)
	}
}

func TestMemoryCollector_SnapshotIsACopy(t *testing.T) {
	mc := NewMemoryCollector()
	mc.RecordCacheWrite("L1", metrics.OpSet, true, time.Microsecond)
	mc.RecordRead("balance", false, time.Microsecond)

	snap := mc.Snapshot()
	snap.Layers["L1"].Writes[metrics.OpSet] = 99

	again := mc.Snapshot()
	if got := again.Layers["L1"].Writes[metrics.OpSet]; got != 1 {
		t.Errorf("Snapshot must not alias internal state, got %d", got)
	}
	if got := again.Reads["balance"].Misses; got != 1 {
		t.Errorf("Expected 1 balance miss, got %d", got)
	}

	mc.Reset()
	if len(mc.Snapshot().Layers) != 0 {
		t.Error("Expected Reset to clear layers")
	}
}
