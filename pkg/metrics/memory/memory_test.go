package memory

import (
	"testing"
	"time"

	"finance-client/pkg/metrics"
)

func TestMemoryCollector_Layers(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordGet("L1-memory", true, time.Millisecond)
	mc.RecordGet("L1-memory", false, time.Millisecond)
	mc.RecordSet("L1-memory", false, time.Millisecond)
	mc.RecordLayerError("L1-memory", "set", "backend")

	lm := mc.Layer("L1-memory")
	if lm == nil {
		t.Fatal("Expected metrics for L1-memory")
	}
	if lm.Hits != 1 || lm.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", lm.Hits, lm.Misses)
	}
	if lm.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", lm.Errors)
	}
	if lm.ErrorsByType["backend"] != 1 {
		t.Errorf("Expected 1 backend error, got %d", lm.ErrorsByType["backend"])
	}

	if mc.Layer("unknown") != nil {
		t.Error("Expected nil for unknown layer")
	}
}

func TestMemoryCollector_CircuitOpensCountTransitions(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordCircuitState("L2-redis", metrics.CircuitOpen)
	mc.RecordCircuitState("L2-redis", metrics.CircuitOpen)
	mc.RecordCircuitState("L2-redis", metrics.CircuitHalfOpen)
	mc.RecordCircuitState("L2-redis", metrics.CircuitOpen)

	if opens := mc.Layer("L2-redis").CircuitOpens; opens != 2 {
		t.Errorf("Expected 2 opens, got %d", opens)
	}
}

func TestMemoryCollector_Resources(t *testing.T) {
	mc := NewMemoryCollector()

	mc.RecordQueryRead("transactions", metrics.ReadFresh)
	mc.RecordQueryRead("transactions", metrics.ReadStale)
	mc.RecordQueryRead("transactions", metrics.ReadMiss)
	mc.RecordFetch("transactions", false, 10*time.Millisecond)
	mc.RecordDedup("transactions")
	mc.RecordInvalidation("transactions", 2)
	mc.RecordConflict("transactions")

	rm := mc.Resource("transactions")
	if rm.Fresh != 1 || rm.Stale != 1 || rm.Misses != 1 {
		t.Errorf("Unexpected read counts %+v", rm)
	}
	if rm.Fetches != 1 || rm.FetchErrors != 1 {
		t.Errorf("Expected 1 failed fetch, got %d/%d", rm.Fetches, rm.FetchErrors)
	}
	if rm.Refetches != 2 {
		t.Errorf("Expected 2 refetches, got %d", rm.Refetches)
	}
	if rm.Conflicts != 1 {
		t.Errorf("Expected 1 conflict, got %d", rm.Conflicts)
	}
}

func TestMemoryCollector_SnapshotIsCopy(t *testing.T) {
	mc := NewMemoryCollector()
	mc.RecordFetch("goals", true, time.Millisecond)

	s := mc.Snapshot()
	mc.RecordFetch("goals", true, time.Millisecond)

	if got := len(s.Resources["goals"].FetchLatency); got != 1 {
		t.Errorf("Snapshot changed after recording, latency len %d", got)
	}
}

func TestMemoryCollector_Reset(t *testing.T) {
	mc := NewMemoryCollector()
	mc.RecordMutation("create-transaction", true, time.Millisecond)
	mc.RecordRequest("GET", 200, time.Millisecond)
	mc.RecordChainGet(true, 0, time.Millisecond)

	mc.Reset()

	s := mc.Snapshot()
	if len(s.Mutations) != 0 || len(s.Requests) != 0 || s.ChainHits != 0 {
		t.Errorf("Expected empty snapshot after reset, got %+v", s)
	}
}
