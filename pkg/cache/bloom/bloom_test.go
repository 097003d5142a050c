package bloom

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/cache/memory"
)

func newTestLayer(t *testing.T, expected uint) (*BloomLayer, *memory.MemoryCache) {
	t.Helper()
	base := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L2", MaxSize: 1000})
	bl := NewBloomLayer(base, Config{ExpectedItems: expected, FalsePositiveRate: 0.01})
	t.Cleanup(func() { bl.Close() })
	return bl, base
}

func TestBloomLayer_SetGet(t *testing.T) {
	bl, _ := newTestLayer(t, 100)
	ctx := context.Background()

	if err := bl.Set(ctx, "balance:A1:alice", []byte(`{"balance":100}`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := bl.Get(ctx, "balance:A1:alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != `{"balance":100}` {
		t.Errorf("Unexpected value %q", val)
	}
}

func TestBloomLayer_RejectsUnknownKeysWithoutRoundTrip(t *testing.T) {
	bl, base := newTestLayer(t, 100)
	ctx := context.Background()

	// present in the wrapped layer, but never written through the filter
	base.Set(ctx, "accounts:bob", []byte(`[]`), time.Hour)

	if _, err := bl.Get(ctx, "accounts:bob"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	stats := bl.Stats()
	if stats.Queries != 1 || stats.Rejected != 1 {
		t.Errorf("Expected 1 query rejected, got %+v", stats)
	}
	if stats.RejectionRate != 1 {
		t.Errorf("Expected rejection rate 1, got %v", stats.RejectionRate)
	}
}

func TestBloomLayer_DeleteCountsFalsePositive(t *testing.T) {
	bl, _ := newTestLayer(t, 100)
	ctx := context.Background()

	bl.Set(ctx, "balance:A1:alice", []byte("v"), time.Hour)
	if err := bl.Delete(ctx, "balance:A1:alice", "accounts:alice"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := bl.Get(ctx, "balance:A1:alice"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
	if fp := bl.Stats().FalsePositives; fp != 1 {
		t.Errorf("Expected invalidated key to count as false positive, got %d", fp)
	}
}

func TestBloomLayer_RotatesAtCapacity(t *testing.T) {
	bl, _ := newTestLayer(t, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		bl.Set(ctx, fmt.Sprintf("balance:A%d:alice", i), []byte("v"), time.Hour)
	}
	if got := bl.Stats().Rotations; got != 0 {
		t.Fatalf("Expected no rotation at capacity, got %d", got)
	}

	bl.Set(ctx, "balance:B1:bob", []byte("v"), time.Hour)

	stats := bl.Stats()
	if stats.Rotations != 1 || stats.Added != 1 {
		t.Errorf("Expected one rotation with one key added, got %+v", stats)
	}
	if _, err := bl.Get(ctx, "balance:B1:bob"); err != nil {
		t.Errorf("Expected key written after rotation to be served, got %v", err)
	}
	if _, err := bl.Get(ctx, "balance:A0:alice"); !cache.IsNotFound(err) {
		t.Errorf("Expected key from the old filter to miss, got %v", err)
	}
}

func TestBloomLayer_Reset(t *testing.T) {
	bl, _ := newTestLayer(t, 100)
	ctx := context.Background()

	bl.Set(ctx, "key1", []byte("v"), time.Hour)
	bl.Get(ctx, "key1")

	bl.Reset()

	if _, err := bl.Get(ctx, "key1"); !cache.IsNotFound(err) {
		t.Errorf("Expected reset filter to reject key1, got %v", err)
	}

	stats := bl.Stats()
	if stats.Queries != 1 || stats.Rejected != 1 || stats.Added != 0 {
		t.Errorf("Expected fresh stats after reset, got %+v", stats)
	}
	if stats.FilterCapacity == 0 {
		t.Error("Expected non-zero filter capacity")
	}
}

func TestBloomLayer_Defaults(t *testing.T) {
	base := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L2"})
	bl := NewBloomLayer(base, Config{})
	defer bl.Close()

	if bl.config != DefaultConfig() {
		t.Errorf("Expected defaults %+v, got %+v", DefaultConfig(), bl.config)
	}
	if got := bl.Name(); got != "bloom(L2)" {
		t.Errorf("Expected name bloom(L2), got %s", got)
	}
}

func TestBloomLayer_ContextCancellation(t *testing.T) {
	bl, _ := newTestLayer(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := bl.Set(ctx, "key1", []byte("v"), time.Hour); err == nil {
		t.Error("Expected error with cancelled context")
	}
	if _, err := bl.Get(ctx, "key1"); err == nil {
		t.Error("Expected error with cancelled context")
	}
}
