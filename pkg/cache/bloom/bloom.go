package bloom

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/logging"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"
)

// Config sizes the filter.
type Config struct {
	// ExpectedItems is the number of distinct keys the filter is sized for
	// (default: 10000). Once that many keys were added the filter is rotated.
	ExpectedItems uint

	// FalsePositiveRate is the target rate at ExpectedItems (default: 0.01)
	FalsePositiveRate float64

	Logger *logging.Logger
}

// DefaultConfig returns a filter for 10000 keys at 1% false positives.
func DefaultConfig() Config {
	return Config{ExpectedItems: 10000, FalsePositiveRate: 0.01}
}

// BloomLayer puts a bloom filter of written keys in front of a layer, so keys
// that were never cached by this process skip the round trip entirely.
//
// Balance keys are rewritten after every transfer, so the filter keeps
// growing with keys that were long invalidated. When the number of additions
// reaches ExpectedItems the filter is replaced by an empty one. Until keys are
// written again, reads for them miss, which only costs a store load.
type BloomLayer struct {
	layer  cache.Layer
	config Config
	logger *logging.Logger

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	added  uint

	queries        atomic.Uint64
	rejected       atomic.Uint64
	falsePositives atomic.Uint64
	rotations      atomic.Uint64
}

// NewBloomLayer wraps layer.
func NewBloomLayer(layer cache.Layer, config Config) *BloomLayer {
	if config.ExpectedItems == 0 {
		config.ExpectedItems = 10000
	}
	if config.FalsePositiveRate <= 0 || config.FalsePositiveRate >= 1 {
		config.FalsePositiveRate = 0.01
	}

	return &BloomLayer{
		layer:  layer,
		config: config,
		logger: logging.Or(config.Logger, "bloom").Named(layer.Name()),
		filter: bloom.NewWithEstimates(config.ExpectedItems, config.FalsePositiveRate),
	}
}

func (bl *BloomLayer) Name() string {
	return "bloom(" + bl.layer.Name() + ")"
}

func (bl *BloomLayer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bl.queries.Add(1)

	bl.mu.RLock()
	known := bl.filter.TestString(key)
	bl.mu.RUnlock()
	if !known {
		bl.rejected.Add(1)
		return nil, cache.ErrKeyNotFound
	}

	value, err := bl.layer.Get(ctx, key)
	if cache.IsNotFound(err) {
		bl.falsePositives.Add(1)
	}
	return value, err
}

func (bl *BloomLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bl.mu.Lock()
	if bl.added >= bl.config.ExpectedItems {
		bl.rotateLocked()
	}
	bl.filter.AddString(key)
	bl.added++
	bl.mu.Unlock()

	return bl.layer.Set(ctx, key, value, ttl)
}

// Delete removes keys from the wrapped layer. The filter keeps them; a later
// Get is then counted as a false positive.
func (bl *BloomLayer) Delete(ctx context.Context, keys ...string) error {
	return bl.layer.Delete(ctx, keys...)
}

func (bl *BloomLayer) Close() error {
	return bl.layer.Close()
}

// Reset clears the filter and its statistics.
func (bl *BloomLayer) Reset() {
	bl.mu.Lock()
	bl.filter = bloom.NewWithEstimates(bl.config.ExpectedItems, bl.config.FalsePositiveRate)
	bl.added = 0
	bl.mu.Unlock()

	bl.queries.Store(0)
	bl.rejected.Store(0)
	bl.falsePositives.Store(0)
	bl.rotations.Store(0)
}

// rotateLocked must be called with mu held.
func (bl *BloomLayer) rotateLocked() {
	bl.filter = bloom.NewWithEstimates(bl.config.ExpectedItems, bl.config.FalsePositiveRate)
	bl.added = 0
	bl.rotations.Add(1)
	bl.logger.Info("bloom filter rotated", zap.Uint("capacity", bl.config.ExpectedItems))
}

// BloomStats reports filter effectiveness.
type BloomStats struct {
	Queries           uint64
	Rejected          uint64
	FalsePositives    uint64
	Rotations         uint64
	Added             uint
	RejectionRate     float64
	FalsePositiveRate float64
	FilterCapacity    uint
}

func (bl *BloomLayer) Stats() BloomStats {
	stats := BloomStats{
		Queries:        bl.queries.Load(),
		Rejected:       bl.rejected.Load(),
		FalsePositives: bl.falsePositives.Load(),
		Rotations:      bl.rotations.Load(),
	}

	bl.mu.RLock()
	stats.Added = bl.added
	stats.FilterCapacity = bl.filter.Cap()
	bl.mu.RUnlock()

	if stats.Queries > 0 {
		stats.RejectionRate = float64(stats.Rejected) / float64(stats.Queries)
		if passed := stats.Queries - stats.Rejected; passed > 0 {
			stats.FalsePositiveRate = float64(stats.FalsePositives) / float64(passed)
		}
	}
	return stats
}
