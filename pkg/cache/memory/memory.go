package memory

import (
	"context"
	"sync"
	"time"

	"bank-ledger/pkg/cache"
)

// MemoryCache is the in-process L1 layer. Entries expire by TTL and, when
// MaxSize is set, the least recently read entry is evicted on insert.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]*entry

	config MemoryCacheConfig

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
	closed        bool
}

type entry struct {
	cache.Entry
	accessedAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache.
type MemoryCacheConfig struct {
	Name string

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int

	// DefaultTTL applies when Set is called with a zero ttl
	DefaultTTL time.Duration

	// MaxTTL caps any requested ttl (0 = no cap)
	MaxTTL time.Duration

	// CleanupInterval is how often expired entries are swept
	CleanupInterval time.Duration
}

// NewMemoryCache creates a memory cache and starts its cleanup goroutine.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "L1"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 30 * time.Second
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	c := &MemoryCache{
		data:          make(map[string]*entry),
		config:        config,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	c.wg.Add(1)
	go c.cleanup()

	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, cache.ErrLayerUnavailable
	}

	e, ok := c.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	if e.IsExpired() {
		delete(c.data, key)
		return nil, cache.ErrKeyNotFound
	}

	e.accessedAt = time.Now()
	return clone(e.Value), nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ttl = c.effectiveTTL(ttl)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return cache.ErrLayerUnavailable
	}

	if _, exists := c.data[key]; !exists && c.config.MaxSize > 0 && len(c.data) >= c.config.MaxSize {
		c.evictLRU()
	}

	c.data[key] = &entry{
		Entry: cache.Entry{
			Value:     clone(value),
			ExpiresAt: now.Add(ttl),
		},
		accessedAt: now,
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := cache.ValidateKey(key); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return cache.ErrLayerUnavailable
	}
	for _, key := range keys {
		delete(c.data, key)
	}
	return nil
}

func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the cleanup goroutine and drops all entries. It is idempotent.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.data = nil
	c.mu.Unlock()

	c.cleanupTicker.Stop()
	close(c.stopCleanup)
	c.wg.Wait()
	return nil
}

func (c *MemoryCache) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if c.config.MaxTTL > 0 && ttl > c.config.MaxTTL {
		ttl = c.config.MaxTTL
	}
	return ttl
}

// evictLRU must be called with mu held.
func (c *MemoryCache) evictLRU() {
	var lruKey string
	var lruTime time.Time
	for k, e := range c.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}
	if lruKey != "" {
		delete(c.data, lruKey)
	}
}

func (c *MemoryCache) cleanup() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cleanupTicker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.data {
		if e.IsExpired() {
			delete(c.data, key)
		}
	}
}

// Stats returns current cache statistics.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := MemoryCacheStats{
		Size:     len(c.data),
		MaxSize:  c.config.MaxSize,
		Capacity: c.config.MaxSize,
	}
	if stats.Capacity == 0 {
		stats.Capacity = -1
	}
	return stats
}

// MemoryCacheStats holds cache statistics.
type MemoryCacheStats struct {
	Size     int // Current number of entries
	MaxSize  int // Maximum allowed entries (0 = unlimited)
	Capacity int // Effective capacity (-1 = unlimited)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
