package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"
	"bank-ledger/pkg/resilience"
	"bank-ledger/pkg/writer"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config configures a Chain.
type Config struct {
	// DefaultTTL is the base TTL for fills and warm-ups.
	DefaultTTL time.Duration

	// TTLStrategy derives per-layer TTLs from the base TTL.
	TTLStrategy TTLStrategy

	// Resilience is applied to every layer. A zero Timeout gives the first
	// layer 100ms and deeper layers 1s.
	Resilience resilience.ResilientConfig

	// Writer configures the warm-up writers of all but the last layer.
	Writer writer.AsyncWriterConfig

	Logger  *logging.Logger
	Metrics metrics.MetricsCollector
}

// DefaultConfig returns a 30s base TTL with uniform layer TTLs.
func DefaultConfig() Config {
	res := resilience.DefaultResilientConfig()
	res.Timeout = 0
	return Config{
		DefaultTTL:  30 * time.Second,
		TTLStrategy: UniformTTLStrategy{},
		Resilience:  res,
		Writer: writer.AsyncWriterConfig{
			QueueSize:   1000,
			Workers:     2,
			MaxWaitTime: 10 * time.Millisecond,
		},
	}
}

// Chain reads through cache layers ordered fastest first. A hit in a deeper
// layer is copied into the faster ones asynchronously. Every layer is wrapped
// with timeout and circuit breaker protection.
type Chain struct {
	layers  []*resilience.ResilientLayer
	writers []*writer.AsyncWriter
	sf      singleflight.Group
	gens    *generations

	defaultTTL  time.Duration
	ttlStrategy TTLStrategy
	logger      *logging.Logger
}

// New creates a chain with DefaultConfig.
func New(layers ...cache.Layer) (*Chain, error) {
	return NewWithConfig(DefaultConfig(), layers...)
}

// NewWithConfig creates a chain. At least one layer is required.
func NewWithConfig(cfg Config, layers ...cache.Layer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	if cfg.TTLStrategy == nil {
		cfg.TTLStrategy = UniformTTLStrategy{}
	}

	c := &Chain{
		gens:        &generations{},
		defaultTTL:  cfg.DefaultTTL,
		ttlStrategy: cfg.TTLStrategy,
		logger:      logging.Or(cfg.Logger, "chain"),
	}

	for i, layer := range layers {
		rc := cfg.Resilience
		rc.Logger = cfg.Logger
		rc.Metrics = cfg.Metrics
		if rc.Timeout == 0 {
			if i == 0 {
				rc.Timeout = 100 * time.Millisecond
			} else {
				rc.Timeout = time.Second
			}
		}
		c.layers = append(c.layers, resilience.NewResilientLayer(layer, rc))
	}

	for _, layer := range c.layers[:len(c.layers)-1] {
		wc := cfg.Writer
		wc.Guard = c.gens
		wc.Logger = cfg.Logger
		wc.Metrics = cfg.Metrics
		c.writers = append(c.writers, writer.NewAsyncWriter(layer, wc))
	}

	c.logger.Info("cache chain initialized", zap.String("layers", c.String()))
	return c, nil
}

// Get returns the first hit walking the layers in order. Concurrent Gets for
// the same key and generation share one traversal, and therefore the returned
// slice, which callers must not modify.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token := c.gens.token(key)
	v, err, _ := c.sf.Do(flightKey("get", token, key), func() (interface{}, error) {
		return c.getWithFallback(ctx, key, token)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Load returns the cached value for key, or calls loader on a miss and fills
// every layer with its result. The fill is skipped when key was invalidated
// after the lookup began. Loader errors are returned as is and never cached.
func (c *Chain) Load(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) (value []byte, hit bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	token := c.gens.token(key)

	type loaded struct {
		value []byte
		hit   bool
	}
	v, err, _ := c.sf.Do(flightKey("load", token, key), func() (interface{}, error) {
		if value, err := c.getWithFallback(ctx, key, token); err == nil {
			return loaded{value: value, hit: true}, nil
		}

		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, key, value, token)
		return loaded{value: value}, nil
	})
	if err != nil {
		return nil, false, err
	}
	l := v.(loaded)
	return l.value, l.hit, nil
}

// flightKey scopes a singleflight group to one generation of key. A call
// that starts after an invalidation never joins a flight that read the value
// from before it.
func flightKey(op string, token uint64, key string) string {
	return op + "\x00" + strconv.FormatUint(token, 10) + "\x00" + key
}

func (c *Chain) getWithFallback(ctx context.Context, key string, token uint64) ([]byte, error) {
	var lastErr error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			if !cache.IsNotFound(err) {
				c.logger.Debug("layer skipped",
					zap.String("layer", layer.Name()),
					zap.String("class", cache.ClassifyError(err)),
				)
			}
			lastErr = err
			continue
		}

		if i > 0 {
			c.warmUpperLayers(ctx, key, value, i, token)
		}
		return value, nil
	}

	if lastErr == nil {
		lastErr = cache.ErrKeyNotFound
	}
	return nil, lastErr
}

func (c *Chain) warmUpperLayers(ctx context.Context, key string, value []byte, hitIndex int, token uint64) {
	for i := hitIndex - 1; i >= 0; i-- {
		// drops are counted by the writer
		_ = c.writers[i].Write(ctx, key, value, c.ttl(i, c.defaultTTL), token)
	}
}

func (c *Chain) fill(ctx context.Context, key string, value []byte, token uint64) {
	applied, err := c.gens.Apply(key, token, func() error {
		return c.setAll(ctx, key, value, c.defaultTTL)
	})
	switch {
	case !applied:
		c.logger.Debug("stale fill discarded", zap.String("key", key))
	case err != nil:
		c.logger.Debug("fill incomplete", zap.String("key", key), zap.Error(err))
	}
}

func (c *Chain) ttl(layerIndex int, base time.Duration) time.Duration {
	if base <= 0 {
		base = c.defaultTTL
	}
	return c.ttlStrategy.TTL(layerIndex, len(c.layers), base)
}

// Set writes value to every layer. All layers are attempted; the failures are
// joined.
func (c *Chain) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.setAll(ctx, key, value, ttl)
}

func (c *Chain) setAll(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var errs []error
	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := layer.Set(ctx, key, value, c.ttl(i, ttl)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete invalidates keys: pending warm-ups and fills for them are discarded
// and the keys are removed from every layer. All layers are attempted.
func (c *Chain) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.gens.invalidate(keys, func() error {
		var errs []error
		for _, layer := range c.layers {
			if err := layer.Delete(ctx, keys...); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Flush waits for pending warm-ups.
func (c *Chain) Flush(timeout time.Duration) error {
	for _, w := range c.writers {
		if err := w.Flush(timeout); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the writers, then closes every layer.
func (c *Chain) Close() error {
	var errs []error
	for _, w := range c.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LayerStatus describes one layer for health reporting.
type LayerStatus struct {
	Name       string `json:"name"`
	Circuit    string `json:"circuit"`
	QueueDepth int    `json:"queue_depth"`
}

// Status reports the breaker state and warm-up backlog of each layer.
func (c *Chain) Status() []LayerStatus {
	out := make([]LayerStatus, len(c.layers))
	for i, layer := range c.layers {
		out[i] = LayerStatus{Name: layer.Name(), Circuit: layer.State().String()}
		if i < len(c.writers) {
			out[i].QueueDepth = c.writers[i].Stats().QueueDepth
		}
	}
	return out
}

// Layers returns the wrapped layers, fastest first.
func (c *Chain) Layers() []cache.Layer {
	out := make([]cache.Layer, len(c.layers))
	for i, l := range c.layers {
		out[i] = l
	}
	return out
}

func (c *Chain) Len() int {
	return len(c.layers)
}

func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, l := range c.layers {
		names[i] = l.Name()
	}
	return fmt.Sprintf("chain(%d layers): %s", len(c.layers), strings.Join(names, " -> "))
}
