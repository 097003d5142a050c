package resilience

import (
	"context"
	"errors"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientLayer wraps a cache.Layer with a per-operation timeout and a
// circuit breaker. Cache misses count as successes for the breaker.
type ResilientLayer struct {
	layer   cache.Layer
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

var _ cache.Layer = (*ResilientLayer)(nil)

// NewResilientLayer wraps layer using config.
func NewResilientLayer(layer cache.Layer, config ResilientConfig) *ResilientLayer {
	name := layer.Name()
	logger := logging.Or(config.Logger, "resilience").Named(name)

	rl := &ResilientLayer{
		layer:   layer,
		timeout: config.Timeout,
		metrics: metrics.OrNoOp(config.Metrics),
		logger:  logger,
	}

	readyToTrip := config.CircuitBreakerConfig.ReadyToTrip
	if readyToTrip == nil {
		readyToTrip = consecutiveFailures
	}

	rl.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return readyToTrip(Counts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || cache.IsNotFound(err) || errors.Is(err, cache.ErrInvalidKey)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("layer", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rl.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	})

	logger.Debug("resilient layer initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	return rl
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

// State reports the current breaker state.
func (rl *ResilientLayer) State() metrics.CircuitState {
	return toCircuitState(rl.cb.State())
}

func (rl *ResilientLayer) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	var value []byte
	err := rl.execute(ctx, "get", func(ctx context.Context) error {
		var err error
		value, err = rl.layer.Get(ctx, key)
		return err
	}, zap.String("key", key))

	rl.metrics.RecordCacheGet(rl.Name(), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (rl *ResilientLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()

	err := rl.execute(ctx, metrics.OpSet, func(ctx context.Context) error {
		return rl.layer.Set(ctx, key, value, ttl)
	}, zap.String("key", key), zap.Duration("ttl", ttl))

	rl.metrics.RecordCacheWrite(rl.Name(), metrics.OpSet, err == nil, time.Since(start))
	return err
}

func (rl *ResilientLayer) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()

	err := rl.execute(ctx, metrics.OpDelete, func(ctx context.Context) error {
		return rl.layer.Delete(ctx, keys...)
	}, zap.Strings("keys", keys))

	rl.metrics.RecordCacheWrite(rl.Name(), metrics.OpDelete, err == nil, time.Since(start))
	return err
}

func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}

// execute runs fn through the breaker under the configured timeout and maps
// breaker and deadline failures onto the cache sentinel errors.
func (rl *ResilientLayer) execute(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) error {
	start := time.Now()

	if rl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rl.timeout)
		defer cancel()
	}

	_, err := rl.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == nil || cache.IsNotFound(err) {
		return err
	}

	fields = append(fields, zap.String("operation", op), zap.Duration("elapsed", time.Since(start)))

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rl.logger.Debug("circuit breaker open - request rejected", fields...)
		return cache.ErrCircuitOpen
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rl.logger.Warn("operation timeout", append(fields, zap.Duration("timeout", rl.timeout))...)
		return cache.ErrTimeout
	default:
		rl.logger.Error("operation failed",
			append(fields, zap.String("class", cache.ClassifyError(err)), zap.Error(err))...)
		return err
	}
}
