package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"go.uber.org/zap"
)

// Guard decides whether a queued write is still current. Apply must call
// write only if token is still valid for key, and must keep the key from
// being invalidated while write runs.
type Guard interface {
	Apply(key string, token uint64, write func() error) (applied bool, err error)
}

// AsyncWriter applies cache warm-up writes from a bounded queue with a small
// worker pool, so reads never wait on populating faster layers.
type AsyncWriter struct {
	layer     cache.Layer
	layerName string
	queue     chan writeOp
	workers   int
	config    AsyncWriterConfig
	metrics   metrics.MetricsCollector
	logger    *logging.Logger

	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	pending         atomic.Int64
	droppedWrites   atomic.Int64
	totalWrites     atomic.Int64
	failedWrites    atomic.Int64
	discardedWrites atomic.Int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

type writeOp struct {
	key   string
	value []byte
	ttl   time.Duration
	token uint64
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is how long Write waits on a full queue before dropping
	// (default: 10ms)
	MaxWaitTime time.Duration

	// MetricsInterval is how often queue depth is reported (default: 5s)
	MetricsInterval time.Duration

	// Guard filters stale writes. Nil applies every write.
	Guard Guard

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// NewAsyncWriter starts the worker pool. The writer must be closed with Close.
func NewAsyncWriter(layer cache.Layer, config AsyncWriterConfig) *AsyncWriter {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		layer:         layer,
		layerName:     layer.Name(),
		queue:         make(chan writeOp, config.QueueSize),
		workers:       config.Workers,
		config:        config,
		metrics:       metrics.OrNoOp(config.Metrics),
		logger:        logging.Or(config.Logger, "writer").Named(layer.Name()),
		ctx:           ctx,
		cancelFunc:    cancel,
		metricsTicker: time.NewTicker(config.MetricsInterval),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	go w.reportMetrics()

	return w
}

// Write enqueues a write. token is handed to the Guard when the write is
// applied. If the queue is full, Write waits up to MaxWaitTime and then
// returns ErrQueueFull.
func (w *AsyncWriter) Write(ctx context.Context, key string, value []byte, ttl time.Duration, token uint64) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	op := writeOp{key: key, value: value, ttl: ttl, token: token}

	w.pending.Add(1)
	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case w.queue <- op:
		w.totalWrites.Add(1)
		return nil
	case <-timer.C:
		w.pending.Add(-1)
		w.droppedWrites.Add(1)
		w.metrics.RecordWriteDropped(w.layerName)
		return ErrQueueFull
	case <-ctx.Done():
		w.pending.Add(-1)
		return ctx.Err()
	case <-w.ctx.Done():
		w.pending.Add(-1)
		return ErrWriterClosed
	}
}

func (w *AsyncWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		case <-w.ctx.Done():
			// drain what was accepted before Close
			for {
				select {
				case op := <-w.queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	defer w.pending.Add(-1)

	start := time.Now()
	write := func() error {
		return w.layer.Set(context.Background(), op.key, op.value, op.ttl)
	}

	var err error
	applied := true
	if w.config.Guard != nil {
		applied, err = w.config.Guard.Apply(op.key, op.token, write)
	} else {
		err = write()
	}

	if !applied {
		w.discardedWrites.Add(1)
		return
	}

	w.metrics.RecordCacheWrite(w.layerName, metrics.OpWarm, err == nil, time.Since(start))
	if err != nil {
		w.failedWrites.Add(1)
		w.logger.Debug("warm-up write failed",
			zap.String("key", op.key),
			zap.String("class", cache.ClassifyError(err)),
			zap.Error(err),
		)
	}
}

// Flush waits until every accepted write has been applied or timeout elapses.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if w.pending.Load() == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting writes, applies the queued ones and waits for the
// workers. It is safe to call more than once.
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.metricsStop)
		w.metricsTicker.Stop()
		w.cancelFunc()
		w.wg.Wait()
		w.metrics.RecordQueueDepth(w.layerName, 0)
	})
	return nil
}

func (w *AsyncWriter) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(w.layerName, len(w.queue))
		case <-w.metricsStop:
			return
		}
	}
}

// Stats returns current statistics about the async writer.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		QueueDepth:      len(w.queue),
		DroppedWrites:   w.droppedWrites.Load(),
		TotalWrites:     w.totalWrites.Load(),
		FailedWrites:    w.failedWrites.Load(),
		DiscardedWrites: w.discardedWrites.Load(),
	}
}
