// Package writer applies store writes off the caller's goroutine. The chain
// uses it to warm upper layers and to push fetched payloads to the shared
// redis layer without making a query wait on the network.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"finance-client/pkg/cache"
	"finance-client/pkg/logging"
	"finance-client/pkg/metrics"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// AsyncWriter writes to a layer from a pool of workers. Each key is hashed to
// one worker, so writes to the same key are applied in the order they were
// accepted and a newer payload is never overwritten by an older one.
type AsyncWriter struct {
	layer   cache.Layer
	shards  []chan writeOp
	config  Config
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	pending       int64
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
}

type writeOp struct {
	key     string
	payload []byte
	ttl     time.Duration

	// del turns the op into a removal; the result is sent on done.
	del  bool
	done chan<- error
}

// Config configures the writer.
type Config struct {
	// QueueSize is the capacity of each worker's queue (default: 256).
	QueueSize int

	// Workers is the number of workers (default: 2).
	Workers int

	// MaxWaitTime is how long Write waits on a full queue before dropping
	// (default: 10ms).
	MaxWaitTime time.Duration

	// WriteTimeout bounds each Set on the layer (default: 2s).
	WriteTimeout time.Duration

	// ReportInterval is how often queue depth is reported (default: 5s).
	ReportInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxWaitTime == 0 {
		c.MaxWaitTime = 10 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 5 * time.Second
	}
}

// New starts a writer for layer. It must be closed with Close.
func New(layer cache.Layer, config Config, collector metrics.MetricsCollector, logger *logging.Logger) *AsyncWriter {
	config.setDefaults()

	w := &AsyncWriter{
		layer:   layer,
		shards:  make([]chan writeOp, config.Workers),
		config:  config,
		metrics: metrics.OrNoOp(collector),
		logger:  logging.OrGlobal(logger, "writer").With(zap.String("layer", layer.Name())),
		done:    make(chan struct{}),
	}

	for i := range w.shards {
		w.shards[i] = make(chan writeOp, config.QueueSize)
		w.wg.Add(1)
		go w.worker(w.shards[i])
	}
	go w.reportMetrics()

	return w
}

// Write enqueues a copy of payload. It returns ErrQueueFull when the key's
// shard stays full for MaxWaitTime.
func (w *AsyncWriter) Write(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	op := writeOp{key: key, payload: cache.Clone(payload), ttl: ttl}
	shard := w.shard(key)

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	atomic.AddInt64(&w.pending, 1)
	select {
	case shard <- op:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.pending, -1)
		atomic.AddInt64(&w.droppedWrites, 1)
		w.metrics.RecordWriteDropped(w.layer.Name())
		w.logger.Debug("write dropped", zap.String("key", key))
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ctx.Err()
	}
}

// Delete queues the removal of key behind every write already accepted for
// it and waits until the layer has applied it. Unlike Write it never drops:
// a full shard is waited on until ctx is done.
func (w *AsyncWriter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	if err := w.enqueueDelete(ctx, key, done); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AsyncWriter) enqueueDelete(ctx context.Context, key string, done chan<- error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	atomic.AddInt64(&w.pending, 1)
	select {
	case w.shard(key) <- writeOp{key: key, del: true, done: done}:
		return nil
	case <-ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ctx.Err()
	}
}

func (w *AsyncWriter) shard(key string) chan writeOp {
	return w.shards[xxhash.Sum64String(key)%uint64(len(w.shards))]
}

func (w *AsyncWriter) worker(queue <-chan writeOp) {
	defer w.wg.Done()

	for op := range queue {
		w.apply(op)
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	defer atomic.AddInt64(&w.pending, -1)

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	if op.del {
		err := w.layer.Delete(ctx, op.key)
		if cache.IsNotFound(err) {
			err = nil
		}
		op.done <- err
		return
	}

	start := time.Now()
	err := w.layer.Set(ctx, op.key, op.payload, op.ttl)
	w.metrics.RecordAsyncWrite(w.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Warn("async write failed", zap.String("key", op.key), zap.Error(err))
	}
}

// Flush waits until every accepted write has been applied.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for atomic.LoadInt64(&w.pending) > 0 {
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Close stops accepting writes, applies what is queued and waits for the
// workers. It does not close the layer.
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, shard := range w.shards {
		close(shard)
	}
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	return nil
}

func (w *AsyncWriter) queueDepth() int {
	depth := 0
	for _, shard := range w.shards {
		depth += len(shard)
	}
	return depth
}

func (w *AsyncWriter) reportMetrics() {
	ticker := time.NewTicker(w.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.metrics.RecordQueueDepth(w.layer.Name(), w.queueDepth())
		case <-w.done:
			return
		}
	}
}

func (w *AsyncWriter) Stats() Stats {
	return Stats{
		QueueDepth:    w.queueDepth(),
		Pending:       atomic.LoadInt64(&w.pending),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
	}
}
