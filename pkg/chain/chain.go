// Package chain stacks payload layers (memory, sqlite, redis) behind one
// cache.Layer. Reads fall through the layers and warm the ones above a hit.
// Writes land in L1 synchronously and reach deeper layers through per-layer
// async writers, so a slow shared store never delays a query.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"finance-client/pkg/cache"
	"finance-client/pkg/logging"
	"finance-client/pkg/metrics"
	"finance-client/pkg/resilience"
	"finance-client/pkg/writer"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config configures a Chain. Zero values are usable.
type Config struct {
	// TTL maps the caller's TTL onto each layer. Default: UniformTTL.
	TTL TTLStrategy

	// Resilience returns the protection for layer i. Default: DefaultConfig
	// for L1, RemoteConfig for deeper layers.
	Resilience func(i int) resilience.Config

	// Writer configures the async writers.
	Writer writer.Config

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// Chain manages layers ordered from fastest (L1) to slowest.
type Chain struct {
	layers  []*resilience.Layer
	writers []*writer.AsyncWriter
	ttl     TTLStrategy
	sf      singleflight.Group
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// New wraps every layer with resilience protection and starts a writer per
// layer. It fails when no layers are given.
func New(config Config, layers ...cache.Layer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}

	if config.TTL == nil {
		config.TTL = UniformTTL{}
	}
	if config.Resilience == nil {
		config.Resilience = func(i int) resilience.Config {
			if i == 0 {
				return resilience.DefaultConfig()
			}
			return resilience.RemoteConfig()
		}
	}

	c := &Chain{
		layers:  make([]*resilience.Layer, len(layers)),
		writers: make([]*writer.AsyncWriter, len(layers)),
		ttl:     config.TTL,
		metrics: metrics.OrNoOp(config.Metrics),
		logger:  logging.OrGlobal(config.Logger, "chain"),
	}

	for i, layer := range layers {
		c.layers[i] = resilience.Wrap(layer, config.Resilience(i), c.metrics, config.Logger)
		c.writers[i] = writer.New(c.layers[i], config.Writer, c.metrics, config.Logger)
	}

	c.logger.Debug("chain initialized", zap.String("layers", c.String()))
	return c, nil
}

// Name implements cache.Layer.
func (c *Chain) Name() string {
	return "chain"
}

// Get returns the payload from the first layer that has it. Concurrent Gets
// for one key share a single traversal.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.getWithFallback(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	// Each caller gets its own copy of the shared result.
	return cache.Clone(result.([]byte)), nil
}

func (c *Chain) getWithFallback(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var errs []error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := layer.Get(ctx, key)
		if err != nil {
			if !cache.IsNotFound(err) {
				errs = append(errs, err)
			}
			continue
		}

		c.metrics.RecordChainGet(true, i, time.Since(start))
		if i > 0 {
			c.warmUpperLayers(ctx, key, payload, i)
		}
		return payload, nil
	}

	c.metrics.RecordChainGet(false, -1, time.Since(start))

	// Unavailable layers still read as a miss; the caller can only refetch.
	if len(errs) > 0 {
		c.logger.Debug("miss with layer errors", zap.String("key", key), zap.Error(errors.Join(errs...)))
	}
	return nil, cache.ErrKeyNotFound
}

func (c *Chain) warmUpperLayers(ctx context.Context, key string, payload []byte, hitIndex int) {
	// Deeper layers don't report remaining TTL, so warm-up uses the L1 share
	// of the default memory lifetime.
	base := 5 * time.Minute
	for i := hitIndex - 1; i >= 0; i-- {
		ttl := c.ttl.TTL(i, len(c.layers), base)
		if err := c.writers[i].Write(ctx, key, payload, ttl); err != nil {
			c.logger.Debug("warm-up dropped",
				zap.String("key", key),
				zap.String("layer", c.layers[i].Name()),
				zap.Error(err),
			)
		}
	}
}

// Set stores payload in L1 before returning and queues it for the deeper
// layers. Only an L1 failure is returned.
func (c *Chain) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n := len(c.layers)
	if err := c.layers[0].Set(ctx, key, payload, c.ttl.TTL(0, n, ttl)); err != nil {
		return cache.WrapError(err, c.layers[0].Name(), "set")
	}

	for i := 1; i < n; i++ {
		if err := c.writers[i].Write(ctx, key, payload, c.ttl.TTL(i, n, ttl)); err != nil {
			c.logger.Debug("write-behind dropped",
				zap.String("key", key),
				zap.String("layer", c.layers[i].Name()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Delete removes key from every layer and joins the failures. Each removal
// goes through the layer's writer so it lands after any write-behind or
// warm-up already queued for key; Delete returns once all have applied.
func (c *Chain) Delete(ctx context.Context, key string) error {
	errs := make([]error, len(c.layers))
	var wg sync.WaitGroup
	for i := range c.layers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := c.writers[i].Delete(ctx, key)
			if errors.Is(err, writer.ErrWriterClosed) {
				err = c.layers[i].Delete(ctx, key)
			}
			if err != nil {
				errs[i] = cache.WrapError(err, c.layers[i].Name(), "delete")
			}
		}(i)
	}
	wg.Wait()

	c.sf.Forget(key)
	return errors.Join(errs...)
}

// Keys returns the sorted union of keys with prefix across listing layers.
// Layers that fail to list are skipped.
func (c *Chain) Keys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, layer := range c.layers {
		keys, err := layer.Keys(ctx, prefix)
		if err != nil {
			c.logger.Debug("keys failed", zap.String("layer", layer.Name()), zap.Error(err))
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Flush waits for queued writes on every layer.
func (c *Chain) Flush(timeout time.Duration) error {
	var errs []error
	for i, w := range c.writers {
		if err := w.Flush(timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.layers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close drains the writers, then closes the layers.
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

// LayerStatus describes one layer for inspection.
type LayerStatus struct {
	Name    string `json:"name"`
	Circuit string `json:"circuit"`
	Queued  int    `json:"queued"`
	Dropped int64  `json:"dropped"`
	Failed  int64  `json:"failed"`
}

// Status reports breaker and writer state per layer.
func (c *Chain) Status() []LayerStatus {
	out := make([]LayerStatus, len(c.layers))
	for i, layer := range c.layers {
		ws := c.writers[i].Stats()
		out[i] = LayerStatus{
			Name:    layer.Name(),
			Circuit: layer.State().String(),
			Queued:  ws.QueueDepth,
			Dropped: ws.DroppedWrites,
			Failed:  ws.FailedWrites,
		}
	}
	return out
}

func (c *Chain) Len() int {
	return len(c.layers)
}

func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return fmt.Sprintf("chain(%d layers): %s", len(c.layers), strings.Join(names, " -> "))
}

var _ cache.Layer = (*Chain)(nil)
var _ cache.Lister = (*Chain)(nil)
