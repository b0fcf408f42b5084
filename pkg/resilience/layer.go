package resilience

import (
	"context"
	"errors"
	"time"

	"finance-client/pkg/cache"
	"finance-client/pkg/logging"
	"finance-client/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Layer wraps a cache.Layer with a per-operation timeout and a circuit
// breaker. Misses and caller cancellations don't count against the breaker.
type Layer struct {
	layer   cache.Layer
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// Wrap protects layer with config. A nil collector disables metrics and a
// nil logger falls back to the global one.
func Wrap(layer cache.Layer, config Config, collector metrics.MetricsCollector, logger *logging.Logger) *Layer {
	rl := &Layer{
		layer:   layer,
		timeout: config.Timeout,
		metrics: metrics.OrNoOp(collector),
		logger:  logging.OrGlobal(logger, logging.ComponentResilience).With(zap.String("layer", layer.Name())),
	}

	trip := config.Breaker.ReadyToTrip
	if trip == nil {
		trip = ConsecutiveFailures(5)
	}

	rl.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        layer.Name(),
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return trip(Counts{
				Requests:             c.Requests,
				TotalSuccesses:       c.TotalSuccesses,
				TotalFailures:        c.TotalFailures,
				ConsecutiveSuccesses: c.ConsecutiveSuccesses,
				ConsecutiveFailures:  c.ConsecutiveFailures,
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || cache.IsNotFound(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			rl.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rl.metrics.RecordCircuitState(name, circuitState(to))
		},
	})

	return rl
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

func (rl *Layer) Name() string {
	return rl.layer.Name()
}

// State reports the breaker state.
func (rl *Layer) State() metrics.CircuitState {
	return circuitState(rl.cb.State())
}

// execute runs fn through the breaker under the layer timeout and maps
// breaker and deadline failures onto cache sentinels.
func (rl *Layer) execute(ctx context.Context, op, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if rl.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rl.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := rl.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil || cache.IsNotFound(err) {
		return result, err
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rl.logger.Debug("circuit open, request rejected", zap.String("operation", op), zap.String("key", key))
		err = cache.ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rl.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Duration("timeout", rl.timeout),
		)
		err = cache.ErrTimeout
	default:
		rl.logger.Error("operation failed",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}

	rl.metrics.RecordLayerError(rl.layer.Name(), op, cache.ClassifyError(err))
	return nil, err
}

func (rl *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	result, err := rl.execute(ctx, "get", key, func(ctx context.Context) (interface{}, error) {
		return rl.layer.Get(ctx, key)
	})
	rl.metrics.RecordGet(rl.layer.Name(), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	payload, _ := result.([]byte)
	return payload, nil
}

func (rl *Layer) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	start := time.Now()
	_, err := rl.execute(ctx, "set", key, func(ctx context.Context) (interface{}, error) {
		return nil, rl.layer.Set(ctx, key, payload, ttl)
	})
	rl.metrics.RecordSet(rl.layer.Name(), err == nil, time.Since(start))
	return err
}

func (rl *Layer) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := rl.execute(ctx, "delete", key, func(ctx context.Context) (interface{}, error) {
		return nil, rl.layer.Delete(ctx, key)
	})
	rl.metrics.RecordDelete(rl.layer.Name(), err == nil, time.Since(start))
	return err
}

// Keys lists keys through the breaker when the wrapped layer can list.
func (rl *Layer) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, ok := rl.layer.(cache.Lister)
	if !ok {
		return nil, nil
	}

	result, err := rl.execute(ctx, "keys", prefix, func(ctx context.Context) (interface{}, error) {
		return lister.Keys(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}

	keys, _ := result.([]string)
	return keys, nil
}

func (rl *Layer) Close() error {
	return rl.layer.Close()
}
