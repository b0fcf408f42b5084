package bloom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finance-client/pkg/cache"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomLayer guards a remote layer with a membership filter so lookups for
// keys that were never written skip the network round trip. Deleted keys stay
// in the filter; the wrapped layer answers those with a miss.
type BloomLayer struct {
	layer             cache.Layer
	filter            *bloom.BloomFilter
	expectedItems     uint
	falsePositiveRate float64
	mu                sync.Mutex

	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
}

// NewBloomLayer wraps layer with a filter sized for expectedItems.
func NewBloomLayer(layer cache.Layer, expectedItems uint, falsePositiveRate float64) *BloomLayer {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &BloomLayer{
		layer:             layer,
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
}

// Seed adds every key the wrapped layer already holds. Without it a new
// process would reject payloads other processes wrote to the shared layer.
// It returns the number of keys added; layers that can't list are a no-op.
func (bl *BloomLayer) Seed(ctx context.Context) (int, error) {
	lister, ok := bl.layer.(cache.Lister)
	if !ok {
		return 0, nil
	}

	keys, err := lister.Keys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("bloom seed: %w", err)
	}

	bl.mu.Lock()
	for _, key := range keys {
		bl.filter.AddString(key)
	}
	bl.mu.Unlock()

	return len(keys), nil
}

// Name returns the name of the wrapped layer.
func (bl *BloomLayer) Name() string {
	return "bloom(" + bl.layer.Name() + ")"
}

// Get consults the filter before the wrapped layer.
func (bl *BloomLayer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bl.mu.Lock()
	bl.totalQueries++
	if !bl.filter.TestString(key) {
		bl.bloomRejected++
		bl.mu.Unlock()
		return nil, cache.ErrKeyNotFound
	}
	bl.mu.Unlock()

	payload, err := bl.layer.Get(ctx, key)
	if cache.IsNotFound(err) {
		bl.mu.Lock()
		bl.falsePositives++
		bl.mu.Unlock()
	}

	return payload, err
}

// Set records key in the filter and writes through.
func (bl *BloomLayer) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bl.mu.Lock()
	bl.filter.AddString(key)
	bl.mu.Unlock()

	return bl.layer.Set(ctx, key, payload, ttl)
}

// Delete removes key from the wrapped layer.
func (bl *BloomLayer) Delete(ctx context.Context, key string) error {
	return bl.layer.Delete(ctx, key)
}

// Keys forwards to the wrapped layer when it can list.
func (bl *BloomLayer) Keys(ctx context.Context, prefix string) ([]string, error) {
	if lister, ok := bl.layer.(cache.Lister); ok {
		return lister.Keys(ctx, prefix)
	}
	return nil, nil
}

// Close closes the wrapped layer.
func (bl *BloomLayer) Close() error {
	return bl.layer.Close()
}

// Reset clears the filter and counters.
func (bl *BloomLayer) Reset() {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	bl.filter = bloom.NewWithEstimates(bl.expectedItems, bl.falsePositiveRate)
	bl.totalQueries = 0
	bl.bloomRejected = 0
	bl.falsePositives = 0
}

// Stats returns statistics about the filter.
func (bl *BloomLayer) Stats() BloomStats {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	var rejectionRate, falsePositiveRate float64
	if bl.totalQueries > 0 {
		rejectionRate = float64(bl.bloomRejected) / float64(bl.totalQueries)
		if queried := bl.totalQueries - bl.bloomRejected; queried > 0 {
			falsePositiveRate = float64(bl.falsePositives) / float64(queried)
		}
	}

	return BloomStats{
		TotalQueries:      bl.totalQueries,
		BloomRejected:     bl.bloomRejected,
		FalsePositives:    bl.falsePositives,
		RejectionRate:     rejectionRate,
		FalsePositiveRate: falsePositiveRate,
		FilterCapacity:    bl.filter.Cap(),
	}
}

// BloomStats holds statistics about bloom filter performance.
type BloomStats struct {
	TotalQueries      uint64
	BloomRejected     uint64
	FalsePositives    uint64
	RejectionRate     float64
	FalsePositiveRate float64
	FilterCapacity    uint
}
