package memory

import (
	"container/list"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"finance-client/pkg/cache"
)

// MemoryCache is the in-process L1 payload layer. It is safe for concurrent
// use, expires entries by TTL and evicts the least recently used entry when
// MaxSize is reached.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List

	config MemoryCacheConfig

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
}

type entry struct {
	key       string
	payload   []byte
	expiresAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache
type MemoryCacheConfig struct {
	// Name is the layer identifier
	Name string

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int

	// DefaultTTL applies when Set is called with a zero ttl
	DefaultTTL time.Duration

	// CleanupInterval is how often expired entries are swept
	CleanupInterval time.Duration
}

// NewMemoryCache creates a memory layer and starts its cleanup goroutine.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	c := &MemoryCache{
		items:         make(map[string]*list.Element),
		lru:           list.New(),
		config:        config,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	c.wg.Add(1)
	go c.cleanup()

	return c
}

// Get returns a copy of the payload stored under key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}

	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeElement(elem)
		return nil, cache.ErrKeyNotFound
	}

	c.lru.MoveToFront(elem)
	return cache.Clone(e.payload), nil
}

// Set stores a copy of payload. A zero ttl uses DefaultTTL.
func (c *MemoryCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if payload == nil {
		return cache.ErrInvalidValue
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.payload = cache.Clone(payload)
		e.expiresAt = time.Now().Add(ttl)
		c.lru.MoveToFront(elem)
		return nil
	}

	if c.config.MaxSize > 0 && c.lru.Len() >= c.config.MaxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	c.items[key] = c.lru.PushFront(&entry{
		key:       key,
		payload:   cache.Clone(payload),
		expiresAt: time.Now().Add(ttl),
	})

	return nil
}

// Delete removes key. Missing keys are ignored.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	c.mu.Unlock()

	return nil
}

// Keys lists the live keys starting with prefix, sorted.
func (c *MemoryCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for key, elem := range c.items {
		if now.After(elem.Value.(*entry).expiresAt) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns the layer name.
func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the cleanup goroutine and drops all entries.
func (c *MemoryCache) Close() error {
	c.cleanupTicker.Stop()
	close(c.stopCleanup)
	c.wg.Wait()

	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()

	return nil
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

func (c *MemoryCache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, elem := range c.items {
		if now.After(elem.Value.(*entry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// removeElement must be called with mu held.
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

// Stats returns current cache statistics.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := MemoryCacheStats{
		Size:     c.lru.Len(),
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
