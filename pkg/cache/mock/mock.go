// Package mock provides a scriptable cache.Layer for tests of the chain and
// the query cache.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"finance-client/pkg/cache"
)

// Layer records calls and, unless a hook overrides it, stores payloads in a
// plain map so that it behaves like a real layer.
type Layer struct {
	GetFunc    func(ctx context.Context, key string) ([]byte, error)
	SetFunc    func(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, key string) error
	CloseFunc  func() error

	name string

	mu      sync.Mutex
	data    map[string][]byte
	lastTTL map[string]time.Duration

	getCalls    int64
	setCalls    int64
	deleteCalls int64
	closeCalls  int64
}

// NewLayer returns a map-backed layer called name.
func NewLayer(name string) *Layer {
	return &Layer{
		name:    name,
		data:    make(map[string][]byte),
		lastTTL: make(map[string]time.Duration),
	}
}

// NewFailingLayer returns a layer whose Get and Set always return err.
func NewFailingLayer(name string, err error) *Layer {
	l := NewLayer(name)
	l.GetFunc = func(context.Context, string) ([]byte, error) { return nil, err }
	l.SetFunc = func(context.Context, string, []byte, time.Duration) error { return err }
	return l
}

func (l *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&l.getCalls, 1)
	if l.GetFunc != nil {
		return l.GetFunc(ctx, key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	payload, ok := l.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	return cache.Clone(payload), nil
}

func (l *Layer) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	atomic.AddInt64(&l.setCalls, 1)
	if l.SetFunc != nil {
		return l.SetFunc(ctx, key, payload, ttl)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[key] = cache.Clone(payload)
	l.lastTTL[key] = ttl
	return nil
}

func (l *Layer) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&l.deleteCalls, 1)
	if l.DeleteFunc != nil {
		return l.DeleteFunc(ctx, key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.data, key)
	delete(l.lastTTL, key)
	return nil
}

// Keys lists stored keys with prefix, sorted.
func (l *Layer) Keys(_ context.Context, prefix string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var keys []string
	for k := range l.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Layer) Name() string {
	if l.name == "" {
		return "mock"
	}
	return l.name
}

func (l *Layer) Close() error {
	atomic.AddInt64(&l.closeCalls, 1)
	if l.CloseFunc != nil {
		return l.CloseFunc()
	}
	return nil
}

// Has reports whether key was stored through the default Set.
func (l *Layer) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.data[key]
	return ok
}

// TTL returns the ttl passed with the last default Set of key.
func (l *Layer) TTL(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTTL[key]
}

func (l *Layer) GetCalls() int { return int(atomic.LoadInt64(&l.getCalls)) }
func (l *Layer) SetCalls() int { return int(atomic.LoadInt64(&l.setCalls)) }
func (l *Layer) DeleteCalls() int { return int(atomic.LoadInt64(&l.deleteCalls)) }
func (l *Layer) CloseCalls() int { return int(atomic.LoadInt64(&l.closeCalls)) }
