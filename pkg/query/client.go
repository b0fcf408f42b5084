package query

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finance-client/pkg/cache"
	"finance-client/pkg/cache/memory"
	"finance-client/pkg/logging"
	"finance-client/pkg/metrics"
)

// Fetcher loads the payload for a query, usually a raw backend response body.
type Fetcher func(ctx context.Context) ([]byte, error)

// Query describes one cacheable read.
type Query struct {
	Key   Key
	Fetch Fetcher

	// StaleTime is how long a successful result counts as fresh. Zero means
	// every access refetches.
	StaleTime time.Duration

	// CacheTime bounds how long the payload is kept in the store. Zero uses
	// Config.CacheTime.
	CacheTime time.Duration

	// Retry overrides Config.Retry. Zero uses the client default, a negative
	// value disables retries.
	Retry int

	// RetryDelay overrides the backoff base for this query.
	RetryDelay time.Duration
}

// Store holds the payloads. *chain.Chain satisfies it; when the store also
// implements cache.Lister, invalidation removes payloads this process never
// read (written by another process sharing an L2).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Publisher broadcasts invalidated key prefixes to other processes.
type Publisher interface {
	Publish(ctx context.Context, keys []string) error
}

// Config configures a Client.
type Config struct {
	// Retry is the number of retries after a failed fetch.
	Retry int
	// RetryDelay is the first backoff delay; it doubles on every attempt.
	RetryDelay time.Duration
	// MaxRetryDelay caps the backoff.
	MaxRetryDelay time.Duration
	// CacheTime is the default store TTL of a payload.
	CacheTime time.Duration
	// Namespace prefixes every store key so payload layouts can be versioned.
	Namespace string
	// ShouldRetry reports whether a failed fetch is worth retrying. Nil
	// retries everything except context cancellation.
	ShouldRetry func(error) bool
	// Publisher, when set, receives every local invalidation.
	Publisher Publisher

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// DefaultConfig returns the defaults: two retries with exponential backoff
// starting at one second and capped at thirty.
func DefaultConfig() Config {
	return Config{
		Retry:         2,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
		CacheTime:     5 * time.Minute,
		Namespace:     "q1",
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Retry == 0 {
		c.Retry = d.Retry
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.CacheTime <= 0 {
		c.CacheTime = d.CacheTime
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

const maxConflicts = 100

// Client is the query cache. Entry metadata (state, version, subscribers)
// lives in the client; payloads live in the store.
type Client struct {
	config  Config
	store   Store
	pattern *cache.KeyPattern
	metrics metrics.MetricsCollector
	logger  *logging.Logger
	now     func() time.Time

	sf  singleflight.Group
	seq atomic.Uint64

	// base outlives any caller so a fetch finishes even when the caller
	// that started it stops waiting.
	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	entries   map[string]*entry
	conflicts []Conflict
	closed    bool
}

type entry struct {
	key   Key
	query Query

	hasData     bool
	updatedAt   time.Time
	invalidated bool
	probed      bool
	err         error
	gen         uint64
	version     uint64
	fetching    int
	subs        map[*Subscription]struct{}

	// wmu orders store writes for the key.
	wmu sync.Mutex
}

func (e *entry) fresh(now time.Time) bool {
	return e.hasData && !e.invalidated && now.Before(e.updatedAt.Add(e.query.StaleTime))
}

func (e *entry) state(now time.Time) State {
	switch {
	case e.fetching > 0:
		return StateFetching
	case e.fresh(now):
		return StateFresh
	case e.hasData:
		return StateStale
	case e.err != nil:
		return StateFailed
	default:
		return StateAbsent
	}
}

// record is the stored form of a payload. FetchedAt travels with it so a
// process reading a shared L2 can tell whether the payload is still fresh.
type record struct {
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
	Version   uint64    `json:"version,omitempty"`
}

// NewClient creates a query cache on top of store. A nil store keeps
// payloads in a private in-memory LRU.
func NewClient(config Config, store Store, opts ...Option) *Client {
	config.setDefaults()
	if store == nil {
		store = memory.NewMemoryCache(memory.MemoryCacheConfig{})
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:  config,
		store:   store,
		pattern: cache.NewKeyPattern(config.Namespace, keySeparator),
		metrics: metrics.OrNoOp(config.Metrics),
		logger:  logging.OrGlobal(config.Logger, logging.ComponentQuery),
		now:     time.Now,
		base:    base,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// entryLocked returns the entry for q.Key, creating it if needed. The most
// recent query definition wins so invalidation refetches with it.
func (c *Client) entryLocked(q Query) *entry {
	ks := q.Key.String()
	e, ok := c.entries[ks]
	if !ok {
		e = &entry{key: q.Key, subs: make(map[*Subscription]struct{})}
		c.entries[ks] = e
	}
	if q.Fetch != nil {
		e.query = q
	}
	return e
}

func (c *Client) storeKey(k Key) string {
	return c.pattern.Build(k...)
}

func (c *Client) load(ctx context.Context, k Key) (record, bool) {
	raw, err := c.store.Get(ctx, c.storeKey(k))
	if err != nil {
		if !cache.IsNotFound(err) {
			c.logger.Debug("store read failed",
				zap.String("key", k.String()),
				zap.String("error_type", cache.ClassifyError(err)),
				zap.Error(err))
		}
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.Warn("discarding unreadable store record", zap.String("key", k.String()), zap.Error(err))
		return record{}, false
	}
	return rec, true
}

func (c *Client) save(ctx context.Context, k Key, rec record, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.CacheTime
	}
	raw, err := json.Marshal(rec)
	if err == nil {
		err = c.store.Set(ctx, c.storeKey(k), raw, ttl)
	}
	if err != nil {
		// The fetched data is still returned to callers; only reuse is lost.
		c.logger.Warn("store write failed",
			zap.String("key", k.String()),
			zap.String("error_type", cache.ClassifyError(err)),
			zap.Error(err))
	}
}

// adopt loads a payload some earlier process (or an evicted entry) left in
// the store, once per entry.
func (c *Client) adopt(ctx context.Context, e *entry) {
	c.mu.Lock()
	probe := !e.hasData && !e.probed
	e.probed = true
	c.mu.Unlock()
	if !probe {
		return
	}

	rec, ok := c.load(ctx, e.key)
	if !ok {
		return
	}
	c.mu.Lock()
	if !e.hasData {
		e.hasData = true
		e.updatedAt = rec.FetchedAt
		if rec.Version > e.version {
			e.version = rec.Version
		}
	}
	c.mu.Unlock()
}

// Fetch returns the payload for q. A fresh payload is served from the store;
// otherwise the fetch is started, or joined when one is already in flight.
// When the fetch fails and an older payload is stored, that payload is
// returned together with the error.
func (c *Client) Fetch(ctx context.Context, q Query) ([]byte, error) {
	if err := q.Key.Validate(); err != nil {
		return nil, err
	}
	if q.Fetch == nil {
		return nil, ErrNoFetcher
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.entryLocked(q)
	c.mu.Unlock()

	c.adopt(ctx, e)

	c.mu.Lock()
	fresh := e.fresh(c.now())
	hasData := e.hasData
	c.mu.Unlock()

	resource := q.Key.Resource()
	if fresh {
		if rec, ok := c.load(ctx, q.Key); ok {
			c.metrics.RecordQueryRead(resource, metrics.ReadFresh)
			return rec.Payload, nil
		}
	}

	if hasData {
		c.metrics.RecordQueryRead(resource, metrics.ReadStale)
	} else {
		c.metrics.RecordQueryRead(resource, metrics.ReadMiss)
	}

	payload, err := c.fetch(ctx, e, q)
	if err != nil {
		if rec, ok := c.load(ctx, q.Key); ok {
			return rec.Payload, err
		}
		return nil, err
	}
	return payload, nil
}

// Refetch fetches q regardless of freshness.
func (c *Client) Refetch(ctx context.Context, q Query) ([]byte, error) {
	if err := q.Key.Validate(); err != nil {
		return nil, err
	}
	if q.Fetch == nil {
		return nil, ErrNoFetcher
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.entryLocked(q)
	c.mu.Unlock()
	return c.fetch(ctx, e, q)
}

// fetch runs q through singleflight. The request itself runs on the
// client's base context; ctx only bounds this caller's wait.
func (c *Client) fetch(ctx context.Context, e *entry, q Query) ([]byte, error) {
	leader := false
	ch := c.sf.DoChan(q.Key.String(), func() (interface{}, error) {
		leader = true
		return c.run(e, q)
	})

	select {
	case res := <-ch:
		if !leader {
			c.metrics.RecordDedup(q.Key.Resource())
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return cache.Clone(res.Val.([]byte)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) run(e *entry, q Query) ([]byte, error) {
	c.mu.Lock()
	e.fetching++
	gen, version := e.gen, e.version
	c.notifyLocked(e, Update{Key: e.key, State: StateFetching, UpdatedAt: e.updatedAt})
	c.mu.Unlock()

	resource := q.Key.Resource()
	start := time.Now()
	payload, err := c.withRetry(c.base, q)
	c.metrics.RecordFetch(resource, err == nil, time.Since(start))

	if err != nil {
		c.mu.Lock()
		e.fetching--
		e.err = err
		c.notifyLocked(e, Update{Key: e.key, State: e.state(c.now()), Err: err, UpdatedAt: e.updatedAt})
		c.mu.Unlock()

		c.logger.Warn("query fetch failed",
			zap.String("key", q.Key.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	e.wmu.Lock()
	now := c.now()
	c.mu.Lock()
	e.fetching--
	superseded := e.version > version
	if !superseded {
		e.hasData = true
		e.updatedAt = now
		e.err = nil
		// Invalidated while in flight: the result predates the invalidation.
		e.invalidated = e.gen != gen
	}
	current := e.version
	c.mu.Unlock()

	if superseded {
		e.wmu.Unlock()
		c.logger.Debug("discarding fetch older than entity write",
			zap.String("key", q.Key.String()),
			zap.Uint64("version", current))
		if rec, ok := c.load(c.base, q.Key); ok {
			payload = rec.Payload
		}
	} else {
		c.save(c.base, q.Key, record{Payload: payload, FetchedAt: now, Version: current}, q.CacheTime)
		e.wmu.Unlock()
	}

	c.mu.Lock()
	c.notifyLocked(e, Update{Key: e.key, State: e.state(c.now()), Data: payload, UpdatedAt: e.updatedAt})
	c.mu.Unlock()
	return payload, nil
}

// State reports the current state of key.
func (c *Client) State(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return StateAbsent
	}
	return e.state(c.now())
}

// Snapshot describes every known key, sorted by key.
func (c *Client) Snapshot() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	infos := make([]Info, 0, len(c.entries))
	for ks, e := range c.entries {
		info := Info{
			Key:         ks,
			State:       e.state(now),
			UpdatedAt:   e.updatedAt,
			Invalidated: e.invalidated,
			Subscribers: len(e.subs),
			Version:     e.version,
		}
		if e.hasData {
			info.StaleAt = e.updatedAt.Add(e.query.StaleTime)
		}
		if e.err != nil {
			info.Error = e.err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Invalidate marks every entry under the given prefixes stale, removes their
// payloads from the store and refetches the ones that have subscribers. It
// returns the number of keys removed.
func (c *Client) Invalidate(ctx context.Context, prefixes ...Key) (int, error) {
	return c.invalidate(ctx, prefixes, nil, true)
}

// ApplyRemote applies an invalidation published by another process. It is
// not published again.
func (c *Client) ApplyRemote(ctx context.Context, keys []string) (int, error) {
	prefixes := make([]Key, 0, len(keys))
	for _, k := range keys {
		if pk := ParseKey(k); pk.Validate() == nil {
			prefixes = append(prefixes, pk)
		}
	}
	return c.invalidate(ctx, prefixes, nil, false)
}

func (c *Client) invalidate(ctx context.Context, prefixes []Key, except Key, publish bool) (int, error) {
	if len(prefixes) == 0 {
		return 0, nil
	}
	for _, p := range prefixes {
		if err := p.Validate(); err != nil {
			return 0, err
		}
	}

	removed := make(map[string]Key)
	var refetch []*entry

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	for ks, e := range c.entries {
		if !matchesAny(e.key, prefixes) || (except != nil && e.key.Equal(except)) {
			continue
		}
		e.invalidated = true
		e.gen++
		removed[ks] = e.key
		if len(e.subs) > 0 && e.query.Fetch != nil {
			refetch = append(refetch, e)
		}
		c.notifyLocked(e, Update{Key: e.key, State: e.state(c.now()), UpdatedAt: e.updatedAt})
	}
	c.mu.Unlock()

	for ks := range removed {
		c.sf.Forget(ks)
	}

	if lister, ok := c.store.(cache.Lister); ok {
		for _, p := range prefixes {
			keys, err := lister.Keys(ctx, c.storeKey(p))
			if err != nil {
				c.logger.Debug("listing store keys failed", zap.String("prefix", p.String()), zap.Error(err))
				continue
			}
			for _, sk := range keys {
				raw, ok := c.pattern.Strip(sk)
				if !ok {
					continue
				}
				k := ParseKey(raw)
				if k.HasPrefix(p) && (except == nil || !k.Equal(except)) {
					removed[k.String()] = k
				}
			}
		}
	}

	var errs []error
	for _, k := range removed {
		if err := c.store.Delete(ctx, c.storeKey(k)); err != nil {
			errs = append(errs, err)
		}
	}

	for _, p := range prefixes {
		n := 0
		for _, e := range refetch {
			if e.key.HasPrefix(p) {
				n++
			}
		}
		c.metrics.RecordInvalidation(p.Resource(), n)
	}

	for _, e := range refetch {
		e := e
		c.mu.Lock()
		q := e.query
		c.mu.Unlock()
		go func() {
			_, _ = c.fetch(c.base, e, q)
		}()
	}

	if publish && c.config.Publisher != nil {
		names := make([]string, len(prefixes))
		for i, p := range prefixes {
			names[i] = p.String()
		}
		if err := c.config.Publisher.Publish(ctx, names); err != nil {
			c.logger.Warn("publishing invalidation failed", zap.Strings("keys", names), zap.Error(err))
		}
	}

	c.logger.Debug("invalidated",
		zap.Int("keys", len(removed)),
		zap.Int("refetching", len(refetch)))
	return len(removed), errors.Join(errs...)
}

// Conflicts returns the most recent discarded mutation responses, oldest
// first.
func (c *Client) Conflicts() []Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Conflict, len(c.conflicts))
	copy(out, c.conflicts)
	return out
}

// Close cancels in-flight fetches and ends every subscription. The store is
// owned by the caller and left open.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var subs []*Subscription
	for _, e := range c.entries {
		for s := range e.subs {
			subs = append(subs, s)
		}
		e.subs = make(map[*Subscription]struct{})
	}
	c.mu.Unlock()

	c.cancel()
	for _, s := range subs {
		s.close()
	}
	return nil
}
