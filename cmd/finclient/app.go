package main

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"finance-client/pkg/cache"
	"finance-client/pkg/cache/bloom"
	"finance-client/pkg/cache/memory"
	"finance-client/pkg/cache/redis"
	"finance-client/pkg/chain"
	"finance-client/pkg/config"
	"finance-client/pkg/finance"
	"finance-client/pkg/httpclient"
	"finance-client/pkg/invalidation"
	"finance-client/pkg/localstore"
	"finance-client/pkg/logging"
	"finance-client/pkg/metrics"
	"finance-client/pkg/query"
	"finance-client/pkg/session"
	"finance-client/pkg/store"
)

const (
	bloomExpectedItems = 100000
	bloomFalsePositive = 0.01
	flushTimeout       = 5 * time.Second
)

// app holds everything a command needs. It is built once per process.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	collector metrics.MetricsCollector

	local   *localstore.Store
	chain   *chain.Chain
	bus     invalidation.Bus
	cache   *query.Client
	session *session.Session
	store   *store.Store

	out io.Writer
	in  io.Reader
	now func() time.Time
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, collector metrics.MetricsCollector) (*app, error) {
	local, err := localstore.Open(cfg.StateDB, logger)
	if err != nil {
		return nil, err
	}

	// L1 memory, L2 the local sqlite file, L3 a shared redis when configured.
	layers := []cache.Layer{
		memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1-memory", MaxSize: cfg.CacheMaxEntries}),
		local.Layer(),
	}
	ccfg := chain.Config{Metrics: collector, Logger: logger}
	if shared := sharedLayer(ctx, cfg, logger); shared != nil {
		layers = append(layers, shared)
		ccfg.TTL = chain.DecayingTTL{Factor: 0.5}
	}

	ch, err := chain.New(ccfg, layers...)
	if err != nil {
		local.Close()
		return nil, err
	}

	qcfg := query.DefaultConfig()
	qcfg.Retry = cfg.QueryRetry
	if qcfg.Retry == 0 {
		qcfg.Retry = -1
	}
	qcfg.RetryDelay = cfg.QueryRetryDelay
	qcfg.ShouldRetry = store.ShouldRetry
	qcfg.Metrics = collector
	qcfg.Logger = logger

	var bus invalidation.Bus
	if cfg.AMQPURL != "" {
		b, err := invalidation.NewAMQPBus(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("invalidation bus unavailable, continuing without it", zap.Error(err))
		} else {
			bus = b
			qcfg.Publisher = b
		}
	}

	qc := query.NewClient(qcfg, ch)
	sess := session.New(local, logger)

	hc := httpclient.New(
		httpclient.Config{BaseURL: cfg.APIURL, Timeout: cfg.HTTPTimeout},
		httpclient.WithTokenSource(sess),
		httpclient.WithLogger(logger),
		httpclient.WithMetrics(collector),
	)
	api := finance.NewClient(hc, logger)

	return &app{
		cfg:       cfg,
		logger:    logger.Named(logging.ComponentCLI),
		collector: collector,
		local:     local,
		chain:     ch,
		bus:       bus,
		cache:     qc,
		session:   sess,
		store:     store.New(api, qc, logger),
		now:       time.Now,
	}, nil
}

// sharedLayer connects the optional redis layer, behind a bloom filter when
// CACHE_BLOOM is set. A redis that cannot be reached is skipped.
func sharedLayer(ctx context.Context, cfg *config.Config, logger *logging.Logger) cache.Layer {
	if cfg.RedisAddr == "" {
		return nil
	}

	rc := redis.DefaultRedisCacheConfig()
	rc.Addr = cfg.RedisAddr
	rc.KeyPrefix = cfg.RedisPrefix
	r, err := redis.NewRedisCache(rc)
	if err != nil {
		logger.Warn("redis unavailable, continuing without shared cache",
			zap.String("addr", cfg.RedisAddr), zap.Error(err))
		return nil
	}
	if !cfg.CacheBloom {
		return r
	}

	bl := bloom.NewBloomLayer(r, bloomExpectedItems, bloomFalsePositive)
	n, err := bl.Seed(ctx)
	if err != nil {
		logger.Warn("bloom seed failed", zap.Error(err))
	}
	logger.Debug("bloom filter seeded", zap.Int("keys", n))
	return bl
}

// close stops the cache before draining the store writers, and closes the
// database last since the sqlite layer writes through it.
func (a *app) close() error {
	var errs []error
	if err := a.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.chain.Flush(flushTimeout); err != nil {
		a.logger.Warn("pending cache writes dropped", zap.Error(err))
	}
	if err := a.chain.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.local.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
