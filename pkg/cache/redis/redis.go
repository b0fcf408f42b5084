package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finance-client/pkg/cache"

	"github.com/redis/rueidis"
)

// RedisCache is the optional shared L3 payload layer. Several client
// processes pointed at the same redis share fetched payloads, so a freshly
// started CLI can render from cache instead of hitting the backend.
type RedisCache struct {
	client rueidis.Client
	name   string
	config RedisCacheConfig
}

type RedisCacheConfig struct {
	Name string
	// Addr is the redis server address, e.g. "localhost:6379".
	Addr     string
	Username string
	Password string
	// DB is the redis database number (0-15).
	DB int
	// KeyPrefix namespaces every key written by this client.
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration
}

func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Name:         "L3-redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "finance-client:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		DefaultTTL:   30 * time.Minute,
	}
}

func NewRedisCache(config RedisCacheConfig) (*RedisCache, error) {
	if config.Name == "" {
		config.Name = "L3-redis"
	}
	if config.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 30 * time.Minute
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      []string{config.Addr},
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
		// The payloads are small and read through L1 first; client side
		// caching would only duplicate it.
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &RedisCache{
		client: client,
		name:   config.Name,
		config: config,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	resp := r.client.Do(ctx, r.client.B().Get().Key(r.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}
	return data, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if payload == nil {
		return cache.ErrInvalidValue
	}
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}

	cmd := r.client.B().Set().Key(r.config.KeyPrefix + key).Value(rueidis.BinaryString(payload)).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	if err := r.client.Do(ctx, r.client.B().Del().Key(r.config.KeyPrefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Keys lists keys under prefix with the client KeyPrefix removed.
func (r *RedisCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	resp := r.client.Do(ctx, r.client.B().Keys().Pattern(r.config.KeyPrefix+prefix+"*").Build())
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}

	keys, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("redis keys: failed to read response: %w", err)
	}

	for i, key := range keys {
		keys[i] = strings.TrimPrefix(key, r.config.KeyPrefix)
	}
	return keys, nil
}

// Purge deletes every key under the client KeyPrefix.
func (r *RedisCache) Purge(ctx context.Context) error {
	keys, err := r.Keys(ctx, "")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.config.KeyPrefix + key
	}
	if err := r.client.Do(ctx, r.client.B().Del().Key(full...).Build()).Error(); err != nil {
		return fmt.Errorf("redis purge: %w", err)
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisCache) Name() string {
	return r.name
}

func (r *RedisCache) Close() error {
	r.client.Close()
	return nil
}
