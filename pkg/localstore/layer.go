package localstore

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"finance-client/pkg/cache"
)

// DefaultPayloadTTL applies when a Set carries no TTL.
const DefaultPayloadTTL = 24 * time.Hour

// PayloadLayer exposes the payloads table as a cache.Layer, so query results
// survive between CLI invocations.
type PayloadLayer struct {
	s *Store
}

// Layer returns the persistent payload layer backed by s. Closing the layer
// leaves the store open.
func (s *Store) Layer() *PayloadLayer {
	return &PayloadLayer{s: s}
}

func (l *PayloadLayer) Name() string {
	return "sqlite"
}

func (l *PayloadLayer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	var (
		value     []byte
		expiresAt int64
	)
	err := l.s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM payloads WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrKeyNotFound
	}
	if err != nil {
		return nil, cache.WrapError(err, l.Name(), "get")
	}
	if expiresAt <= l.s.now().UnixNano() {
		_, _ = l.s.db.ExecContext(ctx, `DELETE FROM payloads WHERE key = ?`, key)
		return nil, cache.ErrKeyNotFound
	}
	return value, nil
}

func (l *PayloadLayer) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if payload == nil {
		return cache.ErrInvalidValue
	}
	if ttl <= 0 {
		ttl = DefaultPayloadTTL
	}

	_, err := l.s.db.ExecContext(ctx,
		`INSERT INTO payloads (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, payload, l.s.now().Add(ttl).UnixNano())
	if err != nil {
		return cache.WrapError(err, l.Name(), "set")
	}
	return nil
}

func (l *PayloadLayer) Delete(ctx context.Context, key string) error {
	if _, err := l.s.db.ExecContext(ctx, `DELETE FROM payloads WHERE key = ?`, key); err != nil {
		return cache.WrapError(err, l.Name(), "delete")
	}
	return nil
}

// Keys lists unexpired keys starting with prefix.
func (l *PayloadLayer) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := l.s.db.QueryContext(ctx,
		`SELECT key FROM payloads WHERE substr(key, 1, ?) = ? AND expires_at > ?`,
		len(prefix), prefix, l.s.now().UnixNano())
	if err != nil {
		return nil, cache.WrapError(err, l.Name(), "keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, cache.WrapError(err, l.Name(), "keys")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, cache.WrapError(err, l.Name(), "keys")
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *PayloadLayer) Close() error {
	return nil
}

var (
	_ cache.Layer  = (*PayloadLayer)(nil)
	_ cache.Lister = (*PayloadLayer)(nil)
)
