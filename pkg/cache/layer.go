package cache

import (
	"context"
	"time"
)

// Layer is one tier of the payload store behind the query cache. Values are
// the raw JSON bodies returned by the backend, so any layer (memory, redis)
// can hold them without knowing the domain types.
type Layer interface {
	// Get returns the payload stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores payload under key for ttl. A zero ttl means the layer default.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the layer in logs and metrics (e.g. "L1-memory").
	Name() string

	// Close releases any resources held by the layer.
	Close() error
}

// Lister is implemented by layers that can enumerate their keys. The
// inspection API uses it to show what is currently held.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Clone returns a copy of payload so callers can't alias a layer's storage.
func Clone(payload []byte) []byte {
	if payload == nil {
		return nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}
