package query

import (
	"fmt"
	"strings"

	"finance-client/pkg/cache"
)

// Key identifies a cached query, most general segment first:
// Key{"chart-data", "30d"}. Invalidating Key{"chart-data"} covers every
// period.
type Key []string

const keySeparator = ":"

func (k Key) String() string {
	return strings.Join(k, keySeparator)
}

// Resource is the first segment, used to label metrics.
func (k Key) Resource() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// HasPrefix reports whether k starts with every segment of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

// Validate rejects empty keys and empty segments, such as a detail query
// whose id is not known yet.
func (k Key) Validate() error {
	if len(k) == 0 {
		return ErrInvalidKey
	}
	for _, seg := range k {
		if seg == "" || strings.Contains(seg, keySeparator) {
			return ErrInvalidKey
		}
	}
	if err := cache.ValidateKey(k.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) Key {
	if s == "" {
		return nil
	}
	return Key(strings.Split(s, keySeparator))
}

func matchesAny(k Key, prefixes []Key) bool {
	for _, p := range prefixes {
		if k.HasPrefix(p) {
			return true
		}
	}
	return false
}
