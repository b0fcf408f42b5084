package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest key any layer accepts.
const MaxKeyLength = 250

// ValidateKey checks a store key.
//
// Rules:
// - Non-empty string
// - At most MaxKeyLength bytes
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// SanitizeKey trims whitespace, strips control characters and truncates.
// Query parameters (search text, periods) go through it before they become
// part of a key.
func SanitizeKey(key string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(key) {
		if !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	sanitized := b.String()

	if len(sanitized) > MaxKeyLength {
		sanitized = sanitized[:MaxKeyLength]
	}

	return sanitized, ValidateKey(sanitized)
}

// KeyPattern namespaces keys, e.g. "finance:v1" + "transactions".
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a key pattern. An empty separator defaults to ":".
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    prefix,
		separator: separator,
	}
}

// Build joins the prefix and parts.
// Example: NewKeyPattern("finance", ":").Build("chart-data", "30d") -> "finance:chart-data:30d"
func (kp *KeyPattern) Build(parts ...string) string {
	if len(parts) == 0 {
		return kp.prefix
	}
	if kp.prefix == "" {
		return strings.Join(parts, kp.separator)
	}
	return kp.prefix + kp.separator + strings.Join(parts, kp.separator)
}

// MustBuild is like Build but panics if the resulting key is invalid.
func (kp *KeyPattern) MustBuild(parts ...string) string {
	key := kp.Build(parts...)
	if err := ValidateKey(key); err != nil {
		panic(fmt.Sprintf("invalid key generated: %v", err))
	}
	return key
}

// Strip removes the pattern prefix from key. Keys outside the namespace are
// returned unchanged with ok=false.
func (kp *KeyPattern) Strip(key string) (string, bool) {
	if kp.prefix == "" {
		return key, true
	}
	head := kp.prefix + kp.separator
	if !strings.HasPrefix(key, head) {
		return key, false
	}
	return key[len(head):], true
}
