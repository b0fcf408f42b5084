package query

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSON adapts a typed loader into a Fetcher by encoding its result.
func JSON[T any](load func(ctx context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
}

// Decode unmarshals a cached payload into T.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("query: decoding payload: %w", err)
	}
	return v, nil
}

// Get fetches q through c and decodes the payload. When the fetch fails but
// an older payload is cached, the decoded older value is returned together
// with the fetch error.
func Get[T any](ctx context.Context, c *Client, q Query) (T, error) {
	payload, err := c.Fetch(ctx, q)
	if payload == nil {
		var zero T
		return zero, err
	}
	v, derr := Decode[T](payload)
	if derr != nil {
		return v, derr
	}
	return v, err
}
