package query

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// backoff returns the delay before retry number attempt (0-based):
// base, 2*base, 4*base, ... capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

func (c *Client) retries(q Query) int {
	switch {
	case q.Retry < 0:
		return 0
	case q.Retry > 0:
		return q.Retry
	case c.config.Retry < 0:
		return 0
	default:
		return c.config.Retry
	}
}

func (c *Client) withRetry(ctx context.Context, q Query) ([]byte, error) {
	retries := c.retries(q)
	base := c.config.RetryDelay
	if q.RetryDelay > 0 {
		base = q.RetryDelay
	}

	for attempt := 0; ; attempt++ {
		payload, err := q.Fetch(ctx)
		if err == nil {
			return payload, nil
		}
		if attempt >= retries || ctx.Err() != nil || !c.config.ShouldRetry(err) {
			return nil, err
		}

		wait := backoff(base, c.config.MaxRetryDelay, attempt)
		c.logger.Debug("retrying query",
			zap.String("key", q.Key.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}
