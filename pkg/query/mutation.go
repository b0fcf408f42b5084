package query

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Mutation is a write against the backend.
type Mutation struct {
	// Name labels logs and metrics, e.g. "create-transaction".
	Name string
	Do   func(ctx context.Context) ([]byte, error)

	// Invalidates lists the key prefixes that depend on the written data.
	Invalidates []Key

	// Entity, when set, receives the response payload stamped with the
	// mutation's sequence number.
	Entity Key
	// Deletes drops Entity instead of writing it.
	Deletes bool
}

// nextSeq issues mutation sequence numbers. They follow the wall clock so
// stamps stay comparable across processes sharing a store, and never repeat
// or go backwards within a process.
func (c *Client) nextSeq() uint64 {
	for {
		last := c.seq.Load()
		next := last + 1
		if now := uint64(c.now().UnixNano()); now > next {
			next = now
		}
		if c.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Mutate runs m once; mutations are never retried. On success the entity
// write (if any) is applied and the dependent prefixes are invalidated. The
// response payload is returned either way so the caller can decode it.
func (c *Client) Mutate(ctx context.Context, m Mutation) ([]byte, error) {
	if m.Do == nil {
		return nil, ErrNoFetcher
	}
	if m.Entity != nil {
		if err := m.Entity.Validate(); err != nil {
			return nil, err
		}
	}

	seq := c.nextSeq()
	start := time.Now()
	payload, err := m.Do(ctx)
	c.metrics.RecordMutation(m.Name, err == nil, time.Since(start))
	if err != nil {
		c.logger.Warn("mutation failed",
			zap.String("mutation", m.Name),
			zap.Uint64("seq", seq),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	if m.Entity != nil {
		c.applyEntity(ctx, m, seq, payload)
	}
	if len(m.Invalidates) > 0 {
		if _, err := c.invalidate(ctx, m.Invalidates, m.Entity, true); err != nil {
			c.logger.Warn("invalidation after mutation incomplete",
				zap.String("mutation", m.Name),
				zap.Error(err))
		}
	}
	return payload, nil
}

func (c *Client) applyEntity(ctx context.Context, m Mutation, seq uint64, payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e := c.entryLocked(Query{Key: m.Entity})
	c.mu.Unlock()

	e.wmu.Lock()
	defer e.wmu.Unlock()

	now := c.now()
	c.mu.Lock()
	if seq <= e.version {
		conflict := Conflict{Key: m.Entity, Mutation: m.Name, Sequence: seq, Applied: e.version, At: now}
		c.conflicts = append(c.conflicts, conflict)
		if len(c.conflicts) > maxConflicts {
			c.conflicts = c.conflicts[len(c.conflicts)-maxConflicts:]
		}
		c.mu.Unlock()

		c.metrics.RecordConflict(m.Entity.Resource())
		c.logger.Warn("discarding late mutation response",
			zap.String("key", m.Entity.String()),
			zap.String("mutation", m.Name),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", conflict.Applied))
		return
	}

	e.version = seq
	e.err = nil
	e.invalidated = false
	e.gen++
	if m.Deletes {
		e.hasData = false
	} else {
		e.hasData = true
		e.updatedAt = now
	}
	ttl := e.query.CacheTime
	c.notifyLocked(e, Update{Key: e.key, State: e.state(now), Data: payload, UpdatedAt: e.updatedAt})
	c.mu.Unlock()
	c.sf.Forget(m.Entity.String())

	if m.Deletes {
		if err := c.store.Delete(ctx, c.storeKey(m.Entity)); err != nil {
			c.logger.Warn("store delete failed", zap.String("key", m.Entity.String()), zap.Error(err))
		}
		return
	}
	c.save(ctx, m.Entity, record{Payload: payload, FetchedAt: now, Version: seq}, ttl)
}
