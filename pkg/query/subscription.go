package query

import (
	"context"
	"sync"
	"time"
)

// Subscription receives updates for one key until Unsubscribe. Updates
// carries only the latest update; a slow reader skips intermediate ones.
type Subscription struct {
	c *Client
	e *entry

	mu     sync.Mutex
	ch     chan Update
	closed bool
}

// Updates returns the update channel. It is closed by Unsubscribe and by
// Client.Close.
func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

// Key returns the subscribed key.
func (s *Subscription) Key() Key {
	return s.e.key
}

func (s *Subscription) deliver(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- u:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- u
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Unsubscribe drops interest in the key. An in-flight fetch keeps running
// and still populates the cache; its result is not delivered here.
func (s *Subscription) Unsubscribe() {
	s.c.mu.Lock()
	delete(s.e.subs, s)
	s.c.mu.Unlock()
	s.close()
}

// notifyLocked delivers u to every subscriber of e. c.mu must be held.
func (c *Client) notifyLocked(e *entry, u Update) {
	for s := range e.subs {
		s.deliver(u)
	}
}

// Subscribe registers interest in q. Any payload already cached is delivered
// first, then q is fetched unless it is fresh. Later invalidations refetch
// q while the subscription is active.
func (c *Client) Subscribe(q Query) (*Subscription, error) {
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
	s := &Subscription{c: c, e: e, ch: make(chan Update, 1)}
	e.subs[s] = struct{}{}
	c.mu.Unlock()

	go c.mount(s, q)
	return s, nil
}

func (c *Client) mount(s *Subscription, q Query) {
	ctx := c.base
	c.adopt(ctx, s.e)

	c.mu.Lock()
	hasData := s.e.hasData
	fresh := s.e.fresh(c.now())
	updatedAt := s.e.updatedAt
	c.mu.Unlock()

	if hasData && !fresh {
		if rec, ok := c.load(ctx, q.Key); ok {
			s.deliver(Update{Key: q.Key, State: StateStale, Data: rec.Payload, UpdatedAt: updatedAt})
		}
	}

	payload, err := c.Fetch(ctx, q)

	c.mu.Lock()
	u := Update{Key: q.Key, State: s.e.state(c.now()), Data: payload, Err: err, UpdatedAt: s.e.updatedAt}
	_, active := s.e.subs[s]
	c.mu.Unlock()
	if active {
		s.deliver(u)
	}
}

// Watch subscribes to q and refetches it every interval until ctx is done.
// The returned channel is closed when the watch ends.
func (c *Client) Watch(ctx context.Context, q Query, interval time.Duration) (<-chan Update, error) {
	sub, err := c.Subscribe(q)
	if err != nil {
		return nil, err
	}

	out := make(chan Update, 1)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				go func() {
					_, _ = c.Refetch(ctx, q)
				}()
			case u, ok := <-sub.Updates():
				if !ok {
					return
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
