// Package invalidation carries query invalidations between processes that
// share a payload store, so a write made by one client marks the others'
// copies stale.
package invalidation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finance-client/pkg/logging"
)

var ErrBusClosed = errors.New("invalidation: bus closed")

// Bus publishes invalidations and delivers the ones published by other
// processes.
type Bus interface {
	// Publish announces keys. It satisfies query.Publisher.
	Publish(ctx context.Context, keys []string) error
	// Consume calls handler for every message from another origin until ctx
	// is done or the bus is closed.
	Consume(ctx context.Context, handler func(*Message) error) error
	Close() error
}

// Applier applies remote invalidations; *query.Client implements it.
type Applier interface {
	ApplyRemote(ctx context.Context, keys []string) (int, error)
}

// Handler adapts an Applier into a Consume handler.
func Handler(a Applier, logger *logging.Logger) func(*Message) error {
	logger = logging.OrGlobal(logger, logging.ComponentBus)
	return func(msg *Message) error {
		n, err := a.ApplyRemote(context.Background(), msg.Keys)
		if err != nil {
			return err
		}
		logger.Debug("applied remote invalidation",
			zap.String("origin", msg.Origin),
			zap.Strings("keys", msg.Keys),
			zap.Int("removed", n))
		return nil
	}
}

func newOrigin() string {
	return uuid.NewString()
}

// MemoryHub connects MemoryBus instances within one process.
type MemoryHub struct {
	mu   sync.Mutex
	subs map[*MemoryBus]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[*MemoryBus]struct{})}
}

// MemoryBus is a Bus whose peers are the other buses of the same hub.
type MemoryBus struct {
	hub    *MemoryHub
	origin string
	ch     chan *Message

	closeOnce sync.Once
	done      chan struct{}
}

// Bus returns a new member of the hub.
func (h *MemoryHub) Bus() *MemoryBus {
	b := &MemoryBus{
		hub:    h,
		origin: newOrigin(),
		ch:     make(chan *Message, 64),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[b] = struct{}{}
	h.mu.Unlock()
	return b
}

func (b *MemoryBus) Origin() string {
	return b.origin
}

func (b *MemoryBus) Publish(ctx context.Context, keys []string) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	msg := NewMessage(b.origin, keys)
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	for peer := range b.hub.subs {
		if peer == b {
			continue
		}
		select {
		case peer.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Consume(ctx context.Context, handler func(*Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBusClosed
		case msg := <-b.ch:
			_ = handler(msg)
		}
	}
}

func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() {
		b.hub.mu.Lock()
		delete(b.hub.subs, b)
		b.hub.mu.Unlock()
		close(b.done)
	})
	return nil
}
