package invalidation

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

type recordingApplier struct {
	mu   sync.Mutex
	keys [][]string
	err  error
}

func (r *recordingApplier) ApplyRemote(_ context.Context, keys []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys)
	return len(keys), r.err
}

func (r *recordingApplier) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.keys...)
}

func TestMessage_JSON(t *testing.T) {
	msg := NewMessage("a", []string{"transactions", "dashboard-stats"})
	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	got, err := MessageFromJSON(data)
	if err != nil {
		t.Fatalf("MessageFromJSON failed: %v", err)
	}
	if got.Origin != "a" || len(got.Keys) != 2 {
		t.Errorf("Unexpected message %+v", got)
	}
	if _, err := MessageFromJSON([]byte("{")); err == nil {
		t.Error("Expected an error for malformed JSON")
	}
}

func TestMemoryBus_DeliversToPeersOnly(t *testing.T) {
	hub := NewMemoryHub()
	a, b := hub.Bus(), hub.Bus()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appliedA, appliedB := &recordingApplier{}, &recordingApplier{}
	go a.Consume(ctx, Handler(appliedA, nil))
	go b.Consume(ctx, Handler(appliedB, nil))

	if err := a.Publish(ctx, []string{"categories"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(appliedB.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Peer did not receive the invalidation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := appliedB.Calls()[0]; len(got) != 1 || got[0] != "categories" {
		t.Errorf("Unexpected keys %v", got)
	}
	if len(appliedA.Calls()) != 0 {
		t.Error("A bus must not receive its own invalidations")
	}
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryHub().Bus()
	b.Close()
	if err := b.Publish(context.Background(), []string{"goals"}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	if err := b.Consume(context.Background(), func(*Message) error { return nil }); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Expected ErrBusClosed from Consume, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestAMQPBus(t *testing.T) {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		t.Skip("AMQP_URL not set")
	}

	pub, err := NewAMQPBus(url, "finance.invalidations.test", nil)
	if err != nil {
		t.Skipf("RabbitMQ not available: %v", err)
	}
	defer pub.Close()
	sub, err := NewAMQPBus(url, "finance.invalidations.test", nil)
	if err != nil {
		t.Fatalf("second bus: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *Message, 1)
	go sub.Consume(ctx, func(m *Message) error {
		received <- m
		return nil
	})

	if err := pub.Publish(ctx, []string{"transactions"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case m := <-received:
		if m.Origin != pub.Origin() || m.Keys[0] != "transactions" {
			t.Errorf("Unexpected message %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("Timed out waiting for the invalidation")
	}
}
