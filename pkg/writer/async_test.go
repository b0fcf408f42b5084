package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"finance-client/pkg/cache/mock"
	metricsmem "finance-client/pkg/metrics/memory"
)

func TestNew_Defaults(t *testing.T) {
	w := New(mock.NewLayer("L1"), Config{}, nil, nil)
	defer w.Close()

	if len(w.shards) != 2 {
		t.Errorf("Expected 2 workers, got %d", len(w.shards))
	}
	if cap(w.shards[0]) != 256 {
		t.Errorf("Expected queue size 256, got %d", cap(w.shards[0]))
	}
	if w.config.MaxWaitTime != 10*time.Millisecond {
		t.Errorf("Expected MaxWaitTime 10ms, got %v", w.config.MaxWaitTime)
	}
}

func TestAsyncWriter_WriteAndFlush(t *testing.T) {
	layer := mock.NewLayer("L3-redis")
	w := New(layer, Config{Workers: 1}, nil, nil)
	defer w.Close()

	payload := []byte(`{"balance":1500}`)
	if err := w.Write(context.Background(), "dashboard-stats", payload, time.Minute); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	payload[0] = 'X'

	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got, err := layer.Get(context.Background(), "dashboard-stats")
	if err != nil {
		t.Fatalf("Expected payload written, got %v", err)
	}
	if string(got) != `{"balance":1500}` {
		t.Errorf("Writer did not copy the payload, got %s", got)
	}
	if layer.TTL("dashboard-stats") != time.Minute {
		t.Errorf("Expected ttl 1m, got %v", layer.TTL("dashboard-stats"))
	}

	stats := w.Stats()
	if stats.TotalWrites != 1 || stats.Pending != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestAsyncWriter_PerKeyOrdering(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	layer := mock.NewLayer("L2")
	layer.SetFunc = func(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
		if key == "investment:1" {
			mu.Lock()
			seen = append(seen, string(payload))
			mu.Unlock()
		}
		return nil
	}

	w := New(layer, Config{Workers: 4, QueueSize: 512}, nil, nil)
	defer w.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		w.Write(ctx, "investment:1", []byte(fmt.Sprint(i)), time.Minute)
		w.Write(ctx, fmt.Sprintf("other:%d", i), []byte("x"), time.Minute)
	}
	if err := w.Flush(2 * time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 100 {
		t.Fatalf("Expected 100 writes for investment:1, got %d", len(seen))
	}
	for i, v := range seen {
		if v != fmt.Sprint(i) {
			t.Fatalf("Write %d applied out of order: %s", i, v)
		}
	}
}

func TestAsyncWriter_Backpressure(t *testing.T) {
	release := make(chan struct{})
	layer := mock.NewLayer("slow")
	layer.SetFunc = func(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
		<-release
		return nil
	}
	collector := metricsmem.NewMemoryCollector()

	w := New(layer, Config{Workers: 1, QueueSize: 1, MaxWaitTime: 5 * time.Millisecond}, collector, nil)

	ctx := context.Background()
	var dropped int
	for i := 0; i < 5; i++ {
		if err := w.Write(ctx, "goals", []byte("[]"), time.Minute); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	close(release)
	w.Close()

	if dropped == 0 {
		t.Fatal("Expected some writes to be dropped")
	}
	if got := w.Stats().DroppedWrites; got != int64(dropped) {
		t.Errorf("Expected %d dropped in stats, got %d", dropped, got)
	}
	if got := collector.Layer("slow").DroppedWrites; got != int64(dropped) {
		t.Errorf("Expected %d dropped in metrics, got %d", dropped, got)
	}
}

func TestAsyncWriter_FailedWrites(t *testing.T) {
	layer := mock.NewFailingLayer("broken", errors.New("redis: connection refused"))
	w := New(layer, Config{Workers: 1}, nil, nil)
	defer w.Close()

	w.Write(context.Background(), "categories", []byte("[]"), time.Minute)
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if got := w.Stats().FailedWrites; got != 1 {
		t.Errorf("Expected 1 failed write, got %d", got)
	}
}

func TestAsyncWriter_Closed(t *testing.T) {
	w := New(mock.NewLayer("L1"), Config{}, nil, nil)
	w.Close()

	if err := w.Write(context.Background(), "k", []byte("v"), 0); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close returned %v", err)
	}
}

func TestAsyncWriter_CloseDrainsQueue(t *testing.T) {
	layer := mock.NewLayer("L1")
	w := New(layer, Config{Workers: 2}, nil, nil)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		w.Write(ctx, fmt.Sprintf("transaction:%d", i), []byte("{}"), time.Minute)
	}
	w.Close()

	if layer.SetCalls() != 50 {
		t.Errorf("Expected 50 writes applied on close, got %d", layer.SetCalls())
	}
}

func TestAsyncWriter_CancelledContext(t *testing.T) {
	w := New(mock.NewLayer("L1"), Config{}, nil, nil)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Write(ctx, "k", []byte("v"), 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// slowLayer stores into backing after a delay, like a remote layer.
func slowLayer(name string, backing *mock.Layer, delay time.Duration) *mock.Layer {
	l := mock.NewLayer(name)
	l.GetFunc = backing.Get
	l.DeleteFunc = backing.Delete
	l.SetFunc = func(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
		time.Sleep(delay)
		return backing.Set(ctx, key, payload, ttl)
	}
	return l
}

func TestAsyncWriter_DeleteAfterQueuedWrite(t *testing.T) {
	backing := mock.NewLayer("sqlite")
	w := New(slowLayer("sqlite", backing, 50*time.Millisecond), Config{Workers: 1}, nil, nil)
	defer w.Close()

	ctx := context.Background()
	if err := w.Write(ctx, "transactions", []byte(`["old"]`), time.Minute); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Delete(ctx, "transactions"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if backing.Has("transactions") {
		t.Error("Queued write landed after the delete")
	}
	if backing.SetCalls() != 1 {
		t.Errorf("Expected the queued write to be applied first, got %d sets", backing.SetCalls())
	}
	if w.Stats().Pending != 0 {
		t.Errorf("Expected nothing pending, got %d", w.Stats().Pending)
	}
}

func TestAsyncWriter_DeleteReportsLayerError(t *testing.T) {
	boom := errors.New("database is locked")
	layer := mock.NewLayer("sqlite")
	layer.DeleteFunc = func(context.Context, string) error { return boom }

	w := New(layer, Config{}, nil, nil)
	defer w.Close()

	if err := w.Delete(context.Background(), "goals"); !errors.Is(err, boom) {
		t.Errorf("Expected layer error, got %v", err)
	}
}

func TestAsyncWriter_DeleteClosed(t *testing.T) {
	w := New(mock.NewLayer("L1"), Config{}, nil, nil)
	w.Close()

	if err := w.Delete(context.Background(), "goals"); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
}
