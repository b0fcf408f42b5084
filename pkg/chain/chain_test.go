package chain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finance-client/pkg/cache"
	"finance-client/pkg/cache/mock"
	"finance-client/pkg/resilience"
	metricsmem "finance-client/pkg/metrics/memory"
)

func newChain(t *testing.T, config Config, layers ...cache.Layer) *Chain {
	t.Helper()
	c, err := New(config, layers...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error for empty chain")
	}

	c := newChain(t, Config{}, mock.NewLayer("L1"), mock.NewLayer("L2"))
	if c.Len() != 2 {
		t.Errorf("Expected 2 layers, got %d", c.Len())
	}
	if c.String() != "chain(2 layers): L1 -> L2" {
		t.Errorf("Unexpected String(): %q", c.String())
	}
}

func TestChain_Get_L1Hit(t *testing.T) {
	l1, l2 := mock.NewLayer("L1"), mock.NewLayer("L2")
	ctx := context.Background()
	l1.Set(ctx, "categories", []byte("[]"), time.Minute)

	c := newChain(t, Config{}, l1, l2)

	got, err := c.Get(ctx, "categories")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("Expected [], got %s", got)
	}
	if l2.GetCalls() != 0 {
		t.Errorf("L2 should not be consulted on an L1 hit, got %d calls", l2.GetCalls())
	}
}

func TestChain_Get_L2HitWarmsL1(t *testing.T) {
	l1, l2 := mock.NewLayer("L1"), mock.NewLayer("L2")
	ctx := context.Background()
	l2.Set(ctx, "goals", []byte(`[{"id":1}]`), time.Hour)

	collector := metricsmem.NewMemoryCollector()
	c := newChain(t, Config{Metrics: collector}, l1, l2)

	got, err := c.Get(ctx, "goals")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `[{"id":1}]` {
		t.Errorf("Unexpected payload %s", got)
	}

	if err := c.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !l1.Has("goals") {
		t.Error("Expected L1 to be warmed after L2 hit")
	}
	if hits := collector.Snapshot().ChainHitsByLayer[1]; hits != 1 {
		t.Errorf("Expected 1 chain hit at layer 1, got %d", hits)
	}
}

func TestChain_Get_AllMiss(t *testing.T) {
	c := newChain(t, Config{}, mock.NewLayer("L1"), mock.NewLayer("L2"))

	if _, err := c.Get(context.Background(), "missing"); !cache.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestChain_Get_FailingLayerReadsAsMiss(t *testing.T) {
	broken := mock.NewFailingLayer("L2-redis", errors.New("dial tcp: connection refused"))
	c := newChain(t, Config{}, mock.NewLayer("L1"), broken)

	if _, err := c.Get(context.Background(), "transactions"); !cache.IsNotFound(err) {
		t.Errorf("Expected miss when L2 is down, got %v", err)
	}
}

func TestChain_Get_SingleFlight(t *testing.T) {
	var calls int32
	l1 := mock.NewLayer("L1")
	l1.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return []byte("{}"), nil
	}
	c := newChain(t, Config{}, l1)

	var wg sync.WaitGroup
	results := make([][]byte, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(context.Background(), "dashboard-stats")
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 layer call, got %d", n)
	}

	results[0][0] = 'X'
	if string(results[1]) != "{}" {
		t.Error("Callers share the same payload slice")
	}
}

func TestChain_Set_WritesBehind(t *testing.T) {
	l1, l2 := mock.NewLayer("L1"), mock.NewLayer("L2")
	c := newChain(t, Config{TTL: MultipliedTTL{1, 4}}, l1, l2)

	ctx := context.Background()
	if err := c.Set(ctx, "investments", []byte("[]"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !l1.Has("investments") {
		t.Fatal("Expected L1 write before Set returns")
	}

	if err := c.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !l2.Has("investments") {
		t.Fatal("Expected L2 write after flush")
	}
	if l1.TTL("investments") != time.Minute || l2.TTL("investments") != 4*time.Minute {
		t.Errorf("Unexpected TTLs L1=%v L2=%v", l1.TTL("investments"), l2.TTL("investments"))
	}
}

func TestChain_Set_L2FailureIsNotReturned(t *testing.T) {
	broken := mock.NewFailingLayer("L2", errors.New("redis: connection refused"))
	c := newChain(t, Config{}, mock.NewLayer("L1"), broken)

	if err := c.Set(context.Background(), "goals", []byte("[]"), time.Minute); err != nil {
		t.Errorf("Expected L2 failure to stay out of Set, got %v", err)
	}
}

func TestChain_Delete(t *testing.T) {
	l1, l2 := mock.NewLayer("L1"), mock.NewLayer("L2")
	ctx := context.Background()
	l1.Set(ctx, "user-profile", []byte("{}"), time.Minute)
	l2.Set(ctx, "user-profile", []byte("{}"), time.Minute)

	c := newChain(t, Config{}, l1, l2)
	if err := c.Delete(ctx, "user-profile"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if l1.Has("user-profile") || l2.Has("user-profile") {
		t.Error("Expected key removed from every layer")
	}
}

func TestChain_Delete_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	l2 := mock.NewLayer("L2")
	l2.DeleteFunc = func(ctx context.Context, key string) error { return boom }

	c := newChain(t, Config{}, mock.NewLayer("L1"), l2)
	err := c.Delete(context.Background(), "k")
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to wrap boom, got %v", err)
	}
}

func TestChain_DeleteOutlastsQueuedWriteBehind(t *testing.T) {
	// sqlite file shared by two processes; its writes are slow.
	shared := mock.NewLayer("sqlite")
	slow := mock.NewLayer("sqlite")
	slow.GetFunc = shared.Get
	slow.DeleteFunc = shared.Delete
	slow.SetFunc = func(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
		time.Sleep(50 * time.Millisecond)
		return shared.Set(ctx, key, payload, ttl)
	}

	ctx := context.Background()
	first := newChain(t, Config{}, mock.NewLayer("L1-memory"), slow)
	if err := first.Set(ctx, "transactions", []byte(`["old"]`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Delete(ctx, "transactions"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := first.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	second := newChain(t, Config{}, mock.NewLayer("L1-memory"), slow)
	if _, err := second.Get(ctx, "transactions"); !cache.IsNotFound(err) {
		t.Errorf("Expected the deleted payload to stay gone, got err=%v", err)
	}
	if shared.SetCalls() != 1 {
		t.Errorf("Expected the write-behind to have run, got %d sets", shared.SetCalls())
	}
}

func TestChain_DeleteAfterClose(t *testing.T) {
	l1 := mock.NewLayer("L1")
	l1.Set(context.Background(), "goals", []byte("[]"), time.Minute)

	c, err := New(Config{}, l1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.Close()

	if err := c.Delete(context.Background(), "goals"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if l1.Has("goals") {
		t.Error("Expected direct delete once the writers are closed")
	}
}

func TestChain_Keys(t *testing.T) {
	l1, l2 := mock.NewLayer("L1"), mock.NewLayer("L2")
	ctx := context.Background()
	l1.Set(ctx, "chart-data:30d", []byte("{}"), time.Minute)
	l2.Set(ctx, "chart-data:30d", []byte("{}"), time.Minute)
	l2.Set(ctx, "chart-data:7d", []byte("{}"), time.Minute)
	l2.Set(ctx, "goals", []byte("[]"), time.Minute)

	c := newChain(t, Config{}, l1, l2)
	keys, err := c.Keys(ctx, "chart-data")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "chart-data:30d" || keys[1] != "chart-data:7d" {
		t.Errorf("Unexpected keys %v", keys)
	}
}

func TestChain_StatusReportsOpenCircuit(t *testing.T) {
	broken := mock.NewFailingLayer("L2-redis", errors.New("dial tcp: connection refused"))
	config := Config{
		Resilience: func(i int) resilience.Config {
			c := resilience.DefaultConfig()
			c.Breaker.ReadyToTrip = resilience.ConsecutiveFailures(2)
			return c
		},
	}
	c := newChain(t, config, mock.NewLayer("L1"), broken)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.Get(ctx, "investments")
	}

	status := c.Status()
	if status[1].Circuit != "open" {
		t.Errorf("Expected L2 circuit open, got %+v", status[1])
	}
	if status[0].Circuit != "closed" {
		t.Errorf("Expected L1 circuit closed, got %+v", status[0])
	}
}

func TestChain_Close(t *testing.T) {
	l1, l2 := mock.NewLayer("L1"), mock.NewLayer("L2")
	c, _ := New(Config{}, l1, l2)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if l1.CloseCalls() != 1 || l2.CloseCalls() != 1 {
		t.Errorf("Expected each layer closed once, got %d/%d", l1.CloseCalls(), l2.CloseCalls())
	}
}
