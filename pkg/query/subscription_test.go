package query

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor reads updates until match returns true.
func waitFor(t *testing.T, updates <-chan Update, match func(Update) bool) Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				t.Fatal("Updates closed")
			}
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatal("Timed out waiting for update")
		}
	}
}

func TestSubscribe_FetchesOnMount(t *testing.T) {
	h := newHarness(t, Config{})

	var calls int32
	sub, err := h.client.Subscribe(Query{Key: Key{"goals"}, Fetch: counter(&calls), StaleTime: time.Minute})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	u := waitFor(t, sub.Updates(), func(u Update) bool { return u.State == StateFresh })
	if string(u.Data) != "1" {
		t.Errorf("Expected payload 1, got %s", u.Data)
	}
}

func TestSubscribe_InvalidationRefetchesActiveKeys(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	var calls int32
	q := Query{Key: Key{"transactions"}, Fetch: counter(&calls), StaleTime: 2 * time.Minute}
	sub, err := h.client.Subscribe(q)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	waitFor(t, sub.Updates(), func(u Update) bool { return string(u.Data) == "1" })

	if _, err := h.client.Invalidate(ctx, Key{"transactions"}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	waitFor(t, sub.Updates(), func(u Update) bool { return string(u.Data) == "2" && u.State == StateFresh })
	if rm := h.metrics.Resource("transactions"); rm.Refetches != 1 {
		t.Errorf("Expected 1 refetch recorded, got %d", rm.Refetches)
	}
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	h := newHarness(t, Config{})

	release := make(chan struct{})
	var calls int32
	q := Query{
		Key: Key{"categories"},
		Fetch: func(ctx context.Context) ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return []byte("[]"), nil
		},
		StaleTime: time.Minute,
	}
	sub, err := h.client.Subscribe(q)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub.Unsubscribe()
	close(release)

	for range sub.Updates() {
	}

	deadline := time.Now().Add(time.Second)
	for h.client.State(q.Key) != StateFresh {
		if time.Now().After(deadline) {
			t.Fatalf("In-flight fetch should still populate the cache, state %s", h.client.State(q.Key))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribe_CloseEndsSubscriptions(t *testing.T) {
	h := newHarness(t, Config{})

	sub, err := h.client.Subscribe(Query{Key: Key{"health"}, Fetch: counter(new(int32))})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	h.client.Close()

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("Updates not closed by Client.Close")
		}
	}
}

func TestWatch_Polls(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	updates, err := h.client.Watch(ctx, Query{Key: Key{"health"}, Fetch: counter(&calls), Retry: -1}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	waitFor(t, updates, func(u Update) bool { return atomic.LoadInt32(&calls) >= 3 })
	cancel()

	for range updates {
	}
}
