package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"finance-client/pkg/cache"
	"finance-client/pkg/logging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "finance.db"), logging.NewNoOpLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_KeyValue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "authToken"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "authToken", "abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "authToken", "def"); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	got, err := s.Get(ctx, "authToken")
	if err != nil || got != "def" {
		t.Fatalf("Get = %q, %v; want def", got, err)
	}

	if err := s.Delete(ctx, "authToken"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "authToken"); err != nil {
		t.Errorf("Deleting a missing key should succeed, got %v", err)
	}
	if _, err := s.Get(ctx, "authToken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_ReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finance.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.Set(ctx, "authToken", "abc")
	s.Layer().Set(ctx, "q1:categories", []byte("[]"), time.Hour)
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()

	if got, _ := s.Get(ctx, "authToken"); got != "abc" {
		t.Errorf("Expected the token to survive, got %q", got)
	}
	if got, _ := s.Layer().Get(ctx, "q1:categories"); string(got) != "[]" {
		t.Errorf("Expected the payload to survive, got %q", got)
	}
}

func TestPayloadLayer(t *testing.T) {
	s := openTestStore(t)
	l := s.Layer()
	ctx := context.Background()

	if _, err := l.Get(ctx, "q1:goals"); !cache.IsNotFound(err) {
		t.Fatalf("Expected ErrKeyNotFound, got %v", err)
	}

	l.Set(ctx, "q1:goals", []byte(`[1]`), time.Minute)
	l.Set(ctx, "q1:goal:1", []byte(`{}`), time.Minute)
	l.Set(ctx, "q1:transactions", []byte(`[]`), time.Minute)

	got, err := l.Get(ctx, "q1:goals")
	if err != nil || string(got) != "[1]" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	keys, err := l.Keys(ctx, "q1:goal")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "q1:goal:1" || keys[1] != "q1:goals" {
		t.Errorf("Unexpected keys %v", keys)
	}

	if err := l.Delete(ctx, "q1:goals"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := l.Get(ctx, "q1:goals"); !cache.IsNotFound(err) {
		t.Errorf("Expected miss after delete, got %v", err)
	}

	if err := l.Set(ctx, " bad", []byte("x"), 0); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}

func TestPayloadLayer_Expiry(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	l := s.Layer()
	ctx := context.Background()

	l.Set(ctx, "q1:health-check", []byte(`{}`), time.Second)
	now = now.Add(2 * time.Second)

	if _, err := l.Get(ctx, "q1:health-check"); !cache.IsNotFound(err) {
		t.Errorf("Expected expired payload to miss, got %v", err)
	}
	if keys, _ := l.Keys(ctx, ""); len(keys) != 0 {
		t.Errorf("Expired keys should not be listed, got %v", keys)
	}
}
