package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/flowgate/internal/adapter/tiered"
)

// memCache is a simple in-memory cache for testing. A non-nil err makes
// every operation fail.
type memCache struct {
	data   map[string][]byte
	err    error
	closed bool
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func (m *memCache) Close() { m.closed = true }

func TestTiered_L1Hit(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l1.data["history:q-1"] = []byte("exists")

	val, found, err := c.Get(context.Background(), "history:q-1")
	if err != nil || !found || string(val) != "exists" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l2.data["history:q-2"] = []byte("none")

	val, found, err := c.Get(context.Background(), "history:q-2")
	if err != nil || !found || string(val) != "none" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
	if string(l1.data["history:q-2"]) != "none" {
		t.Fatal("expected L1 backfill")
	}
}

func TestTiered_SetAndDeleteBoth(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; !ok {
		t.Fatal("expected k in L1")
	}
	if _, ok := l2.data["k"]; !ok {
		t.Fatal("expected k in L2")
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if len(l1.data)+len(l2.data) != 0 {
		t.Fatal("expected k deleted from both levels")
	}
}

func TestTiered_L2FailureDegrades(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.err = errors.New("nats: no responders")
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("L2 failure must read as a miss, got found=%v err=%v", found, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("L2 failure must not fail Set: %v", err)
	}
	if val, found, _ := c.Get(ctx, "k"); !found || string(val) != "v" {
		t.Fatal("L1 must still serve the value")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("L2 failure must not fail Delete: %v", err)
	}
}

func TestTiered_L1FailurePropagates(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l1.err = errors.New("boom")
	c := tiered.New(l1, l2, time.Minute)
	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected L1 error")
	}
}

func TestTiered_Close(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	tiered.New(l1, l2, time.Minute).Close()
	if !l1.closed || !l2.closed {
		t.Fatal("expected both levels closed")
	}
}
