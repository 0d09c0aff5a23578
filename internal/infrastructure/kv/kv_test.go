package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisTest(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("expected value, got %q %v", v, ok)
	}
	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected key to expire")
	}

	if err := m.Set(ctx, "forever", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = now.Add(24 * 365 * time.Hour)
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Fatalf("ttl 0 must not expire")
	}

	if err := m.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete of missing key: %v", err)
	}
}

func TestRedis_NamespacedPerClientContext(t *testing.T) {
	rdb, mr, done := newRedisTest(t)
	defer done()
	ctx := context.Background()

	a := NewRedis(rdb, "ctx-a")
	b := NewRedis(rdb, "ctx-b")

	if err := a.Set(ctx, "customerAuthToken", "token-a", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "customerAuthToken"); ok {
		t.Fatalf("client contexts must not share keys")
	}
	if !mr.Exists("storefront:ctx-a:customerAuthToken") {
		t.Fatalf("unexpected key layout: %v", mr.Keys())
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := a.Get(ctx, "customerAuthToken"); ok {
		t.Fatalf("expected key to expire")
	}

	if err := a.Delete(ctx, "customerAuthToken"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := a.Delete(ctx, "customerAuthToken"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestRedis_GeneratesContextID(t *testing.T) {
	rdb, _, done := newRedisTest(t)
	defer done()

	a, b := NewRedis(rdb, ""), NewRedis(rdb, "")
	if a.ContextID() == "" || a.ContextID() == b.ContextID() {
		t.Fatalf("expected distinct generated context ids, got %q and %q", a.ContextID(), b.ContextID())
	}
}
