package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisConfig{URL: "redis://" + mr.Addr() + "/0"})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_Counters(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	n, err := s.Incr(ctx, "daily:a@x.io")
	if err != nil || n != 1 {
		t.Fatalf("Incr() = %d, %v", n, err)
	}
	if err := s.Expire(ctx, "daily:a@x.io", 24*time.Hour); err != nil {
		t.Fatalf("Expire() error = %v", err)
	}
	if ttl := mr.TTL("daily:a@x.io"); ttl != 24*time.Hour {
		t.Errorf("TTL = %v, want 24h", ttl)
	}

	mr.FastForward(24 * time.Hour)
	n, _ = s.Incr(ctx, "daily:a@x.io")
	if n != 1 {
		t.Errorf("Incr() after expiry = %d, want 1", n)
	}
}

func TestRedisStore_LockAndCache(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	ok, err := s.SetNX(ctx, "lock:a", "1", 3*time.Second)
	if err != nil || !ok {
		t.Fatalf("SetNX() = %v, %v", ok, err)
	}
	ok, _ = s.SetNX(ctx, "lock:a", "1", 3*time.Second)
	if ok {
		t.Error("expected lock to be held")
	}

	if _, found, err := s.Get(ctx, "cache:k"); err != nil || found {
		t.Fatalf("Get() on miss = %v, %v", found, err)
	}
	if err := s.SetEx(ctx, "cache:k", "v", time.Hour); err != nil {
		t.Fatalf("SetEx() error = %v", err)
	}
	v, found, _ := s.Get(ctx, "cache:k")
	if !found || v != "v" {
		t.Errorf("Get() = %q, %v", v, found)
	}
	if ttl := mr.TTL("cache:k"); ttl != time.Hour {
		t.Errorf("cache TTL = %v", ttl)
	}
}

func TestRedisStore_SetsAndScan(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)

	if n, _ := s.SAdd(ctx, AllowListKey, "a@x.io"); n != 1 {
		t.Errorf("SAdd() = %d", n)
	}
	if n, _ := s.SAdd(ctx, AllowListKey, "a@x.io"); n != 0 {
		t.Errorf("duplicate SAdd() = %d", n)
	}
	if ok, _ := s.SIsMember(ctx, AllowListKey, "a@x.io"); !ok {
		t.Error("expected member")
	}
	members, _ := s.SMembers(ctx, AllowListKey)
	if len(members) != 1 {
		t.Errorf("SMembers() = %v", members)
	}

	s.Incr(ctx, "daily:a@x.io")
	s.Incr(ctx, "daily:b@x.io")
	s.Incr(ctx, "minute:a@x.io")
	keys, err := s.Scan(ctx, DailyScanPattern)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Scan() = %v, want 2 keys", keys)
	}
}

func TestWaitReady(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := WaitReady(ctx, s, 2*time.Second); err != nil {
		t.Errorf("WaitReady() error = %v", err)
	}
}

func TestRedisStore_IncrExpire(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	for want := int64(1); want <= 3; want++ {
		n, err := s.IncrExpire(ctx, "minute:a@x.io", time.Minute)
		if err != nil {
			t.Fatalf("IncrExpire() error = %v", err)
		}
		if n != want {
			t.Errorf("IncrExpire() = %d, want %d", n, want)
		}
	}
	if ttl := mr.TTL("minute:a@x.io"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	mr.FastForward(time.Minute)
	if n, _ := s.IncrExpire(ctx, "minute:a@x.io", time.Minute); n != 1 {
		t.Errorf("IncrExpire() after window = %d, want 1", n)
	}
}
