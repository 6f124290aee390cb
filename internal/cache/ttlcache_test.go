package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache(50 * time.Millisecond)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("round-1", `{"crash_point":"2.50"}`)
	v, ok := c.Get("round-1")
	if !ok || v != `{"crash_point":"2.50"}` {
		t.Fatalf("expected cached value, got %q ok=%v", v, ok)
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("round-1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestTTLCacheInvalidate(t *testing.T) {
	c := NewTTLCache(time.Minute)
	c.Set("k", "v")
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected invalidated entry to be gone")
	}
}

func TestTTLCacheSweepRemovesExpired(t *testing.T) {
	c := NewTTLCache(20 * time.Millisecond)
	c.Set("k", "v")
	time.Sleep(30 * time.Millisecond)
	c.sweep()
	if c.Size() != 0 {
		t.Fatalf("expected sweep to remove expired entry, size=%d", c.Size())
	}
}
