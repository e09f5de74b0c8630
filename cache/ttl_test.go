package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTTLCachePutGet(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Put("a", 1)

	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected a=1, got %d (ok=%v)", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Insertions != 1 || stats.Size != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[string, string](WithClock(clock.Now))

	c.PutWithTTL("k", "v", time.Second)
	clock.Advance(2 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry to be absent")
	}
	if c.Contains("k") {
		t.Fatalf("expected contains to be false after expiry")
	}
	stats := c.Stats()
	if stats.Expirations != 1 {
		t.Errorf("expected 1 expiration, got %d", stats.Expirations)
	}
	if stats.Size != 0 {
		t.Errorf("expected empty cache, got size %d", stats.Size)
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[string, string](WithClock(clock.Now))

	c.PutWithTTL("k", "v", 0)
	clock.Advance(100 * 365 * 24 * time.Hour)

	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected entry without ttl to survive, got %q (ok=%v)", v, ok)
	}
}

func TestTTLCacheEvictsSoonestExpiry(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[string, int](WithClock(clock.Now), WithMaxSize(3))

	c.PutWithTTL("long", 1, time.Hour)
	c.PutWithTTL("short", 2, time.Minute)
	c.PutWithTTL("forever", 3, 0)

	c.PutWithTTL("new", 4, time.Hour)

	if c.Contains("short") {
		t.Errorf("expected entry with soonest expiry to be evicted")
	}
	for _, k := range []string{"long", "forever", "new"} {
		if !c.Contains(k) {
			t.Errorf("expected %q to survive eviction", k)
		}
	}
	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected exactly 1 eviction, got %d", stats.Evictions)
	}
	if stats.Size != 3 {
		t.Errorf("expected size 3, got %d", stats.Size)
	}
}

func TestTTLCacheOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c := NewTTLCache[string, int](WithMaxSize(2))
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)

	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("expected overwrite, got %d", v)
	}
	if stats := c.Stats(); stats.Evictions != 0 || stats.Insertions != 3 {
		t.Errorf("unexpected stats after overwrite: %+v", stats)
	}
}

func TestTTLCachePutSweepsExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewTTLCache[string, int](WithClock(clock.Now), WithMaxSize(2))

	c.PutWithTTL("a", 1, time.Second)
	c.PutWithTTL("b", 2, time.Second)
	clock.Advance(time.Minute)
	c.Put("c", 3)

	stats := c.Stats()
	if stats.Evictions != 0 {
		t.Errorf("expired entries must not count as evictions, got %d", stats.Evictions)
	}
	if stats.Expirations != 2 {
		t.Errorf("expected 2 expirations, got %d", stats.Expirations)
	}
	if stats.Size != 1 {
		t.Errorf("expected size 1, got %d", stats.Size)
	}
}

func TestTTLCacheRemoveAndClear(t *testing.T) {
	c := NewTTLCache[int, int]()
	c.Put(1, 1)
	c.Put(2, 2)

	if !c.Remove(1) {
		t.Errorf("expected remove to report presence")
	}
	if c.Remove(1) {
		t.Errorf("expected second remove to report absence")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d", c.Len())
	}
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[string, int](WithMaxSize(50))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k-%d", (worker*200+j)%80)
				c.Put(key, j)
				c.Get(key)
				c.Contains(key)
			}
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	if stats.Size > 50 {
		t.Fatalf("cache exceeded capacity: %d", stats.Size)
	}
	if stats.Hits+stats.Misses != 16*200 {
		t.Errorf("expected %d lookups, got %d", 16*200, stats.Hits+stats.Misses)
	}
}
