package cache

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(max int) *TTLCache {
	return New(Options{
		MaxEntries:    max,
		SweepInterval: 10 * time.Millisecond,
		Grace:         30 * time.Millisecond,
	})
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(0)
	defer c.Stop()

	c.Set("quote:AAPL", 180.5, time.Minute)

	got, ok := c.Get("quote:AAPL")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.(float64) != 180.5 {
		t.Errorf("got %v", got)
	}

	if _, ok := c.Get("quote:MSFT"); ok {
		t.Error("absent key should miss")
	}
}

func TestGetMissesAfterExpiry(t *testing.T) {
	c := newTestCache(0)
	defer c.Stop()

	c.Set("k", "v", 20*time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry should hit")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry must miss via Get")
	}
	// GetEntry ignores expiry.
	if _, ok := c.GetEntry("k"); !ok {
		t.Error("GetEntry should still see the expired entry")
	}
}

func TestGetWithStaleWindows(t *testing.T) {
	c := New(Options{SweepInterval: time.Hour, Grace: time.Hour})
	defer c.Stop()

	c.Set("k", 42, 20*time.Millisecond)

	v, stale, ok := c.GetWithStale("k", time.Second)
	if !ok || stale {
		t.Fatalf("fresh read: ok=%v stale=%v", ok, stale)
	}
	if v.(int) != 42 {
		t.Errorf("value = %v", v)
	}

	time.Sleep(30 * time.Millisecond)

	_, stale, ok = c.GetWithStale("k", time.Second)
	if !ok || !stale {
		t.Fatalf("within stale window: ok=%v stale=%v", ok, stale)
	}

	_, _, ok = c.GetWithStale("k", time.Millisecond)
	if ok {
		t.Error("beyond stale window should miss")
	}
}

func TestEntryInvariant(t *testing.T) {
	c := newTestCache(0)
	defer c.Stop()

	c.Set("k", "v", time.Minute)
	entry, _ := c.GetEntry("k")
	if entry.ExpiresAt.Before(entry.StoredAt) {
		t.Error("expiresAt must not precede storedAt")
	}
}

func TestBoundedEvictsEarliestDeadline(t *testing.T) {
	c := New(Options{MaxEntries: 3, SweepInterval: time.Hour, Grace: time.Hour})
	defer c.Stop()

	c.Set("short", 1, 10*time.Second)
	c.Set("mid", 2, time.Minute)
	c.Set("long", 3, time.Hour)
	c.Set("new", 4, 30*time.Minute)

	if _, ok := c.Get("short"); ok {
		t.Error("earliest-deadline entry should have been evicted")
	}
	for _, key := range []string{"mid", "long", "new"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should survive eviction", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("len = %d", c.Len())
	}
}

func TestOverwriteAtCapacityKeepsKey(t *testing.T) {
	c := New(Options{MaxEntries: 2, SweepInterval: time.Hour, Grace: time.Hour})
	defer c.Stop()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Hour)
	c.Set("a", 10, time.Minute) // overwrite must not evict b

	if _, ok := c.Get("b"); !ok {
		t.Error("overwrite of an existing key should not evict others")
	}
	if v, _ := c.Get("a"); v.(int) != 10 {
		t.Error("later set wins")
	}
}

func TestSweepDropsOnlyPastGrace(t *testing.T) {
	c := newTestCache(0) // sweep 10ms, grace 30ms
	defer c.Stop()

	c.Set("old", 1, 10*time.Millisecond)
	c.Set("fresh", 2, time.Hour)

	time.Sleep(70 * time.Millisecond)

	if _, ok := c.GetEntry("old"); ok {
		t.Error("entry past expiry+grace should be swept")
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("sweep must never remove a fresh entry")
	}
}

func TestLenCountsExpired(t *testing.T) {
	c := New(Options{SweepInterval: time.Hour, Grace: time.Hour})
	defer c.Stop()

	c.Set("a", 1, 5*time.Millisecond)
	c.Set("b", 2, time.Hour)
	time.Sleep(10 * time.Millisecond)

	if c.Len() != 2 {
		t.Errorf("Len should count expired entries until swept, got %d", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(100)
	defer c.Stop()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%50)
				c.Set(key, n, time.Minute)
				c.Get(key)
				c.GetWithStale(key, time.Second)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
