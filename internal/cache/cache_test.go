package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kidsafe/guardian/internal/moderation"
)

func safeResult() moderation.Result {
	return moderation.SafeResult("test")
}

func TestGetSet(t *testing.T) {
	c := New(DefaultConfig())
	key := Fingerprint("hello teddy", 8, "en")

	if _, ok := c.Get(key); ok {
		t.Fatal("Get on empty cache reported a hit")
	}

	c.Set(key, safeResult())
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get after Set reported a miss")
	}
	if !got.Safe {
		t.Errorf("cached result = %+v, want safe", got)
	}

	counters := c.Counters()
	if counters.Hits != 1 || counters.Misses != 1 {
		t.Errorf("counters = %+v, want 1 hit / 1 miss", counters)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{TTL: 20 * time.Millisecond, MaxEntries: 10})
	key := Fingerprint("soon stale", 10, "en")

	c.Set(key, safeResult())
	if _, ok := c.Get(key); !ok {
		t.Fatal("entry missing before TTL")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Fatal("entry survived past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, len = %d", c.Len())
	}
	if got := c.Counters().Expired; got != 1 {
		t.Errorf("expired counter = %d, want 1", got)
	}
}

func TestCapacityInvariant(t *testing.T) {
	const max = 50
	c := New(Config{TTL: time.Hour, MaxEntries: max})

	for i := 0; i < 4*max; i++ {
		c.Set(Fingerprint(fmt.Sprintf("content-%d", i), 10, "en"), safeResult())
		if n := c.Len(); n > max {
			t.Fatalf("after %d sets, len = %d exceeds max %d", i+1, n, max)
		}
	}

	if c.Counters().Evictions == 0 {
		t.Error("no evictions recorded despite overfilling")
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	c := New(Config{TTL: time.Hour, MaxEntries: 10})

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("key-%d", i), safeResult())
		time.Sleep(time.Millisecond)
	}

	// The next Set must evict a batch starting with key-0.
	c.Set("key-new", safeResult())

	if _, ok := c.Get("key-0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get("key-new"); !ok {
		t.Error("new entry missing after eviction")
	}
	if _, ok := c.Get("key-9"); !ok {
		t.Error("newest pre-eviction entry was evicted")
	}
}

func TestEvictionPurgesExpiredFirst(t *testing.T) {
	c := New(Config{TTL: 15 * time.Millisecond, MaxEntries: 5})

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("old-%d", i), safeResult())
	}
	time.Sleep(30 * time.Millisecond)

	// All five entries are expired; this Set should reclaim their slots via
	// purge, not eviction.
	c.Set("fresh", safeResult())

	counters := c.Counters()
	if counters.Expired != 5 {
		t.Errorf("expired counter = %d, want 5", counters.Expired)
	}
	if counters.Evictions != 0 {
		t.Errorf("evictions = %d, want 0 (purge should have made room)", counters.Evictions)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry missing")
	}
}

func TestClear(t *testing.T) {
	c := New(DefaultConfig())
	c.Set("a", safeResult())
	c.Set("b", safeResult())

	if n := c.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Errorf("len after Clear = %d, want 0", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Config{TTL: time.Hour, MaxEntries: 100})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := Fingerprint(fmt.Sprintf("content-%d-%d", g, i%20), 10, "en")
				c.Set(key, safeResult())
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if n := c.Len(); n > 100 {
		t.Errorf("len = %d exceeds max after concurrent load", n)
	}
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint("Hello World", 8, "en")

	if Fingerprint("hello world", 8, "en") != base {
		t.Error("fingerprint is case-sensitive on content, want lowercased")
	}
	if Fingerprint("hello world", 8, "EN") != base {
		t.Error("fingerprint is case-sensitive on language, want lowercased")
	}
	if Fingerprint("Hello World", 9, "en") == base {
		t.Error("fingerprint ignores age")
	}
	if Fingerprint("Hello Worlds", 8, "en") == base {
		t.Error("fingerprint ignores content")
	}
	if Fingerprint("Hello World", 8, "es") == base {
		t.Error("fingerprint ignores language")
	}
	if len(base) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(base))
	}
}

func BenchmarkFingerprint(b *testing.B) {
	content := "hey, can we play a fun game about dinosaurs and then read a story?"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Fingerprint(content, 8, "en")
	}
}

func BenchmarkSetGet(b *testing.B) {
	c := New(DefaultConfig())
	keys := make([]string, 256)
	for i := range keys {
		keys[i] = Fingerprint(fmt.Sprintf("content-%d", i), 10, "en")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i%len(keys)]
		c.Set(k, moderation.Result{Safe: true})
		c.Get(k)
	}
}
