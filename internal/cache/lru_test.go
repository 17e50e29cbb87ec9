package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a")
	}
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("a should survive, got %q ok=%v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", "1")
	clk.advance(30 * time.Second)
	c.Set("b", "2")
	clk.advance(45 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should have expired")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatalf("b should still be live")
	}

	clk.advance(time.Minute)
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}
}

func TestLRUDeleteAndStats(t *testing.T) {
	c, _ := newTestCache(4, time.Minute)
	c.Set("u1", "summary")
	if !c.Delete("u1") {
		t.Fatalf("expected delete to report presence")
	}
	if c.Delete("u1") {
		t.Fatalf("second delete should report absence")
	}
	c.Get("u1")
	c.Set("u1", "fresh")
	c.Get("u1")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Size != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestJanitorSweep(t *testing.T) {
	a, clk := newTestCache(4, time.Second)
	b, _ := newTestCache(4, time.Second)
	b.now = clk.now
	a.Set("x", "1")
	b.Set("y", "2")
	clk.advance(2 * time.Second)

	j := NewJanitor(a)
	j.Register(b)
	if n := j.Sweep(); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
}
