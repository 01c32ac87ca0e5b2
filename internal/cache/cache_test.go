package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(t *testing.T, at time.Time) (*Cache, *clock, Store) {
	t.Helper()
	g, err := NewGate("14:11")
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	clk := &clock{t: at}
	g.now = clk.now
	store := NewMemoryStore()
	return New(store, g), clk, store
}

func local(h, m int) time.Time { return time.Date(2024, 3, 1, h, m, 0, 0, time.Local) }

func TestGate_Stale(t *testing.T) {
	g, err := NewGate("14:11")
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	cases := []struct {
		name     string
		now      time.Time
		computed time.Time
		want     bool
	}{
		{name: "before cutoff serves old entry", now: local(14, 10), computed: local(9, 0).AddDate(0, 0, -3), want: false},
		{name: "at cutoff with old entry", now: local(14, 11), computed: local(14, 10), want: true},
		{name: "after cutoff with fresh entry", now: local(18, 0), computed: local(14, 30), want: false},
		{name: "after cutoff with yesterday entry", now: local(18, 0), computed: local(20, 0).AddDate(0, 0, -1), want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g.now = func() time.Time { return tc.now }
			if got := g.Stale(tc.computed); got != tc.want {
				t.Fatalf("Stale: want %v got %v", tc.want, got)
			}
		})
	}

	if _, err := NewGate("noon"); err == nil {
		t.Fatalf("expected error for malformed refresh time")
	}
}

func TestFetch_MissHitRefresh(t *testing.T) {
	c, clk, _ := newTestCache(t, local(10, 0))
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]string, error) {
		calls++
		return []string{"v", string(rune('0' + calls))}, nil
	}

	// miss computes
	v, err := Fetch(ctx, c, "last_trading_dates:10", compute)
	if err != nil || calls != 1 || v[1] != "1" {
		t.Fatalf("miss: v=%v calls=%d err=%v", v, calls, err)
	}
	// before cutoff: hit
	clk.t = local(14, 0)
	v, _ = Fetch(ctx, c, "last_trading_dates:10", compute)
	if calls != 1 || v[1] != "1" {
		t.Fatalf("hit: v=%v calls=%d", v, calls)
	}
	// past cutoff: recompute once
	clk.t = local(14, 15)
	v, _ = Fetch(ctx, c, "last_trading_dates:10", compute)
	if calls != 2 || v[1] != "2" {
		t.Fatalf("refresh: v=%v calls=%d", v, calls)
	}
	clk.t = local(16, 0)
	_, _ = Fetch(ctx, c, "last_trading_dates:10", compute)
	if calls != 2 {
		t.Fatalf("fresh entry must be served after refresh, calls=%d", calls)
	}
	// distinct params never share an entry
	_, _ = Fetch(ctx, c, "last_trading_dates:5", compute)
	if calls != 3 {
		t.Fatalf("distinct keys: calls=%d", calls)
	}
}

func TestFetch_Failures(t *testing.T) {
	c, clk, store := newTestCache(t, local(10, 0))
	ctx := context.Background()
	boom := errors.New("db down")

	// miss + failure surfaces the error
	_, err := Fetch(ctx, c, "dynamics:x", func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("miss failure: want boom got %v", err)
	}

	// stale + failure serves the stale value
	if _, err := Fetch(ctx, c, "dynamics:x", func(context.Context) (int, error) { return 7, nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clk.t = local(15, 0)
	v, err := Fetch(ctx, c, "dynamics:x", func(context.Context) (int, error) { return 0, boom })
	if err != nil || v != 7 {
		t.Fatalf("stale failure: v=%d err=%v", v, err)
	}

	// corrupt entry is treated as a miss
	store.Set("dynamics:y", []byte("{"))
	v, err = Fetch(ctx, c, "dynamics:y", func(context.Context) (int, error) { return 3, nil })
	if err != nil || v != 3 {
		t.Fatalf("corrupt entry: v=%d err=%v", v, err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	if _, ok := s.Get("k"); ok {
		t.Fatalf("empty store must miss")
	}
	s.Set("k", []byte("v"))
	if b, ok := s.Get("k"); !ok || string(b) != "v" {
		t.Fatalf("Get after Set: %q %v", b, ok)
	}
	s.Delete("k")
	if _, ok := s.Get("k"); ok {
		t.Fatalf("Get after Delete must miss")
	}
}

func TestKey(t *testing.T) {
	if Key("last_trading_dates") != "last_trading_dates" {
		t.Fatalf("bare key")
	}
	if got := Key("trading_results", "10", "A592", "", ""); got != "trading_results:10:A592::" {
		t.Fatalf("Key: got %q", got)
	}
	if Key("dynamics", "a:b", "c") == Key("dynamics", "a", "b:c") {
		t.Fatalf("separator inside a parameter must not collide")
	}
	if got := Key("dynamics", "A:1", "50%"); got != "dynamics:A%3A1:50%25" {
		t.Fatalf("escaped Key: got %q", got)
	}
}
