package rate

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New().WithClock(clock.now), clock
}

func TestLimiterSlidingWindow(t *testing.T) {
	l, clock := newTestLimiter()
	const key = "u1|POST|/api/flashcards"
	window := 60 * time.Second

	for i := 0; i < 3; i++ {
		if d := l.Allow(key, 3, window); !d.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}

	clock.advance(10 * time.Millisecond)
	d := l.Allow(key, 3, window)
	if d.Allowed {
		t.Fatal("fourth request must be denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", d.Remaining)
	}
	if want := window - 10*time.Millisecond; d.RetryAfter != want {
		t.Fatalf("expected retry after %s, got %s", want, d.RetryAfter)
	}

	clock.advance(61*time.Second - 10*time.Millisecond)
	if d := l.Allow(key, 3, window); !d.Allowed {
		t.Fatal("request after window rollover must be allowed")
	}
}

func TestLimiterWindowBoundary(t *testing.T) {
	l, clock := newTestLimiter()
	window := 60 * time.Second

	for i := 0; i < 3; i++ {
		l.Allow("edge", 3, window)
	}

	clock.advance(window)
	if d := l.Allow("edge", 3, window); d.Allowed {
		t.Fatal("hits exactly one window old must still count")
	}
	if got := l.Remaining("edge", 3, window); got != 0 {
		t.Fatalf("expected 0 remaining at the boundary, got %d", got)
	}

	clock.advance(time.Millisecond)
	if d := l.Allow("edge", 3, window); !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expected the window to reopen past the boundary, got %+v", d)
	}
}

func TestLimiterRejectsInvalidPolicy(t *testing.T) {
	l, _ := newTestLimiter()
	cases := []struct {
		name  string
		limit int
		span  time.Duration
	}{
		{"negative limit", -1, time.Minute},
		{"zero limit", 0, time.Minute},
		{"zero window", 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := l.Allow("bad", tc.limit, tc.span); d.Allowed {
				t.Fatalf("expected denial, got %+v", d)
			}
		})
	}
	if l.Len() != 0 {
		t.Fatalf("invalid policies must not create windows, got %d", l.Len())
	}
}

func TestLimiterDeniedAttemptsDoNotConsumeBudget(t *testing.T) {
	l, clock := newTestLimiter()
	window := time.Second

	l.Allow("k", 1, window)
	for i := 0; i < 10; i++ {
		clock.advance(50 * time.Millisecond)
		if d := l.Allow("k", 1, window); d.Allowed {
			t.Fatalf("attempt %d should be denied", i)
		}
	}

	// Only the first hit is recorded, so the window opens one second after it.
	clock.advance(501 * time.Millisecond)
	if d := l.Allow("k", 1, window); !d.Allowed {
		t.Fatal("expected window to reopen")
	}
}

func TestLimiterRemaining(t *testing.T) {
	l, _ := newTestLimiter()
	for k := 0; k <= 5; k++ {
		if got := l.Remaining("r", 5, time.Minute); got != 5-k {
			t.Fatalf("after %d allowed: remaining %d", k, got)
		}
		l.Allow("r", 5, time.Minute)
	}
	l.Allow("r", 5, time.Minute)
	if got := l.Remaining("r", 5, time.Minute); got != 0 {
		t.Fatalf("expected 0 remaining once exhausted, got %d", got)
	}
}

func TestLimiterResetTime(t *testing.T) {
	l, clock := newTestLimiter()
	start := clock.t

	if got := l.ResetTime("x", time.Minute); !got.Equal(start) {
		t.Fatalf("empty window must reset now, got %s", got)
	}

	l.Allow("x", 10, time.Minute)
	clock.advance(20 * time.Second)
	l.Allow("x", 10, time.Minute)

	if got := l.ResetTime("x", time.Minute); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("reset must follow the oldest hit, got %s", got)
	}

	clock.advance(41 * time.Second)
	if got := l.ResetTime("x", time.Minute); !got.Equal(start.Add(80 * time.Second)) {
		t.Fatalf("reset after pruning, got %s", got)
	}
}

func TestLimiterCheck(t *testing.T) {
	l, _ := newTestLimiter()
	if err := l.Check("c", 1, time.Minute); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := l.Check("c", 1, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Check("c", 0, time.Minute); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestLimiterSweep(t *testing.T) {
	l, clock := newTestLimiter()
	l.Allow("short", 5, time.Second)
	l.Allow("long", 5, time.Hour)

	clock.advance(2 * time.Second)
	if n := l.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", l.Len())
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestPolicyFor(t *testing.T) {
	cases := []struct {
		route, method string
		want          Tier
	}{
		{"/api/flashcards", http.MethodGet, TierRead},
		{"/api/flashcards", http.MethodHead, TierRead},
		{"/api/flashcards", http.MethodPost, TierWrite},
		{"/api/flashcards/42", http.MethodDelete, TierWrite},
		{"/api/flashcards/batch", http.MethodPost, TierBatch},
		{"/api/flashcards/bulk", http.MethodPut, TierBatch},
		{"/api/generations", http.MethodPost, TierAI},
		{"/api/generations", http.MethodGet, TierAI},
		{"/api/ai/suggest", http.MethodPost, TierAI},
	}
	for _, tc := range cases {
		got := PolicyFor(tc.route, tc.method)
		if got.Tier != tc.want {
			t.Errorf("%s %s: got %s want %s", tc.method, tc.route, got.Tier, tc.want)
		}
	}

	read, _ := PolicyOf(TierRead)
	ai, _ := PolicyOf(TierAI)
	if read.Limit <= ai.Limit {
		t.Fatal("read tier must be more generous than the AI tier")
	}
}

func TestKeyScopesMethod(t *testing.T) {
	if Key("u", "/api/x", "get") == Key("u", "/api/x", "POST") {
		t.Fatal("methods must produce different keys")
	}
	if Key("u", "/api/x", "get") != Key("u", "/api/x", "GET") {
		t.Fatal("method must be case-insensitive")
	}
}

func TestShapeCollapsesIdentifiers(t *testing.T) {
	cases := []struct{ route, want string }{
		{"/api/flashcards", "/api/flashcards"},
		{"/api/flashcards/42", "/api/flashcards/:id"},
		{"/api/decks/7/cards/9", "/api/decks/:id/cards/:id"},
		{"/api/flashcards/3f2b8c1e-8f4a-4c55-9d2e-5b7a1f0c6d11", "/api/flashcards/:id"},
		{"/api/flashcards/01HZX3K9Q7M2N8P4R6T0V5W1YA", "/api/flashcards/:id"},
		{"/api/flashcards/batch", "/api/flashcards/batch"},
		{"/api/v2/decks", "/api/v2/decks"},
		{"/api/ai/suggest-translations", "/api/ai/suggest-translations"},
	}
	for _, tc := range cases {
		if got := Shape(tc.route); got != tc.want {
			t.Errorf("Shape(%q) = %q, want %q", tc.route, got, tc.want)
		}
	}

	if Key("u", "/api/flashcards/1", "DELETE") != Key("u", "/api/flashcards/2", "DELETE") {
		t.Fatal("resources under one route must share a key")
	}
}
