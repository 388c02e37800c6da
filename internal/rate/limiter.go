package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Decision is the outcome of one [Limiter.Allow] call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type window struct {
	hits []time.Time
	// span is the window length last used for the key; Sweep uses it to decide
	// whether the entry can be evicted.
	span time.Duration
}

// Limiter is a sliding-window counter keyed by arbitrary strings. It is safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New returns an empty limiter using the wall clock.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock replaces the clock, primarily for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Allow prunes the window for key and records a hit when fewer than limit hits
// remain. Denied attempts are not recorded. A non-positive limit or window
// denies without touching any state.
func (l *Limiter) Allow(key string, limit int, span time.Duration) Decision {
	now := l.now()
	if limit <= 0 || span <= 0 {
		return Decision{Limit: max(limit, 0), ResetAt: now}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		w = &window{hits: make([]time.Time, 0, limit)}
		l.windows[key] = w
	}
	w.span = span
	w.prune(now, span)

	d := Decision{Limit: limit}
	if len(w.hits) >= limit {
		d.ResetAt = w.resetAt(now, span)
		d.RetryAfter = d.ResetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
		return d
	}

	w.hits = append(w.hits, now)
	d.Allowed = true
	d.Remaining = limit - len(w.hits)
	d.ResetAt = w.resetAt(now, span)
	return d
}

// Check is Allow expressed as an error for callers that only need a yes or no.
func (l *Limiter) Check(key string, limit int, span time.Duration) error {
	if limit <= 0 || span <= 0 {
		return fmt.Errorf("%w: limit=%d window=%s", ErrInvalidPolicy, limit, span)
	}
	if d := l.Allow(key, limit, span); !d.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, d.RetryAfter)
	}
	return nil
}

// Remaining reports how many more requests key may make inside the window.
func (l *Limiter) Remaining(key string, limit int, span time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		return limit
	}
	w.prune(now, span)
	if left := limit - len(w.hits); left > 0 {
		return left
	}
	return 0
}

// ResetTime reports when the oldest hit for key leaves the window. An empty window
// resets now.
func (l *Limiter) ResetTime(key string, span time.Duration) time.Time {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		return now
	}
	w.prune(now, span)
	if len(w.hits) == 0 {
		return now
	}
	return w.hits[0].Add(span)
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep evicts every key whose hits have all left their window and returns the
// number of evicted keys.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, w := range l.windows {
		w.prune(now, w.span)
		if len(w.hits) == 0 {
			delete(l.windows, key)
			evicted++
		}
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *Limiter) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// prune drops hits older than now-span. A hit exactly span old still counts.
func (w *window) prune(now time.Time, span time.Duration) {
	cut := now.Add(-span)
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cut) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

func (w *window) resetAt(now time.Time, span time.Duration) time.Time {
	if len(w.hits) == 0 {
		return now.Add(span)
	}
	return w.hits[0].Add(span)
}
