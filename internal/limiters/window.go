package limiters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window allows at most Max uses of a key per fixed window.
type Window struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewWindow creates a fixed-window counter. Keys are namespaced under prefix.
func NewWindow(client redis.UniversalClient, prefix string, max int, window time.Duration) *Window {
	return &Window{redis: client, prefix: prefix, max: max, window: window}
}

// Allow counts one use of key and reports whether it is within the budget.
// Rejected uses are counted too, so hammering a key keeps it closed.
func (w *Window) Allow(ctx context.Context, key string) (bool, error) {
	if w == nil || key == "" {
		return true, nil
	}

	k := w.prefix + ":" + strings.ToLower(key)
	count, err := w.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := w.redis.Expire(ctx, k, w.window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count <= int64(w.max), nil
}

// Window returns the window length, used as the retry hint.
func (w *Window) Window() time.Duration { return w.window }
