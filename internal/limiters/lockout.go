package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable indicates the limiter backend is unreachable.
	ErrUnavailable = errors.New("limiter backend unavailable")
)

// LockoutConfig holds the failed-login policy.
type LockoutConfig struct {
	Threshold int
	// Duration is how long the failure counter lives after the first failure.
	Duration time.Duration
}

// Lockout tracks failed login attempts per identifier.
type Lockout struct {
	redis  redis.UniversalClient
	prefix string
	config LockoutConfig
}

// NewLockout creates a lockout counter. Keys are namespaced under prefix.
func NewLockout(client redis.UniversalClient, prefix string, cfg LockoutConfig) *Lockout {
	return &Lockout{redis: client, prefix: prefix, config: cfg}
}

func (l *Lockout) key(id string) string {
	return l.prefix + ":lockout:" + strings.ToLower(id)
}

// RecordFailure increments the failure counter for id and reports whether the
// threshold has been reached.
func (l *Lockout) RecordFailure(ctx context.Context, id string) (bool, error) {
	if l == nil || id == "" {
		return false, nil
	}

	key := l.key(id)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 && l.config.Duration > 0 {
		if err := l.redis.Expire(ctx, key, l.config.Duration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count >= int64(l.config.Threshold), nil
}

// Locked reports whether id has reached the threshold.
func (l *Lockout) Locked(ctx context.Context, id string) (bool, error) {
	n, err := l.Failures(ctx, id)
	if err != nil {
		return false, err
	}
	return l != nil && n >= l.config.Threshold, nil
}

// Failures returns the current failure count for id.
func (l *Lockout) Failures(ctx context.Context, id string) (int, error) {
	if l == nil || id == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

// Reset clears the failure counter, e.g. after a successful login.
func (l *Lockout) Reset(ctx context.Context, id string) error {
	if l == nil || id == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
