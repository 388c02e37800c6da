package issuer

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/cardauth/internal/limiters"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newThrottleRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocalLoginLockout(t *testing.T) {
	_, client := newThrottleRedis(t)
	guard := limiters.NewLockout(client, "test", limiters.LockoutConfig{Threshold: 3, Duration: time.Minute})
	l, _, _ := newTestLocal(t, DefaultLocalConfig(), WithLoginGuard(guard))
	mustRegister(t, l, "g@example.com", "correct-horse")
	ctx := context.Background()

	// A success before the threshold clears the counter.
	_, _ = l.Login(ctx, Credentials{Email: "g@example.com", Password: "wrong-password"})
	if _, err := l.Login(ctx, Credentials{Email: "g@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if n, _ := guard.Failures(ctx, "g@example.com"); n != 0 {
		t.Fatalf("expected counter reset, got %d", n)
	}

	for i := 0; i < 3; i++ {
		_, err := l.Login(ctx, Credentials{Email: "G@example.com", Password: "wrong-password"})
		expectCode(t, err, CodeInvalidCredentials)
	}

	_, err := l.Login(ctx, Credentials{Email: "g@example.com", Password: "correct-horse"})
	e := expectCode(t, err, CodeRateLimited)
	if e.Status != http.StatusTooManyRequests || e.Message != MsgTooManyAttempts {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestLocalLoginGuardFailsOpen(t *testing.T) {
	mr, client := newThrottleRedis(t)
	guard := limiters.NewLockout(client, "test", limiters.LockoutConfig{Threshold: 1, Duration: time.Minute})
	l, _, _ := newTestLocal(t, DefaultLocalConfig(), WithLoginGuard(guard))
	mustRegister(t, l, "o@example.com", "correct-horse")

	mr.Close()
	if _, err := l.Login(context.Background(), Credentials{Email: "o@example.com", Password: "correct-horse"}); err != nil {
		t.Fatalf("guard outage must not block login: %v", err)
	}
}

func TestLocalResetThrottle(t *testing.T) {
	_, client := newThrottleRedis(t)
	deliveries := 0
	sink := func(context.Context, string, string) { deliveries++ }
	l, _, _ := newTestLocal(t, DefaultLocalConfig(),
		WithResetSink(sink),
		WithResetThrottle(limiters.NewWindow(client, "test:reset", 2, time.Hour)),
	)
	mustRegister(t, l, "m@example.com", "correct-horse")

	for i := 0; i < 4; i++ {
		if err := l.ForgotPassword(context.Background(), "m@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if deliveries != 2 {
		t.Fatalf("expected 2 deliveries, got %d", deliveries)
	}
}
