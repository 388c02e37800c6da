package cardauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/cardauth/issuer"
	"github.com/MrEthical07/cardauth/session"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func testBundle(access string, expiresAt time.Time) Bundle {
	return Bundle{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    expiresAt.Unix(),
		Principal:    Principal{ID: "user-1", Email: "ada@example.com"},
	}
}

// fakeBackend is a scriptable issuer.Backend. Unset hooks succeed.
type fakeBackend struct {
	mu sync.Mutex

	login    func(issuer.Credentials) (session.Bundle, error)
	register func(issuer.Credentials) (issuer.RegisterResult, error)
	refresh  func(ctx context.Context, n int, token string) (session.Bundle, error)
	revoke   func(token, reason string) error
	validate func(token string) (session.Principal, error)

	refreshCalls atomic.Int32
	revokeCalls  atomic.Int32
	signOutCalls atomic.Int32
	loginCalls   atomic.Int32

	revokedReasons []string
	forgot         []string
	resets         []string
}

func (f *fakeBackend) Login(_ context.Context, creds issuer.Credentials) (session.Bundle, error) {
	f.loginCalls.Add(1)
	if f.login != nil {
		return f.login(creds)
	}
	return testBundle("login-token", testNow.Add(time.Hour)), nil
}

func (f *fakeBackend) Register(_ context.Context, creds issuer.Credentials) (issuer.RegisterResult, error) {
	if f.register != nil {
		return f.register(creds)
	}
	b := testBundle("register-token", testNow.Add(time.Hour))
	b.Principal.Email = creds.Email
	return issuer.RegisterResult{Principal: b.Principal, Bundle: &b}, nil
}

func (f *fakeBackend) Refresh(ctx context.Context, token string) (session.Bundle, error) {
	n := int(f.refreshCalls.Add(1))
	if f.refresh != nil {
		return f.refresh(ctx, n, token)
	}
	return testBundle(fmt.Sprintf("refreshed-%d", n), testNow.Add(time.Hour)), nil
}

func (f *fakeBackend) Revoke(_ context.Context, token, reason string) error {
	f.revokeCalls.Add(1)
	f.mu.Lock()
	f.revokedReasons = append(f.revokedReasons, reason)
	f.mu.Unlock()
	if f.revoke != nil {
		return f.revoke(token, reason)
	}
	return nil
}

func (f *fakeBackend) Validate(_ context.Context, token string) (session.Principal, error) {
	if f.validate != nil {
		return f.validate(token)
	}
	return session.Principal{ID: "user-1", Email: "ada@example.com"}, nil
}

func (f *fakeBackend) SignOut(context.Context, string) error {
	f.signOutCalls.Add(1)
	return nil
}

func (f *fakeBackend) ForgotPassword(_ context.Context, email string) error {
	f.mu.Lock()
	f.forgot = append(f.forgot, email)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) ResetPassword(_ context.Context, token, _ string) error {
	f.mu.Lock()
	f.resets = append(f.resets, token)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revokedReasons...)
}

var _ issuer.Backend = (*fakeBackend)(nil)

func unavailable() error {
	return &issuer.Error{Status: http.StatusServiceUnavailable, Message: "upstream unavailable"}
}

func newTestTokenStore(backend issuer.Backend, clock *fakeClock, sleeper *recordingSleeper) (*TokenStore, *session.MemoryStorage) {
	storage := session.NewMemoryStorage()
	cfg := DefaultConfig().Session
	store := NewTokenStore(storage, backend, cfg,
		WithClock(clock.Now),
		WithSleeper(sleeper.Sleep),
		WithMetrics(NewMetrics(MetricsConfig{Enabled: true})),
	)
	return store, storage
}
