package cardauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/cardauth/revocation"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func engineTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func buildTestEngine(t *testing.T, cfg Config, rdb redis.UniversalClient) *Engine {
	t.Helper()
	b := New().WithConfig(cfg)
	if rdb != nil {
		b.WithRedis(rdb)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func openTab(t *testing.T, e *Engine) *Client {
	t.Helper()
	c, err := e.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBuilderRejectsMissingDependencies(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"redis storage", func(c *Config) { c.Storage.Backend = "redis" }},
		{"redis revocation", func(c *Config) { c.Revocation.Backend = "redis" }},
		{"redis broadcast", func(c *Config) { c.Broadcast.Backend = "redis" }},
		{"postgres revocation", func(c *Config) { c.Revocation.Backend = "postgres" }},
		{"login throttle", func(c *Config) { c.Throttle.Enabled = true }},
		{"no signing key", func(c *Config) { c.JWT.PrivateKey = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := engineTestConfig()
			tc.mutate(&cfg)
			if _, err := New().WithConfig(cfg).Build(); err == nil {
				t.Fatal("expected build error")
			}
		})
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(engineTestConfig())
	if _, err := b.Build(); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second build to fail")
	}
}

func TestEngineLocalSessionLifecycle(t *testing.T) {
	e := buildTestEngine(t, engineTestConfig(), nil)
	ctx := context.Background()
	tab := openTab(t, e)
	sc := tab.Session()

	res, err := sc.Register(ctx, Registration{Email: "ada@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !res.Authenticated {
		t.Fatal("expected auto-confirmed registration to sign in")
	}

	b, ok, err := sc.Tokens().Bundle(ctx)
	if err != nil || !ok {
		t.Fatalf("expected stored bundle, err=%v", err)
	}
	principal, err := e.Backend().Validate(ctx, b.AccessToken)
	if err != nil || principal.ID != res.Principal.ID {
		t.Fatalf("validate issued token: %+v %v", principal, err)
	}

	nb, err := sc.Tokens().Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if nb.AccessToken == b.AccessToken {
		t.Fatal("expected a new access token")
	}

	if out := tab.Logout(ctx); out.Err() != nil {
		t.Fatalf("logout: %v", out.Err())
	}
	revoked, err := e.Revocations().IsRevoked(ctx, revocation.HashToken(nb.AccessToken))
	if err != nil || !revoked {
		t.Fatalf("expected current token revoked, revoked=%v err=%v", revoked, err)
	}
	if sc.State().Phase != PhaseAnonymous {
		t.Fatal("expected anonymous after logout")
	}
}

func TestEngineLoginWrongPassword(t *testing.T) {
	e := buildTestEngine(t, engineTestConfig(), nil)
	ctx := context.Background()
	sc := openTab(t, e).Session()

	if _, err := sc.Register(ctx, Registration{Email: "ada@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	sc.Logout(ctx)

	_, err := sc.Login(ctx, Credentials{Email: "ada@example.com", Password: "wrong-horse"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	_, err = sc.Login(ctx, Credentials{Email: "ada@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestEngineLoginThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := engineTestConfig()
	cfg.Throttle.Enabled = true
	cfg.Throttle.LoginFailures = 2
	e := buildTestEngine(t, cfg, rdb)
	ctx := context.Background()
	sc := openTab(t, e).Session()

	if _, err := sc.Register(ctx, Registration{Email: "ada@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	sc.Logout(ctx)

	for i := 0; i < 2; i++ {
		if _, err := sc.Login(ctx, Credentials{Email: "ada@example.com", Password: "wrong-horse"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := sc.Login(ctx, Credentials{Email: "ada@example.com", Password: "correct-horse"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !mr.Exists("throttle:lockout:ada@example.com") {
		t.Fatal("expected lockout counter in redis")
	}
}

func TestEngineRevokesOnLogout(t *testing.T) {
	e := buildTestEngine(t, engineTestConfig(), nil)
	ctx := context.Background()
	tab := openTab(t, e)
	sc := tab.Session()

	if _, err := sc.Register(ctx, Registration{Email: "ada@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	b, _, _ := sc.Tokens().Bundle(ctx)

	tab.Logout(ctx)

	revoked, err := e.Revocations().IsRevoked(ctx, revocation.HashToken(b.AccessToken))
	if err != nil || !revoked {
		t.Fatalf("expected revoked token, revoked=%v err=%v", revoked, err)
	}
}

func TestEngineMemoryBroadcastBetweenTabs(t *testing.T) {
	e := buildTestEngine(t, engineTestConfig(), nil)
	ctx := context.Background()
	tabA := openTab(t, e)
	tabB := openTab(t, e)

	creds := Credentials{Email: "ada@example.com", Password: "correct-horse"}
	if _, err := tabA.Session().Register(ctx, Registration{Email: creds.Email, Password: creds.Password, ConfirmPassword: creds.Password}); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Memory storage is per tab, so B signs in on its own and only learns of the
	// logout from the channel.
	if _, err := tabB.Session().Login(ctx, creds); err != nil {
		t.Fatalf("login tab B: %v", err)
	}
	a, _, _ := tabA.Session().Tokens().Bundle(ctx)
	b, _, _ := tabB.Session().Tokens().Bundle(ctx)
	require.True(t, tabB.Session().State().Authenticated())

	tabA.Logout(ctx)

	require.Eventually(t, func() bool {
		return tabB.Session().State().Phase == PhaseAnonymous
	}, 2*time.Second, 5*time.Millisecond, "tab B never applied the remote logout")

	_, ok, err := tabB.Session().Tokens().Bundle(ctx)
	require.NoError(t, err)
	require.False(t, ok, "tab B must drop its bundle")

	require.Equal(t, uint64(1), e.Metrics().Value(MetricLogout))
	revoked, err := e.Revocations().IsRevoked(ctx, revocation.HashToken(a.AccessToken))
	require.NoError(t, err)
	require.True(t, revoked, "tab A's credential must be revoked")
	revoked, err = e.Revocations().IsRevoked(ctx, revocation.HashToken(b.AccessToken))
	require.NoError(t, err)
	require.False(t, revoked, "remote logout must not revoke again")
}

func TestEngineRedisSharedStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := engineTestConfig()
	cfg.Storage.Backend = "redis"
	cfg.Revocation.Backend = "redis"
	cfg.Broadcast.Backend = "redis"
	e := buildTestEngine(t, cfg, rdb)
	ctx := context.Background()

	tabA := openTab(t, e)
	tabB := openTab(t, e)

	if _, err := tabA.Session().Register(ctx, Registration{Email: "ada@example.com", Password: "correct-horse", ConfirmPassword: "correct-horse"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	b, _, _ := tabA.Session().Tokens().Bundle(ctx)

	tabB.Session().Resync(ctx)
	if !tabB.Session().State().Authenticated() {
		t.Fatal("tab B must see the shared bundle")
	}

	tabA.Logout(ctx)
	revoked, err := e.Revocations().IsRevoked(ctx, revocation.HashToken(b.AccessToken))
	if err != nil || !revoked {
		t.Fatalf("expected revocation in redis, revoked=%v err=%v", revoked, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tabB.Session().State().Phase != PhaseAnonymous {
		if time.Now().After(deadline) {
			t.Fatal("tab B never left the authenticated state")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Revocation.PurgeEvery = time.Millisecond
	e := buildTestEngine(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
