package cardauth

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/MrEthical07/cardauth/issuer"
	"github.com/MrEthical07/cardauth/session"
)

func TestTokenStoreCredentialOutsideBufferDoesNotRefresh(t *testing.T) {
	backend := &fakeBackend{}
	clock := newFakeClock()
	store, _ := newTestTokenStore(backend, clock, &recordingSleeper{})
	ctx := context.Background()

	if err := store.Persist(ctx, testBundle("a1", clock.Now().Add(10*time.Minute))); err != nil {
		t.Fatalf("persist: %v", err)
	}

	token, ok := store.Credential(ctx)
	if !ok || token != "a1" {
		t.Fatalf("expected stored token, got %q ok=%v", token, ok)
	}
	if backend.refreshCalls.Load() != 0 {
		t.Fatal("expected no refresh outside the buffer")
	}
}

func TestTokenStoreCredentialInsideBufferRefreshes(t *testing.T) {
	backend := &fakeBackend{}
	clock := newFakeClock()
	store, _ := newTestTokenStore(backend, clock, &recordingSleeper{})
	ctx := context.Background()

	// 4m59s left is inside the 5m buffer.
	if err := store.Persist(ctx, testBundle("a1", clock.Now().Add(5*time.Minute-time.Second))); err != nil {
		t.Fatalf("persist: %v", err)
	}

	token, ok := store.Credential(ctx)
	if !ok || token != "refreshed-1" {
		t.Fatalf("expected refreshed token, got %q ok=%v", token, ok)
	}
	stored, _, _ := store.Bundle(ctx)
	if stored.AccessToken != "refreshed-1" {
		t.Fatalf("expected refreshed bundle persisted, got %q", stored.AccessToken)
	}
}

func TestTokenStoreCredentialEmpty(t *testing.T) {
	store, _ := newTestTokenStore(&fakeBackend{}, newFakeClock(), &recordingSleeper{})
	if _, ok := store.Credential(context.Background()); ok {
		t.Fatal("expected no credential")
	}
}

func TestTokenStorePersistRejectsIncompleteBundle(t *testing.T) {
	store, storage := newTestTokenStore(&fakeBackend{}, newFakeClock(), &recordingSleeper{})
	b := testBundle("a1", testNow.Add(time.Hour))
	b.RefreshToken = ""

	if err := store.Persist(context.Background(), b); !errors.Is(err, ErrIncompleteBundle) {
		t.Fatalf("expected ErrIncompleteBundle, got %v", err)
	}
	if _, ok, _ := storage.Load(context.Background()); ok {
		t.Fatal("incomplete bundle must not be stored")
	}
}

func TestTokenStoreRefreshRetriesTransientFailures(t *testing.T) {
	backend := &fakeBackend{
		refresh: func(_ context.Context, n int, token string) (session.Bundle, error) {
			if token != "refresh-a1" {
				t.Errorf("unexpected refresh token %q", token)
			}
			if n <= 2 {
				return session.Bundle{}, unavailable()
			}
			b := testBundle("a2", testNow.Add(time.Hour))
			b.Principal = session.Principal{}
			return b, nil
		},
	}
	sleeper := &recordingSleeper{}
	store, _ := newTestTokenStore(backend, newFakeClock(), sleeper)
	ctx := context.Background()
	if err := store.Persist(ctx, testBundle("a1", testNow.Add(time.Minute))); err != nil {
		t.Fatalf("persist: %v", err)
	}

	b, err := store.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if b.AccessToken != "a2" {
		t.Fatalf("expected a2, got %q", b.AccessToken)
	}
	if b.Principal.ID != "user-1" {
		t.Fatalf("expected previous principal to be kept, got %+v", b.Principal)
	}
	if got := backend.refreshCalls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if got := sleeper.Waits(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected backoff %v, got %v", want, got)
	}
	if got := store.opts.metrics.Value(MetricRefreshRetry); got != 2 {
		t.Fatalf("expected 2 retries recorded, got %d", got)
	}
}

func TestTokenStoreRefreshGivesUpAfterBudget(t *testing.T) {
	backend := &fakeBackend{
		refresh: func(context.Context, int, string) (session.Bundle, error) {
			return session.Bundle{}, errors.New("dial tcp: connection refused")
		},
	}
	sleeper := &recordingSleeper{}
	store, storage := newTestTokenStore(backend, newFakeClock(), sleeper)
	ctx := context.Background()
	_ = store.Persist(ctx, testBundle("a1", testNow.Add(time.Minute)))

	_, err := store.Refresh(ctx)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if got := backend.refreshCalls.Load(); got != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", got)
	}
	if len(sleeper.Waits()) != 3 {
		t.Fatalf("expected 3 waits, got %v", sleeper.Waits())
	}
	if _, ok, _ := storage.Load(ctx); !ok {
		t.Fatal("transient failure must keep the stored bundle")
	}
}

func TestTokenStoreRefreshInvalidTokenClears(t *testing.T) {
	backend := &fakeBackend{
		refresh: func(context.Context, int, string) (session.Bundle, error) {
			return session.Bundle{}, &issuer.Error{
				Status:  http.StatusBadRequest,
				Code:    issuer.CodeInvalidRefreshToken,
				Message: issuer.MsgRefreshNotFound,
			}
		},
	}
	sleeper := &recordingSleeper{}
	store, storage := newTestTokenStore(backend, newFakeClock(), sleeper)
	ctx := context.Background()
	_ = store.Persist(ctx, testBundle("a1", testNow.Add(time.Minute)))

	_, err := store.Refresh(ctx)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if backend.refreshCalls.Load() != 1 || len(sleeper.Waits()) != 0 {
		t.Fatal("explicit rejection must not be retried")
	}
	if _, ok, _ := storage.Load(ctx); ok {
		t.Fatal("expected store cleared")
	}
}

func TestTokenStoreRefreshClientErrorNotRetried(t *testing.T) {
	backend := &fakeBackend{
		refresh: func(context.Context, int, string) (session.Bundle, error) {
			return session.Bundle{}, &issuer.Error{Status: http.StatusTooManyRequests, Code: issuer.CodeRateLimited}
		},
	}
	store, _ := newTestTokenStore(backend, newFakeClock(), &recordingSleeper{})
	ctx := context.Background()
	_ = store.Persist(ctx, testBundle("a1", testNow.Add(time.Minute)))

	if _, err := store.Refresh(ctx); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if backend.refreshCalls.Load() != 1 {
		t.Fatal("4xx must not be retried")
	}
}

func TestTokenStoreRefreshTimeoutCountsAsAttempt(t *testing.T) {
	backend := &fakeBackend{
		refresh: func(ctx context.Context, n int, _ string) (session.Bundle, error) {
			if n == 1 {
				<-ctx.Done()
				return session.Bundle{}, ctx.Err()
			}
			return testBundle("a2", testNow.Add(time.Hour)), nil
		},
	}
	storage := session.NewMemoryStorage()
	cfg := DefaultConfig().Session
	cfg.CallTimeout = 20 * time.Millisecond
	sleeper := &recordingSleeper{}
	store := NewTokenStore(storage, backend, cfg, WithSleeper(sleeper.Sleep), WithClock(newFakeClock().Now))
	ctx := context.Background()
	_ = store.Persist(ctx, testBundle("a1", testNow.Add(time.Minute)))

	b, err := store.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if b.AccessToken != "a2" || backend.refreshCalls.Load() != 2 {
		t.Fatalf("expected success on second attempt, got %q after %d", b.AccessToken, backend.refreshCalls.Load())
	}
}

func TestTokenStoreRefreshWithoutBundle(t *testing.T) {
	store, _ := newTestTokenStore(&fakeBackend{}, newFakeClock(), &recordingSleeper{})
	if _, err := store.Refresh(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestTokenStoreClearIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	store, storage := newTestTokenStore(backend, newFakeClock(), &recordingSleeper{})
	ctx := context.Background()
	_ = store.Persist(ctx, testBundle("a1", testNow.Add(time.Hour)))

	for i := 0; i < 3; i++ {
		if err := store.Clear(ctx); err != nil {
			t.Fatalf("clear %d: %v", i, err)
		}
	}
	store.Wait()

	if _, ok, _ := storage.Load(ctx); ok {
		t.Fatal("expected empty storage")
	}
	if got := backend.signOutCalls.Load(); got != 1 {
		t.Fatalf("expected one sign out, got %d", got)
	}
}
