package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStorageTest(t *testing.T) (*RedisStorage, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStorage(rdb, "cb", "device-1", time.Hour)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty storage, ok=%v err=%v", ok, err)
	}

	want := testBundle()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load after save: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("loaded %+v, want %+v", got, want)
	}

	replacement := want
	replacement.AccessToken = "access-2"
	replacement.ExpiresAt++
	if err := s.Save(ctx, replacement); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _, _ := s.Load(ctx); got != replacement {
		t.Fatalf("overwrite not observed: %+v", got)
	}

	if err := s.Delete(ctx); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, err := s.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty storage after delete, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStorageLifecycle(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage())
}

func TestRedisStorageLifecycle(t *testing.T) {
	store, _, done := newRedisStorageTest(t)
	defer done()
	exerciseStorage(t, store)
}

func TestRedisStorageAppliesTTL(t *testing.T) {
	store, mr, done := newRedisStorageTest(t)
	defer done()

	if err := store.Save(context.Background(), testBundle()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL(store.Key()); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if _, ok, _ := store.Load(context.Background()); ok {
		t.Fatal("expected bundle to expire with its key")
	}
}

func TestRedisStorageCorruptBlob(t *testing.T) {
	store, mr, done := newRedisStorageTest(t)
	defer done()

	if err := mr.Set(store.Key(), "bad"); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}
	if _, _, err := store.Load(context.Background()); !errors.Is(err, ErrCorruptBundle) {
		t.Fatalf("expected corrupt bundle error, got %v", err)
	}
}

func TestRedisStorageUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	store := NewRedisStorage(rdb, "", "device-1", 0)

	mr.Close()
	if _, _, err := store.Load(context.Background()); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}

func TestBundleExpiresWithin(t *testing.T) {
	b := testBundle()
	exp := b.Expiry()

	if b.ExpiresWithin(exp.Add(-6*time.Minute), 5*time.Minute) {
		t.Fatal("six minutes ahead should be outside the buffer")
	}
	if !b.ExpiresWithin(exp.Add(-5*time.Minute), 5*time.Minute) {
		t.Fatal("exactly at the buffer boundary should count as expiring")
	}
	if !b.Complete() {
		t.Fatal("test bundle should be complete")
	}
	b.RefreshToken = ""
	if b.Complete() {
		t.Fatal("bundle without refresh token must not be complete")
	}
}
