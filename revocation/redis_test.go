package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func TestRedisRevocationLifecycle(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := red.NewClient(&red.Options{Addr: mr.Addr()})
	defer rdb.Close()

	now := time.Now()
	store := NewRedis(rdb, "").WithClock(func() time.Time { return now })
	ctx := context.Background()

	rec := NewRecord("raw", "jti-9", "compromised", now, time.Hour)
	if err := store.Revoke(ctx, rec); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	revoked, err := store.IsRevoked(ctx, rec.TokenHash)
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}

	got, ok, err := store.Lookup(ctx, rec.TokenHash)
	if err != nil || !ok {
		t.Fatalf("lookup ok=%v err=%v", ok, err)
	}
	if got.Reason != "compromised" || got.TokenID != "jti-9" {
		t.Fatalf("unexpected record %+v", got)
	}

	if ttl := mr.TTL("revoked:" + rec.TokenHash); ttl != time.Hour {
		t.Fatalf("expected key ttl 1h, got %v", ttl)
	}
	mr.FastForward(time.Hour + time.Second)
	if revoked, _ := store.IsRevoked(ctx, rec.TokenHash); revoked {
		t.Fatal("record must expire with its key")
	}
}

func TestRedisRevokeSkipsExpiredRecord(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := red.NewClient(&red.Options{Addr: mr.Addr()})
	defer rdb.Close()

	now := time.Now()
	store := NewRedis(rdb, "rv").WithClock(func() time.Time { return now })
	rec := Record{TokenHash: HashToken("raw"), ExpiresAt: now.Add(-time.Second), Reason: ReasonLogout}
	if err := store.Revoke(context.Background(), rec); err != nil {
		t.Fatalf("revoke expired record: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", mr.Keys())
	}
}

func TestRedisUnavailableIsWrapped(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := red.NewClient(&red.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err = NewRedis(rdb, "").IsRevoked(context.Background(), "hash")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
