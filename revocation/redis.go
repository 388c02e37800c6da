package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "revoked"

// Redis stores records as keys expiring together with the record.
type Redis struct {
	client red.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis wires a Redis client into a revocation store.
func NewRedis(client red.UniversalClient, keyPrefix string) *Redis {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the clock used to compute key TTLs.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	if now != nil {
		r.now = now
	}
	return r
}

// Revoke stores the record with a TTL matching its remaining lifetime. Records that
// are already expired are accepted and dropped.
func (r *Redis) Revoke(ctx context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	ttl := record.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode revocation record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(record.TokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set revoked token: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis exists revoked token: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Lookup returns the stored record for tokenHash.
func (r *Redis) Lookup(ctx context.Context, tokenHash string) (Record, bool, error) {
	data, err := r.client.Get(ctx, r.key(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: redis get revoked token: %v", ErrUnavailable, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("decode revocation record: %w", err)
	}
	return record, true, nil
}

// Purge is a no-op: Redis expires keys on its own.
func (r *Redis) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *Redis) key(tokenHash string) string {
	return fmt.Sprintf("%s:%s", r.prefix, strings.TrimSpace(tokenHash))
}

var _ Store = (*Redis)(nil)
