package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cb"

// RedisStorage stores the encoded bundle under a single key so that every
// execution context sharing the group reads the same bundle.
type RedisStorage struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
}

// NewRedisStorage creates a [RedisStorage] for the given group (for example a browser
// profile or device id). ttl bounds how long an abandoned bundle survives; zero keeps
// it until deleted.
//
//	Performance: 1 Redis command per operation.
func NewRedisStorage(client redis.UniversalClient, prefix, group string, ttl time.Duration) *RedisStorage {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{
		redis: client,
		key:   prefix + ":bundle:" + group,
		ttl:   ttl,
	}
}

// Key returns the Redis key holding the bundle.
func (s *RedisStorage) Key() string {
	return s.key
}

func (s *RedisStorage) Load(ctx context.Context) (Bundle, bool, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Bundle{}, false, nil
		}
		return Bundle{}, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	b, err := Decode(data)
	if err != nil {
		return Bundle{}, false, err
	}
	return b, true, nil
}

func (s *RedisStorage) Save(ctx context.Context, b Bundle) error {
	data, err := Encode(b)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *RedisStorage) Delete(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

var _ Storage = (*RedisStorage)(nil)
