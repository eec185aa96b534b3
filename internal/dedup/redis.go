package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares idempotency records across control-plane replicas.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Claim(ctx context.Context, key, taskID string, ttl time.Duration) (bool, string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	existing, err := s.client.Get(ctx, key).Result()
	if err == nil {
		return true, existing, nil
	}
	if err != redis.Nil {
		return false, "", err
	}
	if err := s.client.Set(ctx, key, taskID, ttl).Err(); err != nil {
		return false, "", err
	}
	return false, "", nil
}
