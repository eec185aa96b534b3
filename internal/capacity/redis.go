package capacity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucylow/SkySimTacticalGG/internal/observability"
)

const keyPrefix = "agents:runcount:"

// RedisLedger is the shared ledger for multi-process deployments. INCRBY and
// DECRBY give the atomic arithmetic the capacity invariant needs; EXPIRE on
// every reserve keeps an abandoned process from pinning a slot forever.
type RedisLedger struct {
	client  redis.UniversalClient
	holdTTL time.Duration
}

func NewRedisLedger(client redis.UniversalClient, holdTTL time.Duration) *RedisLedger {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &RedisLedger{client: client, holdTTL: holdTTL}
}

func (l *RedisLedger) key(name string) string {
	return keyPrefix + name
}

func (l *RedisLedger) Reserve(ctx context.Context, name string, maxConcurrency int) (bool, error) {
	val, err := l.client.IncrBy(ctx, l.key(name), 1).Result()
	if err != nil {
		// Fail closed: an unreachable ledger means no capacity, never
		// unlimited capacity.
		observability.Default.IncCounter("capacity_ledger_errors_total", map[string]string{"op": "reserve"}, 1)
		return false, err
	}
	_ = l.client.Expire(ctx, l.key(name), l.holdTTL).Err()
	if val > int64(maxConcurrency) {
		_, _ = l.client.DecrBy(ctx, l.key(name), 1).Result()
		observability.Default.IncCounter("capacity_rejections_total", map[string]string{"worker": name}, 1)
		return false, nil
	}
	observability.Default.IncCounter("capacity_reservations_total", map[string]string{"worker": name}, 1)
	observability.Default.SetGauge("capacity_inflight", map[string]string{"worker": name}, float64(val))
	return true, nil
}

func (l *RedisLedger) Release(ctx context.Context, name string) (int, error) {
	val, err := l.client.DecrBy(ctx, l.key(name), 1).Result()
	if err != nil {
		observability.Default.IncCounter("capacity_ledger_errors_total", map[string]string{"op": "release"}, 1)
		return 0, err
	}
	if val < 0 {
		// A release without a matching reserve (TTL expired mid-hold).
		// Correct back toward zero; transient negatives are tolerable.
		_, _ = l.client.IncrBy(ctx, l.key(name), 1).Result()
		val = 0
	}
	observability.Default.SetGauge("capacity_inflight", map[string]string{"worker": name}, float64(val))
	return int(val), nil
}

func (l *RedisLedger) Load(ctx context.Context, name string) (int, error) {
	val, err := l.client.Get(ctx, l.key(name)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}
