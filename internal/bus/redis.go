package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus publishes over Redis pub/sub so external consumers (websocket
// broadcasters, the insightctl events tail) can observe progress without
// touching the control plane.
type RedisBus struct {
	client redis.UniversalClient
	log    *zap.Logger
}

func NewRedisBus(client redis.UniversalClient, log *zap.Logger) *RedisBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("dropping unserializable event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		b.log.Warn("event publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	ps := b.client.Subscribe(ctx, channel)
	out := make(chan []byte, memorySubBuffer)

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				b.log.Warn("pubsub close failed", zap.String("channel", channel), zap.Error(err))
			}
		})
	}
	return out, cancel
}
