package bus

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const memorySubBuffer = 64

type memorySub struct {
	ch chan []byte
}

// MemoryBus is the single-process Bus used by tests and local runs.
// Subscribers with full buffers miss messages rather than block publishers.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
	log  *zap.Logger
}

func NewMemoryBus(log *zap.Logger) *MemoryBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryBus{
		subs: make(map[string][]*memorySub),
		log:  log,
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("dropping unserializable event", zap.String("channel", channel), zap.Error(err))
		return
	}
	b.mu.Lock()
	subs := make([]*memorySub, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- data:
		default:
			// Subscriber is behind; progress events are lossy by contract.
		}
	}
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string) (<-chan []byte, func()) {
	s := &memorySub{ch: make(chan []byte, memorySubBuffer)}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			kept := b.subs[channel][:0]
			for _, existing := range b.subs[channel] {
				if existing != s {
					kept = append(kept, existing)
				}
			}
			if len(kept) == 0 {
				delete(b.subs, channel)
			} else {
				b.subs[channel] = kept
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}
