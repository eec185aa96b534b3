package capacity

import (
	"context"
	"sync"
	"time"

	"github.com/lucylow/SkySimTacticalGG/internal/observability"
)

type memoryCounter struct {
	count   int
	expires time.Time
}

// MemoryLedger keeps counters in process memory. Counters expire holdTTL
// after the last reserve, mirroring the TTL safety net of the Redis ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	holdTTL  time.Duration
	now      func() time.Time
}

func NewMemoryLedger(holdTTL time.Duration) *MemoryLedger {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &MemoryLedger{
		counters: make(map[string]*memoryCounter),
		holdTTL:  holdTTL,
		now:      time.Now,
	}
}

func (l *MemoryLedger) Reserve(_ context.Context, name string, maxConcurrency int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.counter(name)
	c.count++
	c.expires = l.now().Add(l.holdTTL)
	if c.count > maxConcurrency {
		c.count--
		observability.Default.IncCounter("capacity_rejections_total", map[string]string{"worker": name}, 1)
		return false, nil
	}
	observability.Default.IncCounter("capacity_reservations_total", map[string]string{"worker": name}, 1)
	observability.Default.SetGauge("capacity_inflight", map[string]string{"worker": name}, float64(c.count))
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, name string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.counter(name)
	if c.count > 0 {
		c.count--
	}
	observability.Default.SetGauge("capacity_inflight", map[string]string{"worker": name}, float64(c.count))
	return c.count, nil
}

func (l *MemoryLedger) Load(_ context.Context, name string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter(name).count, nil
}

// counter returns the live counter for name, resetting it when the TTL has
// lapsed so a leaked hold self-heals.
func (l *MemoryLedger) counter(name string) *memoryCounter {
	c, ok := l.counters[name]
	if !ok {
		c = &memoryCounter{}
		l.counters[name] = c
	}
	if c.count > 0 && !c.expires.IsZero() && c.expires.Before(l.now()) {
		c.count = 0
	}
	return c
}
