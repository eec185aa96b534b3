package capacity

import (
	"context"
	"time"
)

// DefaultHoldTTL bounds how long an abandoned reservation survives. Every
// reserve refreshes the TTL, so only a crashed holder lets it elapse.
const DefaultHoldTTL = 60 * time.Second

// Ledger tracks in-flight executions per worker name. Reserve and Release
// must be single atomic increments/decrements; read-modify-write sequences
// are not allowed because concurrent orchestrations share these counters.
//
// Reserve returns false when the worker is at its ceiling. Implementations
// that cannot reach their backing store must also return false: under-
// admission is recoverable, silently unlimited concurrency is not.
type Ledger interface {
	Reserve(ctx context.Context, name string, maxConcurrency int) (bool, error)
	Release(ctx context.Context, name string) (int, error)
	Load(ctx context.Context, name string) (int, error)
}
