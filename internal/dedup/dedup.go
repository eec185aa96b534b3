package dedup

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is the window during which a repeated (match, round) request is
// suppressed.
const DefaultTTL = 300 * time.Second

// Key builds the idempotency key for one logical unit of work.
func Key(matchID string, round int) string {
	return fmt.Sprintf("idem:%s:%d", matchID, round)
}

// Store records which orchestration first claimed a key. Claim is a read
// followed by a write, not a conditional set: two requests racing inside the
// same instant can both pass. That window is accepted and documented; callers
// wanting exactly-once would need an atomic set-if-absent here.
type Store interface {
	// Claim returns (true, firstTaskID) when key is already held, otherwise
	// records taskID under key for ttl and returns (false, "").
	Claim(ctx context.Context, key, taskID string, ttl time.Duration) (bool, string, error)
}
