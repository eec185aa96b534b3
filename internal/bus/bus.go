package bus

import "context"

// ProgressChannel carries orchestration narration for dashboards and the
// insightctl events tail. Nothing in the control flow depends on delivery.
const ProgressChannel = "insight:events"

// RaceChannel names the ephemeral channel a speculative race listens on.
func RaceChannel(raceID string) string {
	return "speculative:" + raceID
}

// Bus is a fire-and-forget JSON pub/sub. Publish never surfaces an error to
// the caller: a slow or unavailable sink must not stall orchestration, so
// failures are logged and dropped. Subscribe returns raw message bytes and a
// cancel func that releases the subscription.
type Bus interface {
	Publish(ctx context.Context, channel string, payload any)
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func())
}
