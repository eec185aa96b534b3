package review

import (
	"context"
	"time"
)

// Review is one human-in-the-loop record. Reviews are advisory: failing to
// create one never fails the worker invocation that requested it.
type Review struct {
	ReviewID  string
	RunID     string
	AgentName string
	Reason    string
	Metadata  map[string]any
	CreatedAt time.Time
}

type Sink interface {
	Create(ctx context.Context, r Review) error
}
