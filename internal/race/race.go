// Package race runs the same unit of work on several workers at once and
// settles on whichever finishes first. Losing invocations are canceled
// best-effort; their capacity slots are returned by the runner.
package race

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lucylow/SkySimTacticalGG/internal/bus"
	"github.com/lucylow/SkySimTacticalGG/internal/observability"
	"github.com/lucylow/SkySimTacticalGG/internal/runner"
	"github.com/lucylow/SkySimTacticalGG/internal/worker"
)

// ErrNoCandidates means the caller asked for a race with nothing to run.
var ErrNoCandidates = errors.New("speculative race needs at least one candidate")

// ErrNoWinner means the deadline elapsed before any candidate published a
// result. The race does not retry; that decision belongs to the caller.
var ErrNoWinner = errors.New("speculative race deadline elapsed with no winner")

// tickInterval re-checks the deadline and caller context while waiting.
// Winner delivery itself is push-based via the bus subscription.
const tickInterval = 200 * time.Millisecond

// DefaultTimeout bounds a race when the caller does not set one.
const DefaultTimeout = 15 * time.Second

// Candidate is one entrant. SlotHeld and Budget travel through to the
// runner unchanged.
type Candidate struct {
	Worker   worker.Worker
	Lane     string
	SlotHeld bool
	Budget   time.Duration
}

// Winner is the first published result of a race.
type Winner struct {
	Agent       string
	ExecutionID string
	Result      map[string]any
}

type Coordinator struct {
	runner *runner.Runner
	bus    bus.Bus
	log    *zap.Logger
}

func NewCoordinator(r *runner.Runner, b bus.Bus, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{runner: r, bus: b, log: log}
}

// raceMessage is the wire form a finishing candidate publishes on the race
// channel.
type raceMessage struct {
	Agent       string         `json:"agent"`
	Result      map[string]any `json:"result"`
	ExecutionID string         `json:"execution_id"`
}

// Run launches every distinct candidate and returns the first published
// result. Candidates are deduplicated by (worker, lane) so a double pick of
// the same spec costs one execution, not two.
func (c *Coordinator) Run(ctx context.Context, taskID string, candidates []Candidate, payload worker.Payload, timeout time.Duration) (*Winner, error) {
	entrants := dedupe(candidates)
	if len(entrants) == 0 {
		return nil, ErrNoCandidates
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	raceID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "race.run",
		attribute.String("task_id", taskID),
		attribute.String("race_id", raceID),
		attribute.Int("candidates", len(entrants)),
	)
	defer span.End()

	// Subscribe before launching so a fast candidate cannot publish into
	// the void.
	msgs, unsubscribe := c.bus.Subscribe(ctx, bus.RaceChannel(raceID))
	defer unsubscribe()

	cancels := make(map[string]context.CancelFunc, len(entrants))
	cancelAll := func(except string) {
		for id, cancel := range cancels {
			if id != except {
				cancel()
			}
		}
	}
	defer cancelAll("")

	for _, cand := range entrants {
		execID := uuid.NewString()
		candCtx, cancel := context.WithCancel(ctx)
		cancels[execID] = cancel

		p := clonePayload(payload)
		p["_race_id"] = raceID
		p["_execution_id"] = execID

		inv := runner.Invocation{
			TaskID:   taskID,
			Worker:   cand.Worker,
			Lane:     cand.Lane,
			SlotHeld: cand.SlotHeld,
			Budget:   cand.Budget,
		}
		go func() {
			if _, err := c.runner.Run(candCtx, inv, p); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Debug("race candidate failed",
					zap.String("task_id", taskID),
					zap.String("worker", inv.Worker.Name()),
					zap.Error(err))
			}
		}()
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-msgs:
			if !ok {
				return nil, ErrNoWinner
			}
			var msg raceMessage
			if err := json.Unmarshal(raw, &msg); err != nil || msg.Agent == "" {
				// Garbage on the channel is ignored, the race keeps waiting.
				continue
			}
			cancelAll(msg.ExecutionID)
			observability.Default.IncCounter("race_wins_total", map[string]string{"worker": msg.Agent}, 1)
			return &Winner{Agent: msg.Agent, ExecutionID: msg.ExecutionID, Result: msg.Result}, nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				observability.Default.IncCounter("race_timeouts_total", nil, 1)
				return nil, ErrNoWinner
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dedupe keeps the first candidate per (worker, lane). Callers collapse
// duplicate reservations before entering the race; a dropped duplicate here
// only loses its goroutine, not a held slot.
func dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Worker == nil {
			continue
		}
		key := cand.Worker.Name() + "|" + cand.Lane
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cand)
	}
	return out
}

func clonePayload(p worker.Payload) worker.Payload {
	out := make(worker.Payload, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}
