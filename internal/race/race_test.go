package race

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucylow/SkySimTacticalGG/internal/bus"
	"github.com/lucylow/SkySimTacticalGG/internal/capacity"
	"github.com/lucylow/SkySimTacticalGG/internal/review"
	"github.com/lucylow/SkySimTacticalGG/internal/runner"
	"github.com/lucylow/SkySimTacticalGG/internal/worker"
)

type fnWorker struct {
	name string
	fn   func(ctx context.Context, payload worker.Payload) (map[string]any, error)
}

func (w fnWorker) Name() string { return w.name }

func (w fnWorker) Invoke(ctx context.Context, payload worker.Payload) (map[string]any, error) {
	return w.fn(ctx, payload)
}

func newCoordinator() *Coordinator {
	b := bus.NewMemoryBus(nil)
	r := runner.New(capacity.NewMemoryLedger(0), b, review.NewMemorySink(), nil)
	return NewCoordinator(r, b, nil)
}

func TestRaceZeroCandidates(t *testing.T) {
	c := newCoordinator()
	if _, err := c.Run(context.Background(), "t1", nil, worker.Payload{}, time.Second); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
}

func TestRaceSingleCandidateWins(t *testing.T) {
	c := newCoordinator()
	w := fnWorker{"only", func(context.Context, worker.Payload) (map[string]any, error) {
		return map[string]any{"frames": []any{1.0}}, nil
	}}
	winner, err := c.Run(context.Background(), "t1", []Candidate{{Worker: w, Lane: "general", Budget: time.Second}}, worker.Payload{}, 2*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if winner.Agent != "only" || winner.ExecutionID == "" {
		t.Fatalf("winner = %+v", winner)
	}
	if _, ok := winner.Result["frames"]; !ok {
		t.Fatalf("winner result lost: %+v", winner.Result)
	}
}

func TestRaceFirstFinisherWinsAndLosersAreCanceled(t *testing.T) {
	c := newCoordinator()
	loserCanceled := make(chan struct{})
	fast := fnWorker{"fast", func(context.Context, worker.Payload) (map[string]any, error) {
		return map[string]any{"speed": "fast"}, nil
	}}
	slow := fnWorker{"slow", func(ctx context.Context, _ worker.Payload) (map[string]any, error) {
		select {
		case <-ctx.Done():
			close(loserCanceled)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{"speed": "slow"}, nil
		}
	}}

	winner, err := c.Run(context.Background(), "t1", []Candidate{
		{Worker: slow, Lane: "general", Budget: 10 * time.Second},
		{Worker: fast, Lane: "general", Budget: 10 * time.Second},
	}, worker.Payload{}, 5*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if winner.Agent != "fast" {
		t.Fatalf("winner = %s, want fast", winner.Agent)
	}
	select {
	case <-loserCanceled:
	case <-time.After(2 * time.Second):
		t.Fatal("losing candidate was not canceled")
	}
}

func TestRaceBothSucceedProducesOneValidWinner(t *testing.T) {
	c := newCoordinator()
	mk := func(name string) fnWorker {
		return fnWorker{name, func(context.Context, worker.Payload) (map[string]any, error) {
			return map[string]any{"by": name}, nil
		}}
	}
	winner, err := c.Run(context.Background(), "t1", []Candidate{
		{Worker: mk("a"), Lane: "general", Budget: time.Second},
		{Worker: mk("b"), Lane: "general", Budget: time.Second},
	}, worker.Payload{}, 2*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Either entrant may win; the contract is one winner with its own result.
	if winner.Agent != "a" && winner.Agent != "b" {
		t.Fatalf("unexpected winner %q", winner.Agent)
	}
	if winner.Result["by"] != winner.Agent {
		t.Fatalf("winner %q carries someone else's result: %+v", winner.Agent, winner.Result)
	}
}

func TestRaceTimeoutReturnsNoWinner(t *testing.T) {
	c := newCoordinator()
	hang := fnWorker{"hang", func(ctx context.Context, _ worker.Payload) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	start := time.Now()
	_, err := c.Run(context.Background(), "t1", []Candidate{
		{Worker: hang, Lane: "general", Budget: 10 * time.Second},
	}, worker.Payload{}, 300*time.Millisecond)
	if !errors.Is(err, ErrNoWinner) {
		t.Fatalf("err = %v, want ErrNoWinner", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("race overstayed its deadline: %v", elapsed)
	}
}

func TestRaceDeduplicatesIdenticalCandidates(t *testing.T) {
	c := newCoordinator()
	var invocations atomic.Int32
	w := fnWorker{"same", func(context.Context, worker.Payload) (map[string]any, error) {
		invocations.Add(1)
		return map[string]any{}, nil
	}}
	winner, err := c.Run(context.Background(), "t1", []Candidate{
		{Worker: w, Lane: "general", Budget: time.Second},
		{Worker: w, Lane: "general", Budget: time.Second},
	}, worker.Payload{}, 2*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if winner.Agent != "same" {
		t.Fatalf("winner = %+v", winner)
	}
	time.Sleep(100 * time.Millisecond)
	if n := invocations.Load(); n != 1 {
		t.Fatalf("identical candidates ran %d times, want 1", n)
	}
}

func TestRaceDoesNotMutateCallerPayload(t *testing.T) {
	c := newCoordinator()
	w := fnWorker{"w", func(_ context.Context, p worker.Payload) (map[string]any, error) {
		if p["_race_id"] == "" {
			return nil, errors.New("race id missing from candidate payload")
		}
		return map[string]any{}, nil
	}}
	payload := worker.Payload{"prompt": "p"}
	if _, err := c.Run(context.Background(), "t1", []Candidate{{Worker: w, Budget: time.Second}}, payload, 2*time.Second); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, leaked := payload["_race_id"]; leaked {
		t.Fatal("race id leaked into the caller's payload")
	}
}
