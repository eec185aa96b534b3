package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lucylow/SkySimTacticalGG/internal/bus"
	"github.com/lucylow/SkySimTacticalGG/internal/capacity"
	"github.com/lucylow/SkySimTacticalGG/internal/review"
	"github.com/lucylow/SkySimTacticalGG/internal/worker"
)

type stubWorker struct {
	name string
	fn   func(ctx context.Context, payload worker.Payload) (map[string]any, error)
}

func (w stubWorker) Name() string { return w.name }

func (w stubWorker) Invoke(ctx context.Context, payload worker.Payload) (map[string]any, error) {
	return w.fn(ctx, payload)
}

func newTestRunner(t *testing.T) (*Runner, *capacity.MemoryLedger, *bus.MemoryBus, *review.MemorySink) {
	t.Helper()
	ledger := capacity.NewMemoryLedger(0)
	b := bus.NewMemoryBus(nil)
	reviews := review.NewMemorySink()
	return New(ledger, b, reviews, nil), ledger, b, reviews
}

func reserve(t *testing.T, ledger *capacity.MemoryLedger, name string) {
	t.Helper()
	ok, err := ledger.Reserve(context.Background(), name, 1)
	if err != nil || !ok {
		t.Fatalf("reserve %s: ok=%v err=%v", name, ok, err)
	}
}

func load(t *testing.T, ledger *capacity.MemoryLedger, name string) int {
	t.Helper()
	n, err := ledger.Load(context.Background(), name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return n
}

func TestRunReleasesSlotOnSuccess(t *testing.T) {
	r, ledger, _, _ := newTestRunner(t)
	reserve(t, ledger, "w")

	res, err := r.Run(context.Background(), Invocation{
		TaskID:   "t1",
		Worker:   stubWorker{"w", func(context.Context, worker.Payload) (map[string]any, error) { return map[string]any{"ok": true}, nil }},
		SlotHeld: true,
		Budget:   time.Second,
	}, worker.Payload{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.WorkerName != "w" || res.ExecutionID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := load(t, ledger, "w"); n != 0 {
		t.Fatalf("slot not released, load=%d", n)
	}
}

func TestRunReleasesSlotOnErrorTimeoutAndPanic(t *testing.T) {
	cases := map[string]stubWorker{
		"error": {"w", func(context.Context, worker.Payload) (map[string]any, error) {
			return nil, errors.New("boom")
		}},
		"timeout": {"w", func(ctx context.Context, _ worker.Payload) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		"panic": {"w", func(context.Context, worker.Payload) (map[string]any, error) {
			panic("unexpected state")
		}},
	}
	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			r, ledger, _, _ := newTestRunner(t)
			reserve(t, ledger, "w")
			_, err := r.Run(context.Background(), Invocation{
				TaskID:   "t1",
				Worker:   w,
				SlotHeld: true,
				Budget:   50 * time.Millisecond,
			}, worker.Payload{})
			if err == nil {
				t.Fatal("expected error")
			}
			if n := load(t, ledger, "w"); n != 0 {
				t.Fatalf("slot not released after %s, load=%d", name, n)
			}
		})
	}
}

func TestRunDoesNotReleaseUnheldSlot(t *testing.T) {
	r, ledger, _, _ := newTestRunner(t)
	reserve(t, ledger, "w")

	// Degraded pick: the run holds no slot, so someone else's hold survives.
	_, err := r.Run(context.Background(), Invocation{
		TaskID:   "t1",
		Worker:   stubWorker{"w", func(context.Context, worker.Payload) (map[string]any, error) { return map[string]any{}, nil }},
		SlotHeld: false,
		Budget:   time.Second,
	}, worker.Payload{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := load(t, ledger, "w"); n != 1 {
		t.Fatalf("unheld run must not release, load=%d", n)
	}
}

func TestRunPublishesRaceMessageOnSuccessOnly(t *testing.T) {
	r, _, b, _ := newTestRunner(t)
	ch, cancel := b.Subscribe(context.Background(), bus.RaceChannel("race-1"))
	defer cancel()

	_, err := r.Run(context.Background(), Invocation{
		TaskID: "t1",
		Worker: stubWorker{"loser", func(context.Context, worker.Payload) (map[string]any, error) { return nil, errors.New("boom") }},
		Budget: time.Second,
	}, worker.Payload{"_race_id": "race-1"})
	if err == nil {
		t.Fatal("expected error")
	}

	if _, err := r.Run(context.Background(), Invocation{
		TaskID: "t1",
		Worker: stubWorker{"winner", func(context.Context, worker.Payload) (map[string]any, error) {
			return map[string]any{"frames": []any{1.0, 2.0}}, nil
		}},
		Budget: time.Second,
	}, worker.Payload{"_race_id": "race-1", "_execution_id": "exec-7"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	select {
	case raw := <-ch:
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal race message: %v", err)
		}
		if msg["agent"] != "winner" || msg["execution_id"] != "exec-7" {
			t.Fatalf("unexpected race message: %v", msg)
		}
		if _, ok := msg["result"].(map[string]any); !ok {
			t.Fatalf("race message missing result: %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no race message published")
	}

	select {
	case raw := <-ch:
		t.Fatalf("failed run must not publish to the race channel, got %s", raw)
	default:
	}
}

func TestRunReviewPolicy(t *testing.T) {
	r, _, _, reviews := newTestRunner(t)

	confident := stubWorker{"w", func(context.Context, worker.Payload) (map[string]any, error) {
		return map[string]any{"confidence": 0.95}, nil
	}}
	shaky := stubWorker{"w", func(context.Context, worker.Payload) (map[string]any, error) {
		return map[string]any{"confidence": 0.5}, nil
	}}

	if _, err := r.Run(context.Background(), Invocation{TaskID: "t1", Worker: confident, Budget: time.Second}, worker.Payload{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := reviews.List(); len(got) != 0 {
		t.Fatalf("confident result should not trigger review: %+v", got)
	}

	if _, err := r.Run(context.Background(), Invocation{TaskID: "t2", Worker: shaky, Budget: time.Second}, worker.Payload{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := reviews.List()
	if len(got) != 1 || got[0].Reason != "auto_low_confidence" || got[0].RunID != "t2" {
		t.Fatalf("low confidence review: %+v", got)
	}

	if _, err := r.Run(context.Background(), Invocation{TaskID: "t3", Worker: confident, Budget: time.Second},
		worker.Payload{"_require_human_review": true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got = reviews.List()
	if len(got) != 2 || got[1].Reason != "auto_flag" {
		t.Fatalf("forced review: %+v", got)
	}
}

type failingSink struct{}

func (failingSink) Create(context.Context, review.Review) error { return errors.New("sink down") }

func TestRunSurvivesReviewSinkFailure(t *testing.T) {
	r := New(capacity.NewMemoryLedger(0), bus.NewMemoryBus(nil), failingSink{}, nil)
	res, err := r.Run(context.Background(), Invocation{
		TaskID: "t1",
		Worker: stubWorker{"w", func(context.Context, worker.Payload) (map[string]any, error) {
			return map[string]any{"confidence": 0.1}, nil
		}},
		Budget: time.Second,
	}, worker.Payload{})
	if err != nil {
		t.Fatalf("sink failure must not fail the run: %v", err)
	}
	if res.Result["confidence"] != 0.1 {
		t.Fatalf("result lost: %+v", res)
	}
}
