package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucylow/SkySimTacticalGG/internal/capacity"
	"github.com/lucylow/SkySimTacticalGG/internal/registry"
)

func newTestRegistry(t *testing.T, specs ...registry.WorkerSpec) *registry.Registry {
	t.Helper()
	r, err := registry.New(specs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func spec(name string, caps []string, priority, maxConc int) registry.WorkerSpec {
	return registry.WorkerSpec{
		Name:           name,
		Capabilities:   caps,
		Priority:       priority,
		MaxConcurrency: maxConc,
		Lane:           name + "-lane",
		Timeout:        10 * time.Second,
	}
}

func TestCandidatesOrderedByPriorityThenLoad(t *testing.T) {
	ctx := context.Background()
	ledger := capacity.NewMemoryLedger(0)
	reg := newTestRegistry(t,
		spec("low", []string{"perception"}, 3, 4),
		spec("high_busy", []string{"perception"}, 9, 4),
		spec("high_idle", []string{"perception"}, 9, 4),
	)
	// Load one slot onto high_busy so the idle peer sorts first.
	if ok, _ := ledger.Reserve(ctx, "high_busy", 4); !ok {
		t.Fatal("seed reserve failed")
	}

	r := New(reg, ledger, nil)
	got := r.Candidates(ctx, []string{"perception"})
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].Name != "high_idle" || got[1].Name != "high_busy" || got[2].Name != "low" {
		t.Fatalf("order = %s,%s,%s", got[0].Name, got[1].Name, got[2].Name)
	}
}

func TestPickReservesSlotOnBestCandidate(t *testing.T) {
	ctx := context.Background()
	ledger := capacity.NewMemoryLedger(0)
	reg := newTestRegistry(t, spec("motion_synth", []string{"motion_generation"}, 9, 2))

	r := New(reg, ledger, nil)
	sel, err := r.Pick(ctx, []string{"motion_generation"})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if !sel.SlotHeld || sel.Spec.Name != "motion_synth" || sel.Lane != "motion_synth-lane" {
		t.Fatalf("unexpected selection: %+v", sel)
	}
	if n, _ := ledger.Load(ctx, "motion_synth"); n != 1 {
		t.Fatalf("ledger load = %d, want 1", n)
	}
}

// The router deliberately trades strict admission control for progress: when
// every candidate is saturated, the best candidate is returned without a
// slot and the caller may overload it.
func TestPickFallsBackWithoutSlotWhenSaturated(t *testing.T) {
	ctx := context.Background()
	ledger := capacity.NewMemoryLedger(0)
	reg := newTestRegistry(t,
		spec("primary", []string{"validation"}, 9, 1),
		spec("backup", []string{"validation"}, 5, 1),
	)
	for _, name := range []string{"primary", "backup"} {
		if ok, _ := ledger.Reserve(ctx, name, 1); !ok {
			t.Fatalf("saturating %s failed", name)
		}
	}

	r := New(reg, ledger, nil)
	sel, err := r.Pick(ctx, []string{"validation"})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if sel.SlotHeld {
		t.Fatal("expected degraded pick without a held slot")
	}
	if sel.Spec.Name != "primary" {
		t.Fatalf("fallback worker = %s, want primary (highest priority)", sel.Spec.Name)
	}
	// Counters must be untouched by the fallback.
	if n, _ := ledger.Load(ctx, "primary"); n != 1 {
		t.Fatalf("primary load = %d, want 1", n)
	}
}

func TestPickNoMatchingWorker(t *testing.T) {
	ledger := capacity.NewMemoryLedger(0)
	reg := newTestRegistry(t, spec("validator", []string{"validation"}, 5, 1))

	r := New(reg, ledger, nil)
	_, err := r.Pick(context.Background(), []string{"teleportation"})
	if !errors.Is(err, ErrNoWorker) {
		t.Fatalf("expected ErrNoWorker, got %v", err)
	}
}

func TestPickSkipsToNextCandidateWhenFirstIsFull(t *testing.T) {
	ctx := context.Background()
	ledger := capacity.NewMemoryLedger(0)
	reg := newTestRegistry(t,
		spec("first", []string{"perception"}, 9, 1),
		spec("second", []string{"perception"}, 5, 1),
	)
	if ok, _ := ledger.Reserve(ctx, "first", 1); !ok {
		t.Fatal("saturating first failed")
	}

	r := New(reg, ledger, nil)
	sel, err := r.Pick(ctx, []string{"perception"})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if sel.Spec.Name != "second" || !sel.SlotHeld {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}
