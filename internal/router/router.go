package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/lucylow/SkySimTacticalGG/internal/capacity"
	"github.com/lucylow/SkySimTacticalGG/internal/observability"
	"github.com/lucylow/SkySimTacticalGG/internal/registry"
)

var ErrNoWorker = errors.New("no worker matches requested capabilities")

// Selection is the outcome of a pick. SlotHeld distinguishes a reserved
// capacity slot from the degraded fallback, and tells the runner whether a
// release is owed.
type Selection struct {
	Spec     registry.WorkerSpec
	Lane     string
	SlotHeld bool
}

// Router orders eligible workers by declared priority and advisory load, and
// reserves a capacity slot for the chosen one.
type Router struct {
	registry *registry.Registry
	ledger   capacity.Ledger
	log      *zap.Logger
}

func New(reg *registry.Registry, ledger capacity.Ledger, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{registry: reg, ledger: ledger, log: log}
}

// Candidates returns every worker whose capability set intersects the
// requested one, sorted by priority descending then current load ascending.
// The load read is advisory; only Reserve is the admission gate.
func (r *Router) Candidates(ctx context.Context, capabilities []string) []registry.WorkerSpec {
	matches := make([]registry.WorkerSpec, 0, 4)
	loads := make(map[string]int)
	for _, spec := range r.registry.All() {
		if !spec.HasAnyCapability(capabilities) {
			continue
		}
		load, err := r.ledger.Load(ctx, spec.Name)
		if err != nil {
			load = 0
		}
		loads[spec.Name] = load
		matches = append(matches, spec)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return loads[matches[i].Name] < loads[matches[j].Name]
	})
	return matches
}

// Pick reserves a slot on the best candidate with capacity. When every
// candidate is at its ceiling it falls back to the highest-priority one
// without a reservation: the pipeline prefers degraded progress over
// refusing the request outright.
func (r *Router) Pick(ctx context.Context, capabilities []string) (Selection, error) {
	candidates := r.Candidates(ctx, capabilities)
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("%w: %v", ErrNoWorker, capabilities)
	}
	for _, spec := range candidates {
		ok, err := r.ledger.Reserve(ctx, spec.Name, spec.MaxConcurrency)
		if err != nil {
			// Ledger trouble reads as "no capacity" for this candidate.
			r.log.Warn("capacity reserve failed", zap.String("worker", spec.Name), zap.Error(err))
			continue
		}
		if ok {
			return Selection{Spec: spec, Lane: spec.Lane, SlotHeld: true}, nil
		}
	}
	best := candidates[0]
	observability.Default.IncCounter("router_degraded_picks_total", map[string]string{"worker": best.Name}, 1)
	r.log.Warn("no capacity on any candidate, proceeding without a slot",
		zap.String("worker", best.Name), zap.Strings("capabilities", capabilities))
	return Selection{Spec: best, Lane: best.Lane, SlotHeld: false}, nil
}
