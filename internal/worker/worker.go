package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownWorker = errors.New("unknown worker")

// Payload is the loosely-typed input every worker consumes. Orchestration
// bookkeeping travels in underscore-prefixed keys (_race_id,
// _require_human_review) alongside the domain fields.
type Payload = map[string]any

// Worker is one interchangeable unit of domain logic. Implementations must
// be safe to invoke under a deadline and idempotent enough to retry.
type Worker interface {
	Name() string
	Invoke(ctx context.Context, payload Payload) (map[string]any, error)
}

// Set is the process-local worker catalog. It is built explicitly from a
// fixed list of constructors at startup; there is no global registration and
// no import-order dependence.
type Set struct {
	workers map[string]Worker
}

func NewSet(workers ...Worker) (*Set, error) {
	s := &Set{workers: make(map[string]Worker, len(workers))}
	for _, w := range workers {
		if w.Name() == "" {
			return nil, errors.New("worker with empty name")
		}
		if _, dup := s.workers[w.Name()]; dup {
			return nil, fmt.Errorf("duplicate worker %s", w.Name())
		}
		s.workers[w.Name()] = w
	}
	return s, nil
}

func (s *Set) Get(name string) (Worker, error) {
	w, ok := s.workers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	return w, nil
}

func (s *Set) Names() []string {
	out := make([]string, 0, len(s.workers))
	for name := range s.workers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtin returns the workers shipped with the control plane.
func Builtin() (*Set, error) {
	return NewSet(
		NewMicroDetector(),
		NewMomentumProbe(),
		NewPromptGenerator(),
		NewMotionSynth("motion_synth"),
		NewMotionSynth("motion_synth_backup"),
		NewValidator(),
	)
}

func getMap(p Payload, key string) map[string]any {
	if m, ok := p[key].(map[string]any); ok {
		return m
	}
	return nil
}

func getSlice(m map[string]any, key string) []any {
	if s, ok := m[key].([]any); ok {
		return s
	}
	return nil
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
