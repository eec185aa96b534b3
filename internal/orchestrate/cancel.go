package orchestrate

import (
	"context"
	"sync"
)

// cancelRegistry maps live task ids to their cancel funcs. Cancellation is
// cooperative: the pipeline observes it between stages and at every blocking
// point, it is not a hard kill.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *cancelRegistry) register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[taskID] = cancel
}

func (r *cancelRegistry) unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, taskID)
}

// cancel fires the task's cancel func. Returns false when the task is not
// live, either unknown or already finished.
func (r *cancelRegistry) cancel(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[taskID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
