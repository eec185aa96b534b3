package orchestrate

import (
	"sync"
	"time"

	"github.com/lucylow/SkySimTacticalGG/pkg/insightapi"
)

// Run statuses. error is absorbing from any stage; skipped is terminal and
// only reachable from received.
const (
	StatusReceived   = "received"
	StatusPerception = "perception"
	StatusPrompt     = "prompt"
	StatusMotion     = "motion"
	StatusValidation = "validation"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusSkipped    = "skipped"
)

// Run is the mutable status record for one orchestration, owned by the run
// index and read by the status API.
type Run struct {
	TaskID      string
	MatchID     string
	Round       int
	Status      string
	Frames      int
	ArtifactURI string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// runIndex is the in-memory status store behind GET /v1/insights/{id}.
type runIndex struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func newRunIndex() *runIndex {
	return &runIndex{runs: make(map[string]*Run)}
}

func (idx *runIndex) create(taskID, matchID string, round int) {
	now := time.Now().UTC()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.runs[taskID] = &Run{
		TaskID:    taskID,
		MatchID:   matchID,
		Round:     round,
		Status:    StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (idx *runIndex) setStatus(taskID, status string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if run, ok := idx.runs[taskID]; ok {
		run.Status = status
		run.UpdatedAt = time.Now().UTC()
	}
}

func (idx *runIndex) complete(taskID string, frames int, artifactURI string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if run, ok := idx.runs[taskID]; ok {
		run.Status = StatusCompleted
		run.Frames = frames
		run.ArtifactURI = artifactURI
		run.UpdatedAt = time.Now().UTC()
	}
}

func (idx *runIndex) fail(taskID, errMsg string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if run, ok := idx.runs[taskID]; ok {
		run.Status = StatusError
		run.Error = errMsg
		run.UpdatedAt = time.Now().UTC()
	}
}

func (idx *runIndex) get(taskID string) (Run, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	run, ok := idx.runs[taskID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

func (r Run) toStatusResponse() insightapi.RunStatusResponse {
	return insightapi.RunStatusResponse{
		TaskID:      r.TaskID,
		MatchID:     r.MatchID,
		Round:       r.Round,
		Status:      r.Status,
		Frames:      r.Frames,
		ArtifactURI: r.ArtifactURI,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339Nano),
	}
}
