package insightapi

// InsightRequest seeds one orchestration run. It mirrors the canonical event
// source payload: one tactical moment identified by match and round, plus the
// grid snapshot and round metadata the perception workers consume.
type InsightRequest struct {
	MatchID            string         `json:"match_id"`
	Round              int            `json:"round"`
	GridSnapshot       map[string]any `json:"grid_snapshot,omitempty"`
	RoundMeta          map[string]any `json:"round_meta,omitempty"`
	DurationS          float64        `json:"duration_s,omitempty"`
	RequireHumanReview bool           `json:"require_human_review,omitempty"`
}

type SubmitInsightResponse struct {
	TaskID string `json:"task_id"`
}

// InsightResult is the terminal outcome of one orchestration. Skipped runs
// report ok=true with no frames; failed runs carry the error string.
type InsightResult struct {
	OK          bool   `json:"ok"`
	Skipped     bool   `json:"skipped,omitempty"`
	Frames      int    `json:"frames"`
	ArtifactURI string `json:"artifact_uri,omitempty"`
	Error       string `json:"error,omitempty"`
}

type RunStatusResponse struct {
	TaskID      string `json:"task_id"`
	MatchID     string `json:"match_id"`
	Round       int    `json:"round"`
	Status      string `json:"status"`
	Frames      int    `json:"frames,omitempty"`
	ArtifactURI string `json:"artifact_uri,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type CancelRunResponse struct {
	Accepted bool `json:"accepted"`
}

type WorkerInfo struct {
	Name           string   `json:"name"`
	Capabilities   []string `json:"capabilities"`
	Priority       int      `json:"priority"`
	MaxConcurrency int      `json:"max_concurrency"`
	Lane           string   `json:"lane"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Load           int      `json:"load"`
}

type WorkersResponse struct {
	Workers []WorkerInfo `json:"workers"`
}
