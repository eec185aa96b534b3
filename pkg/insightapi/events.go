package insightapi

import "time"

// ProgressEvent is one line of orchestration narration published on the
// progress channel. Consumers treat the stream as advisory; nothing in the
// pipeline depends on delivery.
type ProgressEvent struct {
	TaskID  string         `json:"task_id"`
	MatchID string         `json:"match_id,omitempty"`
	Round   int            `json:"round,omitempty"`
	Event   string         `json:"event"`
	TS      string         `json:"ts"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewProgressEvent stamps an event with the current wall clock.
func NewProgressEvent(taskID, event string, data map[string]any) ProgressEvent {
	return ProgressEvent{
		TaskID: taskID,
		Event:  event,
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
		Data:   data,
	}
}
