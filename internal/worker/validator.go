package worker

import "context"

// fullClipFrames is the frame count a six-second clip at 30fps should carry;
// scores normalize against it.
const fullClipFrames = 180.0

// Validator scores a generated motion clip on structural completeness.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Name() string { return "validator" }

func (v *Validator) Invoke(_ context.Context, payload Payload) (map[string]any, error) {
	frames := getSlice(payload, "frames")
	score := 0.0
	if n := len(frames); n > 0 {
		score = float64(n) / fullClipFrames
		if score > 1 {
			score = 1
		}
	}
	return map[string]any{
		"score":    score,
		"valid":    score > 0.5,
		"n_frames": len(frames),
	}, nil
}
