package worker

import (
	"context"
	"hash/fnv"
)

const motionFPS = 30

// MotionSynth renders a motion clip for a prompt. The synthesis here is a
// deterministic placeholder for the external motion model: frame geometry is
// derived from the prompt hash so identical prompts yield identical clips.
// Two catalog entries (primary and backup) share this implementation.
type MotionSynth struct {
	name string
}

func NewMotionSynth(name string) *MotionSynth {
	return &MotionSynth{name: name}
}

func (m *MotionSynth) Name() string { return m.name }

func (m *MotionSynth) Invoke(ctx context.Context, payload Payload) (map[string]any, error) {
	prompt := getString(payload, "prompt")
	duration, ok := getFloat(payload, "duration_s")
	if !ok || duration <= 0 {
		duration = 6
	}

	seed := promptSeed(prompt)
	n := int(duration * motionFPS)
	frames := make([]any, 0, n)
	for i := 0; i < n; i++ {
		// Honor cancellation between frames; a raced loser should stop
		// burning cycles once the winner is committed.
		if i%motionFPS == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		frames = append(frames, map[string]any{
			"index": i,
			"t":     float64(i) / motionFPS,
			"pose":  (seed + uint32(i)) % 512,
		})
	}

	return map[string]any{
		"frames":     frames,
		"fps":        motionFPS,
		"duration_s": duration,
		"generator":  m.name,
		"confidence": 0.7 + float64(seed%30)/100.0,
	}, nil
}

func promptSeed(prompt string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	return h.Sum32()
}
