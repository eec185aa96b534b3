package worker

import (
	"context"
	"math"
)

// MicroDetector flags players whose peeking rhythm is regular enough to be
// exploitable. It works purely off the grid snapshot; no model inference.
type MicroDetector struct{}

func NewMicroDetector() *MicroDetector {
	return &MicroDetector{}
}

func (d *MicroDetector) Name() string { return "micro_detector" }

func (d *MicroDetector) Invoke(_ context.Context, payload Payload) (map[string]any, error) {
	grid := getMap(payload, "grid_snapshot")
	characters := make([]any, 0, 8)
	for _, raw := range getSlice(grid, "players") {
		player, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		severity := peekSeverity(getSlice(player, "peek_events"))
		inference := "ok"
		if severity > 0.5 {
			inference = "predictable"
		}
		movement := "default"
		if getString(player, "role") == "entry" {
			movement = "aggressive"
		}
		characters = append(characters, map[string]any{
			"id":             player["id"],
			"agent":          player["agent"],
			"inference":      inference,
			"severity":       severity,
			"movement_style": movement,
		})
	}
	return map[string]any{"characters": characters}, nil
}

// peekSeverity scores timing regularity: three or more peeks with under one
// second of spread reads as a predictable habit.
func peekSeverity(events []any) float64 {
	if len(events) < 3 {
		return 0
	}
	times := make([]float64, 0, len(events))
	for _, raw := range events {
		ev, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := getFloat(ev, "time"); ok {
			times = append(times, t)
		}
	}
	if len(times) < 3 {
		return 0
	}
	if populationStdDev(times) < 1.0 {
		return 0.8
	}
	return 0
}

func populationStdDev(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
