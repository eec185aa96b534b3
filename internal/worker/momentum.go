package worker

import "context"

// MomentumProbe derives a coarse momentum reading from round metadata: win
// streaks and economy swings. It supplements the micro detector on the
// perception stage.
type MomentumProbe struct{}

func NewMomentumProbe() *MomentumProbe {
	return &MomentumProbe{}
}

func (m *MomentumProbe) Name() string { return "momentum_probe" }

func (m *MomentumProbe) Invoke(_ context.Context, payload Payload) (map[string]any, error) {
	meta := getMap(payload, "round_meta")
	streak, _ := getFloat(meta, "win_streak")
	econ, _ := getFloat(meta, "economy_delta")

	momentum := streak * 0.2
	momentum += econ / 10000.0
	if momentum > 1 {
		momentum = 1
	}
	if momentum < -1 {
		momentum = -1
	}
	return map[string]any{
		"momentum": momentum,
		"swing":    momentum > 0.6 || momentum < -0.6,
	}, nil
}
