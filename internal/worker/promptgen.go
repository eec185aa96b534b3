package worker

import (
	"context"
	"fmt"
	"strings"
)

// agentMotionStyles maps a playable agent to the movement vocabulary the
// motion model responds to.
var agentMotionStyles = map[string]string{
	"Jett":      "light, acrobatic, and fluid",
	"Brimstone": "deliberate, heavy, and authoritative",
	"Sage":      "calm, measured, and supportive",
	"Sova":      "precise, methodical, and calculated",
	"Omen":      "smooth, elusive, and unpredictable",
	"Phoenix":   "aggressive, dynamic, and confident",
	"Raze":      "explosive, energetic, and bold",
	"Cypher":    "methodical, patient, and observant",
	"Viper":     "controlled, strategic, and calculated",
	"Reyna":     "dominant, confident, and aggressive",
	"Killjoy":   "organized, precise, and tactical",
	"Neon":      "fast, energetic, and dynamic",
	"Chamber":   "precise, elegant, and calculated",
	"Fade":      "smooth, tracking, and methodical",
}

const defaultMotionStyle = "balanced and controlled"

// maxPromptWords keeps prompts inside the motion model's sweet spot.
const maxPromptWords = 60

// PromptGenerator turns the perception stage's character analysis into a
// natural-language motion prompt.
type PromptGenerator struct{}

func NewPromptGenerator() *PromptGenerator {
	return &PromptGenerator{}
}

func (g *PromptGenerator) Name() string { return "prompt_generator" }

func (g *PromptGenerator) Invoke(_ context.Context, payload Payload) (map[string]any, error) {
	subject := pickSubject(getSlice(payload, "characters"))

	agent := "the player"
	style := defaultMotionStyle
	inference := "holding position"
	if subject != nil {
		if name := getString(subject, "agent"); name != "" {
			agent = name
			if s, ok := agentMotionStyles[name]; ok {
				style = s
			}
		}
		if inf := getString(subject, "inference"); inf == "predictable" {
			inference = "repeating a predictable peek pattern"
		}
		if getString(subject, "movement_style") == "aggressive" {
			style = style + ", pushing forward"
		}
	}

	prompt := fmt.Sprintf(
		"%s moves through the site %s, %s, then repositions behind cover with a sharp check of the off angle",
		agent, style, inference,
	)
	prompt = clampWords(prompt, maxPromptWords)

	return map[string]any{
		"prompt":     prompt,
		"confidence": 0.9,
	}, nil
}

// pickSubject prefers the character with the strongest detected habit.
func pickSubject(characters []any) map[string]any {
	var best map[string]any
	bestSeverity := -1.0
	for _, raw := range characters {
		ch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		severity, _ := getFloat(ch, "severity")
		if severity > bestSeverity {
			best = ch
			bestSeverity = severity
		}
	}
	return best
}

func clampWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}
