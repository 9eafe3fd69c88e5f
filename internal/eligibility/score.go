package eligibility

import (
	"fmt"
	"math"

	"github.com/sawpanic/eligibility/internal/config"
)

// ChainScore is the auditable weighted linear sum
//
//	score = 100 * (wD*diversity + wA*activity + wR*(1-risk) + wM*(1-mevProbability)) / (wD+wA+wR+wM)
//
// with risk Low=0, Medium=0.5, High=1. Inputs are clamped to [0,1] so the result is in [0,100].
func ChainScore(w config.Weights, s Signals) float64 {
	sum := w.Sum()
	if sum <= 0 {
		return 0
	}

	raw := w.Diversity*clamp(s.Diversity, 0, 1) +
		w.Activity*clamp(s.Activity, 0, 1) +
		w.Risk*(1-clamp(s.Risk, 0, 1)) +
		w.MEV*(1-clamp(s.MEVProbability, 0, 1))

	return clamp(100*raw/sum, 0, 100)
}

// FinalScore is the mean of the available chain scores, clamped to [0,100]
func FinalScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return clamp(total/float64(len(scores)), 0, 100)
}

// Formula renders the configured score formula for the report
func Formula(w config.Weights) string {
	return fmt.Sprintf(
		"score = 100 * (%.2f*diversity + %.2f*activity + %.2f*(1-risk) + %.2f*(1-mevProbability)) / %.2f; final = mean(available chains)",
		w.Diversity, w.Activity, w.Risk, w.MEV, w.Sum())
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
