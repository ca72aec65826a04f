package activation

import (
	"math"
	"sort"
)

// Stabilization constants. Convergence typically lands in 2-4 rounds.
const (
	maxStabilizeRounds = 10
	noiseFloorFraction = 0.05
	dampingFactor      = 0.85
	convergenceEpsilon = 1e-3
	nearZeroSum        = 1e-6
)

// Inhibit applies lateral inhibition in place: the top k neurons keep
// their scores, everything else is scaled by factor.
func Inhibit(scores map[string]float64, k int, factor float64) {
	if len(scores) <= k {
		return
	}
	ids := rankedIDs(scores)
	for _, id := range ids[k:] {
		scores[id] *= factor
	}
}

// Stabilize iterates noise-floor subtraction, global damping, and
// homeostatic normalization against the budget until the L1 change
// between rounds drops under epsilon. Scores are modified in place and
// the round count is returned.
func Stabilize(scores map[string]float64, budget float64) int {
	for round := 1; round <= maxStabilizeRounds; round++ {
		var maxScore, sum float64
		for _, v := range scores {
			if v > maxScore {
				maxScore = v
			}
			sum += v
		}
		if sum < nearZeroSum {
			return round
		}

		floor := maxScore * noiseFloorFraction
		var change float64
		for id, v := range scores {
			next := v - floor
			if next < 0 {
				next = 0
			}
			next *= dampingFactor
			change += math.Abs(next - v)
			scores[id] = next
		}

		// Homeostatic normalization: the total never exceeds the budget.
		sum = 0
		for _, v := range scores {
			sum += v
		}
		if budget > 0 && sum > budget {
			scale := budget / sum
			for id := range scores {
				scores[id] *= scale
			}
		}

		if change < convergenceEpsilon {
			return round
		}
	}
	return maxStabilizeRounds
}

// rankedIDs orders neuron ids by descending score, ties by id so re-runs
// on equal input produce identical order.
func rankedIDs(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// RankedIDs is the exported deterministic ranking used by reconstruction.
func RankedIDs(scores map[string]float64) []string {
	return rankedIDs(scores)
}
