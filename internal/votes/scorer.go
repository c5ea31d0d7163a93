package votes

import (
	"fmt"
	"math"
)

const (
	heuristicMin = 30
	heuristicMax = 90
)

// HeuristicScore derives a deterministic score from the proposal content
// length: round(sqrt(len)), clamped to [30,90]. Used whenever the model's
// judgment could not be obtained or parsed, so voting never blocks on a
// single agent.
func HeuristicScore(proposalContent string) int {
	score := int(math.Round(math.Sqrt(float64(len(proposalContent)))))
	if score < heuristicMin {
		return heuristicMin
	}
	if score > heuristicMax {
		return heuristicMax
	}
	return score
}

// HeuristicRationale labels a fallback vote. The "heuristic" marker is
// what diagnostics scan for when counting fallback triggers.
func HeuristicRationale(agentName string) string {
	return fmt.Sprintf("heuristic fallback score for %s (model judgment unavailable)", agentName)
}
