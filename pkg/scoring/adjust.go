package scoring

import "math"

// Adjust boosts scoreA by the shortfall of scoreB below 10, scaled by k, and clamps
// the result to 10. scoreB is never modified; a perfect scoreB leaves scoreA as is.
func Adjust(scoreA, scoreB, k float64) float64 {
	if scoreB >= MaxScore {
		return scoreA
	}
	return math.Min(MaxScore, scoreA+(MaxScore-scoreB)*k)
}
