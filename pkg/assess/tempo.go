package assess

import (
	"math"

	"github.com/nzoschke/perfscore/pkg/scoring"
)

// TempoResult compares two tempo estimates.
type TempoResult struct {
	Reference float64 `json:"reference_bpm"`
	Candidate float64 `json:"candidate_bpm"`

	// Corrected is the candidate after halving or doubling to the reference's octave.
	Corrected float64 `json:"corrected_bpm"`

	// Accuracy is 100 minus the percent deviation. It goes negative past 100%.
	Accuracy float64 `json:"accuracy"`

	Score       float64 `json:"score"`
	Significant bool    `json:"significant"`
}

// CompareTempo scores a candidate tempo against a reference tempo. A reference of
// zero scores 0.
func CompareTempo(reference, candidate float64, cfg TempoConfig) TempoResult {
	res := TempoResult{Reference: reference, Candidate: candidate, Corrected: candidate}
	if reference <= 0 {
		return res
	}

	ratio := cfg.OctaveRatio
	if ratio <= 1 {
		ratio = 1.3
	}
	switch {
	case candidate > reference*ratio:
		res.Corrected = candidate / 2
	case candidate < reference/ratio:
		res.Corrected = candidate * 2
	}

	diff := math.Abs(res.Corrected - reference)
	res.Accuracy = 100 - diff/reference*100
	res.Score = scoring.Clamp(res.Accuracy / 10)
	res.Significant = diff > cfg.SignificantBPM
	return res
}
