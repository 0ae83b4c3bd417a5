package scoring

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Policy names an aggregation strategy for per-resolution scores.
type Policy string

const (
	// PolicyMeanExcludeNeutral averages scores, skipping those exactly equal to the
	// neutral 10 ("no signal at this resolution").
	PolicyMeanExcludeNeutral Policy = "mean-exclude-neutral"

	// PolicyTenCountMedianSpread is the timing aggregator: enough perfect scores
	// win outright, otherwise a median-filtered mean with a spread override.
	PolicyTenCountMedianSpread Policy = "ten-count-median-spread"

	// PolicyMean averages every score.
	PolicyMean Policy = "mean"
)

// ParsePolicy validates a policy name. An empty name selects PolicyMeanExcludeNeutral.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyMeanExcludeNeutral, nil
	case PolicyMeanExcludeNeutral, PolicyTenCountMedianSpread, PolicyMean:
		return p, nil
	default:
		return "", fmt.Errorf("unknown aggregation policy %q", s)
	}
}

// Aggregator reduces per-resolution scores to one score.
type Aggregator struct {
	// Policy selects the strategy.
	// Default: PolicyMeanExcludeNeutral
	Policy Policy

	// TenThreshold is the fraction of perfect scores that returns 10 outright.
	// Only used by PolicyTenCountMedianSpread. Default: 0.4
	TenThreshold float64

	// OutlierThreshold drops scores further than this from the median.
	// Only used by PolicyTenCountMedianSpread. Default: 2.0
	OutlierThreshold float64

	// SpreadThreshold returns 10 when max-min across all scores exceeds it.
	// Only used by PolicyTenCountMedianSpread. Default: 5
	SpreadThreshold float64

	// NearPerfect applies RoundNearPerfect to an aggregate of two or more scores.
	// A single score is returned as scored. Default: true
	NearPerfect bool
}

// DefaultAggregator returns an aggregator for p with the default thresholds.
func DefaultAggregator(p Policy) Aggregator {
	return Aggregator{
		Policy:           p,
		TenThreshold:     0.4,
		OutlierThreshold: 2.0,
		SpreadThreshold:  5,
		NearPerfect:      true,
	}
}

// Aggregate reduces scores with policy p and default thresholds.
func Aggregate(scores []float64, p Policy) float64 {
	return DefaultAggregator(p).Aggregate(scores)
}

// Aggregate reduces scores, rounding near-perfect multi-resolution results when
// NearPerfect is set. An empty list is neutral.
func (a Aggregator) Aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return Neutral
	}

	var out float64
	switch a.Policy {
	case PolicyTenCountMedianSpread:
		out = a.tenCountMedianSpread(scores)
	case PolicyMean:
		out = stat.Mean(scores, nil)
	default:
		out = meanExcludeNeutral(scores)
	}

	if a.NearPerfect && len(scores) > 1 {
		return RoundNearPerfect(out)
	}
	return out
}

func meanExcludeNeutral(scores []float64) float64 {
	kept := make([]float64, 0, len(scores))
	for _, s := range scores {
		if s != Neutral {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return Neutral
	}
	return stat.Mean(kept, nil)
}

// tenCountMedianSpread returns 10 for a highly inconsistent score set. That
// override is kept as observed in the timing heuristic.
func (a Aggregator) tenCountMedianSpread(scores []float64) float64 {
	tens := 0
	for _, s := range scores {
		if s == MaxScore {
			tens++
		}
	}
	if float64(tens)/float64(len(scores)) >= a.TenThreshold {
		return MaxScore
	}

	median := Median(scores)
	kept := make([]float64, 0, len(scores))
	for _, s := range scores {
		if math.Abs(s-median) <= a.OutlierThreshold {
			kept = append(kept, s)
		}
	}

	final := median
	if len(kept) > 0 {
		final = stat.Mean(kept, nil)
	}

	if floats.Max(scores)-floats.Min(scores) > a.SpreadThreshold {
		return MaxScore
	}

	return final
}

// Median returns the middle value, averaging the two middle values for even lengths.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := sortedCopy(xs)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// RoundNearPerfect rounds to the nearest integer at or above 9.5 and leaves lower
// scores at full precision.
func RoundNearPerfect(score float64) float64 {
	if score >= 9.5 {
		return math.Round(score)
	}
	return score
}
