package scoring

import "math"

const (
	// MaxScore is the upper bound every score is clamped to.
	MaxScore = 10.0

	// Neutral is returned when there is nothing to compare.
	Neutral = MaxScore
)

// Curve transforms a match ratio in [0, 1] before scaling.
type Curve func(ratio float64) float64

// Power returns a curve raising the ratio to exp. Exponents 0 and 1 are the identity.
func Power(exp float64) Curve {
	if exp == 0 || exp == 1 {
		return nil
	}
	return func(ratio float64) float64 {
		return math.Pow(ratio, exp)
	}
}

// Normalizer converts a match result into a bounded score.
type Normalizer struct {
	// Scale multiplies the (curved) ratio. Values above 10 give headroom before
	// the clamp.
	// Default: 10
	Scale float64

	// PenalizeMissing divides by the reference length instead of the number of
	// classified values, so sparse candidates score lower.
	// Default: false
	PenalizeMissing bool

	// Curve is applied to the ratio before scaling. Nil is the identity.
	Curve Curve

	// Precision is the number of decimals to round to. Negative disables rounding.
	// Default: -1
	Precision int
}

// Score converts r with the given scale, missing policy and curve. It does not round.
func Score(r Result, scale float64, penalizeMissing bool, curve Curve) float64 {
	n := Normalizer{Scale: scale, PenalizeMissing: penalizeMissing, Curve: curve, Precision: -1}
	return n.Score(r)
}

// Score returns the normalized score for r.
func (n Normalizer) Score(r Result) float64 {
	denom := r.Compared()
	if n.PenalizeMissing {
		denom = r.Total
	}
	if denom == 0 {
		return Neutral
	}

	return n.Finish(float64(r.Matched) / float64(denom))
}

// Finish applies the curve, scale, clamp and rounding to a ratio.
func (n Normalizer) Finish(ratio float64) float64 {
	if n.Curve != nil {
		ratio = n.Curve(ratio)
	}

	scale := n.Scale
	if scale == 0 {
		scale = MaxScore
	}

	return Round(Clamp(ratio*scale), n.Precision)
}

// Clamp bounds a score to [0, MaxScore].
func Clamp(score float64) float64 {
	return math.Max(0, math.Min(MaxScore, score))
}

// Round rounds x to the given number of decimals. Negative precision returns x.
func Round(x float64, precision int) float64 {
	if precision < 0 {
		return x
	}
	p := math.Pow(10, float64(precision))
	return math.Round(x*p) / p
}
