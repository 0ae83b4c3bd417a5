// Package scoring matches reference observations against candidate observations
// under a tolerance and reduces the result to bounded 0-10 scores.
package scoring

import (
	"math"
	"sort"
)

// Discipline selects how candidate values may be reused while matching.
type Discipline int

const (
	// NonExclusive lets one candidate value satisfy any number of reference values.
	NonExclusive Discipline = iota
	// Exclusive sorts both sequences and consumes each candidate at most once.
	Exclusive
)

// Outcome is the classification of a single reference value.
type Outcome struct {
	ReferenceIndex int     // Index into the reference slice (sorted order for Exclusive)
	Reference      float64 // Reference value
	Matched        bool    // Whether a candidate was within tolerance
	CandidateIndex int     // Nearest/consumed candidate index, -1 if none was considered
	Candidate      float64 // Candidate value at CandidateIndex
	Distance       float64 // |Reference - Candidate|, +Inf when CandidateIndex is -1
}

// Result counts matched and unmatched reference values.
type Result struct {
	Matched   int
	Unmatched int
	Total     int // Length of the reference sequence
	Outcomes  []Outcome
}

// Compared returns the number of reference values that were classified.
func (r Result) Compared() int {
	return r.Matched + r.Unmatched
}

// RelativeDeviations returns |r-c|/r for every matched reference value and 1.0 for
// every unmatched one, in scan order.
func (r Result) RelativeDeviations() []float64 {
	out := make([]float64, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if !o.Matched || o.Reference == 0 {
			out = append(out, 1.0)
			continue
		}
		out = append(out, o.Distance/math.Abs(o.Reference))
	}
	return out
}

// ToleranceFunc returns the tolerance to use for the reference value at index i.
type ToleranceFunc func(i int, reference float64) float64

// Matcher classifies reference values against candidate values.
type Matcher struct {
	// Discipline selects non-exclusive or exclusive matching.
	// Default: NonExclusive
	Discipline Discipline

	// Tolerance is the maximum absolute difference for a match.
	// Ignored when ToleranceFunc is set.
	Tolerance float64

	// ToleranceFunc computes a per-reference tolerance.
	ToleranceFunc ToleranceFunc

	// Strict requires |r-c| < t instead of |r-c| <= t.
	Strict bool
}

// Match classifies reference against candidate with a fixed tolerance.
func Match(reference, candidate []float64, tolerance float64, exclusive bool) Result {
	m := Matcher{Tolerance: tolerance}
	if exclusive {
		m.Discipline = Exclusive
	}
	return m.Match(reference, candidate)
}

// Match classifies every reference value.
func (m Matcher) Match(reference, candidate []float64) Result {
	if m.Discipline == Exclusive {
		return m.matchExclusive(reference, candidate)
	}
	return m.matchNonExclusive(reference, candidate)
}

func (m Matcher) tolerance(i int, r float64) float64 {
	if m.ToleranceFunc != nil {
		return m.ToleranceFunc(i, r)
	}
	return m.Tolerance
}

func (m Matcher) within(dist, tol float64) bool {
	if m.Strict {
		return dist < tol
	}
	return dist <= tol
}

func (m Matcher) matchNonExclusive(reference, candidate []float64) Result {
	res := Result{Total: len(reference), Outcomes: make([]Outcome, 0, len(reference))}

	for i, r := range reference {
		o := Outcome{ReferenceIndex: i, Reference: r, CandidateIndex: -1, Distance: math.Inf(1)}

		if idx, dist, ok := Nearest(candidate, r); ok {
			o.CandidateIndex = idx
			o.Candidate = candidate[idx]
			o.Distance = dist
			o.Matched = m.within(dist, m.tolerance(i, r))
		}

		if o.Matched {
			res.Matched++
		} else {
			res.Unmatched++
		}
		res.Outcomes = append(res.Outcomes, o)
	}

	return res
}

// matchExclusive is a merge-style scan over sorted copies; the cursor only moves
// forward and only past a candidate once it is consumed or too small.
func (m Matcher) matchExclusive(reference, candidate []float64) Result {
	ref := sortedCopy(reference)
	cand := sortedCopy(candidate)

	res := Result{Total: len(ref), Outcomes: make([]Outcome, 0, len(ref))}

	j := 0
	for i, r := range ref {
		tol := m.tolerance(i, r)
		for j < len(cand) && cand[j] < r-tol {
			j++
		}

		o := Outcome{ReferenceIndex: i, Reference: r, CandidateIndex: -1, Distance: math.Inf(1)}
		if j < len(cand) {
			o.CandidateIndex = j
			o.Candidate = cand[j]
			o.Distance = math.Abs(r - cand[j])
			o.Matched = m.within(o.Distance, tol)
		}

		if o.Matched {
			res.Matched++
			j++
		} else {
			res.Unmatched++
		}
		res.Outcomes = append(res.Outcomes, o)
	}

	return res
}

// Nearest returns the index of the candidate closest to v and its distance.
// Ties go to the smallest index. ok is false when candidate is empty.
func Nearest(candidate []float64, v float64) (idx int, dist float64, ok bool) {
	if len(candidate) == 0 {
		return -1, math.Inf(1), false
	}

	idx, dist = 0, math.Abs(candidate[0]-v)
	for i := 1; i < len(candidate); i++ {
		if d := math.Abs(candidate[i] - v); d < dist {
			idx, dist = i, d
		}
	}
	return idx, dist, true
}

// AnyWithin reports whether any candidate lies within tol of v.
func AnyWithin(candidate []float64, v, tol float64) bool {
	_, dist, ok := Nearest(candidate, v)
	return ok && dist <= tol
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}
