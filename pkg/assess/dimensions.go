package assess

import (
	"math"

	"github.com/nzoschke/perfscore/pkg/analysis"
	"github.com/nzoschke/perfscore/pkg/scoring"
)

// DimensionResult is one dimension scored at one resolution.
type DimensionResult struct {
	Score  float64
	Result scoring.Result

	// Gated is set when the loudness gate or an empty sequence decided the score.
	Gated bool
}

// ScorePitch matches reference pitches against the candidate's. Unmatched pitches
// still count when the fallback is configured and their magnitude is within the
// fallback tolerance of any candidate magnitude.
func ScorePitch(cfg DimensionConfig, ref, cand *analysis.Features) DimensionResult {
	refv, candv := pitchValues(cfg, ref), pitchValues(cfg, cand)
	return scoreWithFallback(cfg, refv, candv, func() ([]float64, []float64) {
		return dynamicsValues(cfg, ref), dynamicsValues(cfg, cand)
	})
}

// ScoreDynamics matches reference magnitudes against the candidate's, with the
// optional cross check on MIDI pitch.
func ScoreDynamics(cfg DimensionConfig, ref, cand *analysis.Features) DimensionResult {
	refv, candv := dynamicsValues(cfg, ref), dynamicsValues(cfg, cand)
	return scoreWithFallback(cfg, refv, candv, func() ([]float64, []float64) {
		midi := cfg
		midi.Units = UnitsMIDI
		return pitchValues(midi, ref), pitchValues(midi, cand)
	})
}

// ScoreTime matches onset times. With the gate enabled, empty onsets or a loudness
// difference above the limit return the gate score.
func ScoreTime(cfg DimensionConfig, gate LoudnessGate, ref, cand *analysis.Features) DimensionResult {
	refv, candv := onsetValues(cfg, ref), onsetValues(cfg, cand)

	if empty, ok := emptyScore(cfg, refv, candv); ok {
		return empty
	}
	if gate.Enabled {
		if len(refv) == 0 || len(candv) == 0 || math.Abs(ref.RMS-cand.RMS) > gate.MaxDifference {
			return DimensionResult{Score: gate.Score, Result: scoring.Result{Total: len(refv)}, Gated: true}
		}
	}

	tol := cfg.Tolerance
	if cfg.RelativeTolerance > 0 {
		// one second stands in for the interval of a single onset
		interval := 1.0
		if len(refv) > 1 {
			interval = (&analysis.Features{Onsets: refv}).MeanInterval()
		}
		tol = cfg.RelativeTolerance * interval
	}

	m := scoring.Matcher{Tolerance: tol, Strict: cfg.Strict}
	r := m.Match(refv, candv)
	return DimensionResult{Score: cfg.normalizer().Score(r), Result: r}
}

// ScoreRhythm matches consecutive inter-onset intervals. A reference with fewer
// than two onsets has no rhythm and scores neutral.
func ScoreRhythm(cfg DimensionConfig, ref, cand *analysis.Features) DimensionResult {
	refv, candv := intervals(onsetValues(cfg, ref)), intervals(onsetValues(cfg, cand))
	if len(refv) == 0 {
		return DimensionResult{Score: scoring.Neutral, Gated: true}
	}
	return score(cfg, refv, candv)
}

// DurationResult adds the per-gap relative deviations to a duration score.
type DurationResult struct {
	DimensionResult
	Deviations []float64
}

// ScoreDuration matches sorted inter-onset gaps one to one.
func ScoreDuration(cfg DimensionConfig, ref, cand *analysis.Features) DurationResult {
	refv, candv := durations(onsetValues(cfg, ref)), durations(onsetValues(cfg, cand))
	if empty, ok := emptyScore(cfg, refv, candv); ok {
		return DurationResult{DimensionResult: empty, Deviations: []float64{}}
	}

	m := scoring.Matcher{Discipline: scoring.Exclusive, Tolerance: cfg.Tolerance, Strict: cfg.Strict}
	r := m.Match(refv, candv)
	return DurationResult{
		DimensionResult: DimensionResult{Score: cfg.normalizer().Score(r), Result: r},
		Deviations:      r.RelativeDeviations(),
	}
}

func score(cfg DimensionConfig, refv, candv []float64) DimensionResult {
	return scoreWithFallback(cfg, refv, candv, nil)
}

func scoreWithFallback(cfg DimensionConfig, refv, candv []float64, secondary func() ([]float64, []float64)) DimensionResult {
	if empty, ok := emptyScore(cfg, refv, candv); ok {
		return empty
	}

	m := scoring.Matcher{Tolerance: cfg.Tolerance, Strict: cfg.Strict}
	r := m.Match(refv, candv)

	if cfg.FallbackTolerance != nil && secondary != nil && r.Unmatched > 0 {
		refs, cands := secondary()
		crossCheck(&r, refs, cands, *cfg.FallbackTolerance)
	}

	return DimensionResult{Score: cfg.normalizer().Score(r), Result: r}
}

// crossCheck promotes unmatched outcomes whose parallel secondary value is within
// tol of any candidate secondary value.
func crossCheck(r *scoring.Result, refs, cands []float64, tol float64) {
	for i := range r.Outcomes {
		o := &r.Outcomes[i]
		if o.Matched || o.ReferenceIndex >= len(refs) {
			continue
		}
		if scoring.AnyWithin(cands, refs[o.ReferenceIndex], tol) {
			o.Matched = true
			r.Matched++
			r.Unmatched--
		}
	}
}

func emptyScore(cfg DimensionConfig, refv, candv []float64) (DimensionResult, bool) {
	if cfg.EmptyScore == nil || (len(refv) > 0 && len(candv) > 0) {
		return DimensionResult{}, false
	}
	return DimensionResult{
		Score:  *cfg.EmptyScore,
		Result: scoring.Result{Unmatched: len(refv), Total: len(refv)},
		Gated:  true,
	}, true
}

func pitchValues(cfg DimensionConfig, f *analysis.Features) []float64 {
	hz := f.Peaks.Freqs
	if cfg.Source == SourceFrames {
		hz = f.Pitches
	}
	if cfg.Units != UnitsMIDI {
		return hz
	}
	out := make([]float64, len(hz))
	for i, v := range hz {
		out[i] = analysis.HzToMIDI(v)
	}
	return out
}

func dynamicsValues(cfg DimensionConfig, f *analysis.Features) []float64 {
	if cfg.Source == SourceFrames {
		return f.Magnitudes
	}
	return f.Peaks.Amps
}

func onsetValues(cfg DimensionConfig, f *analysis.Features) []float64 {
	if cfg.Source == SourcePeaks {
		return f.Peaks.Times
	}
	return f.Onsets
}

func intervals(times []float64) []float64 {
	return (&analysis.Features{Onsets: times}).Intervals()
}

func durations(times []float64) []float64 {
	return (&analysis.Features{Onsets: times}).Durations()
}
