package assess

import (
	"testing"

	"github.com/nzoschke/perfscore/pkg/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peaks(times, freqs, amps []float64) *analysis.Features {
	return &analysis.Features{Onsets: times, Peaks: analysis.Peaks{Times: times, Freqs: freqs, Amps: amps}}
}

func TestScorePitch_Peaks(t *testing.T) {
	cfg := DefaultConfig().Pitch
	ref := peaks(nil, []float64{100, 200, 300, 400}, nil)
	cand := peaks(nil, []float64{100.05, 200, 1000}, nil)

	res := ScorePitch(cfg, ref, cand)
	assert.Equal(t, 5.0, res.Score)
	assert.Equal(t, 2, res.Result.Matched)
	assert.Equal(t, 2, res.Result.Unmatched)
}

func TestScorePitch_EmptyCandidate(t *testing.T) {
	ref := peaks(nil, []float64{100, 200}, nil)
	cand := peaks(nil, nil, nil)

	// no empty score: every reference pitch is unmatched
	cfg := DefaultConfig().Pitch
	assert.Equal(t, 0.0, ScorePitch(cfg, ref, cand).Score)

	// nothing to compare
	assert.Equal(t, 10.0, ScorePitch(cfg, cand, ref).Score)

	// web preset scores an empty side 0
	web, err := Preset("web")
	require.NoError(t, err)
	res := ScorePitch(web.Pitch, &analysis.Features{}, &analysis.Features{Pitches: []float64{1}})
	assert.Equal(t, 0.0, res.Score)
	assert.True(t, res.Gated)
}

func TestScorePitch_SquaredStrict(t *testing.T) {
	web, err := Preset("web")
	require.NoError(t, err)

	ref := &analysis.Features{Pitches: []float64{440, 441, 442, 443}}
	cand := &analysis.Features{Pitches: []float64{440.2, 441.1, 500, 600}}
	assert.Equal(t, 2.5, ScorePitch(web.Pitch, ref, cand).Score)

	// exactly at the tolerance does not match when strict
	ref = &analysis.Features{Pitches: []float64{1.0}}
	cand = &analysis.Features{Pitches: []float64{1.25}}
	cfg := web.Pitch
	cfg.Tolerance = 0.25
	assert.Equal(t, 0.0, ScorePitch(cfg, ref, cand).Score)
	cfg.Strict = false
	assert.Equal(t, 10.0, ScorePitch(cfg, ref, cand).Score)
}

func TestScorePitch_DynamicsFallback(t *testing.T) {
	sweep, err := Preset("sweep")
	require.NoError(t, err)
	cfg := sweep.Pitch

	ref := &analysis.Features{
		Pitches:    []float64{440, 660, 880},
		Magnitudes: []float64{0.5, 0.7, 0.9},
	}
	cand := &analysis.Features{
		Pitches:    []float64{440, 300},
		Magnitudes: []float64{0.1, 0.705},
	}

	// 440 matches on pitch, 660 is rescued by its magnitude, 880 misses both
	res := ScorePitch(cfg, ref, cand)
	assert.Equal(t, 2, res.Result.Matched)
	assert.Equal(t, 1, res.Result.Unmatched)
	assert.Equal(t, 6.67, res.Score)

	cfg.FallbackTolerance = nil
	assert.Equal(t, 3.33, ScorePitch(cfg, ref, cand).Score)
}

func TestScoreDynamics_PitchFallbackInMIDI(t *testing.T) {
	sweep, err := Preset("sweep")
	require.NoError(t, err)
	cfg := sweep.Dynamics

	ref := &analysis.Features{
		Pitches:    []float64{440, 880},
		Magnitudes: []float64{0.5, 0.9},
	}
	// 0.9 has no magnitude within 0.1, but 880 Hz is within 0.3 semitones of 885 Hz
	cand := &analysis.Features{
		Pitches:    []float64{300, 885},
		Magnitudes: []float64{0.52, 0.1},
	}

	res := ScoreDynamics(cfg, ref, cand)
	assert.Equal(t, 2, res.Result.Matched)
	assert.Equal(t, 10.0, res.Score)

	cand.Pitches = []float64{300, 950}
	assert.Equal(t, 5.0, ScoreDynamics(cfg, ref, cand).Score)
}

func TestScoreTime_RelativeTolerance(t *testing.T) {
	web, err := Preset("web")
	require.NoError(t, err)

	ref := &analysis.Features{Onsets: []float64{0, 0.5, 1.0, 1.5}}
	cand := &analysis.Features{Onsets: []float64{0.05, 0.58, 1.2, 1.5}}

	// tolerance 0.2 * 0.5 = 0.1, 3 of 4 match, scaled by 11
	res := ScoreTime(web.Time, web.LoudnessGate, ref, cand)
	assert.Equal(t, 3, res.Result.Matched)
	assert.Equal(t, 8.3, res.Score)
}

func TestScoreTime_RelativeToleranceSingleOnset(t *testing.T) {
	web, err := Preset("web")
	require.NoError(t, err)

	// with one reference onset the interval defaults to 1, so the tolerance is 0.2
	ref := &analysis.Features{Onsets: []float64{1.0}}
	cand := &analysis.Features{Onsets: []float64{1.15}}
	assert.Equal(t, 10.0, ScoreTime(web.Time, web.LoudnessGate, ref, cand).Score)
}

func TestScoreTime_LoudnessGate(t *testing.T) {
	sweep, err := Preset("sweep")
	require.NoError(t, err)

	ref := &analysis.Features{Onsets: []float64{0, 1}, RMS: 0.05}
	cand := &analysis.Features{Onsets: []float64{0, 1}, RMS: 0.1}
	assert.Equal(t, 10.0, ScoreTime(sweep.Time, sweep.LoudnessGate, ref, cand).Score)

	cand.RMS = 0.7
	res := ScoreTime(sweep.Time, sweep.LoudnessGate, ref, cand)
	assert.Equal(t, 5.0, res.Score)
	assert.True(t, res.Gated)

	cand.RMS = 0.1
	cand.Onsets = nil
	assert.Equal(t, 5.0, ScoreTime(sweep.Time, sweep.LoudnessGate, ref, cand).Score)
}

func TestScoreTime_UnsortedInputs(t *testing.T) {
	cfg := DefaultConfig().Time
	cfg.Source = SourceOnsets

	ref := &analysis.Features{Onsets: []float64{2.0, 0.0, 1.0}}
	cand := &analysis.Features{Onsets: []float64{1.05, 2.1, 0.1}}
	assert.Equal(t, 10.0, ScoreTime(cfg, LoudnessGate{}, ref, cand).Score)
}

func TestScoreRhythm(t *testing.T) {
	cfg := DefaultConfig().Rhythm

	ref := peaks([]float64{0, 1, 2, 3}, nil, nil)
	cand := peaks([]float64{0.5, 1.5, 3, 4}, nil, nil)

	// intervals [1 1 1] vs [1 1.5 1]: every reference interval has a close one
	assert.Equal(t, 10.0, ScoreRhythm(cfg, ref, cand).Score)

	cand = peaks([]float64{0, 2, 4}, nil, nil)
	assert.Equal(t, 0.0, ScoreRhythm(cfg, ref, cand).Score)
}

func TestScoreRhythm_TooFewOnsetsIsNeutral(t *testing.T) {
	cfg := DefaultConfig().Rhythm
	cfg.EmptyScore = ptr(0)

	ref := peaks([]float64{1}, nil, nil)
	cand := peaks([]float64{0, 1, 2}, nil, nil)
	assert.Equal(t, 10.0, ScoreRhythm(cfg, ref, cand).Score)
}

func TestScoreDuration_ExclusiveWithDeviations(t *testing.T) {
	cfg := DefaultConfig().Duration

	// gaps [0.5 1 2] vs [0.55 1.9]
	ref := &analysis.Features{Onsets: []float64{0, 0.5, 1.5, 3.5}}
	cand := &analysis.Features{Onsets: []float64{0, 0.55, 2.45}}

	res := ScoreDuration(cfg, ref, cand)
	assert.Equal(t, 2, res.Result.Matched)
	assert.Equal(t, 6.7, res.Score)
	require.Len(t, res.Deviations, 3)
	assert.InDelta(t, 0.1, res.Deviations[0], 1e-9)
	assert.Equal(t, 1.0, res.Deviations[1])
	assert.InDelta(t, 0.05, res.Deviations[2], 1e-9)
}

func TestScoreDuration_OneCandidateGapServesOnce(t *testing.T) {
	cfg := DefaultConfig().Duration

	ref := &analysis.Features{Onsets: []float64{0, 1, 2}}
	cand := &analysis.Features{Onsets: []float64{0, 1}}

	res := ScoreDuration(cfg, ref, cand)
	assert.Equal(t, 1, res.Result.Matched)
	assert.Equal(t, 5.0, res.Score)
}

func TestScoreDuration_Empty(t *testing.T) {
	cfg := DefaultConfig().Duration
	res := ScoreDuration(cfg, &analysis.Features{Onsets: []float64{0, 1}}, &analysis.Features{})
	assert.Equal(t, 0.0, res.Score)
	assert.Empty(t, res.Deviations)
}
