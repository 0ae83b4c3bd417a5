// Package assess scores a candidate performance against a reference across
// dimensions and analysis resolutions.
package assess

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/nzoschke/perfscore/pkg/analysis"
	"github.com/nzoschke/perfscore/pkg/scoring"
)

// Logger is the logging surface, satisfied by gommon and echo loggers.
type Logger = analysis.Logger

// ResolutionScore is one dimension's score at one resolution.
type ResolutionScore struct {
	Resolution int     `json:"resolution"`
	Raw        float64 `json:"raw"`   // before adjustments
	Score      float64 `json:"score"` // after adjustments
	Matched    int     `json:"matched"`
	Unmatched  int     `json:"unmatched"`
	Total      int     `json:"total"`
}

// DimensionScore is the aggregated score of one dimension.
type DimensionScore struct {
	Score         float64           `json:"score"`
	PerResolution []ResolutionScore `json:"per_resolution,omitempty"`
}

// Report is the outcome of one comparison.
type Report struct {
	Reference  string                       `json:"reference"`
	Candidate  string                       `json:"candidate"`
	Dimensions map[Dimension]*DimensionScore `json:"dimensions"`

	DurationDeviations []float64    `json:"duration_deviations,omitempty"`
	Tempo              *TempoResult `json:"tempo,omitempty"`
}

// Score returns the final score of d and whether it was computed.
func (r *Report) Score(d Dimension) (float64, bool) {
	ds, ok := r.Dimensions[d]
	if !ok {
		return 0, false
	}
	return ds.Score, true
}

// Assessor runs comparisons with a fixed configuration. It is safe for concurrent use.
type Assessor struct {
	cfg Config
	ext analysis.Extractor
	log Logger
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithLogger sets the logger. Default: silent.
func WithLogger(l Logger) Option {
	return func(a *Assessor) {
		if l != nil {
			a.log = l
		}
	}
}

// New validates cfg and returns an Assessor extracting features with ext.
func New(cfg Config, ext analysis.Extractor, opts ...Option) (*Assessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Assessor{cfg: cfg, ext: ext, log: analysis.NopLogger{}}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Config returns the assessor's configuration.
func (a *Assessor) Config() Config {
	return a.cfg
}

// Resolutions returns every resolution a comparison extracts, in first-use order.
func (a *Assessor) Resolutions() []int {
	var out []int
	seen := make(map[int]bool)
	add := func(rs ...int) {
		for _, r := range rs {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	for _, d := range perResolution {
		if dc, _ := a.cfg.Dimension(d); dc.Enabled {
			add(a.cfg.resolutionsFor(d)...)
		}
	}
	if a.cfg.Duration.Enabled {
		add(a.cfg.resolutionsFor(Duration)[0])
	}
	if a.cfg.Tempo.Enabled {
		add(a.tempoResolution())
	}
	return out
}

func (a *Assessor) tempoResolution() int {
	if a.cfg.Tempo.Resolution != 0 {
		return a.cfg.Tempo.Resolution
	}
	return a.cfg.Resolutions[0]
}

// Compare scores candidatePath against referencePath. Extraction failures abort the
// comparison; empty feature sequences never do.
func (a *Assessor) Compare(ctx context.Context, referencePath, candidatePath string) (*Report, error) {
	return a.compare(ctx, newMemo(a.ext, ""), referencePath, candidatePath)
}

func (a *Assessor) compare(ctx context.Context, ext analysis.Extractor, referencePath, candidatePath string) (*Report, error) {
	report := &Report{
		Reference:  filepath.Base(referencePath),
		Candidate:  filepath.Base(candidatePath),
		Dimensions: make(map[Dimension]*DimensionScore),
	}

	extract := func(r int) (*analysis.Features, *analysis.Features, error) {
		ref, err := ext.Extract(ctx, referencePath, r)
		if err != nil {
			return nil, nil, fmt.Errorf("extract reference %s at %d: %w", filepath.Base(referencePath), r, err)
		}
		cand, err := ext.Extract(ctx, candidatePath, r)
		if err != nil {
			return nil, nil, fmt.Errorf("extract candidate %s at %d: %w", filepath.Base(candidatePath), r, err)
		}
		return ref, cand, nil
	}

	for _, r := range a.Resolutions() {
		var scored []Dimension
		for _, d := range perResolution {
			if dc, _ := a.cfg.Dimension(d); dc.Enabled && slices.Contains(a.cfg.resolutionsFor(d), r) {
				scored = append(scored, d)
			}
		}
		if len(scored) == 0 {
			continue
		}

		ref, cand, err := extract(r)
		if err != nil {
			return nil, err
		}

		results := make(map[Dimension]DimensionResult, len(scored))
		scores := make(map[Dimension]float64, len(scored))
		for _, d := range scored {
			res := a.scoreDimension(d, ref, cand)
			results[d] = res
			scores[d] = res.Score
		}

		for _, adj := range a.cfg.Adjustments {
			t, tok := scores[adj.Target]
			s, sok := scores[adj.Source]
			if tok && sok {
				scores[adj.Target] = scoring.Adjust(t, s, adj.K)
			}
		}

		for _, d := range scored {
			ds := report.dimension(d)
			res := results[d]
			ds.PerResolution = append(ds.PerResolution, ResolutionScore{
				Resolution: r,
				Raw:        res.Score,
				Score:      scores[d],
				Matched:    res.Result.Matched,
				Unmatched:  res.Result.Unmatched,
				Total:      res.Result.Total,
			})
		}
		a.log.Debugf("%s vs %s at %d: %v", report.Reference, report.Candidate, r, scores)
	}

	for _, d := range perResolution {
		ds, ok := report.Dimensions[d]
		if !ok {
			continue
		}
		dc, _ := a.cfg.Dimension(d)
		policy, _ := scoring.ParsePolicy(string(dc.Aggregation))
		per := make([]float64, len(ds.PerResolution))
		for i, rs := range ds.PerResolution {
			per[i] = rs.Score
		}
		ds.Score = scoring.DefaultAggregator(policy).Aggregate(per)
	}

	if a.cfg.Duration.Enabled {
		r := a.cfg.resolutionsFor(Duration)[0]
		ref, cand, err := extract(r)
		if err != nil {
			return nil, err
		}
		res := ScoreDuration(a.cfg.Duration, ref, cand)
		ds := report.dimension(Duration)
		ds.Score = res.Score
		ds.PerResolution = []ResolutionScore{{
			Resolution: r,
			Raw:        res.Score,
			Score:      res.Score,
			Matched:    res.Result.Matched,
			Unmatched:  res.Result.Unmatched,
			Total:      res.Result.Total,
		}}
		report.DurationDeviations = res.Deviations
	}

	if a.cfg.Tempo.Enabled {
		ref, cand, err := extract(a.tempoResolution())
		if err != nil {
			return nil, err
		}
		t := CompareTempo(ref.Tempo, cand.Tempo, a.cfg.Tempo)
		report.Tempo = &t
		report.dimension(Tempo).Score = t.Score
	}

	a.log.Infof("%s vs %s: %s", report.Reference, report.Candidate, report.summary())
	return report, nil
}

func (a *Assessor) scoreDimension(d Dimension, ref, cand *analysis.Features) DimensionResult {
	switch d {
	case Pitch:
		return ScorePitch(a.cfg.Pitch, ref, cand)
	case Dynamics:
		return ScoreDynamics(a.cfg.Dynamics, ref, cand)
	case Time:
		return ScoreTime(a.cfg.Time, a.cfg.LoudnessGate, ref, cand)
	case Rhythm:
		return ScoreRhythm(a.cfg.Rhythm, ref, cand)
	default:
		panic(fmt.Sprintf("assess: %s is not scored per resolution", d))
	}
}

func (r *Report) dimension(d Dimension) *DimensionScore {
	ds, ok := r.Dimensions[d]
	if !ok {
		ds = &DimensionScore{}
		r.Dimensions[d] = ds
	}
	return ds
}

func (r *Report) summary() string {
	s := ""
	for _, d := range []Dimension{Pitch, Dynamics, Time, Rhythm, Duration, Tempo} {
		if v, ok := r.Score(d); ok {
			if s != "" {
				s += " "
			}
			s += fmt.Sprintf("%s=%.2f", d, v)
		}
	}
	return s
}

// BatchResult is one candidate's outcome within a batch.
type BatchResult struct {
	Candidate string
	Report    *Report
	Err       error
}

// Batch compares every candidate against one reference. Reference features are
// extracted once. A failing candidate is reported and does not stop the batch.
func (a *Assessor) Batch(ctx context.Context, referencePath string, candidatePaths []string) []BatchResult {
	ref := newMemo(a.ext, referencePath)
	out := make([]BatchResult, 0, len(candidatePaths))
	for _, c := range candidatePaths {
		if err := ctx.Err(); err != nil {
			out = append(out, BatchResult{Candidate: c, Err: err})
			continue
		}
		report, err := a.compare(ctx, newMemo(ref, ""), referencePath, c)
		if err != nil {
			a.log.Errorf("%s: %v", filepath.Base(c), err)
		}
		out = append(out, BatchResult{Candidate: c, Report: report, Err: err})
	}
	return out
}

// memo caches extracted features by path and resolution. With only set, it caches
// just that path.
type memo struct {
	analysis.Extractor
	only string

	mu    sync.Mutex
	cache map[memoKey]*analysis.Features
}

type memoKey struct {
	path       string
	resolution int
}

func newMemo(ext analysis.Extractor, only string) *memo {
	return &memo{Extractor: ext, only: only, cache: make(map[memoKey]*analysis.Features)}
}

func (m *memo) Extract(ctx context.Context, path string, resolution int) (*analysis.Features, error) {
	if m.only != "" && path != m.only {
		return m.Extractor.Extract(ctx, path, resolution)
	}

	k := memoKey{path, resolution}
	m.mu.Lock()
	f, ok := m.cache[k]
	m.mu.Unlock()
	if ok {
		return f, nil
	}

	f, err := m.Extractor.Extract(ctx, path, resolution)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[k] = f
	m.mu.Unlock()
	return f, nil
}
