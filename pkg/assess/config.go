package assess

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/nzoschke/perfscore/pkg/analysis"
	"github.com/nzoschke/perfscore/pkg/scoring"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Dimension names a scored aspect of a performance.
type Dimension string

const (
	Pitch    Dimension = "pitch"
	Dynamics Dimension = "dynamics"
	Time     Dimension = "time"
	Rhythm   Dimension = "rhythm"
	Duration Dimension = "duration"
	Tempo    Dimension = "tempo"
)

// perResolution are the dimensions scored at every resolution, in scoring order.
var perResolution = []Dimension{Pitch, Dynamics, Time, Rhythm}

// Source selects which extracted sequence a dimension reads.
type Source string

const (
	// SourceFrames reads per-frame pitches and magnitudes.
	SourceFrames Source = "frames"
	// SourcePeaks reads the spectral peaks at backtracked onsets.
	SourcePeaks Source = "peaks"
	// SourceOnsets reads onset times.
	SourceOnsets Source = "onsets"
)

// Units selects how pitch values are compared.
type Units string

const (
	UnitsHz   Units = "hz"
	UnitsMIDI Units = "midi"
)

// DimensionConfig configures matching and scoring for one dimension.
type DimensionConfig struct {
	Enabled bool `yaml:"enabled"`

	// Source of the compared values. Default: peaks for pitch and dynamics, onsets otherwise
	Source Source `yaml:"source,omitempty"`

	// Units for pitch values. Default: hz
	Units Units `yaml:"units,omitempty"`

	// Tolerance is the absolute match tolerance.
	Tolerance float64 `yaml:"tolerance"`

	// RelativeTolerance, when positive, replaces Tolerance with this fraction of the
	// reference's mean inter-onset interval.
	RelativeTolerance float64 `yaml:"relative_tolerance,omitempty"`

	// Strict matches only when the distance is strictly below the tolerance.
	Strict bool `yaml:"strict,omitempty"`

	// Normalizer settings, see scoring.Normalizer.
	Scale           float64 `yaml:"scale,omitempty"`
	PenalizeMissing bool    `yaml:"penalize_missing,omitempty"`
	CurveExponent   float64 `yaml:"curve_exponent,omitempty"`
	Precision       int     `yaml:"precision"`

	// EmptyScore is returned when either sequence is empty. Nil scores empty
	// sequences through the normalizer.
	EmptyScore *float64 `yaml:"empty_score,omitempty"`

	// FallbackTolerance enables the cross check on the secondary quantity
	// (magnitudes for pitch, MIDI pitch for dynamics) for unmatched values.
	FallbackTolerance *float64 `yaml:"fallback_tolerance,omitempty"`

	Aggregation scoring.Policy `yaml:"aggregation,omitempty"`

	// Resolutions overrides Config.Resolutions for this dimension.
	Resolutions []int `yaml:"resolutions,omitempty"`
}

// normalizer returns the scoring normalizer for the dimension.
func (d DimensionConfig) normalizer() scoring.Normalizer {
	return scoring.Normalizer{
		Scale:           d.Scale,
		PenalizeMissing: d.PenalizeMissing,
		Curve:           scoring.Power(d.CurveExponent),
		Precision:       d.Precision,
	}
}

// LoudnessGate short-circuits timing when the performances differ too much in level.
type LoudnessGate struct {
	Enabled       bool    `yaml:"enabled"`
	MaxDifference float64 `yaml:"max_difference"`
	Score         float64 `yaml:"score"`
}

// Adjustment boosts Target by the shortfall of Source, see scoring.Adjust.
type Adjustment struct {
	Target Dimension `yaml:"target"`
	Source Dimension `yaml:"source"`
	K      float64   `yaml:"k"`
}

// TempoConfig configures tempo comparison.
type TempoConfig struct {
	Enabled bool `yaml:"enabled"`

	// OctaveRatio halves or doubles the candidate tempo when it is off by more than
	// this factor. Default: 1.3
	OctaveRatio float64 `yaml:"octave_ratio"`

	// SignificantBPM flags deviations above this many BPM. Default: 5
	SignificantBPM float64 `yaml:"significant_bpm"`

	// Resolution to read tempo at. 0 uses the first resolution.
	Resolution int `yaml:"resolution,omitempty"`
}

// Config is a complete assessment profile.
type Config struct {
	// Preset names the base profile a YAML file is layered over.
	Preset string `yaml:"preset,omitempty"`

	Resolutions []int `yaml:"resolutions"`

	Pitch    DimensionConfig `yaml:"pitch"`
	Dynamics DimensionConfig `yaml:"dynamics"`
	Time     DimensionConfig `yaml:"time"`
	Rhythm   DimensionConfig `yaml:"rhythm"`
	Duration DimensionConfig `yaml:"duration"`
	Tempo    TempoConfig     `yaml:"tempo"`

	LoudnessGate LoudnessGate `yaml:"loudness_gate"`

	// Adjustments are applied in order at every resolution.
	Adjustments []Adjustment `yaml:"adjustments"`
}

// Dimension returns the configuration for d. Tempo has no DimensionConfig.
func (c *Config) Dimension(d Dimension) (*DimensionConfig, bool) {
	switch d {
	case Pitch:
		return &c.Pitch, true
	case Dynamics:
		return &c.Dynamics, true
	case Time:
		return &c.Time, true
	case Rhythm:
		return &c.Rhythm, true
	case Duration:
		return &c.Duration, true
	default:
		return nil, false
	}
}

// resolutionsFor returns the resolutions d is scored at.
func (c *Config) resolutionsFor(d Dimension) []int {
	if dc, ok := c.Dimension(d); ok && len(dc.Resolutions) > 0 {
		return dc.Resolutions
	}
	return c.Resolutions
}

// Validate checks the configuration, wrapping each failure in ErrInvalidConfig.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	for _, d := range []Dimension{Pitch, Dynamics, Time, Rhythm, Duration} {
		dc, _ := c.Dimension(d)
		if !dc.Enabled {
			continue
		}
		if len(c.resolutionsFor(d)) == 0 {
			return fail("%s: no resolutions", d)
		}
		if !validSource(d, dc.Source) {
			return fail("%s: source %q not supported", d, dc.Source)
		}
		switch dc.Units {
		case "", UnitsHz, UnitsMIDI:
		default:
			return fail("%s: unknown units %q", d, dc.Units)
		}
		if dc.Tolerance < 0 || dc.RelativeTolerance < 0 {
			return fail("%s: negative tolerance", d)
		}
		if dc.FallbackTolerance != nil && *dc.FallbackTolerance < 0 {
			return fail("%s: negative fallback tolerance", d)
		}
		if dc.Scale < 0 {
			return fail("%s: negative scale", d)
		}
		if _, err := scoring.ParsePolicy(string(dc.Aggregation)); err != nil {
			return fail("%s: %v", d, err)
		}
	}

	if c.Tempo.Enabled {
		if c.Tempo.OctaveRatio <= 1 {
			return fail("tempo: octave_ratio must be greater than 1")
		}
		if c.Tempo.Resolution == 0 && len(c.Resolutions) == 0 {
			return fail("tempo: no resolutions")
		}
	}

	if c.Time.Enabled && c.LoudnessGate.Enabled && c.LoudnessGate.MaxDifference < 0 {
		return fail("loudness_gate: negative max_difference")
	}

	for i, adj := range c.Adjustments {
		if !isPerResolution(adj.Target) || !isPerResolution(adj.Source) {
			return fail("adjustment %d: %s <- %s: only pitch, dynamics, time and rhythm can be adjusted", i, adj.Target, adj.Source)
		}
		if adj.Target == adj.Source {
			return fail("adjustment %d: target and source are both %s", i, adj.Target)
		}
		if adj.K < 0 {
			return fail("adjustment %d: negative k", i)
		}
	}

	return nil
}

func validSource(d Dimension, s Source) bool {
	switch d {
	case Pitch, Dynamics:
		return s == "" || s == SourceFrames || s == SourcePeaks
	default:
		return s == "" || s == SourceOnsets || s == SourcePeaks
	}
}

func isPerResolution(d Dimension) bool {
	return slices.Contains(perResolution, d)
}

// DefaultConfig returns the standard preset.
func DefaultConfig() Config {
	return standardPreset()
}

var presets = map[string]func() Config{
	"standard": standardPreset,
	"web":      webPreset,
	"sweep":    sweepPreset,
}

// Presets returns the preset names in sorted order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns a named profile. An empty name returns the default.
func Preset(name string) (Config, error) {
	if name == "" {
		return DefaultConfig(), nil
	}
	p, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q (have %v)", ErrInvalidConfig, name, Presets())
	}
	return p(), nil
}

// LoadConfig reads a YAML profile. Keys present in the file override the preset it
// names (or the default preset).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML profile, see LoadConfig.
func ParseConfig(data []byte) (Config, error) {
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg, err := Preset(head.Preset)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func ptr(v float64) *float64 { return &v }

// standardPreset scores spectral peaks at three window sizes with the
// dynamics <- time <- pitch adjustment chain.
func standardPreset() Config {
	return Config{
		Preset:      "standard",
		Resolutions: []int{512, 1024, 2048},
		Pitch: DimensionConfig{
			Enabled:     true,
			Source:      SourcePeaks,
			Units:       UnitsHz,
			Tolerance:   0.1,
			Precision:   -1,
			Aggregation: scoring.PolicyMean,
		},
		Dynamics: DimensionConfig{
			Enabled:     true,
			Source:      SourcePeaks,
			Tolerance:   0.29,
			Precision:   -1,
			Aggregation: scoring.PolicyMean,
		},
		Time: DimensionConfig{
			Enabled:     true,
			Source:      SourcePeaks,
			Tolerance:   0.15,
			Precision:   -1,
			Aggregation: scoring.PolicyMean,
		},
		Rhythm: DimensionConfig{
			Enabled:     true,
			Source:      SourcePeaks,
			Tolerance:   0.08,
			Precision:   -1,
			Aggregation: scoring.PolicyMean,
		},
		Duration: DimensionConfig{
			Enabled:     true,
			Source:      SourceOnsets,
			Tolerance:   0.2,
			Precision:   1,
			EmptyScore:  ptr(0),
			Resolutions: []int{analysis.DefaultResolution},
		},
		Tempo: TempoConfig{
			Enabled:        true,
			OctaveRatio:    1.3,
			SignificantBPM: 5,
		},
		LoudnessGate: LoudnessGate{MaxDifference: 0.5, Score: 5},
		Adjustments: []Adjustment{
			{Target: Dynamics, Source: Time, K: 1.0},
			{Target: Pitch, Source: Dynamics, K: 0.1},
		},
	}
}

// webPreset mirrors the upload endpoint: frame pitches with a squared ratio and
// tempo-relative onset timing.
func webPreset() Config {
	return Config{
		Preset:      "web",
		Resolutions: []int{analysis.DefaultResolution},
		Pitch: DimensionConfig{
			Enabled:       true,
			Source:        SourceFrames,
			Units:         UnitsHz,
			Tolerance:     0.3,
			Strict:        true,
			CurveExponent: 2,
			Precision:     1,
			EmptyScore:    ptr(0),
		},
		Time: DimensionConfig{
			Enabled:           true,
			Source:            SourceOnsets,
			RelativeTolerance: 0.2,
			Scale:             11,
			Precision:         1,
			EmptyScore:        ptr(0),
		},
		Tempo:        TempoConfig{OctaveRatio: 1.3, SignificantBPM: 5},
		LoudnessGate: LoudnessGate{MaxDifference: 0.5, Score: 5},
	}
}

var (
	sweepResolutions = []int{
		64, 128, 256, 384, 512, 768, 1024, 1152, 1280, 1408, 1536, 1664, 1792, 1920, 2048,
		2304, 2560, 2816, 3072, 3328, 3584, 3840, 4096, 4608, 5120, 5632, 6144, 6656, 7168,
		7680, 8192, 9216, 10240, 11264, 12288, 13312, 14336, 15360, 16384, 18432, 20480,
		22528, 24576, 26624, 28672, 30720, 32768,
	}

	sweepTimeResolutions = []int{
		128, 1536, 1920, 2304, 4608, 6656, 9216, 12288, 13312, 16384, 20480,
		26624, 28672, 30720,
	}
)

// sweepPreset sweeps many window sizes with MIDI-unit pitch, cross-checked
// dynamics and the loudness-gated timing aggregate.
func sweepPreset() Config {
	return Config{
		Preset:      "sweep",
		Resolutions: append([]int(nil), sweepResolutions...),
		Pitch: DimensionConfig{
			Enabled:           true,
			Source:            SourceFrames,
			Units:             UnitsMIDI,
			Tolerance:         0.0025,
			Precision:         2,
			EmptyScore:        ptr(0),
			FallbackTolerance: ptr(0.01),
			Aggregation:       scoring.PolicyMeanExcludeNeutral,
		},
		Dynamics: DimensionConfig{
			Enabled:           true,
			Source:            SourceFrames,
			Tolerance:         0.1,
			Precision:         2,
			EmptyScore:        ptr(0),
			FallbackTolerance: ptr(0.3),
			Aggregation:       scoring.PolicyMeanExcludeNeutral,
		},
		Time: DimensionConfig{
			Enabled:     true,
			Source:      SourceOnsets,
			Tolerance:   0.14,
			Precision:   -1,
			EmptyScore:  ptr(5),
			Aggregation: scoring.PolicyTenCountMedianSpread,
			Resolutions: append([]int(nil), sweepTimeResolutions...),
		},
		Duration: DimensionConfig{
			Enabled:     true,
			Source:      SourceOnsets,
			Tolerance:   0.2,
			Precision:   1,
			EmptyScore:  ptr(0),
			Resolutions: []int{analysis.DefaultResolution},
		},
		Tempo: TempoConfig{
			Enabled:        true,
			OctaveRatio:    1.3,
			SignificantBPM: 5,
			Resolution:     analysis.DefaultResolution,
		},
		LoudnessGate: LoudnessGate{Enabled: true, MaxDifference: 0.5, Score: 5},
	}
}
