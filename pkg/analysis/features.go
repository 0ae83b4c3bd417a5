// Package analysis extracts performance features (pitches, onsets, dynamics, tempo)
// from recordings and symbolic references.
package analysis

import (
	"encoding/json"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Features holds everything the scorers read from one performance at one resolution.
type Features struct {
	File       string  `json:"file"`
	Resolution int     `json:"resolution"` // analysis window size, 0 = extractor default
	SampleRate int     `json:"sample_rate"`
	Duration   float64 `json:"duration"`

	// Strongest pitch per frame in Hz, frames with no pitch dropped.
	Pitches []float64 `json:"pitches"`
	// Magnitude of each pitch, parallel to Pitches.
	Magnitudes []float64 `json:"magnitudes"`

	Onsets []float64 `json:"onsets"` // seconds
	Tempo  float64   `json:"tempo"`  // BPM
	RMS    float64   `json:"rms"`    // mean RMS amplitude

	Peaks Peaks `json:"peaks"`
}

// Peaks is the spectral peak at each backtracked onset.
type Peaks struct {
	Times []float64 `json:"times"`
	Freqs []float64 `json:"freqs"`
	Amps  []float64 `json:"amps"`
}

// Durations returns the gaps between consecutive sorted onsets.
func (f *Features) Durations() []float64 {
	return diff(sortedCopy(f.Onsets))
}

// Intervals returns the differences between consecutive onsets in detection order.
func (f *Features) Intervals() []float64 {
	return diff(f.Onsets)
}

// MeanInterval returns the mean gap between sorted onsets, or 0 with fewer than two.
func (f *Features) MeanInterval() float64 {
	d := f.Durations()
	if len(d) == 0 {
		return 0
	}
	return stat.Mean(d, nil)
}

// HzToMIDI converts a frequency to a fractional MIDI note number (A4 = 440 Hz = 69).
func HzToMIDI(hz float64) float64 {
	return 12*math.Log2(hz/440) + 69
}

// MIDIToHz converts a MIDI note number to a frequency.
func MIDIToHz(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// FeatureSet is the sidecar written next to an audio file: features per resolution.
type FeatureSet struct {
	File        string            `json:"file"`
	Resolutions map[int]*Features `json:"resolutions"`
}

// ReadFeatureSet loads a sidecar.
func ReadFeatureSet(path string) (*FeatureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fs FeatureSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}

// WriteJSON writes the feature set to a JSON file.
func (fs *FeatureSet) WriteJSON(path string) error {
	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func diff(xs []float64) []float64 {
	if len(xs) < 2 {
		return []float64{}
	}
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

func sortedCopy(xs []float64) []float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	return s
}
