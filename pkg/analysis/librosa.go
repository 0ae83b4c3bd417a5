package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultResolution is the window size librosa uses when none is requested.
const DefaultResolution = 2048

// LibrosaExtractor extracts features by running librosa in a Python subprocess.
type LibrosaExtractor struct {
	// Python is the interpreter to run. Empty uses the discovered interpreter.
	Python string
}

// NewLibrosaExtractor returns an extractor using the discovered Python interpreter.
func NewLibrosaExtractor() *LibrosaExtractor {
	return &LibrosaExtractor{Python: getPythonPath()}
}

// Extract implements Extractor.
func (l *LibrosaExtractor) Extract(ctx context.Context, path string, resolution int) (*Features, error) {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}

	python := l.Python
	if python == "" {
		python = getPythonPath()
	}

	nfft := resolution
	if nfft <= 0 {
		nfft = DefaultResolution
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, python, "-c", fmt.Sprintf(librosaScript, path, nfft))
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "unknown error"
			}
			return nil, fmt.Errorf("librosa failed on %s: %s", filepath.Base(path), lastLine(msg))
		}
		return nil, fmt.Errorf("librosa failed on %s: %w", filepath.Base(path), err)
	}

	f, err := parseFeatures(out)
	if err != nil {
		return nil, fmt.Errorf("parse librosa output for %s: %w", filepath.Base(path), err)
	}
	f.File = filepath.Base(path)
	f.Resolution = resolution
	return f, nil
}

// parseFeatures decodes the script output. Missing arrays become empty slices.
func parseFeatures(out []byte) (*Features, error) {
	var f Features
	if err := json.Unmarshal(out, &f); err != nil {
		return nil, err
	}
	if len(f.Pitches) != len(f.Magnitudes) {
		return nil, fmt.Errorf("pitches and magnitudes differ in length: %d != %d", len(f.Pitches), len(f.Magnitudes))
	}
	if len(f.Peaks.Times) != len(f.Peaks.Freqs) || len(f.Peaks.Times) != len(f.Peaks.Amps) {
		return nil, fmt.Errorf("peak arrays differ in length")
	}
	f.Pitches = orEmpty(f.Pitches)
	f.Magnitudes = orEmpty(f.Magnitudes)
	f.Onsets = orEmpty(f.Onsets)
	f.Peaks.Times = orEmpty(f.Peaks.Times)
	f.Peaks.Freqs = orEmpty(f.Peaks.Freqs)
	f.Peaks.Amps = orEmpty(f.Peaks.Amps)
	return &f, nil
}

func orEmpty(xs []float64) []float64 {
	if xs == nil {
		return []float64{}
	}
	return xs
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return lines[len(lines)-1]
}

// getPythonPath returns the interpreter to use: $PERFSCORE_PYTHON, then a .venv in the
// working directory or the module root, then python3 from PATH.
func getPythonPath() string {
	if p := os.Getenv("PERFSCORE_PYTHON"); p != "" {
		return p
	}

	candidates := []string{filepath.Join(".venv", "bin", "python")}
	if _, currentFile, _, ok := runtime.Caller(0); ok {
		baseDir := filepath.Dir(filepath.Dir(filepath.Dir(currentFile)))
		candidates = append(candidates, filepath.Join(baseDir, ".venv", "bin", "python"))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}

	return "python3"
}

// librosaScript prints a Features JSON object. Arguments: audio path, n_fft.
const librosaScript = `
import json
import warnings
warnings.filterwarnings('ignore')

import numpy as np
import librosa

path = %q
n_fft = %d

y, sr = librosa.load(path)

# strongest pitch per frame
pitches, magnitudes = librosa.piptrack(y=y, sr=sr, n_fft=n_fft)
pitch_values = []
magnitude_values = []
for t in range(pitches.shape[1]):
    i = magnitudes[:, t].argmax()
    if pitches[i, t] > 0:
        pitch_values.append(float(pitches[i, t]))
        magnitude_values.append(float(magnitudes[i, t]))

env = librosa.onset.onset_strength(y=y, sr=sr, n_fft=n_fft)
onset_frames = librosa.onset.onset_detect(onset_envelope=env, sr=sr)
onsets = librosa.frames_to_time(onset_frames, sr=sr)

# spectral peak at backtracked onsets
S = np.abs(librosa.stft(y, n_fft=n_fft))
freqs = librosa.fft_frequencies(sr=sr, n_fft=n_fft)
peak_times = []
peak_freqs = []
peak_amps = []
for frame in librosa.onset.onset_detect(y=y, sr=sr, backtrack=True, units='frames', delta=0.01):
    if frame < S.shape[1]:
        spectrum = S[:, frame]
        k = int(np.argmax(spectrum))
        if 50 <= freqs[k] <= 1000:
            peak_times.append(float(librosa.frames_to_time(frame, sr=sr)))
            peak_freqs.append(float(freqs[k]))
            peak_amps.append(float(spectrum[k]))

tempo_env = librosa.onset.onset_strength(y=y, sr=sr, aggregate=np.median)
tempo_env = np.convolve(tempo_env, np.ones(10) / 10, mode='same')
tempo, _ = librosa.beat.beat_track(onset_envelope=tempo_env, sr=sr)

print(json.dumps({
    'sample_rate': int(sr),
    'duration': float(librosa.get_duration(y=y, sr=sr)),
    'pitches': pitch_values,
    'magnitudes': magnitude_values,
    'onsets': [float(t) for t in onsets],
    'tempo': float(np.atleast_1d(tempo)[0]),
    'rms': float(np.mean(librosa.feature.rms(y=y))),
    'peaks': {'times': peak_times, 'freqs': peak_freqs, 'amps': peak_amps},
}))
`
