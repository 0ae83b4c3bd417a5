package assess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareTempo(t *testing.T) {
	cfg := DefaultConfig().Tempo

	tests := []struct {
		name        string
		ref, cand   float64
		corrected   float64
		accuracy    float64
		score       float64
		significant bool
	}{
		{"same", 120, 120, 120, 100, 10, false},
		{"double time", 120, 240, 120, 100, 10, false},
		{"half time", 120, 58, 116, 100 - 4.0/120*100, 10 - 4.0/120*10, false},
		{"close", 120, 126, 126, 95, 9.5, true},
		{"far after halving", 100, 300, 150, 50, 5, true},
		{"beyond 100 percent", 100, 500, 250, -50, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CompareTempo(tt.ref, tt.cand, cfg)
			assert.Equal(t, tt.ref, res.Reference)
			assert.Equal(t, tt.cand, res.Candidate)
			assert.InDelta(t, tt.corrected, res.Corrected, 1e-9)
			assert.InDelta(t, tt.accuracy, res.Accuracy, 1e-9)
			assert.InDelta(t, tt.score, res.Score, 1e-9)
			assert.Equal(t, tt.significant, res.Significant)
		})
	}
}

func TestCompareTempo_NoReference(t *testing.T) {
	res := CompareTempo(0, 120, DefaultConfig().Tempo)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 0.0, res.Accuracy)
	assert.Equal(t, 120.0, res.Corrected)
	assert.False(t, res.Significant)
}

func TestCompareTempo_DefaultRatio(t *testing.T) {
	// an unset ratio behaves like 1.3
	res := CompareTempo(100, 140, TempoConfig{SignificantBPM: 5})
	assert.Equal(t, 70.0, res.Corrected)

	res = CompareTempo(100, 125, TempoConfig{SignificantBPM: 5})
	assert.Equal(t, 125.0, res.Corrected)
}
