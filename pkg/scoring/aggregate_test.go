package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_MeanExcludeNeutral(t *testing.T) {
	assert.Equal(t, 4.0, Aggregate([]float64{10, 10, 4}, PolicyMeanExcludeNeutral))
	assert.InDelta(t, 5.0, Aggregate([]float64{4, 6, 10}, PolicyMeanExcludeNeutral), 1e-9)
	assert.Equal(t, 10.0, Aggregate([]float64{10, 10}, PolicyMeanExcludeNeutral))
}

func TestAggregate_EmptyIsNeutral(t *testing.T) {
	for _, p := range []Policy{PolicyMeanExcludeNeutral, PolicyTenCountMedianSpread, PolicyMean} {
		assert.Equal(t, 10.0, Aggregate(nil, p), p)
	}
}

func TestAggregate_Mean(t *testing.T) {
	assert.InDelta(t, 8.0, Aggregate([]float64{10, 10, 4}, PolicyMean), 1e-9)
}

func TestAggregate_TenCount(t *testing.T) {
	assert.Equal(t, 10.0, Aggregate([]float64{10, 10, 10, 10, 2}, PolicyTenCountMedianSpread))
	// 2 of 5 is exactly the threshold
	assert.Equal(t, 10.0, Aggregate([]float64{10, 10, 3, 3, 3}, PolicyTenCountMedianSpread))
}

func TestAggregate_MedianFilteredMean(t *testing.T) {
	got := Aggregate([]float64{8, 8, 9, 7, 10}, PolicyTenCountMedianSpread)
	assert.InDelta(t, 8.4, got, 1e-9)

	// 4.5 is further than 2.0 from the median 7 and is dropped
	got = Aggregate([]float64{7, 7, 6, 8, 4.5}, PolicyTenCountMedianSpread)
	assert.InDelta(t, 7.0, got, 1e-9)
}

func TestAggregate_MedianFallbackWhenAllFiltered(t *testing.T) {
	got := Aggregate([]float64{0, 4.5}, PolicyTenCountMedianSpread)
	assert.InDelta(t, 2.25, got, 1e-9)
}

func TestAggregate_SpreadOverridesToPerfect(t *testing.T) {
	got := Aggregate([]float64{9, 9, 9, 3, 2}, PolicyTenCountMedianSpread)
	assert.Equal(t, 10.0, got)
}

func TestAggregator_CustomThresholds(t *testing.T) {
	a := DefaultAggregator(PolicyTenCountMedianSpread)
	a.SpreadThreshold = 100
	a.TenThreshold = 0.9
	got := a.Aggregate([]float64{9, 9, 9, 3, 2})
	assert.InDelta(t, 9.0, got, 1e-9)
}

func TestAggregate_RoundsNearPerfect(t *testing.T) {
	assert.Equal(t, 10.0, Aggregate([]float64{9.6, 9.6}, PolicyMeanExcludeNeutral))
	assert.Equal(t, 10.0, Aggregate([]float64{9.5, 9.7}, PolicyMean))
	assert.InDelta(t, 9.4, Aggregate([]float64{9.3, 9.5}, PolicyMean), 1e-9)

	a := DefaultAggregator(PolicyMean)
	a.NearPerfect = false
	assert.InDelta(t, 9.65, a.Aggregate([]float64{9.6, 9.7}), 1e-9)
}

func TestAggregate_SingleScoreNotRounded(t *testing.T) {
	assert.Equal(t, 9.6, Aggregate([]float64{9.6}, PolicyMeanExcludeNeutral))
	assert.Equal(t, 9.6, Aggregate([]float64{9.6}, PolicyTenCountMedianSpread))
	assert.Equal(t, 9.4, Aggregate([]float64{9.4}, PolicyMean))
}

func TestRoundNearPerfect(t *testing.T) {
	assert.Equal(t, 10.0, RoundNearPerfect(9.6))
	assert.Equal(t, 10.0, RoundNearPerfect(9.5))
	assert.Equal(t, 9.4, RoundNearPerfect(9.4))
	assert.Equal(t, 3.33, RoundNearPerfect(3.33))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.True(t, math.IsNaN(Median(nil)))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMeanExcludeNeutral, p)

	p, err = ParsePolicy("ten-count-median-spread")
	require.NoError(t, err)
	assert.Equal(t, PolicyTenCountMedianSpread, p)

	_, err = ParsePolicy("median")
	assert.Error(t, err)
}
