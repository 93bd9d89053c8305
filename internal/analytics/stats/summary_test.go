package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulsense/soulsense-outliers/internal/models"
)

func TestSummarize(t *testing.T) {
	// [1..10]
	values := make([]float64, 10)
	for i := range values {
		values[i] = float64(i + 1)
	}

	s := Summarize(values)

	assert.Equal(t, StatusAnalyzed, s.Status)
	assert.Equal(t, 10, s.Count)
	assert.InDelta(t, 5.5, s.Mean, 1e-9)
	assert.InDelta(t, 5.5, s.Median, 1e-9)
	// sample sd of 1..10 = sqrt(82.5/9)
	assert.InDelta(t, math.Sqrt(82.5/9), s.StdDev, 1e-9)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 3.25, s.Q1, 1e-9)
	assert.InDelta(t, 7.75, s.Q3, 1e-9)
	assert.InDelta(t, 4.5, s.IQR, 1e-9)
	// |x - 5.5| = 4.5,3.5,...,0.5 twice → median 2.5
	assert.InDelta(t, 2.5, s.MAD, 1e-9)
}

func TestSummarize_MADUsesMedianNotMean(t *testing.T) {
	s := Summarize([]float64{1, 2, 3, 4, 5, 100})

	assert.InDelta(t, 3.5, s.Median, 1e-9)
	// deviations from the median: 2.5,1.5,0.5,0.5,1.5,96.5
	assert.InDelta(t, 1.5, s.MAD, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.True(t, s.Insufficient())
	assert.Equal(t, 0, s.Count)
	assert.Equal(t, 0.0, s.StdDev)
}

func TestSummarize_SingleValue(t *testing.T) {
	s := Summarize([]float64{42})

	assert.Equal(t, StatusAnalyzed, s.Status)
	assert.Equal(t, 42.0, s.Mean)
	assert.Equal(t, 0.0, s.StdDev, "single value must not produce NaN")
	assert.Equal(t, 42.0, s.Median)
	assert.Equal(t, 0.0, s.MAD)
}

func TestSummarize_DoesNotReorderInput(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	_ = Summarize(values)
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, values)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 100}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 2.25},
		{50, 3.5},
		{75, 4.75},
		{100, 100},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Percentile(sorted, tt.p), 1e-9, "p=%v", tt.p)
	}
	assert.Equal(t, 0.0, Percentile(nil, 50))
}

func TestMedian_EvenAndOdd(t *testing.T) {
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}

func TestExtract(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []models.ScoreRecord{
		{SubjectID: "a", GroupKey: "18-25", Timestamp: now, Total: 20, SubScores: []float64{1, 2}},
		{SubjectID: "b", GroupKey: "18-25", Timestamp: now.Add(time.Hour), Total: 30},
		{SubjectID: "c", GroupKey: "26-35", Timestamp: now.Add(2 * time.Hour), Total: 40, SubScores: []float64{5, 6}},
	}

	total := Extract(records, models.TotalScore)
	require.Equal(t, 3, total.Len())
	assert.Equal(t, []float64{20, 30, 40}, total.Values)
	assert.Equal(t, "b", total.Refs[1].SubjectID)

	sub := Extract(records, models.SubScore(1))
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, []float64{2, 6}, sub.Values)
	assert.Equal(t, 2, sub.Refs[1].Index, "index refers to the original record position")
}
