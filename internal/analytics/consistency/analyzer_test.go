package consistency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

var start = time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

func history(subject string, firstDay int, totals ...float64) []models.ScoreRecord {
	out := make([]models.ScoreRecord, len(totals))
	for i, v := range totals {
		out[i] = models.ScoreRecord{
			SubjectID: subject,
			GroupKey:  "26-35",
			Timestamp: start.AddDate(0, 0, firstDay+i),
			Total:     v,
		}
	}
	return out
}

func TestAnalyze_ErraticHistoryIsFlagged(t *testing.T) {
	f, err := Analyze("alice", history("alice", 0, 20, 22, 21, 80, 19), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, stats.StatusAnalyzed, f.Status)
	require.NotNil(t, f.Flagged)
	assert.True(t, *f.Flagged)
	assert.True(t, f.IsFlagged())
	assert.Greater(t, f.VarianceMetric, 0.3)
	assert.InDelta(t, 0.822, f.VarianceMetric, 1e-3)
	assert.Equal(t, 5, f.SampleCount)
	assert.InDelta(t, 32.4, f.Mean, 1e-9)
	assert.Contains(t, f.Reason, "exceeds")
	assert.Contains(t, f.Reason, "5 scores")
}

func TestAnalyze_SteadyHistoryIsNotFlagged(t *testing.T) {
	f, err := Analyze("bob", history("bob", 0, 60, 62, 61, 59, 60), DefaultOptions())
	require.NoError(t, err)

	require.NotNil(t, f.Flagged)
	assert.False(t, *f.Flagged)
	assert.Less(t, f.VarianceMetric, 0.3)
	assert.Contains(t, f.Reason, "within")
}

func TestAnalyze_InsufficientDataLeavesFlaggedUnset(t *testing.T) {
	cases := map[string][]models.ScoreRecord{
		"empty":       nil,
		"two scores":  history("carol", 0, 10, 90),
		"one score":   history("carol", 0, 10),
		"all untimed": {{SubjectID: "carol", Total: 10}, {SubjectID: "carol", Total: 90}, {SubjectID: "carol", Total: 40}},
	}
	for name, records := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := Analyze("carol", records, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, stats.StatusInsufficientData, f.Status)
			assert.Nil(t, f.Flagged)
			assert.False(t, f.IsFlagged())
			assert.Contains(t, f.Reason, "insufficient data")
			assert.Equal(t, 0.0, f.VarianceMetric)
		})
	}
}

func TestAnalyze_WindowDefaultsToLatestRecord(t *testing.T) {
	records := append(history("dave", 0, 10, 10, 10), history("dave", 60, 20, 80, 20)...)

	f, err := Analyze("dave", records, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, start.AddDate(0, 0, 62), f.WindowEnd)
	assert.Equal(t, start.AddDate(0, 0, 32), f.WindowStart)
	assert.Equal(t, 3, f.SampleCount)
	assert.True(t, f.IsFlagged())
}

func TestAnalyze_ExplicitAsOf(t *testing.T) {
	records := append(history("dave", 0, 10, 10, 10), history("dave", 60, 20, 80, 20)...)
	opts := DefaultOptions()
	opts.AsOf = start.AddDate(0, 0, 2)

	f, err := Analyze("dave", records, opts)
	require.NoError(t, err)

	assert.Equal(t, 3, f.SampleCount)
	require.NotNil(t, f.Flagged)
	assert.False(t, *f.Flagged)
	assert.Equal(t, 0.0, f.VarianceMetric)
}

func TestAnalyze_WindowBoundsAreInclusive(t *testing.T) {
	opts := DefaultOptions()
	opts.WindowDays = 10
	records := []models.ScoreRecord{
		{SubjectID: "erin", Timestamp: start, Total: 10},
		{SubjectID: "erin", Timestamp: start.AddDate(0, 0, 5), Total: 12},
		{SubjectID: "erin", Timestamp: start.AddDate(0, 0, 10), Total: 11},
		{SubjectID: "erin", Timestamp: start.Add(-time.Second), Total: 99},
	}

	f, err := Analyze("erin", records, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, f.SampleCount)
}

func TestAnalyze_UntimedRecordsAreCounted(t *testing.T) {
	records := history("frank", 0, 50, 52, 51)
	records = append(records, models.ScoreRecord{SubjectID: "frank", Total: 5})

	f, err := Analyze("frank", records, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ExcludedUntimed)
	assert.Equal(t, 3, f.SampleCount)
	assert.False(t, f.IsFlagged())
}

func TestAnalyze_ZeroMean(t *testing.T) {
	f, err := Analyze("gina", history("gina", 0, -5, 5, 0), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, stats.StatusAnalyzed, f.Status)
	require.NotNil(t, f.Flagged)
	assert.False(t, *f.Flagged)
	assert.Equal(t, 0.0, f.VarianceMetric)
	assert.Contains(t, f.Reason, "mean score is zero")
}

func TestAnalyze_UnorderedHistory(t *testing.T) {
	records := history("hank", 0, 20, 22, 21, 80, 19)
	reversed := make([]models.ScoreRecord, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}

	a, err := Analyze("hank", records, DefaultOptions())
	require.NoError(t, err)
	b, err := Analyze("hank", reversed, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, a.VarianceMetric, b.VarianceMetric)
	assert.Equal(t, a.Transitions, b.Transitions)
	assert.Equal(t, a.Reason, b.Reason)
}

func TestAnalyze_AbruptTransitions(t *testing.T) {
	f, err := Analyze("ivy", history("ivy", 0, 50, 51, 50, 51, 50, 90, 91, 90, 91, 90), DefaultOptions())
	require.NoError(t, err)

	require.Len(t, f.Transitions, 1)
	tr := f.Transitions[0]
	assert.Equal(t, 40.0, tr.Delta)
	assert.Equal(t, start.AddDate(0, 0, 4), tr.From.Timestamp)
	assert.Equal(t, start.AddDate(0, 0, 5), tr.To.Timestamp)

	steady, err := Analyze("ivy", history("ivy", 0, 50, 51, 52, 53), DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, steady.Transitions)
	assert.Empty(t, steady.Transitions)
}

func TestAnalyze_TransitionRefsIndexHistory(t *testing.T) {
	records := history("ivy", 0, 50, 51, 50, 51, 50, 90, 91, 90, 91, 90)
	// Newest first, behind two records that fall outside the window.
	reversed := []models.ScoreRecord{
		{SubjectID: "ivy", Total: 7},
		{SubjectID: "ivy", Timestamp: start.AddDate(0, 0, -90), Total: 3},
	}
	for i := len(records) - 1; i >= 0; i-- {
		reversed = append(reversed, records[i])
	}

	f, err := Analyze("ivy", reversed, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, f.Transitions, 1)
	tr := f.Transitions[0]
	assert.Equal(t, 40.0, tr.Delta)
	// Day 4 and day 5 sit at positions 7 and 6 of the history as given.
	assert.Equal(t, 7, tr.From.Index)
	assert.Equal(t, 6, tr.To.Index)
	assert.Equal(t, reversed[7].Timestamp, tr.From.Timestamp)
	assert.Equal(t, reversed[6].Timestamp, tr.To.Timestamp)
}

func TestAnalyze_SubScoreDimension(t *testing.T) {
	records := history("jack", 0, 50, 50, 50)
	for i := range records {
		records[i].SubScores = []float64{float64(10 * (i + 1))}
	}
	opts := DefaultOptions()
	opts.Dimension = models.SubScore(0)

	f, err := Analyze("jack", records, opts)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, f.Mean, 1e-9)
	assert.True(t, f.IsFlagged())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero window", func(o *Options) { o.WindowDays = 0 }},
		{"negative cv", func(o *Options) { o.CVThreshold = -0.1 }},
		{"zero cv", func(o *Options) { o.CVThreshold = 0 }},
		{"zero min samples", func(o *Options) { o.MinSamples = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			_, err := Analyze("x", nil, opts)
			assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
		})
	}
}
