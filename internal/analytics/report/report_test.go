package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/soulsense/soulsense-outliers/internal/analytics/anomaly"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

var generatedAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func ensembleInput(t *testing.T, values []float64) Input {
	t.Helper()
	sample := stats.FromValues(values)
	summary := stats.Summarize(sample.Values)
	ens, err := anomaly.Ensemble(sample, summary, anomaly.DefaultThresholds(), anomaly.DefaultPolicy())
	require.NoError(t, err)
	return Input{
		Meta:        scope.Meta{ScopeType: models.ScopeAgeGroup, ScopeKey: "18-25", Dimension: models.TotalScore, Selection: models.SelectAll},
		GeneratedAt: generatedAt,
		Summary:     summary,
		Thresholds:  anomaly.DefaultThresholds(),
		Ensemble:    &ens,
	}
}

func TestAssemble_Ensemble(t *testing.T) {
	r := Assemble(ensembleInput(t, []float64{1, 2, 3, 4, 5, 100}))

	assert.Equal(t, anomaly.MethodEnsemble, r.Scope.MethodUsed)
	assert.Equal(t, models.ScopeAgeGroup, r.Scope.ScopeType)
	assert.Equal(t, generatedAt, r.Scope.GeneratedAt)
	assert.Equal(t, stats.StatusAnalyzed, r.Status)
	assert.Equal(t, 1, r.OutlierCount)
	assert.Len(t, r.Consensus, 6)
	assert.Len(t, r.Detectors, 4)
	assert.Empty(t, r.Verdicts)
	require.NotNil(t, r.Policy)
	assert.Equal(t, anomaly.VoteMajority, r.Policy.Rule)
	assert.Equal(t, []stats.RecordRef{{Index: 5}}, r.Outliers())
	assert.Empty(t, r.ID)
}

func TestAssemble_SingleMethod(t *testing.T) {
	sample := stats.FromValues([]float64{1, 2, 3, 4, 5, 100})
	res, summary, err := anomaly.Detect(anomaly.MethodIQR, sample, anomaly.DefaultThresholds())
	require.NoError(t, err)

	r := Assemble(Input{
		Meta:        scope.Meta{ScopeType: models.ScopeGlobal, ScopeKey: "global"},
		GeneratedAt: generatedAt,
		Summary:     summary,
		Thresholds:  anomaly.DefaultThresholds(),
		Single:      &res,
	})

	assert.Equal(t, anomaly.MethodIQR, r.Scope.MethodUsed)
	assert.Len(t, r.Verdicts, 6)
	assert.Empty(t, r.Consensus)
	assert.Nil(t, r.Policy)
	assert.Equal(t, 1, r.OutlierCount)
}

func TestAssemble_InsufficientData(t *testing.T) {
	in := ensembleInput(t, nil)
	r := Assemble(in)
	assert.Equal(t, stats.StatusInsufficientData, r.Status)
	assert.Equal(t, 0, r.OutlierCount)
}

func TestAssemble_CarriesInconsistency(t *testing.T) {
	finding, err := consistency.Analyze("alice", nil, consistency.DefaultOptions())
	require.NoError(t, err)

	in := ensembleInput(t, []float64{3, 4, 5})
	in.Inconsistency = &finding
	r := Assemble(in)

	require.NotNil(t, r.Inconsistency)
	assert.Nil(t, r.Inconsistency.Flagged)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, r, FormatJSON))
	assert.Contains(t, buf.String(), `"flagged": null`)
}

func TestEncode_Deterministic(t *testing.T) {
	values := []float64{23.5, 24.2, 23.8, 150.3, 22.1, 19.9, 25.0}
	for _, format := range []Format{FormatJSON, FormatYAML} {
		var a, b bytes.Buffer
		require.NoError(t, Encode(&a, Assemble(ensembleInput(t, values)), format))
		require.NoError(t, Encode(&b, Assemble(ensembleInput(t, values)), format))
		assert.Equal(t, a.Bytes(), b.Bytes(), "format %s", format)
	}
}

func TestEncode_JSONShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Assemble(ensembleInput(t, []float64{1, 2, 3, 4, 5, 100})), FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	meta := decoded["scope"].(map[string]any)
	assert.Equal(t, "age_group", meta["scope_type"])
	assert.Equal(t, "total_score", meta["dimension"])
	assert.Equal(t, "ensemble", meta["method_used"])
	assert.Equal(t, "2026-06-01T12:00:00Z", meta["generated_at"])

	consensus := decoded["consensus"].([]any)
	last := consensus[5].(map[string]any)
	assert.Equal(t, true, last["is_outlier"])
	assert.Equal(t, []any{"iqr", "mad", "modified_zscore"}, last["contributing_methods"])
}

func TestEncode_YAMLShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Assemble(ensembleInput(t, []float64{1, 2, 3, 4, 5, 100})), FormatYAML))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "analyzed", decoded["status"])
	assert.Equal(t, 1, decoded["outlier_count"])
	meta := decoded["scope"].(map[string]any)
	assert.Equal(t, "total_score", meta["dimension"])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf, FormatJSON)
	require.NoError(t, sink.Publish(context.Background(), Assemble(ensembleInput(t, []float64{1, 2, 3}))))
	assert.Contains(t, buf.String(), `"method_used": "ensemble"`)

	assert.NoError(t, Discard.Publish(context.Background(), &AnalysisReport{}))
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, *AnalysisReport) error { return f.err }

type stampSink struct{}

func (stampSink) Publish(_ context.Context, r *AnalysisReport) error {
	r.ID = "stamped"
	return nil
}

func TestMultiSink(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	sink := MultiSink{stampSink{}, failingSink{err: boom}, NewWriterSink(&buf, FormatJSON)}

	err := sink.Publish(context.Background(), Assemble(ensembleInput(t, []float64{1, 2, 3})))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"id": "stamped"`, "later sinks still run and see the assigned ID")

	assert.NoError(t, MultiSink{}.Publish(context.Background(), &AnalysisReport{}))
}
