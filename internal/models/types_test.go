package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimension_ZeroValueIsTotalScore(t *testing.T) {
	var d Dimension
	assert.Equal(t, TotalScore, d)
	v, ok := d.Value(ScoreRecord{Total: 42})
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestDimension_SubScore(t *testing.T) {
	r := ScoreRecord{Total: 42, SubScores: []float64{1, 2, 3}}

	v, ok := SubScore(2).Value(r)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = SubScore(3).Value(r)
	assert.False(t, ok)

	assert.Equal(t, "sub_score[2]", SubScore(2).String())
	assert.Equal(t, "total_score", TotalScore.String())
}

func TestParseDimension(t *testing.T) {
	tests := map[string]Dimension{
		"":             TotalScore,
		"total":        TotalScore,
		"total_score":  TotalScore,
		"0":            SubScore(0),
		"sub_score[4]": SubScore(4),
	}
	for in, want := range tests {
		got, err := ParseDimension(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"-1", "abc", "sub_score[x]"} {
		_, err := ParseDimension(bad)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, bad)
	}
}

func TestDimension_JSONText(t *testing.T) {
	b, err := json.Marshal(struct {
		D Dimension `json:"d"`
	}{SubScore(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"sub_score[1]"}`, string(b))

	var out struct {
		D Dimension `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"total_score"}`), &out))
	assert.Equal(t, TotalScore, out.D)
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "zscore_threshold", Message: "must be positive"}
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Equal(t, "invalid configuration for zscore_threshold: must be positive", err.Error())

	var ce *ConfigError
	wrapped := errors.Join(errors.New("context"), err)
	require.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, "zscore_threshold", ce.Field)
}

func TestScopeType_Valid(t *testing.T) {
	assert.True(t, ScopeAgeGroup.Valid())
	assert.False(t, ScopeType("planet").Valid())
}
