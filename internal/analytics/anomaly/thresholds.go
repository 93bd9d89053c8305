package anomaly

import (
	"fmt"
	"math"

	"github.com/soulsense/soulsense-outliers/internal/models"
)

// Thresholds holds the per-method configuration. ModifiedZScore is a cutoff
// on the normalized deviation; MADMultiplier multiplies the raw MAD. The two
// are deliberately separate fields.
type Thresholds struct {
	ZScore         float64 `json:"zscore" yaml:"zscore"`
	ModifiedZScore float64 `json:"modified_zscore" yaml:"modified_zscore"`
	IQRMultiplier  float64 `json:"iqr_multiplier" yaml:"iqr_multiplier"`
	MADMultiplier  float64 `json:"mad_multiplier" yaml:"mad_multiplier"`
	MinSamples     int     `json:"min_samples" yaml:"min_samples"`
}

// DefaultThresholds returns the conventional cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ZScore:         3.0,
		ModifiedZScore: 3.5,
		IQRMultiplier:  1.5,
		MADMultiplier:  3.0,
		MinSamples:     3,
	}
}

// Validate rejects non-positive or non-finite thresholds.
func (t Thresholds) Validate() error {
	checks := []struct {
		field string
		value float64
	}{
		{"zscore_threshold", t.ZScore},
		{"modified_zscore_threshold", t.ModifiedZScore},
		{"iqr_multiplier", t.IQRMultiplier},
		{"mad_multiplier", t.MADMultiplier},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) || c.value <= 0 {
			return &models.ConfigError{Field: c.field, Message: fmt.Sprintf("must be a positive finite number, got %v", c.value)}
		}
	}
	if t.MinSamples < 1 {
		return &models.ConfigError{Field: "min_samples", Message: fmt.Sprintf("must be at least 1, got %d", t.MinSamples)}
	}
	return nil
}
