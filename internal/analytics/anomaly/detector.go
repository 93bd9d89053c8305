package anomaly

// Package anomaly provides per-point outlier detection using classical statistics.
//
// Responsibilities:
//   - Classify each value of a numeric sample as outlier / non-outlier
//   - Support four interchangeable detection methods behind one Detector type
//   - Combine detectors into a consensus verdict (see ensemble.go)
//   - Maintain interpretability (every verdict carries its deviation metric)
//   - Never emit NaN or Inf, even on degenerate samples
//
// Philosophy: Classical Statistics, NOT Machine Learning
//   - No training data, no hidden state between calls
//   - Deterministic: same sample + thresholds always yields the same verdicts
//   - Thresholds are passed explicitly on every call
//
// Detection Methods:
//
//   1. Z-Score
//      - deviation = |x - mean| / stddev
//      - Outlier if deviation > threshold (default 3.0)
//      - stddev == 0 → no outliers
//
//   2. Modified Z-Score
//      - deviation = 0.6745 * (x - median) / MAD
//      - Outlier if |deviation| > threshold (default 3.5)
//      - MAD == 0 → no outliers
//
//   3. Interquartile Range (IQR)
//      - Fences at Q1 - k*IQR and Q3 + k*IQR (default k = 1.5)
//      - Robust to skew, does not need stddev
//
//   4. MAD multiplier
//      - Outlier if |x - median| > k * MAD (default k = 3.0)
//      - k is a plain multiplier, unlike the Modified Z-Score cutoff
//
// Minimum sample size:
//   - Below Thresholds.MinSamples (default 3) a detector reports
//     insufficient_data and marks every point as a non-outlier.

import (
	"fmt"
	"strings"

	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// Method names a detection method.
type Method string

const (
	MethodZScore         Method = "zscore"
	MethodModifiedZScore Method = "modified_zscore"
	MethodIQR            Method = "iqr"
	MethodMAD            Method = "mad"

	// MethodEnsemble is a request-level pseudo method: run several detectors
	// and vote. It is not a Detector.
	MethodEnsemble Method = "ensemble"
)

// AllMethods lists the detectors in their canonical order.
var AllMethods = []Method{MethodZScore, MethodModifiedZScore, MethodIQR, MethodMAD}

// ParseMethod normalizes a method name. Hyphens and the "z-score" spelling
// used by older clients are accepted.
func ParseMethod(s string) (Method, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "", "ensemble":
		return MethodEnsemble, nil
	case "zscore", "z_score":
		return MethodZScore, nil
	case "modified_zscore", "modified_z_score", "modifiedzscore":
		return MethodModifiedZScore, nil
	case "iqr":
		return MethodIQR, nil
	case "mad":
		return MethodMAD, nil
	}
	return "", &models.ConfigError{Field: "method", Message: fmt.Sprintf("unknown method %q", s)}
}

// Verdict is the result of one detector for one sample point.
type Verdict struct {
	Ref       stats.RecordRef `json:"record_ref" yaml:"record_ref"`
	Method    Method          `json:"method_name" yaml:"method_name"`
	IsOutlier bool            `json:"is_outlier" yaml:"is_outlier"`
	Value     float64         `json:"score_value" yaml:"score_value"`
	Deviation float64         `json:"deviation_metric" yaml:"deviation_metric"`
}

// Bounds are the IQR fences.
type Bounds struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// Result is the output of one detector over a whole sample.
type Result struct {
	Method    Method       `json:"method" yaml:"method"`
	Status    stats.Status `json:"status" yaml:"status"`
	Threshold float64      `json:"threshold" yaml:"threshold"`
	Bounds    *Bounds      `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Verdicts  []Verdict    `json:"verdicts" yaml:"verdicts"`
}

// OutlierCount returns how many verdicts flag an outlier.
func (r Result) OutlierCount() int {
	n := 0
	for _, v := range r.Verdicts {
		if v.IsOutlier {
			n++
		}
	}
	return n
}

// Detector classifies every point of a sample against a shared summary.
type Detector interface {
	// Method returns the detector's method name.
	Method() Method

	// Threshold returns the configured cutoff or multiplier.
	Threshold() float64

	// Detect returns one verdict per sample value, in sample order.
	Detect(sample stats.Sample, summary stats.Summary) Result
}

// NewDetector returns the detector for method m configured from t.
func NewDetector(m Method, t Thresholds) (Detector, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	base := detectorBase{minSamples: t.MinSamples}
	switch m {
	case MethodZScore:
		base.threshold = t.ZScore
		return &zScoreDetector{base}, nil
	case MethodModifiedZScore:
		base.threshold = t.ModifiedZScore
		return &modifiedZScoreDetector{base}, nil
	case MethodIQR:
		base.threshold = t.IQRMultiplier
		return &iqrDetector{base}, nil
	case MethodMAD:
		base.threshold = t.MADMultiplier
		return &madDetector{base}, nil
	}
	return nil, &models.ConfigError{Field: "method", Message: fmt.Sprintf("no detector for method %q", m)}
}

// Detect is a convenience wrapper: summarize the sample and run one method.
func Detect(m Method, sample stats.Sample, t Thresholds) (Result, stats.Summary, error) {
	d, err := NewDetector(m, t)
	if err != nil {
		return Result{}, stats.Summary{}, err
	}
	summary := stats.Summarize(sample.Values)
	return d.Detect(sample, summary), summary, nil
}
