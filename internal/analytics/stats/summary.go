package stats

// Package stats computes the baseline statistics every detector shares.
//
// A Summary is computed once per sample and handed, read-only, to all
// detectors so that each sees the same mean, standard deviation, median and
// MAD. Summaries are pure functions of their input: no clock, no randomness.
//
// Conventions:
//   - Standard deviation is the sample (n-1) form; a single value has sd 0.
//   - Percentiles use linear interpolation with rank p*(n-1).
//   - MAD is the median of |x - median|, not of |x - mean|.
//   - An empty sample yields Status "insufficient_data" and zero fields.

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Status tells a caller whether a computation ran on enough data.
type Status string

const (
	StatusAnalyzed         Status = "analyzed"
	StatusInsufficientData Status = "insufficient_data"
)

// Summary holds the baseline statistics of a numeric sample.
type Summary struct {
	Status                 Status  `json:"status" yaml:"status"`
	Count                  int     `json:"count" yaml:"count"`
	Mean                   float64 `json:"mean" yaml:"mean"`
	StdDev                 float64 `json:"std_dev" yaml:"std_dev"`
	Median                 float64 `json:"median" yaml:"median"`
	MAD                    float64 `json:"mad" yaml:"mad"`
	Min                    float64 `json:"min" yaml:"min"`
	Max                    float64 `json:"max" yaml:"max"`
	Q1                     float64 `json:"q1" yaml:"q1"`
	Q3                     float64 `json:"q3" yaml:"q3"`
	IQR                    float64 `json:"iqr" yaml:"iqr"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation" yaml:"coefficient_of_variation"`
}

// Insufficient reports whether the summary was computed on an empty sample.
func (s Summary) Insufficient() bool { return s.Status == StatusInsufficientData }

// Summarize computes the Summary of values. values is not modified.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{Status: StatusInsufficientData}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := stat.Mean(values, nil)
	stdDev := SampleStdDev(values)
	median := Percentile(sorted, 50)
	q1 := Percentile(sorted, 25)
	q3 := Percentile(sorted, 75)

	cv := 0.0
	if mean != 0 {
		cv = stdDev / math.Abs(mean)
	}

	return Summary{
		Status:                 StatusAnalyzed,
		Count:                  len(values),
		Mean:                   mean,
		StdDev:                 stdDev,
		Median:                 median,
		MAD:                    medianAbsDeviation(values, median),
		Min:                    sorted[0],
		Max:                    sorted[len(sorted)-1],
		Q1:                     q1,
		Q3:                     q3,
		IQR:                    q3 - q1,
		CoefficientOfVariation: cv,
	}
}

// SampleStdDev returns the n-1 standard deviation, or 0 for fewer than two
// values (gonum would return NaN there).
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sd := stat.StdDev(values, nil)
	if math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0
	}
	return sd
}

// Percentile returns the p-th percentile (0-100) of already sorted data.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100.0 * float64(len(sorted)-1)
	lowerIndex := int(math.Floor(rank))
	upperIndex := int(math.Ceil(rank))

	if lowerIndex == upperIndex || sorted[lowerIndex] == sorted[upperIndex] {
		return sorted[lowerIndex]
	}

	// Linear interpolation
	weight := rank - float64(lowerIndex)
	return sorted[lowerIndex]*(1-weight) + sorted[upperIndex]*weight
}

// Median returns the median of values without modifying them.
func Median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Percentile(sorted, 50)
}

func medianAbsDeviation(values []float64, median float64) float64 {
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	return Median(deviations)
}
