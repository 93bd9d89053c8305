package anomaly

import (
	"math"

	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
)

// modifiedZScale normalizes MAD to be comparable with stddev under a normal
// distribution.
const modifiedZScale = 0.6745

type detectorBase struct {
	threshold  float64
	minSamples int
}

func (b detectorBase) Threshold() float64 { return b.threshold }

// begin returns a Result with one non-outlier verdict per value and reports
// whether the sample is large enough to analyze.
func (b detectorBase) begin(m Method, sample stats.Sample, summary stats.Summary) (Result, bool) {
	res := Result{
		Method:    m,
		Status:    stats.StatusAnalyzed,
		Threshold: b.threshold,
		Verdicts:  make([]Verdict, sample.Len()),
	}
	for i, v := range sample.Values {
		res.Verdicts[i] = Verdict{Ref: refAt(sample, i), Method: m, Value: v}
	}
	if sample.Len() < b.minSamples || summary.Insufficient() {
		res.Status = stats.StatusInsufficientData
		return res, false
	}
	return res, true
}

func refAt(sample stats.Sample, i int) stats.RecordRef {
	if i < len(sample.Refs) {
		return sample.Refs[i]
	}
	return stats.RecordRef{Index: i}
}

// ─── Z-Score ──────────────────────────────────────────────────────────────────

type zScoreDetector struct{ detectorBase }

func (d *zScoreDetector) Method() Method { return MethodZScore }

func (d *zScoreDetector) Detect(sample stats.Sample, summary stats.Summary) Result {
	res, ok := d.begin(MethodZScore, sample, summary)
	if !ok || summary.StdDev == 0 || summary.Min == summary.Max {
		return res // zero variance: all points identical
	}
	for i, v := range sample.Values {
		z := math.Abs(v-summary.Mean) / summary.StdDev
		res.Verdicts[i].Deviation = finite(z)
		res.Verdicts[i].IsOutlier = z > d.threshold
	}
	return res
}

// ─── Modified Z-Score ─────────────────────────────────────────────────────────

type modifiedZScoreDetector struct{ detectorBase }

func (d *modifiedZScoreDetector) Method() Method { return MethodModifiedZScore }

func (d *modifiedZScoreDetector) Detect(sample stats.Sample, summary stats.Summary) Result {
	res, ok := d.begin(MethodModifiedZScore, sample, summary)
	if !ok || summary.MAD == 0 {
		return res
	}
	for i, v := range sample.Values {
		m := modifiedZScale * (v - summary.Median) / summary.MAD
		res.Verdicts[i].Deviation = finite(m)
		res.Verdicts[i].IsOutlier = math.Abs(m) > d.threshold
	}
	return res
}

// ─── IQR ──────────────────────────────────────────────────────────────────────

type iqrDetector struct{ detectorBase }

func (d *iqrDetector) Method() Method { return MethodIQR }

// Detect flags points outside [Q1 - k*IQR, Q3 + k*IQR]. The deviation metric
// is the distance beyond the nearest fence, 0 inside the fences.
func (d *iqrDetector) Detect(sample stats.Sample, summary stats.Summary) Result {
	res, ok := d.begin(MethodIQR, sample, summary)
	if !ok {
		return res
	}
	lowerFence := summary.Q1 - d.threshold*summary.IQR
	upperFence := summary.Q3 + d.threshold*summary.IQR
	res.Bounds = &Bounds{Lower: lowerFence, Upper: upperFence}

	for i, v := range sample.Values {
		switch {
		case v < lowerFence:
			res.Verdicts[i].IsOutlier = true
			res.Verdicts[i].Deviation = finite(lowerFence - v)
		case v > upperFence:
			res.Verdicts[i].IsOutlier = true
			res.Verdicts[i].Deviation = finite(v - upperFence)
		}
	}
	return res
}

// ─── MAD multiplier ───────────────────────────────────────────────────────────

type madDetector struct{ detectorBase }

func (d *madDetector) Method() Method { return MethodMAD }

// Detect flags |x - median| > k*MAD. The deviation metric is |x - median|
// expressed in MAD units.
func (d *madDetector) Detect(sample stats.Sample, summary stats.Summary) Result {
	res, ok := d.begin(MethodMAD, sample, summary)
	if !ok || summary.MAD == 0 {
		return res
	}
	limit := d.threshold * summary.MAD
	for i, v := range sample.Values {
		dist := math.Abs(v - summary.Median)
		res.Verdicts[i].Deviation = finite(dist / summary.MAD)
		res.Verdicts[i].IsOutlier = dist > limit
	}
	return res
}

// finite clamps non-finite values to 0 so they never reach a report.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
