package consistency

// Package consistency detects erratic self-report: one subject whose scores
// swing widely from session to session inside a time window, even when each
// individual score looks normal next to their peers.
//
// Algorithm:
//   - Window is [as_of - window_days, as_of]; as_of defaults to the latest
//     timestamp in the history, never the wall clock
//   - Records without a timestamp are excluded and counted
//   - Coefficient of variation = sample sd / |mean| over in-window scores
//   - Flagged when CV > cv_threshold and the window has min_samples scores
//   - Fewer samples report insufficient_data with Flagged left nil
//
// Abrupt transitions between consecutive sessions are reported alongside:
// a step is abrupt when |Δ| > mean(|Δ|) + 2·sd(|Δ|).

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// transitionSigma is how many sds above the mean step a transition must be.
const transitionSigma = 2.0

// Options configures one inconsistency analysis.
type Options struct {
	WindowDays  int              `json:"window_days" yaml:"window_days"`
	CVThreshold float64          `json:"cv_threshold" yaml:"cv_threshold"`
	MinSamples  int              `json:"min_samples" yaml:"min_samples"`
	Dimension   models.Dimension `json:"dimension" yaml:"dimension"`
	// AsOf closes the window. Zero means the latest record timestamp.
	AsOf time.Time `json:"as_of,omitempty" yaml:"as_of,omitempty"`
}

// DefaultOptions returns a 30 day window, CV threshold 0.3 and at least 3
// samples on the total score.
func DefaultOptions() Options {
	return Options{
		WindowDays:  30,
		CVThreshold: 0.3,
		MinSamples:  3,
		Dimension:   models.TotalScore,
	}
}

// Validate rejects unusable options.
func (o Options) Validate() error {
	if o.WindowDays < 1 {
		return &models.ConfigError{Field: "window_days", Message: fmt.Sprintf("must be at least 1, got %d", o.WindowDays)}
	}
	if math.IsNaN(o.CVThreshold) || math.IsInf(o.CVThreshold, 0) || o.CVThreshold <= 0 {
		return &models.ConfigError{Field: "cv_threshold", Message: fmt.Sprintf("must be a positive finite number, got %v", o.CVThreshold)}
	}
	if o.MinSamples < 1 {
		return &models.ConfigError{Field: "min_samples", Message: fmt.Sprintf("must be at least 1, got %d", o.MinSamples)}
	}
	return nil
}

// Transition is an abrupt change between two consecutive in-window scores.
type Transition struct {
	From  stats.RecordRef `json:"from" yaml:"from"`
	To    stats.RecordRef `json:"to" yaml:"to"`
	Delta float64         `json:"delta" yaml:"delta"`
}

// Finding is the result of analyzing one subject's history.
type Finding struct {
	SubjectID      string       `json:"subject_id" yaml:"subject_id"`
	Status         stats.Status `json:"status" yaml:"status"`
	WindowStart    time.Time    `json:"window_start" yaml:"window_start"`
	WindowEnd      time.Time    `json:"window_end" yaml:"window_end"`
	VarianceMetric float64      `json:"variance_metric" yaml:"variance_metric"`
	Threshold      float64      `json:"cv_threshold" yaml:"cv_threshold"`
	// Flagged is nil when there was not enough data to decide.
	Flagged         *bool        `json:"flagged" yaml:"flagged"`
	Reason          string       `json:"reason" yaml:"reason"`
	SampleCount     int          `json:"sample_count" yaml:"sample_count"`
	Mean            float64      `json:"mean" yaml:"mean"`
	StdDev          float64      `json:"std_dev" yaml:"std_dev"`
	ExcludedUntimed int          `json:"excluded_untimed" yaml:"excluded_untimed"`
	Transitions     []Transition `json:"transitions" yaml:"transitions"`
}

// IsFlagged reports a definite positive.
func (f Finding) IsFlagged() bool { return f.Flagged != nil && *f.Flagged }

// Analyze examines records, all belonging to subjectID. It returns an error
// only for invalid options; sparse or missing data is reported in the
// finding.
func Analyze(subjectID string, records []models.ScoreRecord, opts Options) (Finding, error) {
	if err := opts.Validate(); err != nil {
		return Finding{}, err
	}

	f := Finding{
		SubjectID:   subjectID,
		Status:      stats.StatusInsufficientData,
		Threshold:   opts.CVThreshold,
		Transitions: []Transition{},
	}

	timed := make([]models.ScoreRecord, 0, len(records))
	for _, r := range records {
		if r.Timestamp.IsZero() {
			f.ExcludedUntimed++
			continue
		}
		timed = append(timed, r)
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		for _, r := range timed {
			if r.Timestamp.After(asOf) {
				asOf = r.Timestamp
			}
		}
	}
	if asOf.IsZero() {
		f.Reason = fmt.Sprintf("insufficient data: no timestamped scores (%d excluded)", f.ExcludedUntimed)
		return f, nil
	}
	f.WindowEnd = asOf
	f.WindowStart = asOf.AddDate(0, 0, -opts.WindowDays)

	sample := windowSample(stats.Extract(records, opts.Dimension), f.WindowStart, f.WindowEnd)
	f.SampleCount = sample.Len()
	if sample.Len() < opts.MinSamples {
		f.Reason = fmt.Sprintf("insufficient data: %d scores in the last %d days, need at least %d",
			sample.Len(), opts.WindowDays, opts.MinSamples)
		return f, nil
	}

	f.Status = stats.StatusAnalyzed
	f.Mean = stat.Mean(sample.Values, nil)
	f.StdDev = stats.SampleStdDev(sample.Values)

	var flagged bool
	if f.Mean == 0 {
		f.Reason = fmt.Sprintf("mean score is zero over %d scores, coefficient of variation undefined and reported as 0", f.SampleCount)
	} else {
		f.VarianceMetric = f.StdDev / math.Abs(f.Mean)
		flagged = f.VarianceMetric > opts.CVThreshold
		verb := "within"
		if flagged {
			verb = "exceeds"
		}
		f.Reason = fmt.Sprintf("coefficient of variation %.4f %s threshold %.4f over %d scores",
			f.VarianceMetric, verb, opts.CVThreshold, f.SampleCount)
	}
	f.Flagged = &flagged
	f.Transitions = abruptTransitions(sample)
	return f, nil
}

// windowSample keeps the timestamped points of full inside [start, end] in
// chronological order. Refs keep their index into the subject's history.
func windowSample(full stats.Sample, start, end time.Time) stats.Sample {
	keep := make([]int, 0, full.Len())
	for i, ref := range full.Refs {
		if ref.Timestamp.IsZero() || ref.Timestamp.Before(start) || ref.Timestamp.After(end) {
			continue
		}
		keep = append(keep, i)
	}
	sort.SliceStable(keep, func(a, b int) bool {
		return full.Refs[keep[a]].Timestamp.Before(full.Refs[keep[b]].Timestamp)
	})

	out := stats.Sample{
		Values: make([]float64, len(keep)),
		Refs:   make([]stats.RecordRef, len(keep)),
	}
	for j, i := range keep {
		out.Values[j] = full.Values[i]
		out.Refs[j] = full.Refs[i]
	}
	return out
}

// abruptTransitions returns consecutive steps whose magnitude stands out
// from the subject's usual step size.
func abruptTransitions(sample stats.Sample) []Transition {
	out := []Transition{}
	if sample.Len() < 3 {
		return out
	}

	steps := make([]float64, sample.Len()-1)
	for i := 1; i < sample.Len(); i++ {
		steps[i-1] = math.Abs(sample.Values[i] - sample.Values[i-1])
	}
	limit := stat.Mean(steps, nil) + transitionSigma*stats.SampleStdDev(steps)

	for i, step := range steps {
		if step > limit {
			out = append(out, Transition{
				From:  sample.Refs[i],
				To:    sample.Refs[i+1],
				Delta: sample.Values[i+1] - sample.Values[i],
			})
		}
	}
	return out
}
