package report

// Package report assembles detector output into one serializable
// AnalysisReport and hands it to a Sink.
//
// Assemble is a pure function: the generation timestamp is supplied by the
// caller, so identical inputs encode to identical bytes.

import (
	"time"

	"github.com/soulsense/soulsense-outliers/internal/analytics/anomaly"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// Metadata identifies what was analyzed and how.
type Metadata struct {
	ScopeType   models.ScopeType      `json:"scope_type" yaml:"scope_type"`
	ScopeKey    string                `json:"scope_key" yaml:"scope_key"`
	Dimension   models.Dimension      `json:"dimension" yaml:"dimension"`
	Selection   models.GroupSelection `json:"selection,omitempty" yaml:"selection,omitempty"`
	MethodUsed  anomaly.Method        `json:"method_used" yaml:"method_used"`
	GeneratedAt time.Time             `json:"generated_at" yaml:"generated_at"`
}

// AnalysisReport is the complete result of one analysis call. Exactly one
// of Verdicts (single method) or Consensus (ensemble) is populated.
type AnalysisReport struct {
	// ID is assigned by persisting sinks; Assemble leaves it empty.
	ID            string               `json:"id,omitempty" yaml:"id,omitempty"`
	Scope         Metadata             `json:"scope" yaml:"scope"`
	Status        stats.Status         `json:"status" yaml:"status"`
	Summary       stats.Summary        `json:"summary" yaml:"summary"`
	Thresholds    anomaly.Thresholds   `json:"thresholds" yaml:"thresholds"`
	Policy        *anomaly.Policy      `json:"policy,omitempty" yaml:"policy,omitempty"`
	OutlierCount  int                  `json:"outlier_count" yaml:"outlier_count"`
	Verdicts      []anomaly.Verdict    `json:"verdicts,omitempty" yaml:"verdicts,omitempty"`
	Consensus     []anomaly.Consensus  `json:"consensus,omitempty" yaml:"consensus,omitempty"`
	Detectors     []anomaly.Result     `json:"detectors,omitempty" yaml:"detectors,omitempty"`
	Inconsistency *consistency.Finding `json:"inconsistency,omitempty" yaml:"inconsistency,omitempty"`
}

// Outliers returns the references of every flagged point.
func (r *AnalysisReport) Outliers() []stats.RecordRef {
	var out []stats.RecordRef
	for _, v := range r.Verdicts {
		if v.IsOutlier {
			out = append(out, v.Ref)
		}
	}
	for _, c := range r.Consensus {
		if c.IsOutlier {
			out = append(out, c.Ref)
		}
	}
	return out
}

// Input gathers everything Assemble packages. Set Single or Ensemble.
type Input struct {
	Meta          scope.Meta
	GeneratedAt   time.Time
	Summary       stats.Summary
	Thresholds    anomaly.Thresholds
	Single        *anomaly.Result
	Ensemble      *anomaly.EnsembleResult
	Inconsistency *consistency.Finding
}

// Assemble builds the report. It has no side effects.
func Assemble(in Input) *AnalysisReport {
	r := &AnalysisReport{
		Scope: Metadata{
			ScopeType:   in.Meta.ScopeType,
			ScopeKey:    in.Meta.ScopeKey,
			Dimension:   in.Meta.Dimension,
			Selection:   in.Meta.Selection,
			GeneratedAt: in.GeneratedAt.UTC(),
		},
		Status:        stats.StatusAnalyzed,
		Summary:       in.Summary,
		Thresholds:    in.Thresholds,
		Inconsistency: in.Inconsistency,
	}

	switch {
	case in.Ensemble != nil:
		policy := in.Ensemble.Policy
		r.Scope.MethodUsed = anomaly.MethodEnsemble
		r.Policy = &policy
		r.Status = in.Ensemble.Status
		r.Consensus = in.Ensemble.Consensus
		r.Detectors = in.Ensemble.Results
		r.OutlierCount = in.Ensemble.OutlierCount()
	case in.Single != nil:
		r.Scope.MethodUsed = in.Single.Method
		r.Status = in.Single.Status
		r.Verdicts = in.Single.Verdicts
		r.OutlierCount = in.Single.OutlierCount()
	}

	if in.Summary.Insufficient() {
		r.Status = stats.StatusInsufficientData
	}
	return r
}
