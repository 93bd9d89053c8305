package analytics

import (
	"fmt"

	"github.com/soulsense/soulsense-outliers/internal/analytics/anomaly"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// Request carries the complete configuration of one analysis call. Nothing
// is read from process-wide state.
type Request struct {
	// Method is a single detector or MethodEnsemble ("" means ensemble).
	Method     anomaly.Method
	Dimension  models.Dimension
	Thresholds anomaly.Thresholds
	// Policy applies only when Method is MethodEnsemble.
	Policy anomaly.Policy
	// Selection applies only to group scopes ("" means all records).
	Selection models.GroupSelection
	// IncludeInconsistency attaches an inconsistency finding to subject
	// reports when set.
	IncludeInconsistency *consistency.Options
}

// DefaultRequest runs the four-detector ensemble on total scores.
func DefaultRequest() Request {
	return Request{
		Method:     anomaly.MethodEnsemble,
		Dimension:  models.TotalScore,
		Thresholds: anomaly.DefaultThresholds(),
		Policy:     anomaly.DefaultPolicy(),
		Selection:  models.SelectAll,
	}
}

// Normalize fills in defaults without validating.
func (r Request) Normalize() Request {
	if r.Method == "" {
		r.Method = anomaly.MethodEnsemble
	}
	if r.Selection == "" {
		r.Selection = models.SelectAll
	}
	r.Policy = r.Policy.Normalize()
	return r
}

// Validate fails fast on a caller error. It checks the normalized request.
func (r Request) Validate() error {
	r = r.Normalize()

	switch r.Method {
	case anomaly.MethodZScore, anomaly.MethodModifiedZScore, anomaly.MethodIQR, anomaly.MethodMAD:
	case anomaly.MethodEnsemble:
		if err := r.Policy.Validate(); err != nil {
			return err
		}
	default:
		return &models.ConfigError{Field: "method", Message: fmt.Sprintf("unknown method %q", r.Method)}
	}
	if err := r.Thresholds.Validate(); err != nil {
		return err
	}
	if _, err := scope.ParseSelection(string(r.Selection)); err != nil {
		return err
	}
	if !r.Dimension.Valid() {
		return &models.ConfigError{Field: "dimension", Message: fmt.Sprintf("invalid dimension %d", int(r.Dimension))}
	}
	if r.IncludeInconsistency != nil {
		if err := r.IncludeInconsistency.Validate(); err != nil {
			return err
		}
	}
	return nil
}
