package rest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soulsense/soulsense-outliers/internal/analytics"
	"github.com/soulsense/soulsense-outliers/internal/analytics/anomaly"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// requestFromQuery overrides base with any analysis parameters present in
// q. The result is not validated; the engine does that.
func requestFromQuery(base analytics.Request, inc consistency.Options, q url.Values) (analytics.Request, error) {
	req := base
	req.Policy.Methods = append([]anomaly.Method(nil), base.Policy.Methods...)

	if v := q.Get("method"); v != "" {
		m, err := anomaly.ParseMethod(v)
		if err != nil {
			return req, err
		}
		req.Method = m
	}
	if v := q.Get("dimension"); v != "" {
		d, err := models.ParseDimension(v)
		if err != nil {
			return req, err
		}
		req.Dimension = d
	}
	if v := q.Get("selection"); v != "" {
		sel, err := scope.ParseSelection(v)
		if err != nil {
			return req, err
		}
		req.Selection = sel
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"zscore_threshold", &req.Thresholds.ZScore},
		{"modified_zscore_threshold", &req.Thresholds.ModifiedZScore},
		{"iqr_multiplier", &req.Thresholds.IQRMultiplier},
		{"mad_multiplier", &req.Thresholds.MADMultiplier},
	}
	for _, f := range floats {
		if err := parseFloat(q, f.name, f.dst); err != nil {
			return req, err
		}
	}
	if err := parseInt(q, "min_samples", &req.Thresholds.MinSamples); err != nil {
		return req, err
	}

	if v := q.Get("methods"); v != "" {
		req.Policy.Methods = nil
		for _, name := range strings.Split(v, ",") {
			m, err := anomaly.ParseMethod(strings.TrimSpace(name))
			if err != nil {
				return req, err
			}
			req.Policy.Methods = append(req.Policy.Methods, m)
		}
	}
	if v := q.Get("voting"); v != "" {
		req.Policy.Rule = anomaly.VotingRule(v)
		if req.Policy.Rule != anomaly.VoteAtLeast {
			req.Policy.MinVotes = 0
		}
	}
	if err := parseInt(q, "min_votes", &req.Policy.MinVotes); err != nil {
		return req, err
	}

	include := req.IncludeInconsistency != nil
	if v := q.Get("include_inconsistency"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, &models.ConfigError{Field: "include_inconsistency", Message: fmt.Sprintf("invalid boolean %q", v)}
		}
		include = b
	}
	if include {
		opts, err := inconsistencyFromQuery(inc, q)
		if err != nil {
			return req, err
		}
		opts.Dimension = req.Dimension
		req.IncludeInconsistency = &opts
	} else {
		req.IncludeInconsistency = nil
	}
	return req, nil
}

// inconsistencyFromQuery overrides base with window_days, cv_threshold,
// inconsistency_min_samples, dimension and as_of.
func inconsistencyFromQuery(base consistency.Options, q url.Values) (consistency.Options, error) {
	opts := base
	if err := parseInt(q, "window_days", &opts.WindowDays); err != nil {
		return opts, err
	}
	if err := parseFloat(q, "cv_threshold", &opts.CVThreshold); err != nil {
		return opts, err
	}
	if err := parseInt(q, "inconsistency_min_samples", &opts.MinSamples); err != nil {
		return opts, err
	}
	if v := q.Get("dimension"); v != "" {
		d, err := models.ParseDimension(v)
		if err != nil {
			return opts, err
		}
		opts.Dimension = d
	}
	if v := q.Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, &models.ConfigError{Field: "as_of", Message: fmt.Sprintf("invalid RFC 3339 time %q", v)}
		}
		opts.AsOf = t
	}
	return opts, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func parseFloat(q url.Values, name string, dst *float64) error {
	v := q.Get(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return &models.ConfigError{Field: name, Message: fmt.Sprintf("invalid number %q", v)}
	}
	*dst = f
	return nil
}

func parseInt(q url.Values, name string, dst *int) error {
	v := q.Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &models.ConfigError{Field: name, Message: fmt.Sprintf("invalid integer %q", v)}
	}
	*dst = n
	return nil
}
