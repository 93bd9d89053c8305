package config

import (
	"time"

	"github.com/soulsense/soulsense-outliers/internal/analytics"
	"github.com/soulsense/soulsense-outliers/internal/analytics/anomaly"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// AnalysisRequest converts the detection section into the default request
// handed to every analysis call. Callers copy and override it per call.
func (c *Config) AnalysisRequest() (analytics.Request, error) {
	method, err := anomaly.ParseMethod(c.Detection.Method)
	if err != nil {
		return analytics.Request{}, err
	}
	dim, err := models.ParseDimension(c.Detection.Dimension)
	if err != nil {
		return analytics.Request{}, err
	}
	sel, err := scope.ParseSelection(c.Detection.GroupSelection)
	if err != nil {
		return analytics.Request{}, err
	}

	policy := anomaly.Policy{
		Rule:     anomaly.VotingRule(c.Detection.Voting),
		MinVotes: c.Detection.MinVotes,
	}
	for _, name := range c.Detection.Methods {
		m, err := anomaly.ParseMethod(name)
		if err != nil {
			return analytics.Request{}, err
		}
		policy.Methods = append(policy.Methods, m)
	}

	req := analytics.Request{
		Method:    method,
		Dimension: dim,
		Thresholds: anomaly.Thresholds{
			ZScore:         c.Detection.ZScoreThreshold,
			ModifiedZScore: c.Detection.ModifiedZScoreThreshold,
			IQRMultiplier:  c.Detection.IQRMultiplier,
			MADMultiplier:  c.Detection.MADMultiplier,
			MinSamples:     c.Detection.MinSamples,
		},
		Policy:    policy,
		Selection: sel,
	}
	if c.Inconsistency.IncludeInUserReports {
		opts := c.InconsistencyOptions()
		opts.Dimension = dim
		req.IncludeInconsistency = &opts
	}
	if err := req.Validate(); err != nil {
		return analytics.Request{}, err
	}
	return req.Normalize(), nil
}

// InconsistencyOptions converts the inconsistency section.
func (c *Config) InconsistencyOptions() consistency.Options {
	return consistency.Options{
		WindowDays:  c.Inconsistency.WindowDays,
		CVThreshold: c.Inconsistency.CVThreshold,
		MinSamples:  c.Inconsistency.MinSamples,
		Dimension:   models.TotalScore,
	}
}

// CacheTTL returns the cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SweepInterval returns the sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSeconds) * time.Second
}
