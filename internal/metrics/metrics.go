package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outlier service metrics for production monitoring
var (
	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_analyses_total",
			Help: "Total number of outlier analyses run",
		},
		[]string{"scope", "method", "status"}, // status: analyzed/insufficient_data/error
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soulsense_outliers_analysis_duration_seconds",
			Help:    "Analysis duration in seconds, including the store fetch",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"scope"},
	)

	SampleSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soulsense_outliers_sample_size",
			Help:    "Number of values per analyzed sample",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1 to 8192
		},
		[]string{"scope"},
	)

	OutliersFlaggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_flagged_total",
			Help: "Total number of points flagged as outliers",
		},
		[]string{"scope", "method"},
	)

	// Inconsistency metrics
	InconsistencyFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_inconsistency_findings_total",
			Help: "Total number of inconsistency analyses by outcome",
		},
		[]string{"outcome"}, // outcome: flagged/consistent/insufficient_data
	)

	// Store metrics
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_store_errors_total",
			Help: "Total number of score store failures",
		},
		[]string{"operation"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_cache_requests_total",
			Help: "Score cache lookups by result",
		},
		[]string{"result"}, // result: hit/miss
	)

	ReportsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_reports_published_total",
			Help: "Reports handed to the report sink",
		},
		[]string{"status"}, // status: ok/error
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soulsense_outliers_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soulsense_outliers_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
