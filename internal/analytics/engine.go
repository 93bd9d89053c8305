package analytics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soulsense/soulsense-outliers/internal/analytics/anomaly"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/metrics"
	"github.com/soulsense/soulsense-outliers/internal/models"
	"github.com/soulsense/soulsense-outliers/internal/tracing"
)

// Package analytics orchestrates outlier analysis over recorded
// emotional-intelligence assessment scores.
//
// IMPORTANT: This package uses ONLY classical statistics. NO machine learning.
//
// Flow of one call:
//   1. A scope resolver fetches records from the ScoreStore (user, group, global)
//   2. The numeric sample is extracted (total score or one sub-score)
//   3. A shared Summary is computed once
//   4. One detector or the ensemble classifies every point
//   5. The report is assembled and handed to the Report Sink
//
// The inconsistency analyzer is a separate path over one subject's history.
//
// Analyze is the pure core: it takes the generation timestamp from the
// caller. The Engine adds the I/O around it (fetch, clock, logging, tracing,
// metrics, publishing) and never changes detection semantics per scope.

// DefaultConcurrency bounds AnalyzeGroups fan-out.
const DefaultConcurrency = 8

// Analyze runs detection over an already resolved sample.
func Analyze(sample stats.Sample, meta scope.Meta, req Request, generatedAt time.Time) (*report.AnalysisReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalize()

	summary := stats.Summarize(sample.Values)
	in := report.Input{
		Meta:        meta,
		GeneratedAt: generatedAt,
		Summary:     summary,
		Thresholds:  req.Thresholds,
	}

	if req.Method == anomaly.MethodEnsemble {
		ens, err := anomaly.Ensemble(sample, summary, req.Thresholds, req.Policy)
		if err != nil {
			return nil, err
		}
		in.Ensemble = &ens
	} else {
		d, err := anomaly.NewDetector(req.Method, req.Thresholds)
		if err != nil {
			return nil, err
		}
		res := d.Detect(sample, summary)
		in.Single = &res
	}
	return report.Assemble(in), nil
}

// SummaryReport is the statistical summary of a scope without detection.
type SummaryReport struct {
	Scope       scope.Meta    `json:"scope" yaml:"scope"`
	GeneratedAt time.Time     `json:"generated_at" yaml:"generated_at"`
	Summary     stats.Summary `json:"summary" yaml:"summary"`
}

// Engine is the analytics engine
type Engine struct {
	store       scope.ScoreStore
	sink        report.Sink
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
	concurrency int
	onFailure   FailureHook
}

// FailureHook observes analyses that end in an error after the request was
// validated: store fetches and report publication.
type FailureHook func(ctx context.Context, t models.ScopeType, key string, err error)

// Option configures an Engine.
type Option func(*Engine)

// WithSink publishes every report to s.
func WithSink(s report.Sink) Option { return func(e *Engine) { e.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithClock sets the source of report timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithConcurrency bounds AnalyzeGroups fan-out.
func WithConcurrency(n int) Option { return func(e *Engine) { e.concurrency = n } }

// WithFailureHook calls h for every failed analysis.
func WithFailureHook(h FailureHook) Option { return func(e *Engine) { e.onFailure = h } }

// NewEngine creates a new analytics engine reading from store.
func NewEngine(store scope.ScoreStore, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		sink:        report.Discard,
		logger:      zap.NewNop(),
		tracer:      tracing.Noop(),
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	return e
}

// AnalyzeSubject analyzes one subject's score history.
func (e *Engine) AnalyzeSubject(ctx context.Context, subjectID string, req Request) (*report.AnalysisReport, error) {
	return e.analyzeScope(ctx, models.ScopeUser, subjectID, req)
}

// AnalyzeGroup analyzes one cohort across its subjects.
func (e *Engine) AnalyzeGroup(ctx context.Context, groupKey string, req Request) (*report.AnalysisReport, error) {
	return e.analyzeScope(ctx, models.ScopeAgeGroup, groupKey, req)
}

// AnalyzeGlobal analyzes the whole population.
func (e *Engine) AnalyzeGlobal(ctx context.Context, req Request) (*report.AnalysisReport, error) {
	return e.analyzeScope(ctx, models.ScopeGlobal, string(models.ScopeGlobal), req)
}

// AnalyzeGroups analyzes many cohorts concurrently. Reports come back, and
// reach the sink, in the order of groupKeys; the first failure cancels the
// rest and nothing is published.
func (e *Engine) AnalyzeGroups(ctx context.Context, groupKeys []string, req Request) ([]*report.AnalysisReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := make([]*report.AnalysisReport, len(groupKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, key := range groupKeys {
		g.Go(func() error {
			r, err := e.evaluate(gctx, models.ScopeAgeGroup, key, req)
			if err != nil {
				return fmt.Errorf("group %s: %w", key, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range out {
		if err := e.publish(ctx, r); err != nil {
			return nil, fmt.Errorf("group %s: %w", r.Scope.ScopeKey, err)
		}
	}
	return out, nil
}

// AnalyzeInconsistency examines one subject's history for erratic scores.
func (e *Engine) AnalyzeInconsistency(ctx context.Context, subjectID string, opts consistency.Options) (consistency.Finding, error) {
	if err := opts.Validate(); err != nil {
		return consistency.Finding{}, err
	}
	ctx, span := tracing.StartSpanWithAttributes(ctx, e.tracer, "analytics.AnalyzeInconsistency",
		attribute.String("subject_id", subjectID),
		attribute.Int("window_days", opts.WindowDays),
	)
	defer span.End()

	res, err := scope.ResolveUser(ctx, e.store, subjectID, opts.Dimension)
	if err != nil {
		return consistency.Finding{}, e.fail(ctx, span, models.ScopeUser, subjectID, "inconsistency", err)
	}
	f, err := consistency.Analyze(subjectID, res.Records, opts)
	if err != nil {
		return consistency.Finding{}, err
	}
	metrics.InconsistencyFindingsTotal.WithLabelValues(findingOutcome(f)).Inc()
	e.logger.Debug("Inconsistency analysis complete",
		zap.String("subject_id", subjectID),
		zap.String("status", string(f.Status)),
		zap.Int("samples", f.SampleCount),
		zap.Float64("cv", f.VarianceMetric),
	)
	return f, nil
}

// Summarize returns the summary statistics of a scope.
func (e *Engine) Summarize(ctx context.Context, t models.ScopeType, key string, d models.Dimension) (SummaryReport, error) {
	ctx, span := tracing.StartSpanWithAttributes(ctx, e.tracer, "analytics.Summarize",
		attribute.String("scope", string(t)),
		attribute.String("scope_key", key),
	)
	defer span.End()

	res, err := scope.Resolve(ctx, e.store, t, key, d, models.SelectAll)
	if err != nil {
		return SummaryReport{}, e.fail(ctx, span, t, key, "summary", err)
	}
	return SummaryReport{
		Scope:       res.Meta,
		GeneratedAt: e.now().UTC(),
		Summary:     stats.Summarize(res.Sample.Values),
	}, nil
}

// ─── Internal ─────────────────────────────────────────────────────────────────

func (e *Engine) analyzeScope(ctx context.Context, t models.ScopeType, key string, req Request) (*report.AnalysisReport, error) {
	r, err := e.evaluate(ctx, t, key, req)
	if err != nil {
		return nil, err
	}
	if err := e.publish(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// evaluate builds the report for one scope without publishing it.
func (e *Engine) evaluate(ctx context.Context, t models.ScopeType, key string, req Request) (*report.AnalysisReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalize()

	start := time.Now()
	ctx, span := tracing.StartSpanWithAttributes(ctx, e.tracer, "analytics.Analyze",
		attribute.String("scope", string(t)),
		attribute.String("scope_key", key),
		attribute.String("method", string(req.Method)),
	)
	defer span.End()

	res, err := scope.Resolve(ctx, e.store, t, key, req.Dimension, req.Selection)
	if err != nil {
		return nil, e.fail(ctx, span, t, key, string(req.Method), err)
	}

	r, err := Analyze(res.Sample, res.Meta, req, e.now())
	if err != nil {
		return nil, err
	}

	if t == models.ScopeUser && req.IncludeInconsistency != nil {
		f, err := consistency.Analyze(key, res.Records, *req.IncludeInconsistency)
		if err != nil {
			return nil, err
		}
		metrics.InconsistencyFindingsTotal.WithLabelValues(findingOutcome(f)).Inc()
		r.Inconsistency = &f
	}

	metrics.AnalysesTotal.WithLabelValues(string(t), string(req.Method), string(r.Status)).Inc()
	metrics.AnalysisDuration.WithLabelValues(string(t)).Observe(time.Since(start).Seconds())
	metrics.SampleSize.WithLabelValues(string(t)).Observe(float64(r.Summary.Count))
	metrics.OutliersFlaggedTotal.WithLabelValues(string(t), string(req.Method)).Add(float64(r.OutlierCount))

	span.SetAttributes(
		attribute.Int("samples", r.Summary.Count),
		attribute.Int("outliers", r.OutlierCount),
	)
	e.logger.Info("Analysis complete",
		zap.String("scope", string(t)),
		zap.String("scope_key", key),
		zap.String("method", string(req.Method)),
		zap.String("status", string(r.Status)),
		zap.Int("samples", r.Summary.Count),
		zap.Int("outliers", r.OutlierCount),
		zap.Duration("duration", time.Since(start)),
	)
	return r, nil
}

func (e *Engine) publish(ctx context.Context, r *report.AnalysisReport) error {
	ctx, span := tracing.StartSpanWithAttributes(ctx, e.tracer, "analytics.Publish",
		attribute.String("scope", string(r.Scope.ScopeType)),
		attribute.String("scope_key", r.Scope.ScopeKey),
	)
	defer span.End()

	if err := e.sink.Publish(ctx, r); err != nil {
		metrics.ReportsPublishedTotal.WithLabelValues("error").Inc()
		return e.fail(ctx, span, r.Scope.ScopeType, r.Scope.ScopeKey, string(r.Scope.MethodUsed), fmt.Errorf("publish report: %w", err))
	}
	metrics.ReportsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, t models.ScopeType, key, method string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.AnalysesTotal.WithLabelValues(string(t), method, "error").Inc()
	e.logger.Error("Analysis failed",
		zap.String("scope", string(t)),
		zap.String("scope_key", key),
		zap.String("method", method),
		zap.Error(err),
	)
	if e.onFailure != nil {
		e.onFailure(ctx, t, key, err)
	}
	return err
}

func findingOutcome(f consistency.Finding) string {
	switch {
	case f.Flagged == nil:
		return string(stats.StatusInsufficientData)
	case *f.Flagged:
		return "flagged"
	default:
		return "consistent"
	}
}
