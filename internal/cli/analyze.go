package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soulsense/soulsense-outliers/internal/analytics"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/audit"
	"github.com/soulsense/soulsense-outliers/internal/models"
	"github.com/soulsense/soulsense-outliers/internal/tracing"
)

// analyzeFlags override the detection and inconsistency config sections
// for a single run.
type analyzeFlags struct {
	method                  string
	dimension               string
	selection               string
	methods                 []string
	voting                  string
	minVotes                int
	zscoreThreshold         float64
	modifiedZScoreThreshold float64
	iqrMultiplier           float64
	madMultiplier           float64
	minSamples              int
	includeInconsistency    bool
	windowDays              int
	cvThreshold             float64
	asOf                    string
}

func newAnalyzeCmd(a *app) *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a one-shot analysis against the configured database",
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.method, "method", "", "detection method: ensemble, zscore, modified_zscore, iqr or mad")
	pf.StringVar(&f.dimension, "dimension", "", "sample dimension: total_score or sub_score[i]")
	pf.StringVar(&f.selection, "selection", "", "cohort record selection: all or latest")
	pf.StringSliceVar(&f.methods, "methods", nil, "ensemble member methods")
	pf.StringVar(&f.voting, "voting", "", "ensemble voting rule: majority, any, all or at_least")
	pf.IntVar(&f.minVotes, "min-votes", 0, "votes required with --voting at_least")
	pf.Float64Var(&f.zscoreThreshold, "zscore-threshold", 0, "z-score cutoff")
	pf.Float64Var(&f.modifiedZScoreThreshold, "modified-zscore-threshold", 0, "modified z-score cutoff")
	pf.Float64Var(&f.iqrMultiplier, "iqr-multiplier", 0, "IQR fence multiplier")
	pf.Float64Var(&f.madMultiplier, "mad-multiplier", 0, "MAD distance multiplier")
	pf.IntVar(&f.minSamples, "min-samples", 0, "minimum sample size for detection")
	pf.BoolVar(&f.includeInconsistency, "include-inconsistency", false, "attach an inconsistency finding to user reports")
	pf.IntVar(&f.windowDays, "window-days", 0, "inconsistency window length in days")
	pf.Float64Var(&f.cvThreshold, "cv-threshold", 0, "coefficient of variation cutoff")
	pf.StringVar(&f.asOf, "as-of", "", "inconsistency window end (RFC 3339, default latest record)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "user <subject-id>",
			Short: "Flag unusual scores in one user's history",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runAnalysis(cmd, f, func(e *analytics.Engine, req analytics.Request) error {
					_, err := e.AnalyzeSubject(cmd.Context(), args[0], req)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "group <group-key>...",
			Short: "Flag unusual scores within one or more age cohorts",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runAnalysis(cmd, f, func(e *analytics.Engine, req analytics.Request) error {
					if len(args) == 1 {
						_, err := e.AnalyzeGroup(cmd.Context(), args[0], req)
						return err
					}
					_, err := e.AnalyzeGroups(cmd.Context(), args, req)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "global",
			Short: "Flag unusual scores across the whole population",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runAnalysis(cmd, f, func(e *analytics.Engine, req analytics.Request) error {
					_, err := e.AnalyzeGlobal(cmd.Context(), req)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "inconsistency <subject-id>",
			Short: "Check whether a user's recent scores vary too much",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runInconsistency(cmd, f, args[0])
			},
		},
		newSummaryCmd(a, f),
	)
	return cmd
}

func newSummaryCmd(a *app, f *analyzeFlags) *cobra.Command {
	var user, group string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print summary statistics for a user, a cohort or everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user != "" && group != "" {
				return fmt.Errorf("--user and --group are mutually exclusive")
			}
			req, err := f.request(cmd, a)
			if err != nil {
				return err
			}
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			t, key := models.ScopeGlobal, ""
			switch {
			case user != "":
				t, key = models.ScopeUser, user
			case group != "":
				t, key = models.ScopeAgeGroup, group
			}
			engine := a.newEngine(rt)
			summary, err := engine.Summarize(cmd.Context(), t, key, req.Dimension)
			if err != nil {
				return err
			}
			return report.Encode(cmd.OutOrStdout(), summary, format)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "summarize one user's history")
	cmd.Flags().StringVar(&group, "group", "", "summarize one age cohort")
	return cmd
}

// runAnalysis builds an engine publishing to stdout, the report store and
// the audit trail, then runs fn. Batches publish in argument order.
func (a *app) runAnalysis(cmd *cobra.Command, f *analyzeFlags, fn func(*analytics.Engine, analytics.Request) error) error {
	req, err := f.request(cmd, a)
	if err != nil {
		return err
	}
	format, err := a.outputFormat()
	if err != nil {
		return err
	}
	rt, err := a.openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	// The store assigns report IDs, so it runs before the other sinks.
	var sinks report.MultiSink
	if a.cfg.Database.PersistReports {
		sinks = append(sinks, rt.store)
	}
	if rt.auditLogger != nil {
		sinks = append(sinks, audit.NewSink(rt.auditLogger))
	}
	sinks = append(sinks, report.NewWriterSink(cmd.OutOrStdout(), format))

	return fn(a.newEngine(rt, analytics.WithSink(sinks)), req)
}

func (a *app) runInconsistency(cmd *cobra.Command, f *analyzeFlags, subjectID string) error {
	req, err := f.request(cmd, a)
	if err != nil {
		return err
	}
	opts, err := f.inconsistency(a, req.Dimension)
	if err != nil {
		return err
	}
	format, err := a.outputFormat()
	if err != nil {
		return err
	}
	rt, err := a.openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	engine := a.newEngine(rt)
	finding, err := engine.AnalyzeInconsistency(cmd.Context(), subjectID, opts)
	if err != nil {
		return err
	}
	return report.Encode(cmd.OutOrStdout(), finding, format)
}

// newEngine builds an engine over the runtime store that traces, logs and
// audits failures like the server's.
func (a *app) newEngine(rt *runtime, opts ...analytics.Option) *analytics.Engine {
	base := []analytics.Option{
		analytics.WithLogger(rt.logger),
		analytics.WithTracer(tracing.Tracer()),
		analytics.WithConcurrency(a.cfg.Detection.Concurrency),
	}
	if rt.auditLogger != nil {
		base = append(base, analytics.WithFailureHook(func(ctx context.Context, t models.ScopeType, key string, err error) {
			_ = rt.auditLogger.LogAnalysisFailed(ctx, string(t), key, err)
		}))
	}
	return analytics.NewEngine(rt.store, append(base, opts...)...)
}

// request applies changed flags to the loaded config and converts it.
func (f *analyzeFlags) request(cmd *cobra.Command, a *app) (analytics.Request, error) {
	fl := cmd.Flags()
	d := &a.cfg.Detection
	if fl.Changed("method") {
		d.Method = f.method
	}
	if fl.Changed("dimension") {
		d.Dimension = f.dimension
	}
	if fl.Changed("selection") {
		d.GroupSelection = f.selection
	}
	if fl.Changed("methods") {
		d.Methods = f.methods
	}
	if fl.Changed("voting") {
		d.Voting = f.voting
		if f.voting != "at_least" {
			d.MinVotes = 0
		}
	}
	if fl.Changed("min-votes") {
		d.MinVotes = f.minVotes
	}
	if fl.Changed("zscore-threshold") {
		d.ZScoreThreshold = f.zscoreThreshold
	}
	if fl.Changed("modified-zscore-threshold") {
		d.ModifiedZScoreThreshold = f.modifiedZScoreThreshold
	}
	if fl.Changed("iqr-multiplier") {
		d.IQRMultiplier = f.iqrMultiplier
	}
	if fl.Changed("mad-multiplier") {
		d.MADMultiplier = f.madMultiplier
	}
	if fl.Changed("min-samples") {
		d.MinSamples = f.minSamples
	}
	if fl.Changed("include-inconsistency") {
		a.cfg.Inconsistency.IncludeInUserReports = f.includeInconsistency
	}
	f.applyInconsistency(cmd, a)

	req, err := a.cfg.AnalysisRequest()
	if err != nil {
		return analytics.Request{}, err
	}
	if req.IncludeInconsistency != nil && f.asOf != "" {
		asOf, err := parseAsOf(f.asOf)
		if err != nil {
			return analytics.Request{}, err
		}
		req.IncludeInconsistency.AsOf = asOf
	}
	return req, nil
}

func (f *analyzeFlags) applyInconsistency(cmd *cobra.Command, a *app) {
	fl := cmd.Flags()
	if fl.Changed("window-days") {
		a.cfg.Inconsistency.WindowDays = f.windowDays
	}
	if fl.Changed("cv-threshold") {
		a.cfg.Inconsistency.CVThreshold = f.cvThreshold
	}
}

func (f *analyzeFlags) inconsistency(a *app, d models.Dimension) (consistency.Options, error) {
	opts := a.cfg.InconsistencyOptions()
	opts.Dimension = d
	if f.asOf != "" {
		asOf, err := parseAsOf(f.asOf)
		if err != nil {
			return opts, err
		}
		opts.AsOf = asOf
	}
	return opts, nil
}

func parseAsOf(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &models.ConfigError{Field: "as_of", Message: fmt.Sprintf("invalid RFC 3339 time %q", v)}
	}
	return t, nil
}
