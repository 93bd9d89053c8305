package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// maxRecentOutliers caps the in-memory list of flagged points.
const maxRecentOutliers = 1000

// FlaggedPoint is one outlier found by a sweep.
type FlaggedPoint struct {
	ScopeType   models.ScopeType `json:"scope_type"`
	ScopeKey    string           `json:"scope_key"`
	Ref         stats.RecordRef  `json:"record_ref"`
	Value       float64          `json:"score_value"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// SweepResult describes one finished sweep.
type SweepResult struct {
	FinishedAt time.Time
	Duration   time.Duration
	Scopes     int
	Failed     int
	Outliers   int
}

// SweepOptions configures the periodic sweep.
type SweepOptions struct {
	Interval time.Duration
	Groups   []string
	Global   bool
	Request  Request

	// OnComplete, if set, is called after every sweep.
	OnComplete func(ctx context.Context, res SweepResult)
}

// Sweeper periodically re-analyzes a fixed set of cohorts (and optionally
// the whole population), publishing every report through the engine's sink
// and remembering recently flagged points.
type Sweeper struct {
	mu sync.RWMutex

	engine *Engine
	opts   SweepOptions
	logger *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	recent   []FlaggedPoint
	lastRun  time.Time
	lastErrs int
}

// NewSweeper creates a sweeper over engine.
func NewSweeper(engine *Engine, opts SweepOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Sweeper{
		engine: engine,
		opts:   opts,
		logger: engine.logger.Named("sweeper"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		recent: make([]FlaggedPoint, 0, maxRecentOutliers),
	}
}

// Start begins background sweeping.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		// Initial sweep
		s.Sweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Sweep runs one pass synchronously. Failures are logged and counted; one
// failing cohort does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	res := SweepResult{Scopes: len(s.opts.Groups)}
	for _, key := range s.opts.Groups {
		r, err := s.engine.AnalyzeGroup(ctx, key, s.opts.Request)
		if err != nil {
			res.Failed++
			s.logger.Warn("Group sweep failed", zap.String("group_key", key), zap.Error(err))
			continue
		}
		res.Outliers += s.record(r)
	}
	if s.opts.Global {
		res.Scopes++
		r, err := s.engine.AnalyzeGlobal(ctx, s.opts.Request)
		if err != nil {
			res.Failed++
			s.logger.Warn("Global sweep failed", zap.Error(err))
		} else {
			res.Outliers += s.record(r)
		}
	}
	res.FinishedAt = s.engine.now().UTC()
	res.Duration = time.Since(start)

	s.mu.Lock()
	s.lastRun = res.FinishedAt
	s.lastErrs = res.Failed
	s.mu.Unlock()

	s.logger.Debug("Sweep complete",
		zap.Int("scopes", res.Scopes),
		zap.Int("failed", res.Failed),
		zap.Int("outliers", res.Outliers),
		zap.Duration("duration", res.Duration),
	)
	if s.opts.OnComplete != nil {
		s.opts.OnComplete(ctx, res)
	}
	return res
}

// RecentOutliers returns recently flagged points, optionally filtered by
// scope key.
func (s *Sweeper) RecentOutliers(scopeKey string) []FlaggedPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FlaggedPoint, 0, len(s.recent))
	for _, p := range s.recent {
		if scopeKey == "" || p.ScopeKey == scopeKey {
			out = append(out, p)
		}
	}
	return out
}

// LastRun reports when the last sweep finished and how many scopes failed.
func (s *Sweeper) LastRun() (time.Time, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastErrs
}

// ─── Internal ─────────────────────────────────────────────────────────────────

// record remembers the flagged points of r and returns how many there were.
func (s *Sweeper) record(r *report.AnalysisReport) int {
	points := make([]FlaggedPoint, 0, r.OutlierCount)
	for _, c := range r.Consensus {
		if c.IsOutlier {
			points = append(points, s.point(r, c.Ref, c.Value))
		}
	}
	for _, v := range r.Verdicts {
		if v.IsOutlier {
			points = append(points, s.point(r, v.Ref, v.Value))
		}
	}
	if len(points) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, points...)
	if over := len(s.recent) - maxRecentOutliers; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
	return len(points)
}

func (s *Sweeper) point(r *report.AnalysisReport, ref stats.RecordRef, value float64) FlaggedPoint {
	return FlaggedPoint{
		ScopeType:   r.Scope.ScopeType,
		ScopeKey:    r.Scope.ScopeKey,
		Ref:         ref,
		Value:       value,
		GeneratedAt: r.Scope.GeneratedAt,
	}
}
