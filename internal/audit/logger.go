package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/logging"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogAnalysisCompleted records a finished analysis report
	LogAnalysisCompleted(ctx context.Context, r *report.AnalysisReport) error

	// LogAnalysisFailed records an analysis that returned an error
	LogAnalysisFailed(ctx context.Context, scopeType, scopeKey string, err error) error

	// LogSweepCompleted records one finished background sweep
	LogSweepCompleted(ctx context.Context, scopes, failed, outliers int, duration time.Duration) error

	// LogConfigReload records a configuration reload
	LogConfigReload(ctx context.Context, path string, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// FlushInterval is how often buffered events are written
	FlushInterval time.Duration

	// BufferSize is the number of events that forces an immediate flush
	BufferSize int
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		FlushInterval: time.Second,
		BufferSize:    100,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. appLogger receives marshal failures;
// nil disables them.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit logs are always INFO level, append-only
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger.Named("audit"),
		auditLogger: zap.New(auditCore),
		rotator:     rotator,
		config:      config,
		buffer:      make([]*Event, 0, config.BufferSize),
		flushTicker: time.NewTicker(config.FlushInterval),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= l.config.BufferSize {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogAnalysisCompleted logs a finished analysis report
func (l *auditLogger) LogAnalysisCompleted(ctx context.Context, r *report.AnalysisReport) error {
	event := NewEvent(EventAnalysisCompleted).
		WithScope(string(r.Scope.ScopeType), r.Scope.ScopeKey).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("%s analysis of %s %q flagged %d of %d points",
			r.Scope.MethodUsed, r.Scope.ScopeType, r.Scope.ScopeKey, r.OutlierCount, r.Summary.Count))
	event.Method = string(r.Scope.MethodUsed)
	event.ReportID = r.ID
	event.Status = string(r.Status)
	event.OutlierCount = r.OutlierCount
	event.SampleSize = r.Summary.Count
	event.WithMetadata("dimension", r.Scope.Dimension.String())
	if r.Inconsistency != nil && r.Inconsistency.IsFlagged() {
		event.WithMetadata("inconsistent", true)
	}

	return l.Log(ctx, event)
}

// LogAnalysisFailed logs an analysis that returned an error
func (l *auditLogger) LogAnalysisFailed(ctx context.Context, scopeType, scopeKey string, err error) error {
	event := NewEvent(EventAnalysisFailed).
		WithScope(scopeType, scopeKey).
		WithError(err, "analysis_error").
		WithDescription(fmt.Sprintf("Analysis of %s %q failed", scopeType, scopeKey))

	return l.Log(ctx, event)
}

// LogSweepCompleted logs one finished background sweep. A sweep with any
// failed scope is recorded as a failure.
func (l *auditLogger) LogSweepCompleted(ctx context.Context, scopes, failed, outliers int, duration time.Duration) error {
	result := ResultSuccess
	if failed > 0 {
		result = ResultFailure
	}
	event := NewEvent(EventSweepCompleted).
		WithResult(result).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Sweep of %d scopes flagged %d points, %d failed", scopes, outliers, failed))
	event.OutlierCount = outliers
	event.WithMetadata("scopes", scopes).
		WithMetadata("failed", failed)

	return l.Log(ctx, event)
}

// LogConfigReload logs a configuration reload attempt
func (l *auditLogger) LogConfigReload(ctx context.Context, path string, err error) error {
	event := NewEvent(EventConfigReload).
		WithResult(ResultSuccess).
		WithMetadata("path", path).
		WithDescription(fmt.Sprintf("Configuration reloaded from %s", path))
	if err != nil {
		event.WithError(err, "config_error").
			WithDescription(fmt.Sprintf("Configuration reload from %s rejected", path))
	}

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	return l.auditLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		if err = l.Sync(); err != nil {
			return
		}
		err = l.rotator.Close()
	})
	return err
}

// ─── Report sink ─────────────────────────────────────────────────────────────

// Sink records every published report in the audit trail.
type Sink struct {
	Logger Logger
}

// NewSink wraps an audit logger as a report sink.
func NewSink(l Logger) *Sink {
	return &Sink{Logger: l}
}

func (s *Sink) Publish(ctx context.Context, r *report.AnalysisReport) error {
	return s.Logger.LogAnalysisCompleted(ctx, r)
}

// ─── Correlation IDs ─────────────────────────────────────────────────────────

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}
