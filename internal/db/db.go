package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/analytics/scope"
	"github.com/soulsense/soulsense-outliers/internal/config"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for score history and analysis reports.
type Store interface {
	scope.ScoreStore
	ReportStore

	// SaveScores inserts records and assigns their IDs.
	SaveScores(ctx context.Context, records []models.ScoreRecord) error

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Report store ────────────────────────────────────────────────────────────

// ReportRecord is the index row of a persisted report, without its body.
type ReportRecord struct {
	ID           string    `json:"id" yaml:"id"`
	ScopeType    string    `json:"scope_type" yaml:"scope_type"`
	ScopeKey     string    `json:"scope_key" yaml:"scope_key"`
	Method       string    `json:"method" yaml:"method"`
	Status       string    `json:"status" yaml:"status"`
	OutlierCount int       `json:"outlier_count" yaml:"outlier_count"`
	SampleSize   int       `json:"sample_size" yaml:"sample_size"`
	GeneratedAt  time.Time `json:"generated_at" yaml:"generated_at"`
}

// ReportQuery filters ListReports. Zero fields match everything.
type ReportQuery struct {
	ScopeType string
	ScopeKey  string
	Limit     int
	Offset    int
}

// Validate rejects unknown scope types.
func (q ReportQuery) Validate() error {
	if q.ScopeType != "" && !models.ScopeType(q.ScopeType).Valid() {
		return &models.ConfigError{Field: "scope_type", Message: fmt.Sprintf("unknown scope type %q", q.ScopeType)}
	}
	return nil
}

// ReportStore persists analysis reports. Publish makes every store a
// report.Sink; reports without an ID get a fresh UUID.
type ReportStore interface {
	report.Sink

	// GetReport returns the full report, or ErrNotFound.
	GetReport(ctx context.Context, id string) (*report.AnalysisReport, error)

	// ListReports returns index rows, newest first.
	ListReports(ctx context.Context, q ReportQuery) ([]*ReportRecord, error)
}

// Open returns the store selected by the database section.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Database.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.Database.SQLitePath)
	case "postgres":
		return NewPostgresStore(cfg.Database.PostgresURL)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
}
