package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// timeLayout is fixed-width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type migration struct {
	version int
	sql     string
}

// sqlStore implements Store over any sqlx driver. Queries are written with
// '?' placeholders and rebound for the driver.
type sqlStore struct {
	db         *sqlx.DB
	migrations []migration
}

// migrate applies any unapplied migrations in order.
func (s *sqlStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range s.migrations {
		var count int
		if err := s.db.Get(&count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(s.db.Rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`),
			m.version, formatTime(time.Now())); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Scores ──────────────────────────────────────────────────────────────────

type scoreRow struct {
	ID         int64   `db:"id"`
	SubjectID  string  `db:"subject_id"`
	GroupKey   string  `db:"group_key"`
	RecordedAt string  `db:"recorded_at"`
	TotalScore float64 `db:"total_score"`
	SubScores  string  `db:"sub_scores"`
}

const scoreColumns = `id, subject_id, group_key, recorded_at, total_score, sub_scores`

func (s *sqlStore) SaveScores(ctx context.Context, records []models.ScoreRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := tx.Rebind(`
        INSERT INTO scores(subject_id, group_key, recorded_at, total_score, sub_scores)
        VALUES(?,?,?,?,?)
        RETURNING id`)
	for i := range records {
		rec := &records[i]
		subs, err := json.Marshal(nonNil(rec.SubScores))
		if err != nil {
			return fmt.Errorf("encode sub scores: %w", err)
		}
		if err := tx.QueryRowxContext(ctx, query,
			rec.SubjectID, rec.GroupKey, formatTime(rec.Timestamp), rec.Total, string(subs),
		).Scan(&rec.ID); err != nil {
			return fmt.Errorf("insert score for %q: %w", rec.SubjectID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ScoresForSubject(ctx context.Context, subjectID string) ([]models.ScoreRecord, error) {
	return s.selectScores(ctx, `SELECT `+scoreColumns+` FROM scores WHERE subject_id = ? ORDER BY id`, subjectID)
}

func (s *sqlStore) ScoresForGroup(ctx context.Context, groupKey string) ([]models.ScoreRecord, error) {
	return s.selectScores(ctx, `SELECT `+scoreColumns+` FROM scores WHERE group_key = ? ORDER BY id`, groupKey)
}

func (s *sqlStore) AllScores(ctx context.Context) ([]models.ScoreRecord, error) {
	return s.selectScores(ctx, `SELECT `+scoreColumns+` FROM scores ORDER BY id`)
}

func (s *sqlStore) selectScores(ctx context.Context, query string, args ...any) ([]models.ScoreRecord, error) {
	var rows []scoreRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]models.ScoreRecord, 0, len(rows))
	for _, row := range rows {
		rec := models.ScoreRecord{
			ID:        row.ID,
			SubjectID: row.SubjectID,
			GroupKey:  row.GroupKey,
			Total:     row.TotalScore,
		}
		rec.Timestamp, _ = parseTime(row.RecordedAt)
		if row.SubScores != "" {
			if err := json.Unmarshal([]byte(row.SubScores), &rec.SubScores); err != nil {
				return nil, fmt.Errorf("decode sub scores of score %d: %w", row.ID, err)
			}
			if len(rec.SubScores) == 0 {
				rec.SubScores = nil
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// ─── Reports ─────────────────────────────────────────────────────────────────

type reportRow struct {
	ID           string `db:"id"`
	ScopeType    string `db:"scope_type"`
	ScopeKey     string `db:"scope_key"`
	Method       string `db:"method"`
	Status       string `db:"status"`
	OutlierCount int    `db:"outlier_count"`
	SampleSize   int    `db:"sample_size"`
	GeneratedAt  string `db:"generated_at"`
}

// Publish persists the report, assigning an ID when it has none.
func (s *sqlStore) Publish(ctx context.Context, r *report.AnalysisReport) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO analysis_reports(id, scope_type, scope_key, method, status, outlier_count, sample_size, generated_at, body)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            status        = excluded.status,
            outlier_count = excluded.outlier_count,
            sample_size   = excluded.sample_size,
            generated_at  = excluded.generated_at,
            body          = excluded.body`),
		r.ID, string(r.Scope.ScopeType), r.Scope.ScopeKey, string(r.Scope.MethodUsed),
		string(r.Status), r.OutlierCount, r.Summary.Count, formatTime(r.Scope.GeneratedAt), string(body),
	)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}

func (s *sqlStore) GetReport(ctx context.Context, id string) (*report.AnalysisReport, error) {
	var body string
	err := s.db.GetContext(ctx, &body, s.db.Rebind(`SELECT body FROM analysis_reports WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var r report.AnalysisReport
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &r, nil
}

func (s *sqlStore) ListReports(ctx context.Context, q ReportQuery) ([]*ReportRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT id, scope_type, scope_key, method, status, outlier_count, sample_size, generated_at FROM analysis_reports WHERE 1=1`
	args := []any{}

	if q.ScopeType != "" {
		query += ` AND scope_type = ?`
		args = append(args, q.ScopeType)
	}
	if q.ScopeKey != "" {
		query += ` AND scope_key = ?`
		args = append(args, q.ScopeKey)
	}
	query += ` ORDER BY generated_at DESC, id`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	result := make([]*ReportRecord, 0, len(rows))
	for _, row := range rows {
		rec := &ReportRecord{
			ID:           row.ID,
			ScopeType:    row.ScopeType,
			ScopeKey:     row.ScopeKey,
			Method:       row.Method,
			Status:       row.Status,
			OutlierCount: row.OutlierCount,
			SampleSize:   row.SampleSize,
		}
		rec.GeneratedAt, _ = parseTime(row.GeneratedAt)
		result = append(result, rec)
	}
	return result, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime handles the stored layout plus common SQL datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
