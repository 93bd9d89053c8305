package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var postgresMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS scores (
    id          BIGSERIAL PRIMARY KEY,
    subject_id  TEXT NOT NULL,
    group_key   TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL,
    total_score DOUBLE PRECISION NOT NULL,
    sub_scores  TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_scores_subject ON scores(subject_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_scores_group   ON scores(group_key);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS analysis_reports (
    id            TEXT PRIMARY KEY,
    scope_type    TEXT NOT NULL,
    scope_key     TEXT NOT NULL DEFAULT '',
    method        TEXT NOT NULL,
    status        TEXT NOT NULL,
    outlier_count INTEGER NOT NULL DEFAULT 0,
    sample_size   INTEGER NOT NULL DEFAULT 0,
    generated_at  TEXT NOT NULL,
    body          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_scope        ON analysis_reports(scope_type, scope_key);
CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON analysis_reports(generated_at DESC);
`,
	},
}

// NewPostgresStore connects to PostgreSQL and runs pending migrations.
func NewPostgresStore(connectionString string) (Store, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &sqlStore{db: db, migrations: postgresMigrations}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}
