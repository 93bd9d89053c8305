package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// sqliteMigrations defines the tables for the SQLite store.
// Version is tracked in the schema_versions table.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS scores (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    subject_id  TEXT NOT NULL,
    group_key   TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL,
    total_score REAL NOT NULL,
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

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across queries
	// and serialises writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqlStore{db: db, migrations: sqliteMigrations}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}
