package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulsense/soulsense-outliers/internal/analytics/anomaly"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.False(t, cfg.Server.TLSEnabled)

	// Test database defaults
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.SQLitePath)
	assert.True(t, cfg.Database.PersistReports)

	// Test detection defaults
	assert.Equal(t, "ensemble", cfg.Detection.Method)
	assert.Equal(t, 3.0, cfg.Detection.ZScoreThreshold)
	assert.Equal(t, 3.5, cfg.Detection.ModifiedZScoreThreshold)
	assert.Equal(t, 1.5, cfg.Detection.IQRMultiplier)
	assert.Equal(t, 3.0, cfg.Detection.MADMultiplier)
	assert.Equal(t, 3, cfg.Detection.MinSamples)
	assert.Equal(t, "majority", cfg.Detection.Voting)

	// Test inconsistency defaults
	assert.Equal(t, 30, cfg.Inconsistency.WindowDays)
	assert.Equal(t, 0.3, cfg.Inconsistency.CVThreshold)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name:      "invalid port - too low",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "invalid port - too high",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "TLS enabled without cert",
			modifyFn: func(cfg *Config) {
				cfg.Server.TLSEnabled = true
			},
			wantError: true,
			errorMsg:  "tls_cert_path is required",
		},
		{
			name:      "invalid database type",
			modifyFn:  func(cfg *Config) { cfg.Database.Type = "mongodb" },
			wantError: true,
			errorMsg:  "invalid database type",
		},
		{
			name:      "postgres without url",
			modifyFn:  func(cfg *Config) { cfg.Database.Type = "postgres" },
			wantError: true,
			errorMsg:  "postgres_url is required",
		},
		{
			name:      "invalid log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "negative zscore threshold",
			modifyFn:  func(cfg *Config) { cfg.Detection.ZScoreThreshold = -1 },
			wantError: true,
			errorMsg:  "detection.zscore_threshold",
		},
		{
			name:      "unknown method",
			modifyFn:  func(cfg *Config) { cfg.Detection.Method = "lof" },
			wantError: true,
			errorMsg:  "unknown method",
		},
		{
			name:      "min votes above detector count",
			modifyFn:  func(cfg *Config) { cfg.Detection.MinVotes = 5 },
			wantError: true,
			errorMsg:  "min_votes",
		},
		{
			name:      "unknown voting rule",
			modifyFn:  func(cfg *Config) { cfg.Detection.Voting = "plurality" },
			wantError: true,
			errorMsg:  "unknown voting rule",
		},
		{
			name:      "zero window",
			modifyFn:  func(cfg *Config) { cfg.Inconsistency.WindowDays = 0 },
			wantError: true,
			errorMsg:  "window_days must be at least 1",
		},
		{
			name:      "bad report format",
			modifyFn:  func(cfg *Config) { cfg.Report.Format = "xml" },
			wantError: true,
			errorMsg:  "invalid report format",
		},
		{
			name: "sweep with nothing to sweep",
			modifyFn: func(cfg *Config) {
				cfg.Sweep.Enabled = true
				cfg.Sweep.Global = false
			},
			wantError: true,
			errorMsg:  "at least one group",
		},
		{
			name: "tracing bad protocol",
			modifyFn: func(cfg *Config) {
				cfg.Tracing.Endpoint = "collector:4317"
				cfg.Tracing.Protocol = "udp"
			},
			wantError: true,
			errorMsg:  "invalid protocol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if !tt.wantError {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
				return
			}
			require.NotEmpty(t, errs, "expected validation errors but got none")
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tt.errorMsg) {
					found = true
					break
				}
			}
			assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
		})
	}
}

func TestAnalysisRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.Methods = []string{"iqr", "modified_zscore"}
	cfg.Detection.Voting = "any"
	cfg.Detection.Dimension = "sub_score[2]"
	cfg.Detection.GroupSelection = "latest"
	cfg.Inconsistency.IncludeInUserReports = true

	req, err := cfg.AnalysisRequest()
	require.NoError(t, err)

	assert.Equal(t, anomaly.MethodEnsemble, req.Method)
	assert.Equal(t, []anomaly.Method{anomaly.MethodIQR, anomaly.MethodModifiedZScore}, req.Policy.Methods)
	assert.Equal(t, anomaly.VoteAny, req.Policy.Rule)
	assert.Equal(t, models.SubScore(2), req.Dimension)
	assert.Equal(t, models.SelectLatest, req.Selection)
	require.NotNil(t, req.IncludeInconsistency)
	assert.Equal(t, 30, req.IncludeInconsistency.WindowDays)
	assert.Equal(t, models.SubScore(2), req.IncludeInconsistency.Dimension)

	cfg.Detection.Dimension = "bogus"
	_, err = cfg.AnalysisRequest()
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestConfigManagerLoad(t *testing.T) {
	// Create temp directory for config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090

database:
  type: "sqlite"
  sqlite_path: "/tmp/outliers.db"

detection:
  method: "iqr"
  iqr_multiplier: 2.0
  methods: ["iqr", "mad"]

inconsistency:
  window_days: 14
  cv_threshold: 0.25

logging:
  level: "debug"
  format: "console"

sweep:
  groups: ["18-25", "26-35"]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/outliers.db", cfg.Database.SQLitePath)
	assert.Equal(t, "iqr", cfg.Detection.Method)
	assert.Equal(t, 2.0, cfg.Detection.IQRMultiplier)
	assert.Equal(t, 3.5, cfg.Detection.ModifiedZScoreThreshold, "unset keys keep defaults")
	assert.Equal(t, []string{"iqr", "mad"}, cfg.Detection.Methods)
	assert.Equal(t, 14, cfg.Inconsistency.WindowDays)
	assert.Equal(t, 0.25, cfg.Inconsistency.CVThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, []string{"18-25", "26-35"}, cfg.Sweep.Groups)

	assert.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("SOULSENSE_SERVER_PORT", "7070")
	t.Setenv("SOULSENSE_DETECTION_ZSCORE_THRESHOLD", "2.5")
	t.Setenv("DATABASE_URL", "postgres://outliers@db:5432/soulsense?sslmode=disable")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
server:
  port: 8090
detection:
  zscore_threshold: 3.0
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	cfg := mgr.Get(ctx)

	// Environment variables should override config file
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Detection.ZScoreThreshold)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Contains(t, cfg.Database.PostgresURL, "db:5432")
}

func TestConfigManagerMissingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nonexistent-config.yaml")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	// Should not error - should use defaults
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.NotNil(t, cfg)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, []string{"zscore", "modified_zscore", "iqr", "mad"}, cfg.Detection.Methods)
}

func TestConfigManagerValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 99999

database:
  type: "cassandra"

detection:
  voting: "plurality"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	// Validation should fail
	err = mgr.Validate(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestConfigManagerReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("detection:\n  iqr_multiplier: 2.0\n"), 0644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 2.0, mgr.Get(ctx).Detection.IQRMultiplier)

	require.NoError(t, os.WriteFile(configPath, []byte("detection:\n  iqr_multiplier: 3.0\n"), 0644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 3.0, mgr.Get(ctx).Detection.IQRMultiplier)
}
