package config

import "context"

// Package config provides configuration management for the outlier service.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables, and CLI flags
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading (detection defaults, sweep groups)
//   - Convert detection settings into explicit per-call analysis requests
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (SOULSENSE_* prefix)
//   3. YAML config files (default: /etc/soulsense/outliers.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: Listen port (default 8090)
//      - tls_enabled, tls_cert_path, tls_key_path
//      - rate_limit_per_second, rate_limit_burst: per-client limits
//
//   2. Database
//      - type: "sqlite" | "postgres"
//      - sqlite_path: Path to SQLite file
//      - postgres_url: PostgreSQL connection string
//      - persist_reports: Store every report as it is produced
//
//   3. Cache
//      - enable_caching: Cache score fetches
//      - ttl_seconds: Entry lifetime
//      - cleanup_seconds: Expired entry sweep interval
//
//   4. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "console"
//      - file_path: Optional rotated log file
//
//   5. Metrics / Tracing
//      - metrics.enabled, metrics.path
//      - tracing.endpoint, tracing.protocol, tracing.sampling_rate
//
//   6. Detection (defaults for every analysis request)
//      - method: "ensemble" | "zscore" | "modified_zscore" | "iqr" | "mad"
//      - zscore_threshold (3.0), modified_zscore_threshold (3.5)
//      - iqr_multiplier (1.5), mad_multiplier (3.0), min_samples (3)
//      - methods, voting ("majority" | "any" | "all" | "at_least"), min_votes
//      - group_selection ("all" | "latest"), dimension, concurrency
//
//   7. Inconsistency
//      - window_days (30), cv_threshold (0.3), min_samples (3)
//      - include_in_user_reports
//
//   8. Report
//      - format: "json" | "yaml" (CLI output)
//
//   9. Sweep
//      - enabled, interval_seconds, groups, global
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host                string
		Port                int
		ReadTimeoutSeconds  int
		WriteTimeoutSeconds int
		TLSEnabled          bool
		TLSCertPath         string
		TLSKeyPath          string
		RateLimitPerSecond  float64
		RateLimitBurst      int
	}

	// Database configuration
	Database struct {
		Type           string
		SQLitePath     string
		PostgresURL    string
		PersistReports bool
	}

	// Cache configuration
	Cache struct {
		EnableCaching  bool
		TTLSeconds     int
		CleanupSeconds int
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int

		// AuditLogPath enables the append-only analysis audit trail when set.
		AuditLogPath string
	}

	// Metrics configuration
	Metrics struct {
		Enabled bool
		Path    string
	}

	// Tracing configuration
	Tracing struct {
		ServiceName  string
		Endpoint     string
		Protocol     string
		SamplingRate float64
		Insecure     bool
	}

	// Detection configuration
	Detection struct {
		Method                  string
		Dimension               string
		ZScoreThreshold         float64
		ModifiedZScoreThreshold float64
		IQRMultiplier           float64
		MADMultiplier           float64
		MinSamples              int
		Methods                 []string
		Voting                  string
		MinVotes                int
		GroupSelection          string
		Concurrency             int
	}

	// Inconsistency configuration
	Inconsistency struct {
		WindowDays           int
		CVThreshold          float64
		MinSamples           int
		IncludeInUserReports bool
	}

	// Report configuration
	Report struct {
		Format string
	}

	// Sweep configuration
	Sweep struct {
		Enabled         bool
		IntervalSeconds int
		Groups          []string
		Global          bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}

// DefaultConfigPath is read when no --config flag is given.
const DefaultConfigPath = "/etc/soulsense/outliers.yaml"
