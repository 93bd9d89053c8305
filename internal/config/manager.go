package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (SOULSENSE_SERVER_PORT...).
const EnvPrefix = "SOULSENSE"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	// Initialize viper
	m.viper = viper.New()

	// Set config file path
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	m.setDefaults()

	// Try to read config file (optional)
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides for well-known variables
	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		// Combine all errors into a single error message
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	// Start watching config file
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		// Reload config
		if err := m.unmarshalConfig(); err != nil {
			// Keep the previous config
			return
		}
		m.applyEnvOverrides()
		// Send updated config to channel
		select {
		case m.watchChan <- *m.Get(ctx):
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	// Re-read config file
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides
	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.read_timeout_seconds", defaults.Server.ReadTimeoutSeconds)
	m.viper.SetDefault("server.write_timeout_seconds", defaults.Server.WriteTimeoutSeconds)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.rate_limit_per_second", defaults.Server.RateLimitPerSecond)
	m.viper.SetDefault("server.rate_limit_burst", defaults.Server.RateLimitBurst)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.postgres_url", defaults.Database.PostgresURL)
	m.viper.SetDefault("database.persist_reports", defaults.Database.PersistReports)

	// Cache defaults
	m.viper.SetDefault("cache.enable_caching", defaults.Cache.EnableCaching)
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	m.viper.SetDefault("cache.cleanup_seconds", defaults.Cache.CleanupSeconds)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)

	// Metrics defaults
	m.viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	m.viper.SetDefault("metrics.path", defaults.Metrics.Path)

	// Tracing defaults
	m.viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.protocol", defaults.Tracing.Protocol)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
	m.viper.SetDefault("tracing.insecure", defaults.Tracing.Insecure)

	// Detection defaults
	m.viper.SetDefault("detection.method", defaults.Detection.Method)
	m.viper.SetDefault("detection.dimension", defaults.Detection.Dimension)
	m.viper.SetDefault("detection.zscore_threshold", defaults.Detection.ZScoreThreshold)
	m.viper.SetDefault("detection.modified_zscore_threshold", defaults.Detection.ModifiedZScoreThreshold)
	m.viper.SetDefault("detection.iqr_multiplier", defaults.Detection.IQRMultiplier)
	m.viper.SetDefault("detection.mad_multiplier", defaults.Detection.MADMultiplier)
	m.viper.SetDefault("detection.min_samples", defaults.Detection.MinSamples)
	m.viper.SetDefault("detection.methods", defaults.Detection.Methods)
	m.viper.SetDefault("detection.voting", defaults.Detection.Voting)
	m.viper.SetDefault("detection.min_votes", defaults.Detection.MinVotes)
	m.viper.SetDefault("detection.group_selection", defaults.Detection.GroupSelection)
	m.viper.SetDefault("detection.concurrency", defaults.Detection.Concurrency)

	// Inconsistency defaults
	m.viper.SetDefault("inconsistency.window_days", defaults.Inconsistency.WindowDays)
	m.viper.SetDefault("inconsistency.cv_threshold", defaults.Inconsistency.CVThreshold)
	m.viper.SetDefault("inconsistency.min_samples", defaults.Inconsistency.MinSamples)
	m.viper.SetDefault("inconsistency.include_in_user_reports", defaults.Inconsistency.IncludeInUserReports)

	// Report defaults
	m.viper.SetDefault("report.format", defaults.Report.Format)

	// Sweep defaults
	m.viper.SetDefault("sweep.enabled", defaults.Sweep.Enabled)
	m.viper.SetDefault("sweep.interval_seconds", defaults.Sweep.IntervalSeconds)
	m.viper.SetDefault("sweep.groups", defaults.Sweep.Groups)
	m.viper.SetDefault("sweep.global", defaults.Sweep.Global)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.ReadTimeoutSeconds = m.viper.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = m.viper.GetInt("server.write_timeout_seconds")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.RateLimitPerSecond = m.viper.GetFloat64("server.rate_limit_per_second")
	cfg.Server.RateLimitBurst = m.viper.GetInt("server.rate_limit_burst")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = m.viper.GetString("database.postgres_url")
	cfg.Database.PersistReports = m.viper.GetBool("database.persist_reports")

	// Cache
	cfg.Cache.EnableCaching = m.viper.GetBool("cache.enable_caching")
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")
	cfg.Cache.CleanupSeconds = m.viper.GetInt("cache.cleanup_seconds")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")

	// Metrics
	cfg.Metrics.Enabled = m.viper.GetBool("metrics.enabled")
	cfg.Metrics.Path = m.viper.GetString("metrics.path")

	// Tracing
	cfg.Tracing.ServiceName = m.viper.GetString("tracing.service_name")
	cfg.Tracing.Endpoint = m.viper.GetString("tracing.endpoint")
	cfg.Tracing.Protocol = m.viper.GetString("tracing.protocol")
	cfg.Tracing.SamplingRate = m.viper.GetFloat64("tracing.sampling_rate")
	cfg.Tracing.Insecure = m.viper.GetBool("tracing.insecure")

	// Detection
	cfg.Detection.Method = m.viper.GetString("detection.method")
	cfg.Detection.Dimension = m.viper.GetString("detection.dimension")
	cfg.Detection.ZScoreThreshold = m.viper.GetFloat64("detection.zscore_threshold")
	cfg.Detection.ModifiedZScoreThreshold = m.viper.GetFloat64("detection.modified_zscore_threshold")
	cfg.Detection.IQRMultiplier = m.viper.GetFloat64("detection.iqr_multiplier")
	cfg.Detection.MADMultiplier = m.viper.GetFloat64("detection.mad_multiplier")
	cfg.Detection.MinSamples = m.viper.GetInt("detection.min_samples")
	cfg.Detection.Methods = m.viper.GetStringSlice("detection.methods")
	cfg.Detection.Voting = m.viper.GetString("detection.voting")
	cfg.Detection.MinVotes = m.viper.GetInt("detection.min_votes")
	cfg.Detection.GroupSelection = m.viper.GetString("detection.group_selection")
	cfg.Detection.Concurrency = m.viper.GetInt("detection.concurrency")

	// Inconsistency
	cfg.Inconsistency.WindowDays = m.viper.GetInt("inconsistency.window_days")
	cfg.Inconsistency.CVThreshold = m.viper.GetFloat64("inconsistency.cv_threshold")
	cfg.Inconsistency.MinSamples = m.viper.GetInt("inconsistency.min_samples")
	cfg.Inconsistency.IncludeInUserReports = m.viper.GetBool("inconsistency.include_in_user_reports")

	// Report
	cfg.Report.Format = m.viper.GetString("report.format")

	// Sweep
	cfg.Sweep.Enabled = m.viper.GetBool("sweep.enabled")
	cfg.Sweep.IntervalSeconds = m.viper.GetInt("sweep.interval_seconds")
	cfg.Sweep.Groups = m.viper.GetStringSlice("sweep.groups")
	cfg.Sweep.Global = m.viper.GetBool("sweep.global")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides applies conventional environment variables that do not
// follow the SOULSENSE_SECTION_KEY pattern.
func (m *viperConfigManager) applyEnvOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Database URL from environment (12-factor convention)
	if url := os.Getenv("DATABASE_URL"); url != "" && m.config.Database.PostgresURL == "" {
		m.config.Database.PostgresURL = url
		m.config.Database.Type = "postgres"
	}

	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv(EnvPrefix + "_PORT"); portEnv != "" {
		if port := m.viper.GetInt("port"); port > 0 {
			m.config.Server.Port = port
		}
	}

	// OTLP endpoint from the standard OpenTelemetry variable
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" && m.config.Tracing.Endpoint == "" {
		m.config.Tracing.Endpoint = endpoint
	}
}
