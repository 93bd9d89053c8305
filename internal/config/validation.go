package config

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Server.RateLimitPerSecond < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_second",
			Message: fmt.Sprintf("rate limit cannot be negative, got %v", c.Server.RateLimitPerSecond),
		})
	}
	if c.Server.RateLimitPerSecond > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_burst",
			Message: "burst must be at least 1 when rate limiting is enabled",
		})
	}

	// Validate database configuration
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.sqlite_path",
				Message: "sqlite_path is required when type is sqlite",
			})
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.postgres_url",
				Message: "postgres_url is required when type is postgres",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "database.type",
			Message: fmt.Sprintf("invalid database type '%s', must be one of: sqlite, postgres", c.Database.Type),
		})
	}

	// Validate cache configuration
	if c.Cache.EnableCaching && c.Cache.TTLSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: fmt.Sprintf("cache TTL must be at least 1 second, got %d", c.Cache.TTLSeconds),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	// Validate tracing configuration
	if c.Tracing.Endpoint != "" && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		errs = append(errs, &ValidationError{
			Field:   "tracing.protocol",
			Message: fmt.Sprintf("invalid protocol '%s', must be one of: grpc, http", c.Tracing.Protocol),
		})
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, &ValidationError{
			Field:   "tracing.sampling_rate",
			Message: fmt.Sprintf("sampling rate must be between 0 and 1, got %v", c.Tracing.SamplingRate),
		})
	}

	// Validate detection configuration
	positive := []struct {
		field string
		value float64
	}{
		{"detection.zscore_threshold", c.Detection.ZScoreThreshold},
		{"detection.modified_zscore_threshold", c.Detection.ModifiedZScoreThreshold},
		{"detection.iqr_multiplier", c.Detection.IQRMultiplier},
		{"detection.mad_multiplier", c.Detection.MADMultiplier},
		{"inconsistency.cv_threshold", c.Inconsistency.CVThreshold},
	}
	for _, p := range positive {
		if p.value <= 0 || math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			errs = append(errs, &ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must be a positive number, got %v", p.value),
			})
		}
	}
	if c.Detection.MinSamples < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detection.min_samples",
			Message: fmt.Sprintf("min_samples must be at least 1, got %d", c.Detection.MinSamples),
		})
	}
	if c.Detection.Concurrency < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detection.concurrency",
			Message: fmt.Sprintf("concurrency must be at least 1, got %d", c.Detection.Concurrency),
		})
	}

	// Cross-field detection checks (method names, voting rule, min_votes)
	if _, err := c.AnalysisRequest(); err != nil {
		errs = append(errs, &ValidationError{Field: "detection", Message: err.Error()})
	}

	// Validate inconsistency configuration
	if c.Inconsistency.WindowDays < 1 {
		errs = append(errs, &ValidationError{
			Field:   "inconsistency.window_days",
			Message: fmt.Sprintf("window_days must be at least 1, got %d", c.Inconsistency.WindowDays),
		})
	}
	if c.Inconsistency.MinSamples < 1 {
		errs = append(errs, &ValidationError{
			Field:   "inconsistency.min_samples",
			Message: fmt.Sprintf("min_samples must be at least 1, got %d", c.Inconsistency.MinSamples),
		})
	}

	// Validate report configuration
	if c.Report.Format != "json" && c.Report.Format != "yaml" {
		errs = append(errs, &ValidationError{
			Field:   "report.format",
			Message: fmt.Sprintf("invalid report format '%s', must be one of: json, yaml", c.Report.Format),
		})
	}

	// Validate sweep configuration
	if c.Sweep.Enabled {
		if c.Sweep.IntervalSeconds < 60 {
			errs = append(errs, &ValidationError{
				Field:   "sweep.interval_seconds",
				Message: fmt.Sprintf("sweep interval must be at least 60 seconds, got %d", c.Sweep.IntervalSeconds),
			})
		}
		if len(c.Sweep.Groups) == 0 && !c.Sweep.Global {
			errs = append(errs, &ValidationError{
				Field:   "sweep.groups",
				Message: "sweep needs at least one group or global enabled",
			})
		}
	}

	return errs
}
