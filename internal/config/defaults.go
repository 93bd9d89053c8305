package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = ""
	cfg.Server.Port = 8090
	cfg.Server.ReadTimeoutSeconds = 30
	cfg.Server.WriteTimeoutSeconds = 60
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.RateLimitPerSecond = 20
	cfg.Server.RateLimitBurst = 40

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/soulsense/outliers.db"
	cfg.Database.PostgresURL = ""
	cfg.Database.PersistReports = true

	// Cache defaults
	cfg.Cache.EnableCaching = true
	cfg.Cache.TTLSeconds = 60
	cfg.Cache.CleanupSeconds = 300

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.AuditLogPath = ""

	// Metrics defaults
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	// Tracing defaults (disabled until an endpoint is set)
	cfg.Tracing.ServiceName = "soulsense-outliers"
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.Protocol = "http"
	cfg.Tracing.SamplingRate = 1.0
	cfg.Tracing.Insecure = true

	// Detection defaults
	cfg.Detection.Method = "ensemble"
	cfg.Detection.Dimension = "total_score"
	cfg.Detection.ZScoreThreshold = 3.0
	cfg.Detection.ModifiedZScoreThreshold = 3.5
	cfg.Detection.IQRMultiplier = 1.5
	cfg.Detection.MADMultiplier = 3.0
	cfg.Detection.MinSamples = 3
	cfg.Detection.Methods = []string{"zscore", "modified_zscore", "iqr", "mad"}
	cfg.Detection.Voting = "majority"
	cfg.Detection.MinVotes = 0
	cfg.Detection.GroupSelection = "all"
	cfg.Detection.Concurrency = 8

	// Inconsistency defaults
	cfg.Inconsistency.WindowDays = 30
	cfg.Inconsistency.CVThreshold = 0.3
	cfg.Inconsistency.MinSamples = 3
	cfg.Inconsistency.IncludeInUserReports = false

	// Report defaults
	cfg.Report.Format = "json"

	// Sweep defaults
	cfg.Sweep.Enabled = false
	cfg.Sweep.IntervalSeconds = 3600
	cfg.Sweep.Groups = []string{}
	cfg.Sweep.Global = true

	return cfg
}
