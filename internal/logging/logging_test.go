package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulsense/soulsense-outliers/internal/config"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.FilePath = filepath.Join(t.TempDir(), "outliers.log")
	cfg.Logging.Level = "debug"

	logger, closer, err := New(cfg)
	require.NoError(t, err)

	logger.Debug("Analysis complete")
	_ = logger.Sync()
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.Logging.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Analysis complete"`)
	assert.Contains(t, string(data), `"level":"debug"`)
}

func TestNewRespectsLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.FilePath = filepath.Join(t.TempDir(), "outliers.log")
	cfg.Logging.Level = "warn"

	logger, closer, err := New(cfg)
	require.NoError(t, err)
	defer closer.Close()

	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(1))
}

func TestNewConsoleToStderr(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Format = "console"

	logger, closer, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}

func TestNewRejectsBadSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "verbose"
	_, _, err := New(cfg)
	assert.ErrorContains(t, err, "invalid log level")

	cfg = config.DefaultConfig()
	cfg.Logging.Format = "xml"
	_, _, err = New(cfg)
	assert.ErrorContains(t, err, "invalid log format")
}
