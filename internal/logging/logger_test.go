package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"wipecore/internal/config"
)

func TestNew_DefaultConfigBuildsUsableLogger(t *testing.T) {
	cfg := config.Default()
	logger, err := New(cfg, false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("smoke test")
}

func TestNew_VerboseForcesDebugRegardlessOfConfiguredLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "ERROR"
	logger, err := New(cfg, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_WritesToConfiguredFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.File = filepath.Join(t.TempDir(), "nested", "wipecore.log")

	logger, err := New(cfg, false)
	require.NoError(t, err)
	logger.Info("file-backed entry")
}

func TestParseLevel_MapsKnownNames(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
	assert.Equal(t, "warn", parseLevel("WARN").String())
	assert.Equal(t, "error", parseLevel("ERROR").String())
	assert.Equal(t, "fatal", parseLevel("FATAL").String())
	assert.Equal(t, "info", parseLevel("").String())
}
