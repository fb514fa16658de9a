package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidation(t *testing.T) {
	cfg := Default()
	assert.NoError(t, Validate(cfg))
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Wipe.DefaultAlgorithm, cfg.Wipe.DefaultAlgorithm)
}

func TestLoad_MissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Checkpoint.DBPath, cfg.Checkpoint.DBPath)
}

func TestSaveAndLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wipecore.yaml")
	cfg := Default()
	cfg.Wipe.DefaultAlgorithm = "gutmann"
	cfg.Security.ExcludedDevices = []string{"/dev/sda"}

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gutmann", loaded.Wipe.DefaultAlgorithm)
	assert.Equal(t, []string{"/dev/sda"}, loaded.Security.ExcludedDevices)
}

func TestValidate_RejectsInvertedThermalThresholds(t *testing.T) {
	cfg := Default()
	cfg.Thermal.SoftThresholdC = 90
	cfg.Thermal.HardThresholdC = 80
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsOutOfRangeBadSectorTolerance(t *testing.T) {
	cfg := Default()
	cfg.Wipe.BadSectorTolerance = 1.5
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsUnknownHiddenAreaPolicy(t *testing.T) {
	cfg := Default()
	cfg.Wipe.HiddenAreaPolicy = "nonsense"
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsOutOfRangeVerificationLevel(t *testing.T) {
	cfg := Default()
	cfg.Verification.DefaultLevel = 5
	assert.Error(t, Validate(cfg))
}

func TestGetMaxDuration_EmptyMeansUnlimited(t *testing.T) {
	cfg := Default()
	cfg.Wipe.MaxDuration = ""
	assert.Equal(t, 0, int(cfg.GetMaxDuration()))
}

func TestGetMaxDuration_ParsesConfiguredValue(t *testing.T) {
	cfg := Default()
	cfg.Wipe.MaxDuration = "90m"
	assert.Equal(t, "1h30m0s", cfg.GetMaxDuration().String())
}

func TestThermalPollInterval_ParsesConfiguredValue(t *testing.T) {
	cfg := Default()
	cfg.Thermal.PollInterval = "10s"
	assert.Equal(t, "10s", cfg.ThermalPollInterval().String())
}

func TestApplyProfile_SafeLowersThermalHeadroom(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyProfile(cfg, "safe"))
	assert.Less(t, cfg.Thermal.CriticalThresholdC, Default().Thermal.CriticalThresholdC)
}

func TestApplyProfile_DelegatedSwitchesAlgorithm(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyProfile(cfg, "delegated"))
	assert.Equal(t, "delegated", cfg.Wipe.DefaultAlgorithm)
}

func TestApplyProfile_UnknownProfileErrors(t *testing.T) {
	cfg := Default()
	assert.Error(t, ApplyProfile(cfg, "not-a-profile"))
}
