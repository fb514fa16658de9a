package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wipecore/internal/config"
	"wipecore/internal/drive"
	"wipecore/internal/pattern"
)

func plansForTest() ([]pattern.PassSpec, error) {
	return pattern.Plan(pattern.AlgorithmDoD)
}

func TestShouldSkipDevice_ExplicitExclusionWins(t *testing.T) {
	cfg := config.Default()
	cfg.Security.ExcludedDevices = []string{"/dev/sda"}
	cfg.Security.AllowSystemDisk = true

	d := &drive.Descriptor{Path: "/dev/sda", IsSystemDisk: false}
	assert.True(t, ShouldSkipDevice(cfg, d))
}

func TestShouldSkipDevice_SystemDiskSkippedByDefault(t *testing.T) {
	cfg := config.Default()
	d := &drive.Descriptor{Path: "/dev/sda", IsSystemDisk: true}
	assert.True(t, ShouldSkipDevice(cfg, d))
}

func TestShouldSkipDevice_SystemDiskAllowedWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Security.AllowSystemDisk = true
	d := &drive.Descriptor{Path: "/dev/sda", IsSystemDisk: true}
	assert.False(t, ShouldSkipDevice(cfg, d))
}

func TestShouldSkipDevice_OrdinaryDeviceNotSkipped(t *testing.T) {
	cfg := config.Default()
	d := &drive.Descriptor{Path: "/dev/sdb", IsSystemDisk: false}
	assert.False(t, ShouldSkipDevice(cfg, d))
}

func TestRequireConfirmation_FailsWithoutConfirmation(t *testing.T) {
	cfg := config.Default()
	cfg.Security.RequireConfirmation = true
	d := &drive.Descriptor{Path: "/dev/sda", Model: "TEST"}

	err := RequireConfirmation(cfg, d, false)
	assert.Error(t, err)
}

func TestRequireConfirmation_PassesWithConfirmation(t *testing.T) {
	cfg := config.Default()
	cfg.Security.RequireConfirmation = true
	d := &drive.Descriptor{Path: "/dev/sda", Model: "TEST"}

	assert.NoError(t, RequireConfirmation(cfg, d, true))
}

func TestRequireConfirmation_SkippedWhenNotRequired(t *testing.T) {
	cfg := config.Default()
	cfg.Security.RequireConfirmation = false
	d := &drive.Descriptor{Path: "/dev/sda", Model: "TEST"}

	assert.NoError(t, RequireConfirmation(cfg, d, false))
}

func TestPlanHash_StableForSamePlan(t *testing.T) {
	passes, err := plansForTest()
	assert.NoError(t, err)

	h1 := PlanHash("dod", passes)
	h2 := PlanHash("dod", passes)
	assert.Equal(t, h1, h2)
}

func TestPlanHash_DiffersAcrossAlgorithms(t *testing.T) {
	passes, err := plansForTest()
	assert.NoError(t, err)

	h1 := PlanHash("dod", passes)
	h2 := PlanHash("random", passes)
	assert.NotEqual(t, h1, h2)
}
