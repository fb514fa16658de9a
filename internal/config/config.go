// Package config loads and validates the wipe engine's configuration,
// following the teacher's Load/Default/Validate/Save shape but covering the
// knobs the wipe engine actually needs: thermal thresholds, entropy reseed
// budget, verification sample density, checkpoint location, and recovery
// tolerances.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root wipe engine configuration.
type Config struct {
	Security struct {
		RequireConfirmation bool     `yaml:"require_confirmation"`
		ExcludedDevices     []string `yaml:"excluded_devices"`
		AllowSystemDisk     bool     `yaml:"allow_system_disk"`
	} `yaml:"security"`

	Entropy struct {
		ReseedBudgetBytes int64 `yaml:"reseed_budget_bytes"`
		HealthWindow      int   `yaml:"health_window"`
	} `yaml:"entropy"`

	Wipe struct {
		DefaultAlgorithm   string  `yaml:"default_algorithm"` // zero|random|dod|gutmann|delegated
		MaxConcurrent      int     `yaml:"max_concurrent"`
		MaxSpeedMBps       float64 `yaml:"max_speed_mbps"`
		MaxDuration        string  `yaml:"max_duration"`
		BadSectorTolerance float64 `yaml:"bad_sector_tolerance"`
		HiddenAreaPolicy   string  `yaml:"hidden_area_policy"` // ignore|detect|remove_temp|remove_perm
	} `yaml:"wipe"`

	Thermal struct {
		SoftThresholdC     float64 `yaml:"soft_threshold_c"`
		HardThresholdC     float64 `yaml:"hard_threshold_c"`
		CriticalThresholdC float64 `yaml:"critical_threshold_c"`
		PollInterval       string  `yaml:"poll_interval"`
	} `yaml:"thermal"`

	Verification struct {
		DefaultLevel   int     `yaml:"default_level"` // 1-4
		SamplePercent  float64 `yaml:"sample_percent"`
		MinConfidence  float64 `yaml:"min_confidence"`
		RecoveryOracle string  `yaml:"recovery_oracle_path"` // external photorec/testdisk-style oracle
	} `yaml:"verification"`

	Checkpoint struct {
		DBPath         string `yaml:"db_path"`
		TimeIntervalS  int    `yaml:"time_interval_seconds"`
		BytesInterval  int64  `yaml:"bytes_interval"`
		StaleAfterDays int    `yaml:"stale_after_days"`
	} `yaml:"checkpoint"`

	Recovery struct {
		MaxRetries       int     `yaml:"max_retries"`
		BreakerThreshold float64 `yaml:"breaker_failure_ratio"`
		BreakerCooldownS int     `yaml:"breaker_cooldown_seconds"`
	} `yaml:"recovery"`

	Certificate struct {
		SigningKeyPath string   `yaml:"signing_key_path"`
		Operator       string   `yaml:"operator"`
		Organization   string   `yaml:"organization"`
		ComplianceTags []string `yaml:"compliance_tags"`
	} `yaml:"certificate"`

	Logging struct {
		Level       string `yaml:"level"`
		File        string `yaml:"file"`
		SIEMEnabled bool   `yaml:"siem_enabled"`
		SIEMServer  string `yaml:"siem_server"`
	} `yaml:"logging"`
}

// Default returns the conservative, out-of-the-box configuration.
func Default() *Config {
	cfg := &Config{}

	cfg.Security.RequireConfirmation = true
	cfg.Security.ExcludedDevices = nil
	cfg.Security.AllowSystemDisk = false

	cfg.Entropy.ReseedBudgetBytes = 1 << 30 // 1 GiB, spec §4.1 default
	cfg.Entropy.HealthWindow = 4096

	cfg.Wipe.DefaultAlgorithm = "dod"
	cfg.Wipe.MaxConcurrent = 2
	cfg.Wipe.MaxSpeedMBps = 0 // unlimited
	cfg.Wipe.MaxDuration = ""
	cfg.Wipe.BadSectorTolerance = 0.0001 // 0.01%, spec §9 open-question default
	cfg.Wipe.HiddenAreaPolicy = "detect"

	cfg.Thermal.SoftThresholdC = 65
	cfg.Thermal.HardThresholdC = 75
	cfg.Thermal.CriticalThresholdC = 85
	cfg.Thermal.PollInterval = "5s"

	cfg.Verification.DefaultLevel = 2
	cfg.Verification.SamplePercent = 1.0
	cfg.Verification.MinConfidence = 90
	cfg.Verification.RecoveryOracle = ""

	cfg.Checkpoint.DBPath = "/var/lib/wipecore/checkpoints"
	cfg.Checkpoint.TimeIntervalS = 60
	cfg.Checkpoint.BytesInterval = 1 << 30 // 1 GiB
	cfg.Checkpoint.StaleAfterDays = 30

	cfg.Recovery.MaxRetries = 5
	cfg.Recovery.BreakerThreshold = 0.5
	cfg.Recovery.BreakerCooldownS = 30

	cfg.Certificate.ComplianceTags = nil

	cfg.Logging.Level = "INFO"
	cfg.Logging.File = ""

	return cfg
}

// Load reads a YAML configuration file, falling back to Default when path
// is empty or the file does not exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants on the loaded configuration.
func Validate(cfg *Config) error {
	if cfg.Wipe.MaxConcurrent <= 0 || cfg.Wipe.MaxConcurrent > 64 {
		return fmt.Errorf("max_concurrent must be between 1 and 64, got %d", cfg.Wipe.MaxConcurrent)
	}
	if cfg.Wipe.BadSectorTolerance < 0 || cfg.Wipe.BadSectorTolerance > 1 {
		return fmt.Errorf("bad_sector_tolerance must be in [0,1], got %f", cfg.Wipe.BadSectorTolerance)
	}
	switch cfg.Wipe.HiddenAreaPolicy {
	case "ignore", "detect", "remove_temp", "remove_perm":
	default:
		return fmt.Errorf("invalid hidden_area_policy: %s", cfg.Wipe.HiddenAreaPolicy)
	}
	if cfg.Wipe.MaxDuration != "" {
		if _, err := time.ParseDuration(cfg.Wipe.MaxDuration); err != nil {
			return fmt.Errorf("invalid max_duration: %s", cfg.Wipe.MaxDuration)
		}
	}

	if cfg.Thermal.SoftThresholdC >= cfg.Thermal.HardThresholdC ||
		cfg.Thermal.HardThresholdC >= cfg.Thermal.CriticalThresholdC {
		return fmt.Errorf("thermal thresholds must satisfy soft < hard < critical")
	}
	if _, err := time.ParseDuration(cfg.Thermal.PollInterval); err != nil {
		return fmt.Errorf("invalid thermal.poll_interval: %s", cfg.Thermal.PollInterval)
	}

	if cfg.Verification.DefaultLevel < 1 || cfg.Verification.DefaultLevel > 4 {
		return fmt.Errorf("verification.default_level must be 1-4, got %d", cfg.Verification.DefaultLevel)
	}
	if cfg.Verification.SamplePercent <= 0 || cfg.Verification.SamplePercent > 100 {
		return fmt.Errorf("verification.sample_percent must be in (0,100], got %f", cfg.Verification.SamplePercent)
	}
	if cfg.Verification.MinConfidence < 0 || cfg.Verification.MinConfidence > 100 {
		return fmt.Errorf("verification.min_confidence must be in [0,100], got %f", cfg.Verification.MinConfidence)
	}

	if cfg.Checkpoint.DBPath == "" {
		return fmt.Errorf("checkpoint.db_path must not be empty")
	}
	if cfg.Checkpoint.TimeIntervalS <= 0 {
		return fmt.Errorf("checkpoint.time_interval_seconds must be positive")
	}
	if cfg.Checkpoint.BytesInterval <= 0 {
		return fmt.Errorf("checkpoint.bytes_interval must be positive")
	}

	validLevels := map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}

// Save writes cfg to path as YAML, validating first.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// GetMaxDuration returns the parsed max wipe duration, or 0 for unlimited.
func (cfg *Config) GetMaxDuration() time.Duration {
	if cfg.Wipe.MaxDuration == "" {
		return 0
	}
	d, err := time.ParseDuration(cfg.Wipe.MaxDuration)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// ThermalPollInterval returns the parsed thermal polling interval.
func (cfg *Config) ThermalPollInterval() time.Duration {
	d, err := time.ParseDuration(cfg.Thermal.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ApplyProfile overlays one of the named performance/risk profiles onto cfg,
// trading thermal headroom and speed limits against wall-clock time the way
// an operator would by hand. Applied after Load so an explicit config file
// still wins on fields the profile doesn't touch.
func ApplyProfile(cfg *Config, profile string) error {
	switch profile {
	case "safe":
		cfg.Wipe.MaxSpeedMBps = 50
		cfg.Thermal.SoftThresholdC = 55
		cfg.Thermal.HardThresholdC = 65
		cfg.Thermal.CriticalThresholdC = 75
		cfg.Verification.DefaultLevel = 3
	case "balanced":
		cfg.Wipe.MaxSpeedMBps = 0
		cfg.Thermal.SoftThresholdC = 65
		cfg.Thermal.HardThresholdC = 75
		cfg.Thermal.CriticalThresholdC = 85
		cfg.Verification.DefaultLevel = 2
	case "aggressive":
		cfg.Wipe.MaxSpeedMBps = 0
		cfg.Thermal.SoftThresholdC = 75
		cfg.Thermal.HardThresholdC = 85
		cfg.Thermal.CriticalThresholdC = 95
		cfg.Verification.DefaultLevel = 1
	case "delegated":
		cfg.Wipe.DefaultAlgorithm = "delegated"
		cfg.Verification.DefaultLevel = 2
	default:
		return fmt.Errorf("unknown profile %q", profile)
	}
	return Validate(cfg)
}
