// Package config provides configuration loading and defaults for the Standby
// daemon.
//
// Configuration is loaded from a TOML file in the user's data directory. The
// package covers sensor selection, notification delivery, daemon behavior,
// and logging, with sensible defaults. Tracking settings ([Settings]) carry a
// hard clamping contract: out-of-range values are corrected silently on every
// construction, decode, and mutation path.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/standby/internal/atomicfile"
	"tools.zach/dev/standby/internal/migrate"
	"tools.zach/dev/standby/internal/paths"
)

// CurrentVersion is the latest config file schema version.
const CurrentVersion = 1

// ConfigMigrations holds registered migrations for the config file.
// Tests can append to this slice to inject test migrations.
var ConfigMigrations []migrate.Migration

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Tracking seeds the user-tunable tracking settings on first run.
	Tracking Settings `toml:"tracking"`
	// Sensor selects and tunes the activity signal source.
	Sensor SensorConfig `toml:"sensor"`
	// Notify holds reminder delivery settings.
	Notify NotifyConfig `toml:"notify"`
	// Behavior holds daemon loop behavior settings.
	Behavior BehaviorConfig `toml:"behavior"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// SensorConfig holds activity-signal settings.
type SensorConfig struct {
	// Variant selects the activity signal: "idle" derives a sitting verdict
	// from input idle time, "motion" from externally fed stationary samples.
	Variant string `toml:"variant"`
	// MarkerPatterns are doublestar globs matched against file names in the
	// activity markers directory; only matching files count as input
	// activity for the idle variant.
	MarkerPatterns []string `toml:"marker_patterns"`
	// RecentWindowSeconds is the trailing window used to re-derive the
	// sitting verdict after reconciliation.
	RecentWindowSeconds int `toml:"recent_window_seconds"`
}

// NotifyConfig holds reminder delivery settings.
type NotifyConfig struct {
	// Channel selects delivery: "log", "webhook", or "sink".
	Channel string `toml:"channel"`
	// WebhookURL is the POST endpoint for the webhook channel.
	WebhookURL string `toml:"webhook_url,omitempty"`
	// Title is the reminder notification title.
	Title string `toml:"title"`
	// HapticEnabled asks the local sink to play a haptic alongside each
	// reminder. Ignored by channels without a haptic surface.
	HapticEnabled bool `toml:"haptic_enabled"`
}

// BehaviorConfig holds daemon loop behavior settings.
type BehaviorConfig struct {
	// TickIntervalSeconds is the tracker tick period.
	TickIntervalSeconds int `toml:"tick_interval_seconds"`
	// ReconcileBudgetSeconds bounds a reconciliation run; past it the run is
	// cancelled and the checkpoint is left uncommitted.
	ReconcileBudgetSeconds int `toml:"reconcile_budget_seconds"`
	// SuspendGapTicks is how many missed tick periods count as a suspension
	// worth reconciling rather than ticking through.
	SuspendGapTicks int `toml:"suspend_gap_ticks"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		Tracking: DefaultSettings(),
		Sensor: SensorConfig{
			Variant:             "idle",
			MarkerPatterns:      []string{"*"},
			RecentWindowSeconds: 60,
		},
		Notify: NotifyConfig{
			Channel:       "log",
			Title:         "Time to stretch!",
			HapticEnabled: false,
		},
		Behavior: BehaviorConfig{
			TickIntervalSeconds:    60,
			ReconcileBudgetSeconds: 25,
			SuspendGapTicks:        3,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)

	shouldMigrate := migrate.NeedsMigration(version, CurrentVersion, ConfigMigrations)
	if shouldMigrate {
		// Write backup before migration
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		var migrateErr error
		data, _, migrateErr = migrate.Run(data, version, ConfigMigrations)
		if migrateErr != nil {
			return nil, fmt.Errorf("migrate config: %w", migrateErr)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = CurrentVersion
	cfg.Tracking = cfg.Tracking.Clamped()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// Re-save after migration
	if shouldMigrate {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
// Tracking settings are clamped on the way out so an out-of-range value can
// never be persisted.
func (c *Config) Save(path string) error {
	c.Tracking = c.Tracking.Clamped()
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
// Tracking settings are not validated here: out-of-range tracking values are
// clamped, not rejected.
func (c *Config) Validate() error {
	switch c.Sensor.Variant {
	case "idle", "motion":
	default:
		return fmt.Errorf("invalid sensor.variant %q: must be idle or motion", c.Sensor.Variant)
	}

	switch c.Notify.Channel {
	case "log", "webhook", "sink":
	default:
		return fmt.Errorf("invalid notify.channel %q: must be log, webhook, or sink", c.Notify.Channel)
	}

	if c.Notify.Channel == "webhook" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notify.channel is webhook")
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	if c.Behavior.TickIntervalSeconds <= 0 {
		return fmt.Errorf("tick_interval_seconds must be > 0, got %d", c.Behavior.TickIntervalSeconds)
	}

	if c.Behavior.ReconcileBudgetSeconds <= 0 {
		return fmt.Errorf("reconcile_budget_seconds must be > 0, got %d", c.Behavior.ReconcileBudgetSeconds)
	}

	if c.Behavior.SuspendGapTicks < 2 {
		return fmt.Errorf("suspend_gap_ticks must be >= 2, got %d", c.Behavior.SuspendGapTicks)
	}

	if c.Sensor.RecentWindowSeconds <= 0 {
		return fmt.Errorf("recent_window_seconds must be > 0, got %d", c.Sensor.RecentWindowSeconds)
	}

	for _, pattern := range c.Sensor.MarkerPatterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid sensor.marker_patterns entry %q", pattern)
		}
	}

	return nil
}

// ///////////////////////////////////////////////
// Marker Matching
// ///////////////////////////////////////////////

// MatchesMarker reports whether a file name in the activity markers directory
// counts as input activity under the configured glob patterns.
func (c *Config) MatchesMarker(name string) bool {
	for _, pattern := range c.Sensor.MarkerPatterns {
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			slog.Warn("invalid marker pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
