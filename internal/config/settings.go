package config

import "encoding/json"

// ///////////////////////////////////////////////
// Tracking Settings
// ///////////////////////////////////////////////

// Clamp ranges for tracking settings. Values outside these ranges are
// silently corrected, never stored and never surfaced as errors.
const (
	StretchIntervalMin = 5
	StretchIntervalMax = 120
	IdleThresholdMin   = 1
	IdleThresholdMax   = 30
)

// Settings holds the user-tunable tracking parameters. Unlike the rest of
// [Config] these are mutable at runtime (the dashboard adjusts them) and are
// persisted through the store rather than the TOML file; the TOML [tracking]
// section only seeds them on first run.
//
// Every construction path clamps: [DefaultSettings], [NewSettings], JSON
// decoding, and the config load/save paths. Out-of-range values are
// therefore never observable.
type Settings struct {
	// StretchIntervalMinutes is how long a sitting session may run before a
	// stretch reminder fires. Clamped to [5,120].
	StretchIntervalMinutes int `json:"stretchIntervalMinutes" toml:"stretch_interval_minutes"`
	// IdleThresholdMinutes is how much input idle time ends a sitting
	// session. Clamped to [1,30].
	IdleThresholdMinutes int `json:"idleThresholdMinutes" toml:"idle_threshold_minutes"`
	// LaunchAtLogin requests registration with the OS login sequence.
	// Acted on by the installer, not the daemon; carried here so the
	// dashboard has one settings document to edit.
	LaunchAtLogin bool `json:"launchAtLogin" toml:"launch_at_login"`
}

// DefaultSettings returns the built-in tracking defaults.
func DefaultSettings() Settings {
	return NewSettings(30, 5, false)
}

// NewSettings builds a clamped Settings value.
func NewSettings(stretchIntervalMinutes, idleThresholdMinutes int, launchAtLogin bool) Settings {
	s := Settings{
		StretchIntervalMinutes: stretchIntervalMinutes,
		IdleThresholdMinutes:   idleThresholdMinutes,
		LaunchAtLogin:          launchAtLogin,
	}
	return s.Clamped()
}

// Clamped returns a copy of s with every field forced into range.
// Idempotent: clamping a clamped value is a no-op.
func (s Settings) Clamped() Settings {
	s.StretchIntervalMinutes = clampInt(s.StretchIntervalMinutes, StretchIntervalMin, StretchIntervalMax)
	s.IdleThresholdMinutes = clampInt(s.IdleThresholdMinutes, IdleThresholdMin, IdleThresholdMax)
	return s
}

// UnmarshalJSON decodes and clamps, so deserialized settings can never carry
// out-of-range values.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type raw Settings
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = Settings(r).Clamped()
	return nil
}

// clampInt forces v into [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
