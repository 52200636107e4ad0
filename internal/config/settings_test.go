// Tests for tracking settings clamping across every construction path:
// defaults, explicit construction, JSON decoding, and re-clamping.
package config

import (
	"encoding/json"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.StretchIntervalMinutes != 30 {
		t.Errorf("StretchIntervalMinutes = %d, want 30", s.StretchIntervalMinutes)
	}
	if s.IdleThresholdMinutes != 5 {
		t.Errorf("IdleThresholdMinutes = %d, want 5", s.IdleThresholdMinutes)
	}
	if s.LaunchAtLogin {
		t.Error("LaunchAtLogin = true, want false")
	}
}

func TestNewSettingsClamps(t *testing.T) {
	tests := []struct {
		name                   string
		interval, threshold    int
		wantInterval, wantThre int
	}{
		{"in range", 45, 10, 45, 10},
		{"below minimums", 0, 0, StretchIntervalMin, IdleThresholdMin},
		{"negative", -10, -3, StretchIntervalMin, IdleThresholdMin},
		{"above maximums", 500, 99, StretchIntervalMax, IdleThresholdMax},
		{"at bounds", StretchIntervalMin, IdleThresholdMax, StretchIntervalMin, IdleThresholdMax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSettings(tt.interval, tt.threshold, false)
			if s.StretchIntervalMinutes != tt.wantInterval {
				t.Errorf("StretchIntervalMinutes = %d, want %d", s.StretchIntervalMinutes, tt.wantInterval)
			}
			if s.IdleThresholdMinutes != tt.wantThre {
				t.Errorf("IdleThresholdMinutes = %d, want %d", s.IdleThresholdMinutes, tt.wantThre)
			}
		})
	}
}

func TestClampedIdempotent(t *testing.T) {
	s := NewSettings(999, -5, true)
	again := s.Clamped()
	if again != s {
		t.Errorf("Clamped not idempotent: %+v vs %+v", again, s)
	}
}

func TestSettingsUnmarshalJSONClamps(t *testing.T) {
	var s Settings
	data := []byte(`{"stretchIntervalMinutes": 300, "idleThresholdMinutes": 0, "launchAtLogin": true}`)
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.StretchIntervalMinutes != StretchIntervalMax {
		t.Errorf("StretchIntervalMinutes = %d, want %d", s.StretchIntervalMinutes, StretchIntervalMax)
	}
	if s.IdleThresholdMinutes != IdleThresholdMin {
		t.Errorf("IdleThresholdMinutes = %d, want %d", s.IdleThresholdMinutes, IdleThresholdMin)
	}
	if !s.LaunchAtLogin {
		t.Error("LaunchAtLogin = false, want true")
	}
}

func TestSettingsJSONRoundTrip(t *testing.T) {
	s := NewSettings(45, 10, true)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Settings
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != s {
		t.Errorf("round trip changed settings: %+v vs %+v", got, s)
	}
}
