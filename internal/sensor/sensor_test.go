// Tests for the activity sensors: idle verdict derivation from marker file
// mtimes, fail-open behavior, marker filtering, and the motion variant's
// snapshot plus sample recording. Exercises [IdleSensor] and [MotionSensor].
package sensor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// touchMarker creates a marker file with the given mtime.
func touchMarker(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// ///////////////////////////////////////////////
// Idle Sensor Tests
// ///////////////////////////////////////////////

func TestIdleSensorFailsOpen(t *testing.T) {
	s, err := NewIdleSensor(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	defer s.Close()

	// No marker ever observed: idle reads zero, user counts as sitting.
	v := s.Observe(time.Now(), 5*time.Minute)
	if !v.Sitting {
		t.Error("Sitting = false, want true with no markers")
	}
	if v.Idle != 0 {
		t.Errorf("Idle = %v, want 0", v.Idle)
	}
}

func TestIdleSensorSeedsFromExistingMarkers(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touchMarker(t, dir, "editor.touch", now.Add(-10*time.Minute))
	touchMarker(t, dir, "shell.touch", now.Add(-2*time.Minute))

	s, err := NewIdleSensor(dir, nil)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	defer s.Close()

	// Newest marker wins: idle is about two minutes.
	v := s.Observe(now, 5*time.Minute)
	if !v.Sitting {
		t.Error("Sitting = false, want true with recent marker")
	}
	if v.Idle < time.Minute || v.Idle > 3*time.Minute {
		t.Errorf("Idle = %v, want about 2m", v.Idle)
	}
}

func TestIdleSensorThreshold(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touchMarker(t, dir, "editor.touch", now.Add(-10*time.Minute))

	s, err := NewIdleSensor(dir, nil)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	defer s.Close()

	if v := s.Observe(now, 5*time.Minute); v.Sitting {
		t.Errorf("Sitting = true with idle %v over a 5m threshold", v.Idle)
	}
	if v := s.Observe(now, 15*time.Minute); !v.Sitting {
		t.Errorf("Sitting = false with idle %v under a 15m threshold", v.Idle)
	}
}

func TestIdleSensorIgnoresNonMatching(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touchMarker(t, dir, "recent.log", now.Add(-time.Minute))
	touchMarker(t, dir, "old.touch", now.Add(-30*time.Minute))

	match := func(name string) bool { return strings.HasSuffix(name, ".touch") }
	s, err := NewIdleSensor(dir, match)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	defer s.Close()

	// Only the .touch marker counts, so idle is about 30 minutes.
	v := s.Observe(now, 5*time.Minute)
	if v.Sitting {
		t.Errorf("Sitting = true, non-matching marker should not count (idle %v)", v.Idle)
	}
}

func TestIdleSensorFutureMarkerClampsToZero(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touchMarker(t, dir, "clock-skew.touch", now.Add(time.Hour))

	s, err := NewIdleSensor(dir, nil)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	defer s.Close()

	if v := s.Observe(now, 5*time.Minute); v.Idle != 0 {
		t.Errorf("Idle = %v, want 0 for a future mtime", v.Idle)
	}
}

func TestIdleSensorNoticesNewMarkers(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()
	touchMarker(t, dir, "stale.touch", start.Add(-time.Hour))

	s, err := NewIdleSensor(dir, nil)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	defer s.Close()

	if v := s.Observe(start, 5*time.Minute); v.Sitting {
		t.Fatal("precondition: should not be sitting before new activity")
	}

	touchMarker(t, dir, "fresh.touch", time.Now())

	// Watcher delivery is asynchronous; wait briefly for the event.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if v := s.Observe(time.Now(), 5*time.Minute); v.Sitting {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("sensor never noticed the new marker")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestIdleSensorStationaryMinutesAlwaysZero(t *testing.T) {
	s, err := NewIdleSensor(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	defer s.Close()

	got, err := s.StationaryMinutes(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("StationaryMinutes: %v", err)
	}
	if got != 0 {
		t.Errorf("StationaryMinutes = %d, want 0", got)
	}
}

func TestIdleSensorCloseIdempotent(t *testing.T) {
	s, err := NewIdleSensor(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewIdleSensor: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// ///////////////////////////////////////////////
// Motion Sensor Tests
// ///////////////////////////////////////////////

// fakeSamples is an in-memory SampleStore.
type fakeSamples struct {
	mu      sync.Mutex
	samples map[int64]bool
	queryN  int
	err     error
}

func newFakeSamples() *fakeSamples {
	return &fakeSamples{samples: make(map[int64]bool)}
}

func (f *fakeSamples) RecordSample(t time.Time, stationary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.samples[t.Unix()/60] = stationary
	return nil
}

func (f *fakeSamples) StationaryMinutes(_ context.Context, from, to time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryN++
	if f.err != nil {
		return 0, f.err
	}
	count := 0
	for minute, stationary := range f.samples {
		if stationary && minute >= from.Unix()/60 && minute < to.Unix()/60 {
			count++
		}
	}
	return count, nil
}

func (f *fakeSamples) PruneSamplesBefore(time.Time) error { return nil }

func TestMotionSensorDefaultsToNotSitting(t *testing.T) {
	s := NewMotionSensor(newFakeSamples())

	v := s.Observe(time.Now(), 5*time.Minute)
	if v.Sitting {
		t.Error("Sitting = true before any transition")
	}
	if v.Idle != 0 {
		t.Errorf("Idle = %v, want 0 for the motion variant", v.Idle)
	}
}

func TestMotionSensorFollowsTransitions(t *testing.T) {
	s := NewMotionSensor(newFakeSamples())

	s.SetStationary(true)
	if v := s.Observe(time.Now(), 0); !v.Sitting {
		t.Error("Sitting = false after stationary transition")
	}

	s.SetStationary(false)
	if v := s.Observe(time.Now(), 0); v.Sitting {
		t.Error("Sitting = true after not-stationary transition")
	}
}

func TestMotionSensorRecordsSamples(t *testing.T) {
	store := newFakeSamples()
	s := NewMotionSensor(store)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	s.SetStationary(true)
	s.Observe(base, 0)
	s.Observe(base.Add(time.Minute), 0)
	s.SetStationary(false)
	s.Observe(base.Add(2*time.Minute), 0)

	got, err := s.StationaryMinutes(context.Background(), base, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("StationaryMinutes: %v", err)
	}
	if got != 2 {
		t.Errorf("StationaryMinutes = %d, want 2", got)
	}
}

func TestMotionSensorStationaryMinutesPropagatesError(t *testing.T) {
	store := newFakeSamples()
	store.err = errors.New("db gone")
	s := NewMotionSensor(store)

	if _, err := s.StationaryMinutes(context.Background(), time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error from failing store")
	}
}
