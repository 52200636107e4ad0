// Package storage persists tracker state: tracking settings, per-day sitting
// records, the stretch rotation cursor, the last-checked checkpoint, and the
// per-minute activity samples used by the motion sensor.
//
// Load paths never fail upward. An unreadable or corrupt value is replaced by
// a fresh default and logged, because tracking has to keep running against a
// broken store. Write failures are surfaced to the caller, which treats them
// as fire-and-forget: the next successful save repairs state.
package storage

import (
	"context"
	"time"

	"tools.zach/dev/standby/internal/config"
	"tools.zach/dev/standby/internal/record"
)

// Store is the persistence surface consumed by the tracker and the stretch
// notifier. One Store instance is shared by all collaborators; implementations
// must serialize the rotation cursor's read-modify-write.
type Store interface {
	// LoadSettings returns persisted tracking settings, or the configured
	// defaults when nothing usable is stored. The result is always clamped.
	LoadSettings() config.Settings
	// SaveSettings persists settings, clamped.
	SaveSettings(s config.Settings) error

	// LoadDailyRecord returns the record for day, or a fresh empty record
	// when none is stored or the stored document cannot be decoded.
	LoadDailyRecord(day record.CalendarDay) *record.DailyRecord
	// SaveDailyRecord persists r under its day key, replacing any previous
	// document for that day.
	SaveDailyRecord(r *record.DailyRecord) error

	// NextStretchIndex returns the rotation cursor.
	NextStretchIndex() (int, error)
	// AdvanceStretchIndex moves the cursor to (cursor+1) mod count.
	// A non-positive count is a no-op.
	AdvanceStretchIndex(count int) error

	// LoadLastCheckedAt returns the reconciliation checkpoint.
	// ok is false when no checkpoint has been stored yet.
	LoadLastCheckedAt() (t time.Time, ok bool)
	// SaveLastCheckedAt persists the reconciliation checkpoint.
	SaveLastCheckedAt(t time.Time) error

	Close() error
}

// SampleStore records and integrates per-minute stationary samples for the
// motion sensor variant.
type SampleStore interface {
	// RecordSample stores the stationary verdict for the minute containing t,
	// overwriting any previous sample for that minute.
	RecordSample(t time.Time, stationary bool) error
	// StationaryMinutes counts sampled stationary minutes in [from, to).
	StationaryMinutes(ctx context.Context, from, to time.Time) (int, error)
	// PruneSamplesBefore drops samples older than t.
	PruneSamplesBefore(t time.Time) error
}
