// Package record defines the per-day sitting data model: calendar day keys,
// sitting sessions, and the daily record that aggregates them.
//
// Everything here is pure data plus derived totals. Mutation and persistence
// policy live in the tracker and storage packages; a [DailyRecord] never
// writes itself anywhere. All duration arithmetic takes an explicit "now" so
// open sessions can be valued without reading the wall clock.
package record

import (
	"fmt"
	"time"
)

// CurrentVersion is the latest persisted daily-record schema version.
const CurrentVersion = 1

// ///////////////////////////////////////////////
// CalendarDay
// ///////////////////////////////////////////////

// CalendarDay is an opaque local-date key ("2006-01-02"). Two timestamps map
// to the same CalendarDay exactly when they fall on the same calendar date in
// the location used to derive them. It partitions daily records and is never
// used for duration arithmetic.
type CalendarDay string

// DayOf derives the CalendarDay for t in the given location.
// A nil location means time.Local.
func DayOf(t time.Time, loc *time.Location) CalendarDay {
	if loc == nil {
		loc = time.Local
	}
	return CalendarDay(t.In(loc).Format("2006-01-02"))
}

func (d CalendarDay) String() string { return string(d) }

// ///////////////////////////////////////////////
// Session
// ///////////////////////////////////////////////

// Session is one continuous stretch of sitting. EndedAt is nil while the
// session is open; at most one open session exists per record, owned by the
// tracker. Closed sessions are never mutated again.
type Session struct {
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Open reports whether the session has not yet ended.
func (s Session) Open() bool { return s.EndedAt == nil }

// Closed returns a copy of s stamped with the given end time.
func (s Session) Closed(endedAt time.Time) Session {
	s.EndedAt = &endedAt
	return s
}

// DurationSeconds is the wall-clock span of the session, valuing an open
// session against now. Never negative, even with inverted timestamps.
func (s Session) DurationSeconds(now time.Time) int {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	secs := int(end.Sub(s.StartedAt).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// ///////////////////////////////////////////////
// DailyRecord
// ///////////////////////////////////////////////

// DailyRecord aggregates all sitting sessions and the stretch count for one
// calendar day. Sessions are kept in insertion order, which is chronological.
// On day rollover the record is replaced with a fresh one, never merged.
type DailyRecord struct {
	// Version is the schema version, used for migration on decode.
	Version int `json:"$version"`
	// Day is the calendar day this record belongs to.
	Day CalendarDay `json:"day"`
	// StretchCount is how many stretches were completed this day.
	StretchCount int `json:"stretchCount"`
	// Sessions holds the day's sitting sessions, at most one of them open.
	Sessions []Session `json:"sessions"`
}

// New returns an empty record for the given day.
func New(day CalendarDay) *DailyRecord {
	return &DailyRecord{Version: CurrentVersion, Day: day}
}

// TotalSittingSeconds sums the duration of every session, including the open
// one valued against now.
func (r *DailyRecord) TotalSittingSeconds(now time.Time) int {
	total := 0
	for _, s := range r.Sessions {
		total += s.DurationSeconds(now)
	}
	return total
}

// OpenSession returns the open session, if any.
func (r *DailyRecord) OpenSession() (Session, bool) {
	for _, s := range r.Sessions {
		if s.Open() {
			return s, true
		}
	}
	return Session{}, false
}

// SetOpen rewrites the session list so that s is the sole open session:
// closed sessions are kept untouched and s is appended. The previously open
// entry (the prior snapshot of the same session) is dropped rather than
// duplicated.
func (r *DailyRecord) SetOpen(s Session) {
	kept := r.Sessions[:0]
	for _, existing := range r.Sessions {
		if !existing.Open() {
			kept = append(kept, existing)
		}
	}
	r.Sessions = append(kept, s)
}

// CloseOpen stamps any open session with endedAt, leaving closed sessions
// alone. Returns true if a session was closed.
func (r *DailyRecord) CloseOpen(endedAt time.Time) bool {
	for i, s := range r.Sessions {
		if s.Open() {
			r.Sessions[i] = s.Closed(endedAt)
			return true
		}
	}
	return false
}

// RemoveOpen drops any open session from the list, keeping closed sessions
// in order.
func (r *DailyRecord) RemoveOpen() {
	kept := r.Sessions[:0]
	for _, s := range r.Sessions {
		if !s.Open() {
			kept = append(kept, s)
		}
	}
	r.Sessions = kept
}

// ///////////////////////////////////////////////
// Formatting
// ///////////////////////////////////////////////

// FormatDuration renders a second count for display: "23m" under an hour,
// "1h23m" at or above, minutes zero-padded to two digits in the hour form.
func FormatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
