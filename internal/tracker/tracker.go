// Package tracker implements the sitting session state machine: it consumes
// one activity observation per tick and turns the sequence into session
// boundaries, daily totals, and stretch reminder dispatches.
//
// A Tracker is single-owner state. The driving clock calls [Tracker.Tick]
// from one goroutine and each tick runs to completion, persistence included,
// before the next fires; nothing here is reentrant. The activity source may
// be fed from other goroutines but only its latest atomic snapshot is read
// per tick. [Tracker.Reconcile] runs between suspension and the resumption
// of regular ticking, is cancellable, and commits its checkpoint only after
// the whole gap has been applied so a retried run never double-counts.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tools.zach/dev/standby/internal/config"
	"tools.zach/dev/standby/internal/record"
	"tools.zach/dev/standby/internal/sensor"
	"tools.zach/dev/standby/internal/storage"
	"tools.zach/dev/standby/internal/stretch"
)

// ///////////////////////////////////////////////
// Construction
// ///////////////////////////////////////////////

// Options wires a Tracker's collaborators. Source, Store, and Notifier are
// required; zero values for the rest pick the canonical defaults.
type Options struct {
	// Source produces the per-tick sitting verdict and the historical
	// stationary-minutes query.
	Source sensor.Source
	// Store persists settings, daily records, and the checkpoint.
	Store storage.Store
	// Notifier dispatches stretch reminders.
	Notifier *stretch.Notifier
	// Catalog is the stretch catalog handed to the notifier. May be empty.
	Catalog []stretch.Stretch
	// Location resolves calendar days. Defaults to time.Local.
	Location *time.Location
	// TickPeriod is the logical tick length. Defaults to one minute.
	TickPeriod time.Duration
	// RecentWindow is the trailing span used to re-derive the sitting
	// verdict after reconciliation. Defaults to one minute.
	RecentWindow time.Duration
}

// Tracker owns one day's record and at most one open sitting session.
type Tracker struct {
	source   sensor.Source
	store    storage.Store
	notifier *stretch.Notifier
	catalog  []stretch.Stretch
	loc      *time.Location

	tickPeriod   time.Duration
	recentWindow time.Duration

	settings config.Settings
	rec      *record.DailyRecord
	// current is the open session, nil while not sitting. Its list entry in
	// rec is a snapshot, rewritten every sitting tick.
	current *record.Session
	// sessionSeconds is logical sitting time this session: it advances one
	// tick period per sitting tick (or by reconciled stationary minutes),
	// not by wall clock.
	sessionSeconds int
	// remindersSent counts interval boundaries already announced for the
	// open session.
	remindersSent int
	// lastCheckedAt is the persisted mark of the last tick or completed
	// reconciliation, used to size the next reconciliation gap.
	lastCheckedAt time.Time
}

// New builds a Tracker, loading settings, today's record, and the
// reconciliation checkpoint from the store.
func New(now time.Time, opts Options) *Tracker {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = time.Minute
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = time.Minute
	}

	t := &Tracker{
		source:       opts.Source,
		store:        opts.Store,
		notifier:     opts.Notifier,
		catalog:      opts.Catalog,
		loc:          opts.Location,
		tickPeriod:   opts.TickPeriod,
		recentWindow: opts.RecentWindow,
		settings:     opts.Store.LoadSettings(),
	}
	t.rec = opts.Store.LoadDailyRecord(record.DayOf(now, t.loc))
	if at, ok := opts.Store.LoadLastCheckedAt(); ok {
		t.lastCheckedAt = at
	}
	return t
}

// ///////////////////////////////////////////////
// Tick
// ///////////////////////////////////////////////

// Tick advances the state machine by one observation. Called once per tick
// period by the driving clock.
func (t *Tracker) Tick(now time.Time) {
	t.rolloverIfNeeded(now)

	v := t.source.Observe(now, time.Duration(t.settings.IdleThresholdMinutes)*time.Minute)
	if v.Sitting {
		t.handleSitting(now)
	} else {
		t.handleNotSitting(now, v.Idle)
	}

	t.checkpoint(now)
	t.persistRecord()
}

// handleSitting opens a session if needed, accrues one tick period, rewrites
// the record's open entry, and fires a reminder when an interval boundary was
// crossed.
func (t *Tracker) handleSitting(now time.Time) {
	if t.current == nil {
		s := record.Session{StartedAt: now}
		t.current = &s
	}
	t.sessionSeconds += int(t.tickPeriod.Seconds())
	t.rec.SetOpen(*t.current)
	t.checkReminder()
}

// checkReminder fires a dispatch when accrued session time has crossed more
// interval boundaries than have been announced. At most one dispatch per
// call: remindersSent jumps straight to the latest boundary, so a reconciled
// gap that crossed several boundaries still announces only once.
func (t *Tracker) checkReminder() {
	interval := t.settings.StretchIntervalMinutes * 60
	if interval <= 0 {
		return
	}
	expected := t.sessionSeconds / interval
	if expected <= t.remindersSent {
		return
	}
	t.remindersSent = expected
	if t.notifier != nil {
		t.notifier.SendReminder(t.catalog)
	}
}

// handleNotSitting closes the open session. When the idle duration is
// precisely known the end is back-dated by it so the closed span covers only
// the time actually spent sitting.
func (t *Tracker) handleNotSitting(now time.Time, idle time.Duration) {
	end := now.Add(-idle)
	t.rec.RemoveOpen()
	if t.current != nil {
		t.rec.Sessions = append(t.rec.Sessions, t.current.Closed(end))
	}
	t.current = nil
	t.sessionSeconds = 0
	t.remindersSent = 0
}

// rolloverIfNeeded replaces the record when the calendar day has changed:
// the old day's open session is closed and persisted under the old key, and
// a fresh record plus a brand-new open session start the new day.
func (t *Tracker) rolloverIfNeeded(now time.Time) {
	today := record.DayOf(now, t.loc)
	if t.rec.Day == today {
		return
	}

	if t.current != nil {
		t.rec.RemoveOpen()
		t.rec.Sessions = append(t.rec.Sessions, t.current.Closed(now))
	} else {
		t.rec.CloseOpen(now)
	}
	t.persistRecord()

	t.rec = record.New(today)
	s := record.Session{StartedAt: now}
	t.current = &s
	t.sessionSeconds = 0
	t.remindersSent = 0
}

// ///////////////////////////////////////////////
// Actions
// ///////////////////////////////////////////////

// MarkStretchDone records a completed stretch: the stretch count goes up by
// one, the open session closes at now, and a fresh measurement window opens
// immediately. Two calls in a row record two stretches and two session
// boundaries.
func (t *Tracker) MarkStretchDone(now time.Time) {
	t.rec.StretchCount++

	t.rec.RemoveOpen()
	if t.current != nil {
		t.rec.Sessions = append(t.rec.Sessions, t.current.Closed(now))
	}
	s := record.Session{StartedAt: now}
	t.current = &s
	t.rec.SetOpen(s)
	t.sessionSeconds = 0
	t.remindersSent = 0

	t.persistRecord()
}

// Settings returns the current tracking settings.
func (t *Tracker) Settings() config.Settings { return t.settings }

// SetSettings replaces the tracking settings, clamped, and persists them.
func (t *Tracker) SetSettings(s config.Settings) {
	t.settings = s.Clamped()
	if err := t.store.SaveSettings(t.settings); err != nil {
		slog.Warn("failed to save settings", "error", err)
	}
}

// Checkpoint persists now as the last-observed mark. Called when tracking
// starts so the first reconciliation after a restart measures from startup,
// not from the previous process's death.
func (t *Tracker) Checkpoint(now time.Time) {
	t.checkpoint(now)
}

// ///////////////////////////////////////////////
// Reconciliation
// ///////////////////////////////////////////////

// Reconcile applies the observation gap [lastCheckedAt, now) once, before
// regular ticking resumes after a suspension. The externally integrated
// stationary minutes extend (or open, back-dated) the current session, and
// at most one catch-up reminder fires no matter how many interval boundaries
// the gap crossed.
//
// If ctx is cancelled mid-flight the checkpoint is not committed, so a
// retried run re-covers the same gap instead of silently dropping it.
func (t *Tracker) Reconcile(ctx context.Context, now time.Time) error {
	start := t.lastCheckedAt
	if start.IsZero() || !start.Before(now) {
		t.checkpoint(now)
		return nil
	}

	t.rolloverIfNeeded(now)

	// A session left open by a previous, now-dead process run cannot still
	// be live; close it where observation stopped.
	if t.current == nil {
		t.rec.CloseOpen(start)
	}

	stationaryMinutes, err := t.source.StationaryMinutes(ctx, start, now)
	if err != nil {
		return fmt.Errorf("query stationary minutes: %w", err)
	}

	if stationaryMinutes > 0 {
		additional := stationaryMinutes * 60
		if t.current == nil {
			// Back-date the start so the session's wall span matches the
			// stationary time being credited.
			s := record.Session{StartedAt: now.Add(-time.Duration(additional) * time.Second)}
			t.current = &s
		}
		t.sessionSeconds += additional
		t.rec.SetOpen(*t.current)
		t.checkReminder()
	}

	// Re-derive the live verdict from the tail of the gap so the next tick
	// does not immediately reset a just-restored session.
	if err := t.restoreVerdict(ctx, now); err != nil {
		return err
	}

	t.persistRecord()
	t.checkpoint(now)
	return nil
}

// restoreVerdict pushes a sitting verdict derived from the gap's trailing
// window back into sources that hold a live snapshot.
func (t *Tracker) restoreVerdict(ctx context.Context, now time.Time) error {
	restorer, ok := t.source.(interface{ SetStationary(bool) })
	if !ok {
		return nil
	}
	recent, err := t.source.StationaryMinutes(ctx, now.Add(-t.recentWindow), now)
	if err != nil {
		return fmt.Errorf("query recent stationary minutes: %w", err)
	}
	restorer.SetStationary(recent > 0)
	return nil
}

// ///////////////////////////////////////////////
// Derived Accessors
// ///////////////////////////////////////////////

// CurrentSessionSeconds is the logical sitting time accrued this session.
func (t *Tracker) CurrentSessionSeconds() int { return t.sessionSeconds }

// Record returns the current daily record.
func (t *Tracker) Record() *record.DailyRecord { return t.rec }

// FormattedCurrentSession renders the accrued session time for display.
func (t *Tracker) FormattedCurrentSession() string {
	return record.FormatDuration(t.sessionSeconds)
}

// FormattedDailyTotal renders the day's total sitting time for display.
func (t *Tracker) FormattedDailyTotal(now time.Time) string {
	return record.FormatDuration(t.rec.TotalSittingSeconds(now))
}

// ProgressToNextStretch is the fraction of the current interval already sat
// through, in [0,1). Zero when the interval is not positive.
func (t *Tracker) ProgressToNextStretch() float64 {
	interval := t.settings.StretchIntervalMinutes * 60
	if interval <= 0 {
		return 0
	}
	return float64(t.sessionSeconds%interval) / float64(interval)
}

// MinutesToNextStretch is how many whole minutes remain until the next
// reminder. Zero when the interval is not positive.
func (t *Tracker) MinutesToNextStretch() int {
	interval := t.settings.StretchIntervalMinutes * 60
	if interval <= 0 {
		return 0
	}
	return (interval - t.sessionSeconds%interval) / 60
}

// ///////////////////////////////////////////////
// Persistence
// ///////////////////////////////////////////////

// persistRecord writes the daily record. Failures are logged, not retried;
// the next tick's write supersedes this one.
func (t *Tracker) persistRecord() {
	if err := t.store.SaveDailyRecord(t.rec); err != nil {
		slog.Warn("failed to persist daily record", "day", t.rec.Day, "error", err)
	}
}

// checkpoint advances and persists the last-observed mark.
func (t *Tracker) checkpoint(now time.Time) {
	t.lastCheckedAt = now
	if err := t.store.SaveLastCheckedAt(now); err != nil {
		slog.Warn("failed to persist checkpoint", "error", err)
	}
}
