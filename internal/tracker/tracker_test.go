// Tests for the sitting session state machine: tick accumulation, session
// close back-dating, reminder boundaries, stretch completion, day rollover,
// and gap reconciliation. Exercises [Tracker.Tick], [Tracker.MarkStretchDone],
// and [Tracker.Reconcile] against fake collaborators and a manual clock.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tools.zach/dev/standby/internal/config"
	"tools.zach/dev/standby/internal/record"
	"tools.zach/dev/standby/internal/sensor"
	"tools.zach/dev/standby/internal/stretch"
)

// ///////////////////////////////////////////////
// Fakes
// ///////////////////////////////////////////////

// fakeStore is an in-memory Store. Records are stored as JSON documents so
// tests observe persisted snapshots, not shared pointers.
type fakeStore struct {
	settings    config.Settings
	records     map[record.CalendarDay][]byte
	cursor      int
	checkpoint  time.Time
	hasCheck    bool
	recordSaves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings: config.DefaultSettings(),
		records:  make(map[record.CalendarDay][]byte),
	}
}

func (f *fakeStore) LoadSettings() config.Settings { return f.settings }

func (f *fakeStore) SaveSettings(s config.Settings) error {
	f.settings = s
	return nil
}

func (f *fakeStore) LoadDailyRecord(day record.CalendarDay) *record.DailyRecord {
	data, ok := f.records[day]
	if !ok {
		return record.New(day)
	}
	var r record.DailyRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return record.New(day)
	}
	return &r
}

func (f *fakeStore) SaveDailyRecord(r *record.DailyRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	f.records[r.Day] = data
	f.recordSaves++
	return nil
}

func (f *fakeStore) NextStretchIndex() (int, error) { return f.cursor, nil }

func (f *fakeStore) AdvanceStretchIndex(count int) error {
	f.cursor = (f.cursor + 1) % count
	return nil
}

func (f *fakeStore) LoadLastCheckedAt() (time.Time, bool) { return f.checkpoint, f.hasCheck }

func (f *fakeStore) SaveLastCheckedAt(t time.Time) error {
	f.checkpoint = t
	f.hasCheck = true
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeSource scripts verdicts and historical answers.
type fakeSource struct {
	sitting    bool
	idle       time.Duration
	gapMinutes int
	gapErr     error

	// restored captures SetStationary pushes.
	restored  []bool
	queryFrom []time.Time
	queryTo   []time.Time
}

func (f *fakeSource) Observe(time.Time, time.Duration) sensor.Verdict {
	return sensor.Verdict{Sitting: f.sitting, Idle: f.idle}
}

func (f *fakeSource) StationaryMinutes(_ context.Context, from, to time.Time) (int, error) {
	f.queryFrom = append(f.queryFrom, from)
	f.queryTo = append(f.queryTo, to)
	if f.gapErr != nil {
		return 0, f.gapErr
	}
	return f.gapMinutes, nil
}

func (f *fakeSource) SetStationary(stationary bool) { f.restored = append(f.restored, stationary) }

func (f *fakeSource) Close() error { return nil }

// countingSender counts reminder deliveries.
type countingSender struct {
	sent int
}

func (c *countingSender) Send(string, string) error {
	c.sent++
	return nil
}

// harness bundles a tracker with its fakes.
type harness struct {
	tr     *Tracker
	store  *fakeStore
	source *fakeSource
	sender *countingSender
}

// newHarness builds a tracker at start with the given stretch interval.
func newHarness(t *testing.T, start time.Time, intervalMinutes int) *harness {
	t.Helper()
	store := newFakeStore()
	store.settings = config.NewSettings(intervalMinutes, 5, false)
	source := &fakeSource{sitting: true}
	sender := &countingSender{}
	notifier := stretch.NewNotifier(store, sender, "Time to stretch!", false)
	catalog := []stretch.Stretch{{ID: "a", Name: "Neck Rolls", DurationSeconds: 30}}

	tr := New(start, Options{
		Source:   source,
		Store:    store,
		Notifier: notifier,
		Catalog:  catalog,
		Location: time.UTC,
	})
	return &harness{tr: tr, store: store, source: source, sender: sender}
}

var day0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// tickN advances the clock one minute per tick, starting one minute after
// from, and returns the time of the last tick.
func (h *harness) tickN(from time.Time, n int) time.Time {
	now := from
	for i := 0; i < n; i++ {
		now = now.Add(time.Minute)
		h.tr.Tick(now)
	}
	return now
}

// ///////////////////////////////////////////////
// Tick Tests
// ///////////////////////////////////////////////

func TestTickAccumulatesSittingTime(t *testing.T) {
	h := newHarness(t, day0, 30)

	now := h.tickN(day0, 7)

	if got := h.tr.CurrentSessionSeconds(); got != 7*60 {
		t.Errorf("CurrentSessionSeconds = %d, want %d", got, 7*60)
	}
	rec := h.tr.Record()
	if len(rec.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(rec.Sessions))
	}
	open, ok := rec.OpenSession()
	if !ok {
		t.Fatal("expected an open session")
	}
	if !open.StartedAt.Equal(day0.Add(time.Minute)) {
		t.Errorf("StartedAt = %v, want first tick time", open.StartedAt)
	}
	if !h.store.checkpoint.Equal(now) {
		t.Errorf("checkpoint = %v, want %v", h.store.checkpoint, now)
	}
}

func TestTickPersistsEveryTick(t *testing.T) {
	h := newHarness(t, day0, 30)

	h.tickN(day0, 3)

	if h.store.recordSaves != 3 {
		t.Errorf("record saves = %d, want 3", h.store.recordSaves)
	}
	persisted := h.store.LoadDailyRecord(record.DayOf(day0, time.UTC))
	if _, ok := persisted.OpenSession(); !ok {
		t.Error("persisted record should carry the open session")
	}
}

func TestTickNotSittingClosesSessionBackdated(t *testing.T) {
	h := newHarness(t, day0, 30)
	now := h.tickN(day0, 5)

	h.source.sitting = false
	h.source.idle = 3 * time.Minute
	now = now.Add(time.Minute)
	h.tr.Tick(now)

	if got := h.tr.CurrentSessionSeconds(); got != 0 {
		t.Errorf("CurrentSessionSeconds = %d, want 0 after close", got)
	}
	rec := h.tr.Record()
	if _, ok := rec.OpenSession(); ok {
		t.Error("no session should remain open")
	}
	if len(rec.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(rec.Sessions))
	}
	s := rec.Sessions[0]
	wantEnd := now.Add(-3 * time.Minute)
	if s.EndedAt == nil || !s.EndedAt.Equal(wantEnd) {
		t.Errorf("EndedAt = %v, want %v (back-dated by idle)", s.EndedAt, wantEnd)
	}
}

func TestTickNotSittingWithoutSession(t *testing.T) {
	h := newHarness(t, day0, 30)
	h.source.sitting = false

	h.tickN(day0, 3)

	rec := h.tr.Record()
	if len(rec.Sessions) != 0 {
		t.Errorf("len(Sessions) = %d, want 0", len(rec.Sessions))
	}
	if h.sender.sent != 0 {
		t.Errorf("reminders = %d, want 0", h.sender.sent)
	}
}

func TestTickSessionRestartsAfterBreak(t *testing.T) {
	h := newHarness(t, day0, 30)
	now := h.tickN(day0, 4)

	h.source.sitting = false
	now = now.Add(time.Minute)
	h.tr.Tick(now)

	h.source.sitting = true
	h.tickN(now, 3)

	rec := h.tr.Record()
	if len(rec.Sessions) != 2 {
		t.Fatalf("len(Sessions) = %d, want 2 (one closed, one open)", len(rec.Sessions))
	}
	if got := h.tr.CurrentSessionSeconds(); got != 3*60 {
		t.Errorf("CurrentSessionSeconds = %d, want %d", got, 3*60)
	}
}

// ///////////////////////////////////////////////
// Reminder Tests
// ///////////////////////////////////////////////

func TestReminderFiresAtIntervalBoundaries(t *testing.T) {
	h := newHarness(t, day0, 5)

	now := h.tickN(day0, 4)
	if h.sender.sent != 0 {
		t.Fatalf("reminders after 4 ticks = %d, want 0", h.sender.sent)
	}

	now = h.tickN(now, 1)
	if h.sender.sent != 1 {
		t.Fatalf("reminders after 5 ticks = %d, want 1", h.sender.sent)
	}

	now = h.tickN(now, 4)
	if h.sender.sent != 1 {
		t.Fatalf("reminders after 9 ticks = %d, want 1", h.sender.sent)
	}

	h.tickN(now, 1)
	if h.sender.sent != 2 {
		t.Fatalf("reminders after 10 ticks = %d, want 2", h.sender.sent)
	}
}

func TestReminderCounterResetsOnSessionEnd(t *testing.T) {
	h := newHarness(t, day0, 5)
	now := h.tickN(day0, 5)
	if h.sender.sent != 1 {
		t.Fatalf("reminders = %d, want 1", h.sender.sent)
	}

	h.source.sitting = false
	now = now.Add(time.Minute)
	h.tr.Tick(now)
	h.source.sitting = true

	// A fresh session needs a full interval before the next reminder.
	now = h.tickN(now, 4)
	if h.sender.sent != 1 {
		t.Errorf("reminders = %d, want 1 before the new session's boundary", h.sender.sent)
	}
	h.tickN(now, 1)
	if h.sender.sent != 2 {
		t.Errorf("reminders = %d, want 2 at the new session's boundary", h.sender.sent)
	}
}

// ///////////////////////////////////////////////
// MarkStretchDone Tests
// ///////////////////////////////////////////////

func TestMarkStretchDone(t *testing.T) {
	h := newHarness(t, day0, 5)
	now := h.tickN(day0, 5)

	done := now.Add(30 * time.Second)
	h.tr.MarkStretchDone(done)

	rec := h.tr.Record()
	if rec.StretchCount != 1 {
		t.Errorf("StretchCount = %d, want 1", rec.StretchCount)
	}
	if got := h.tr.CurrentSessionSeconds(); got != 0 {
		t.Errorf("CurrentSessionSeconds = %d, want 0", got)
	}
	if len(rec.Sessions) != 2 {
		t.Fatalf("len(Sessions) = %d, want 2 (closed + fresh open)", len(rec.Sessions))
	}
	if rec.Sessions[0].EndedAt == nil || !rec.Sessions[0].EndedAt.Equal(done) {
		t.Errorf("closed EndedAt = %v, want %v", rec.Sessions[0].EndedAt, done)
	}
	open, ok := rec.OpenSession()
	if !ok {
		t.Fatal("expected a fresh open session")
	}
	if !open.StartedAt.Equal(done) {
		t.Errorf("open StartedAt = %v, want %v", open.StartedAt, done)
	}
}

func TestMarkStretchDoneTwice(t *testing.T) {
	h := newHarness(t, day0, 5)
	now := h.tickN(day0, 2)

	h.tr.MarkStretchDone(now.Add(time.Second))
	h.tr.MarkStretchDone(now.Add(2 * time.Second))

	rec := h.tr.Record()
	if rec.StretchCount != 2 {
		t.Errorf("StretchCount = %d, want 2", rec.StretchCount)
	}
	if len(rec.Sessions) != 3 {
		t.Errorf("len(Sessions) = %d, want 3 (two closed, one open)", len(rec.Sessions))
	}
}

func TestMarkStretchDoneResetsReminderSchedule(t *testing.T) {
	h := newHarness(t, day0, 5)
	now := h.tickN(day0, 5)
	if h.sender.sent != 1 {
		t.Fatalf("reminders = %d, want 1", h.sender.sent)
	}

	h.tr.MarkStretchDone(now)

	now = h.tickN(now, 4)
	if h.sender.sent != 1 {
		t.Errorf("reminders = %d, want 1 before the fresh interval elapses", h.sender.sent)
	}
	h.tickN(now, 1)
	if h.sender.sent != 2 {
		t.Errorf("reminders = %d, want 2 after the fresh interval", h.sender.sent)
	}
}

// ///////////////////////////////////////////////
// Rollover Tests
// ///////////////////////////////////////////////

func TestDayRollover(t *testing.T) {
	start := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	h := newHarness(t, start, 30)

	now := h.tickN(start, 5) // 23:51 .. 23:55
	now = now.Add(10 * time.Minute)
	h.tr.Tick(now) // 00:05 next day

	// Old day: session closed at the rollover tick, persisted under its key.
	old := h.store.LoadDailyRecord("2026-03-14")
	if len(old.Sessions) != 1 {
		t.Fatalf("old day sessions = %d, want 1", len(old.Sessions))
	}
	if _, ok := old.OpenSession(); ok {
		t.Error("old day should have no open session")
	}

	// New day: fresh record with a brand-new session.
	rec := h.tr.Record()
	if rec.Day != "2026-03-15" {
		t.Errorf("Day = %q, want %q", rec.Day, "2026-03-15")
	}
	if _, ok := rec.OpenSession(); !ok {
		t.Error("new day should have an open session")
	}
	if rec.StretchCount != 0 {
		t.Errorf("StretchCount = %d, want 0 on a fresh day", rec.StretchCount)
	}
	// The rollover tick itself still accrues.
	if got := h.tr.CurrentSessionSeconds(); got != 60 {
		t.Errorf("CurrentSessionSeconds = %d, want 60", got)
	}
}

// ///////////////////////////////////////////////
// Reconcile Tests
// ///////////////////////////////////////////////

func TestReconcileNoCheckpoint(t *testing.T) {
	h := newHarness(t, day0, 30)

	if err := h.tr.Reconcile(context.Background(), day0); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !h.store.checkpoint.Equal(day0) {
		t.Errorf("checkpoint = %v, want %v", h.store.checkpoint, day0)
	}
	if len(h.source.queryFrom) != 0 {
		t.Error("no historical query expected without a checkpoint")
	}
}

func TestReconcileCreditsGapTime(t *testing.T) {
	h := newHarness(t, day0, 30)
	last := h.tickN(day0, 3)

	// Suspend: 20 minutes pass, 8 of them stationary.
	h.source.gapMinutes = 8
	now := last.Add(20 * time.Minute)
	if err := h.tr.Reconcile(context.Background(), now); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if got := h.tr.CurrentSessionSeconds(); got != (3+8)*60 {
		t.Errorf("CurrentSessionSeconds = %d, want %d", got, (3+8)*60)
	}
	if !h.store.checkpoint.Equal(now) {
		t.Errorf("checkpoint = %v, want %v", h.store.checkpoint, now)
	}
	// The gap query covers [last tick, now).
	if !h.source.queryFrom[0].Equal(last) || !h.source.queryTo[0].Equal(now) {
		t.Errorf("gap query = [%v, %v), want [%v, %v)",
			h.source.queryFrom[0], h.source.queryTo[0], last, now)
	}
}

func TestReconcileOpensBackdatedSession(t *testing.T) {
	h := newHarness(t, day0, 30)
	h.source.sitting = false
	last := h.tickN(day0, 2) // no session open

	h.source.gapMinutes = 10
	now := last.Add(30 * time.Minute)
	if err := h.tr.Reconcile(context.Background(), now); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	open, ok := h.tr.Record().OpenSession()
	if !ok {
		t.Fatal("expected a restored open session")
	}
	wantStart := now.Add(-10 * time.Minute)
	if !open.StartedAt.Equal(wantStart) {
		t.Errorf("StartedAt = %v, want %v (back-dated)", open.StartedAt, wantStart)
	}
	if got := h.tr.CurrentSessionSeconds(); got != 10*60 {
		t.Errorf("CurrentSessionSeconds = %d, want %d", got, 10*60)
	}
}

func TestReconcileAtMostOneReminder(t *testing.T) {
	h := newHarness(t, day0, 5)
	last := h.tickN(day0, 1)

	// The gap crosses several 5-minute boundaries; only one catch-up
	// reminder may fire.
	h.source.gapMinutes = 17
	now := last.Add(20 * time.Minute)
	if err := h.tr.Reconcile(context.Background(), now); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if h.sender.sent != 1 {
		t.Errorf("reminders = %d, want exactly 1 for the whole gap", h.sender.sent)
	}
}

func TestReconcileClosesOrphan(t *testing.T) {
	// A previous process died leaving an open session in the store.
	store := newFakeStore()
	orphaned := record.New(record.DayOf(day0, time.UTC))
	orphaned.Sessions = []record.Session{{StartedAt: day0.Add(-time.Hour)}}
	store.SaveDailyRecord(orphaned)
	lastCheck := day0.Add(-30 * time.Minute)
	store.SaveLastCheckedAt(lastCheck)

	source := &fakeSource{}
	sender := &countingSender{}
	tr := New(day0, Options{
		Source:   source,
		Store:    store,
		Notifier: stretch.NewNotifier(store, sender, "t", false),
		Catalog:  []stretch.Stretch{{ID: "a", Name: "A"}},
		Location: time.UTC,
	})

	if err := tr.Reconcile(context.Background(), day0); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	rec := tr.Record()
	if _, ok := rec.OpenSession(); ok {
		t.Error("orphaned session should be closed")
	}
	if len(rec.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(rec.Sessions))
	}
	if got := rec.Sessions[0].EndedAt; got == nil || !got.Equal(lastCheck) {
		t.Errorf("EndedAt = %v, want the checkpoint %v", got, lastCheck)
	}
}

func TestReconcileErrorLeavesCheckpoint(t *testing.T) {
	h := newHarness(t, day0, 30)
	last := h.tickN(day0, 2)

	h.source.gapErr = errors.New("query failed")
	now := last.Add(20 * time.Minute)
	err := h.tr.Reconcile(context.Background(), now)
	if err == nil {
		t.Fatal("expected error from failing gap query")
	}
	if !h.store.checkpoint.Equal(last) {
		t.Errorf("checkpoint = %v, want unchanged %v so a retry re-covers the gap",
			h.store.checkpoint, last)
	}
}

func TestReconcileRestoresVerdict(t *testing.T) {
	h := newHarness(t, day0, 30)
	last := h.tickN(day0, 2)

	h.source.gapMinutes = 1
	now := last.Add(10 * time.Minute)
	if err := h.tr.Reconcile(context.Background(), now); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(h.source.restored) != 1 {
		t.Fatalf("SetStationary called %d times, want 1", len(h.source.restored))
	}
	if !h.source.restored[0] {
		t.Error("restored verdict = false, want true with recent stationary time")
	}
}

func TestReconcileCheckpointOnlyWhenCaughtUp(t *testing.T) {
	h := newHarness(t, day0, 30)
	last := h.tickN(day0, 2)

	// now before the checkpoint: nothing to reconcile, checkpoint resets to
	// now so a clock step backward cannot produce a negative gap.
	if err := h.tr.Reconcile(context.Background(), last.Add(-time.Minute)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(h.source.queryFrom) != 0 {
		t.Error("no historical query expected for a non-positive gap")
	}
}

// ///////////////////////////////////////////////
// Accessor Tests
// ///////////////////////////////////////////////

func TestDerivedAccessors(t *testing.T) {
	h := newHarness(t, day0, 30)
	now := h.tickN(day0, 12)

	if got := h.tr.FormattedCurrentSession(); got != "12m" {
		t.Errorf("FormattedCurrentSession = %q, want %q", got, "12m")
	}
	// The session opened at the first tick, so its wall span is one minute
	// shorter than the accrued tick time.
	if got := h.tr.FormattedDailyTotal(now); got != "11m" {
		t.Errorf("FormattedDailyTotal = %q, want %q", got, "11m")
	}

	want := float64(12*60) / float64(30*60)
	if got := h.tr.ProgressToNextStretch(); got != want {
		t.Errorf("ProgressToNextStretch = %v, want %v", got, want)
	}
	if got := h.tr.MinutesToNextStretch(); got != 18 {
		t.Errorf("MinutesToNextStretch = %d, want 18", got)
	}
}

func TestSetSettings(t *testing.T) {
	h := newHarness(t, day0, 30)

	h.tr.SetSettings(config.Settings{StretchIntervalMinutes: 999, IdleThresholdMinutes: 0})

	got := h.tr.Settings()
	if got.StretchIntervalMinutes != config.StretchIntervalMax {
		t.Errorf("StretchIntervalMinutes = %d, want clamped %d",
			got.StretchIntervalMinutes, config.StretchIntervalMax)
	}
	if h.store.settings != got {
		t.Errorf("persisted settings = %+v, want %+v", h.store.settings, got)
	}
}

func TestNewLoadsPersistedState(t *testing.T) {
	store := newFakeStore()
	store.settings = config.NewSettings(45, 10, false)
	saved := record.New(record.DayOf(day0, time.UTC))
	saved.StretchCount = 4
	store.SaveDailyRecord(saved)
	store.SaveLastCheckedAt(day0.Add(-time.Hour))

	tr := New(day0, Options{
		Source:   &fakeSource{},
		Store:    store,
		Notifier: stretch.NewNotifier(store, &countingSender{}, "t", false),
		Location: time.UTC,
	})

	if got := tr.Settings().StretchIntervalMinutes; got != 45 {
		t.Errorf("StretchIntervalMinutes = %d, want 45", got)
	}
	if got := tr.Record().StretchCount; got != 4 {
		t.Errorf("StretchCount = %d, want 4", got)
	}
}
