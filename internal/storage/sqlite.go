package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tools.zach/dev/standby/internal/config"
	"tools.zach/dev/standby/internal/migrate"
	"tools.zach/dev/standby/internal/record"
)

// RecordMigrations holds registered migrations for persisted daily-record
// documents. Tests can append to this slice to inject test migrations.
var RecordMigrations []migrate.Migration

// kv table keys.
const (
	keySettings      = "settings"
	keyStretchIndex  = "stretch_index"
	keyLastCheckedAt = "last_checked_at"
)

// SQLiteStore implements [Store] and [SampleStore] on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
	// defaults seeds LoadSettings when nothing usable is persisted.
	defaults config.Settings
}

// OpenSQLite opens (creating if needed) the store at dbPath. defaults are the
// tracking settings substituted when none are persisted or the persisted
// document is unreadable.
func OpenSQLite(dbPath string, defaults config.Settings) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The store has exactly one writer (the tracker's tick loop); a single
	// connection avoids SQLITE_BUSY between it and sensor sample writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, defaults: defaults.Clamped()}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_records (
  day TEXT PRIMARY KEY,
  data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS activity_samples (
  minute INTEGER PRIMARY KEY,
  stationary INTEGER NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ///////////////////////////////////////////////
// kv helpers
// ///////////////////////////////////////////////

func (s *SQLiteStore) getKV(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read kv %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) setKV(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write kv %q: %w", key, err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Settings
// ///////////////////////////////////////////////

// LoadSettings returns persisted tracking settings. Missing or corrupt data
// yields the configured defaults; this path never fails upward.
func (s *SQLiteStore) LoadSettings() config.Settings {
	value, ok, err := s.getKV(keySettings)
	if err != nil {
		slog.Warn("failed to load settings, using defaults", "error", err)
		return s.defaults
	}
	if !ok {
		return s.defaults
	}
	var settings config.Settings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		slog.Warn("corrupt persisted settings, using defaults", "error", err)
		return s.defaults
	}
	// Settings.UnmarshalJSON clamps; this keeps the contract visible.
	return settings.Clamped()
}

// SaveSettings persists settings as a JSON document, clamped.
func (s *SQLiteStore) SaveSettings(settings config.Settings) error {
	data, err := json.Marshal(settings.Clamped())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.setKV(keySettings, string(data))
}

// ///////////////////////////////////////////////
// Daily Records
// ///////////////////////////////////////////////

// LoadDailyRecord returns the stored record for day, running any registered
// schema migrations on the raw document first. Missing or undecodable
// documents yield a fresh empty record.
func (s *SQLiteStore) LoadDailyRecord(day record.CalendarDay) *record.DailyRecord {
	var data string
	err := s.db.QueryRow(`SELECT data FROM daily_records WHERE day = ?`, string(day)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return record.New(day)
	}
	if err != nil {
		slog.Warn("failed to load daily record, starting fresh", "day", day, "error", err)
		return record.New(day)
	}

	raw := []byte(data)
	version := peekRecordVersion(raw)
	if migrate.NeedsMigration(version, record.CurrentVersion, RecordMigrations) {
		migrated, newVersion, migrateErr := migrate.Run(raw, version, RecordMigrations)
		if migrateErr != nil {
			slog.Warn("daily record migration failed, starting fresh", "day", day, "error", migrateErr)
			return record.New(day)
		}
		raw = migrated
		version = newVersion
	}

	var r record.DailyRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		slog.Warn("corrupt daily record, starting fresh", "day", day, "error", err)
		return record.New(day)
	}
	r.Version = record.CurrentVersion
	if r.Day == "" {
		r.Day = day
	}
	return &r
}

// SaveDailyRecord upserts the record's JSON document under its day key.
func (s *SQLiteStore) SaveDailyRecord(r *record.DailyRecord) error {
	r.Version = record.CurrentVersion
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal daily record: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO daily_records (day, data) VALUES (?, ?)
		 ON CONFLICT(day) DO UPDATE SET data = excluded.data`,
		string(r.Day), string(data),
	)
	if err != nil {
		return fmt.Errorf("save daily record %s: %w", r.Day, err)
	}
	return nil
}

// peekRecordVersion extracts the $version field from a raw record document.
// Returns 1 when the field is missing or the document is unparseable; the
// full decode will surface real corruption.
func peekRecordVersion(data []byte) int {
	var partial struct {
		Version int `json:"$version"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return 1
	}
	if partial.Version == 0 {
		return 1
	}
	return partial.Version
}

// ///////////////////////////////////////////////
// Stretch Rotation Cursor
// ///////////////////////////////////////////////

// NextStretchIndex returns the persisted rotation cursor, 0 when unset.
func (s *SQLiteStore) NextStretchIndex() (int, error) {
	value, ok, err := s.getKV(keyStretchIndex)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var index int
	if _, err := fmt.Sscanf(value, "%d", &index); err != nil {
		slog.Warn("corrupt stretch cursor, resetting", "value", value)
		return 0, nil
	}
	return index, nil
}

// AdvanceStretchIndex moves the cursor to (cursor+1) mod count inside one
// transaction, so the read-modify-write is atomic with respect to the store.
func (s *SQLiteStore) AdvanceStretchIndex(count int) error {
	if count <= 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cursor advance: %w", err)
	}
	defer tx.Rollback()

	var value string
	index := 0
	err = tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, keyStretchIndex).Scan(&value)
	if err == nil {
		fmt.Sscanf(value, "%d", &index)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read stretch cursor: %w", err)
	}

	next := (index + 1) % count
	_, err = tx.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		keyStretchIndex, fmt.Sprintf("%d", next),
	)
	if err != nil {
		return fmt.Errorf("write stretch cursor: %w", err)
	}
	return tx.Commit()
}

// ///////////////////////////////////////////////
// Last-Checked Checkpoint
// ///////////////////////////////////////////////

// LoadLastCheckedAt returns the reconciliation checkpoint.
func (s *SQLiteStore) LoadLastCheckedAt() (time.Time, bool) {
	value, ok, err := s.getKV(keyLastCheckedAt)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("failed to load checkpoint", "error", err)
		}
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		slog.Warn("corrupt checkpoint, ignoring", "value", value)
		return time.Time{}, false
	}
	return t, true
}

// SaveLastCheckedAt persists the reconciliation checkpoint.
func (s *SQLiteStore) SaveLastCheckedAt(t time.Time) error {
	return s.setKV(keyLastCheckedAt, t.Format(time.RFC3339Nano))
}

// ///////////////////////////////////////////////
// Activity Samples
// ///////////////////////////////////////////////

// RecordSample stores the stationary verdict for the minute containing t.
func (s *SQLiteStore) RecordSample(t time.Time, stationary bool) error {
	flag := 0
	if stationary {
		flag = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO activity_samples (minute, stationary) VALUES (?, ?)
		 ON CONFLICT(minute) DO UPDATE SET stationary = excluded.stationary`,
		t.Unix()/60, flag,
	)
	if err != nil {
		return fmt.Errorf("record activity sample: %w", err)
	}
	return nil
}

// StationaryMinutes counts sampled stationary minutes in [from, to).
func (s *SQLiteStore) StationaryMinutes(ctx context.Context, from, to time.Time) (int, error) {
	if !from.Before(to) {
		return 0, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_samples
		 WHERE minute >= ? AND minute < ? AND stationary = 1`,
		from.Unix()/60, to.Unix()/60,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count stationary minutes: %w", err)
	}
	return count, nil
}

// PruneSamplesBefore drops samples for minutes older than t.
func (s *SQLiteStore) PruneSamplesBefore(t time.Time) error {
	_, err := s.db.Exec(`DELETE FROM activity_samples WHERE minute < ?`, t.Unix()/60)
	if err != nil {
		return fmt.Errorf("prune activity samples: %w", err)
	}
	return nil
}
