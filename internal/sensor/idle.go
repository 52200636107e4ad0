package sensor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Idle Sensor
// ///////////////////////////////////////////////

// IdleSensor derives input idle time from activity marker files: editor and
// shell hooks touch files under the markers directory whenever the user does
// something, and idle time is measured from the newest matching marker's
// mtime. The directory is watched with fsnotify, falling back to stat-based
// polling when native watching is unavailable.
//
// When no marker has ever been observed the idle time reads as zero, which
// classifies the user as sitting. That fail-open choice favors not losing
// real sitting time over false positives right after a sensor outage.
type IdleSensor struct {
	// dir is the activity markers directory.
	dir string
	// match filters marker file names; non-matching files are ignored.
	match func(name string) bool

	// lastActivity is the Unix-nano timestamp of the newest matching marker.
	// Written by the watcher goroutine, read by Observe; atomic so the tick
	// driver only ever sees a consistent snapshot.
	lastActivity atomic.Int64

	// events channel internals, mirroring the watcher lifecycle.
	done chan struct{}
	fsw  *fsnotify.Watcher
	once sync.Once
	// polling is true when the sensor has fallen back to stat-based polling.
	polling atomic.Bool
	// pollInterval is the duration between directory scans in polling mode.
	pollInterval time.Duration
}

// NewIdleSensor creates an IdleSensor over dir. match decides which file
// names count as activity; a nil match accepts everything. The markers
// directory is created if missing so hooks can touch into it immediately.
func NewIdleSensor(dir string, match func(name string) bool) (*IdleSensor, error) {
	if match == nil {
		match = func(string) bool { return true }
	}
	s := &IdleSensor{
		dir:          dir,
		match:        match,
		done:         make(chan struct{}),
		pollInterval: 2 * time.Second,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	// Seed from whatever markers already exist.
	s.rescan()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		s.polling.Store(true)
		go s.poll()
		return s, nil
	}
	s.fsw = fsw
	if err := fsw.Add(dir); err != nil {
		slog.Info("cannot watch markers directory, falling back to polling", "dir", dir, "error", err)
		fsw.Close()
		s.fsw = nil
		s.polling.Store(true)
		go s.poll()
		return s, nil
	}

	go s.watch()
	return s, nil
}

// Observe reports the user as sitting when input idle time is under the
// threshold. The idle duration is returned so the tracker can back-date the
// session end when the user went idle mid-period.
func (s *IdleSensor) Observe(now time.Time, idleThreshold time.Duration) Verdict {
	idle := s.idleTime(now)
	return Verdict{Sitting: idle < idleThreshold, Idle: idle}
}

// StationaryMinutes always returns 0: the idle variant has no historical
// record, so a reconciled gap contributes no sitting time. The checkpoint
// and orphan handling still run.
func (s *IdleSensor) StationaryMinutes(_ context.Context, _, _ time.Time) (int, error) {
	return 0, nil
}

// Polling reports whether the sensor is using polling instead of fsnotify.
func (s *IdleSensor) Polling() bool {
	return s.polling.Load()
}

// Close stops the watcher and releases resources.
func (s *IdleSensor) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.fsw != nil {
			err = s.fsw.Close()
		}
	})
	return err
}

// idleTime returns now minus the newest marker mtime. Zero when no marker
// has ever been seen (fail-open) or when the marker is in the future.
func (s *IdleSensor) idleTime(now time.Time) time.Duration {
	last := s.lastActivity.Load()
	if last == 0 {
		return 0
	}
	idle := now.Sub(time.Unix(0, last))
	if idle < 0 {
		return 0
	}
	return idle
}

// recordActivity advances lastActivity to t if newer.
func (s *IdleSensor) recordActivity(t time.Time) {
	nano := t.UnixNano()
	for {
		prev := s.lastActivity.Load()
		if nano <= prev {
			return
		}
		if s.lastActivity.CompareAndSwap(prev, nano) {
			return
		}
	}
}

// watch loops over fsnotify events, treating each write/create/chmod of a
// matching marker as activity at the event time. On watcher error the sensor
// degrades to polling.
func (s *IdleSensor) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if s.match(filepath.Base(event.Name)) {
				s.recordActivity(time.Now())
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			s.fsw.Close()
			s.fsw = nil
			s.polling.Store(true)
			go s.poll()
			return
		}
	}
}

// poll periodically rescans the markers directory. It runs as a fallback
// when fsnotify is unavailable.
func (s *IdleSensor) poll() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.rescan()
		}
	}
}

// rescan walks the markers directory and records the newest matching mtime.
func (s *IdleSensor) rescan() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !s.match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		s.recordActivity(info.ModTime())
	}
}
