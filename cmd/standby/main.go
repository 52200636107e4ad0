// Package main implements the Standby daemon, which watches desk activity
// and turns it into sitting sessions, daily totals, and stretch reminders.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"tools.zach/dev/standby/internal/config"
	"tools.zach/dev/standby/internal/logger"
	"tools.zach/dev/standby/internal/notify"
	"tools.zach/dev/standby/internal/paths"
	"tools.zach/dev/standby/internal/sensor"
	"tools.zach/dev/standby/internal/storage"
	"tools.zach/dev/standby/internal/stretch"
	"tools.zach/dev/standby/internal/tracker"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned file handle
// must be kept open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(paths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(paths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes the
// PID file only if the stored token matches, preventing accidental removal of a
// file owned by a different daemon instance.
func removePID(paths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(paths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(paths.PID())
	}
}

// checkStalePID checks whether another daemon instance is running. It attempts
// to acquire the advisory lock on the PID file; if the lock fails, another
// instance holds it. If the lock succeeds, any previous instance is dead and
// the stale file is cleaned up.
func checkStalePID(paths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(paths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(paths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead. Clean up stale file.
	_ = unlockFile(f)
	f.Close()
	os.Remove(paths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Collaborator Builders
// ///////////////////////////////////////////////

// buildSource constructs the activity signal source selected by the config.
// The idle variant watches the markers directory; the motion variant starts
// from a not-sitting snapshot and is fed by external transitions.
func buildSource(cfg *config.Config, dataPaths DataPaths, store *storage.SQLiteStore) (sensor.Source, error) {
	switch cfg.Sensor.Variant {
	case "motion":
		return sensor.NewMotionSensor(store), nil
	default:
		if err := os.MkdirAll(dataPaths.Markers(), 0o755); err != nil {
			return nil, fmt.Errorf("create markers dir: %w", err)
		}
		src, err := sensor.NewIdleSensor(dataPaths.Markers(), cfg.MatchesMarker)
		if err != nil {
			return nil, fmt.Errorf("create idle sensor: %w", err)
		}
		if src.Polling() {
			slog.Info("using polling mode for marker watching")
		}
		return src, nil
	}
}

// buildSender constructs the notification channel selected by the config.
func buildSender(cfg *config.Config, dataPaths DataPaths) notify.Sender {
	switch cfg.Notify.Channel {
	case "webhook":
		return notify.NewWebhookSender(cfg.Notify.WebhookURL)
	case "sink":
		return notify.NewSinkSender(dataPaths.Sink())
	default:
		return notify.LogSender{}
	}
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for Standby data,
// typically ~/.standby. Falls back to ./.standby if the home directory
// cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, state, and logs")
	flag.Parse()

	dataPaths := DataPaths{Root: *dataDir}

	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	if alive, pid := checkStalePID(dataPaths); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		os.Exit(1)
	}

	if _, err := os.Stat(dataPaths.Config()); os.IsNotExist(err) {
		if writeErr := config.DefaultConfig().Save(dataPaths.Config()); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := logger.ParseLevel(cfg.Log.Level)
	log, logCloser, err := logger.NewLogger(dataPaths.Log(), logLevel, cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("standby starting", "version", resolveVersion(), "data_dir", dataPaths.Root)

	token := pidToken()
	pidFile, err := writePID(dataPaths, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		os.Exit(1)
	}
	defer removePID(dataPaths, token, pidFile)

	store, err := storage.OpenSQLite(dataPaths.Store(), cfg.Tracking)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	source, err := buildSource(cfg, dataPaths, store)
	if err != nil {
		slog.Error("failed to build activity sensor", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	sender := buildSender(cfg, dataPaths)
	if closer, ok := sender.(io.Closer); ok {
		defer closer.Close()
	}
	permCtx, permCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if !sender.RequestPermission(permCtx) {
		slog.Warn("notification channel unavailable, reminders may be dropped",
			"channel", cfg.Notify.Channel)
	}
	permCancel()

	catalog, err := stretch.LoadCatalog(dataPaths.Catalog())
	if err != nil {
		slog.Warn("failed to load stretch catalog", "error", err)
	}
	slog.Info("loaded stretch catalog", "stretches", len(catalog))

	notifier := stretch.NewNotifier(store, sender, cfg.Notify.Title, cfg.Notify.HapticEnabled)

	tr := tracker.New(time.Now(), tracker.Options{
		Source:       source,
		Store:        store,
		Notifier:     notifier,
		Catalog:      catalog,
		TickPeriod:   time.Duration(cfg.Behavior.TickIntervalSeconds) * time.Second,
		RecentWindow: time.Duration(cfg.Sensor.RecentWindowSeconds) * time.Second,
	})

	budget := time.Duration(cfg.Behavior.ReconcileBudgetSeconds) * time.Second

	// Cover the gap since the previous run before regular ticking starts.
	reconcile(tr, budget)

	run(tr, cfg, dataPaths)
}

// reconcile runs one bounded reconciliation pass. The budget caps how long
// the daemon blocks the tick loop; a run cut short leaves the checkpoint
// uncommitted so the next pass re-covers the same gap.
func reconcile(tr *tracker.Tracker, budget time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	if err := tr.Reconcile(ctx, time.Now()); err != nil {
		slog.Warn("reconciliation incomplete", "error", err)
		return
	}
	slog.Debug("reconciliation complete",
		"session", tr.FormattedCurrentSession(),
		"daily_total", tr.FormattedDailyTotal(time.Now()),
	)
}

// ///////////////////////////////////////////////
// Event Loop
// ///////////////////////////////////////////////

// controlPollInterval is how often the stretch-done drop file is checked
// between ticks, so marking a stretch feels immediate rather than waiting
// for the next tick.
const controlPollInterval = 2 * time.Second

// run is the main event loop. A tick ticker drives the tracker once per
// configured interval; a faster control ticker watches for the stretch-done
// drop file; OS signals stop the loop. When the wall clock jumped across
// several tick periods (sleep, suspend, heavy swap) the missed span is
// reconciled instead of ticked through.
func run(tr *tracker.Tracker, cfg *config.Config, dataPaths DataPaths) {
	tickInterval := time.Duration(cfg.Behavior.TickIntervalSeconds) * time.Second
	suspendGap := time.Duration(cfg.Behavior.SuspendGapTicks) * tickInterval
	budget := time.Duration(cfg.Behavior.ReconcileBudgetSeconds) * time.Second

	tickTicker := time.NewTicker(tickInterval)
	defer tickTicker.Stop()
	controlTicker := time.NewTicker(controlPollInterval)
	defer controlTicker.Stop()

	sigCh := signalChannel()
	stretchCh := stretchSignalChannel()

	lastTick := time.Now()

	for {
		select {
		case <-sigCh:
			slog.Info("received shutdown signal")
			return

		case <-tickTicker.C:
			now := time.Now()
			if now.Sub(lastTick) >= suspendGap {
				slog.Info("tick gap detected, reconciling",
					"gap", now.Sub(lastTick).Round(time.Second).String())
				reconcile(tr, budget)
			} else {
				tr.Tick(now)
			}
			lastTick = now

		case <-stretchCh:
			markStretchDone(tr)

		case <-controlTicker.C:
			if consumeControlFile(dataPaths) {
				markStretchDone(tr)
			}
		}
	}
}

// markStretchDone records a completed stretch and logs the new count.
func markStretchDone(tr *tracker.Tracker) {
	tr.MarkStretchDone(time.Now())
	slog.Info("stretch marked done", "count_today", tr.Record().StretchCount)
}

// consumeControlFile reports whether the stretch-done drop file existed, and
// removes it so each drop marks exactly one stretch.
func consumeControlFile(dataPaths DataPaths) bool {
	if _, err := os.Stat(dataPaths.Control()); err != nil {
		return false
	}
	if err := os.Remove(dataPaths.Control()); err != nil {
		slog.Warn("failed to remove control file", "error", err)
		return false
	}
	return true
}
