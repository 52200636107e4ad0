// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile     = "daemon.pid"
	ConfigFile  = "config.toml"
	LogFile     = "daemon.log"
	StoreFile   = "standby.db"
	CatalogFile = "stretches.json"
	MarkersDir  = "activity"
	SinkSocket  = "standby-sink"
	ControlFile = "stretch.done"
)

// BinaryName is the daemon binary name, also used for the Windows pipe path.
const BinaryName = "standby"

// DataDirRel is the default data directory, relative to $HOME.
const DataDirRel = ".standby"

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Store returns the full path to the SQLite store.
func (d DataDir) Store() string { return filepath.Join(d.Root, StoreFile) }

// Catalog returns the full path to the user stretch catalog override.
func (d DataDir) Catalog() string { return filepath.Join(d.Root, CatalogFile) }

// Markers returns the full path to the activity markers directory.
func (d DataDir) Markers() string { return filepath.Join(d.Root, MarkersDir) }

// Sink returns the full path to the local notification sink socket.
func (d DataDir) Sink() string { return filepath.Join(d.Root, SinkSocket) }

// Control returns the full path to the stretch-done drop file.
func (d DataDir) Control() string { return filepath.Join(d.Root, ControlFile) }
