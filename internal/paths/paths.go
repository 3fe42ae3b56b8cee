// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile    = "sigmsg.pid"
	ConfigFile = "config.toml"
	LogFile    = "sigmsg.log"
)

const (
	BinaryName = "sigmsg"
	DataDirRel = ".sigmsg" // relative to $HOME
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Default returns the data directory under the user's home directory.
func Default() (DataDir, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DataDir{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return DataDir{Root: filepath.Join(home, DataDirRel)}, nil
}

// Ensure creates the data directory if it does not exist.
func (d DataDir) Ensure() error {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }
