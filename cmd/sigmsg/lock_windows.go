// PID file locking with LockFileEx. The daemon starts on Windows only far
// enough to report that the signal bridge is unsupported, but the PID lock
// still guards the data directory.

//go:build windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// lockFile locks the first byte of f exclusively. LOCKFILE_FAIL_IMMEDIATELY
// matches LOCK_NB on Unix.
func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
