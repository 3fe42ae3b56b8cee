// PID file locking with flock(2).

//go:build unix

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile takes an exclusive, non-blocking flock on f. It fails with
// EWOULDBLOCK while another open file description holds the lock, which is
// how a running daemon is detected.
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the flock on f. Closing f releases it as well.
func unlockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
