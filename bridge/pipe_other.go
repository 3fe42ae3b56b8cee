//go:build !unix

package bridge

import (
	"errors"
	"os"
)

// openPipe always fails: the self-pipe relies on POSIX signals and pipes.
func openPipe() (*os.File, int, error) {
	return nil, -1, &OSError{Op: "pipe", Err: errors.ErrUnsupported}
}

func writeByte(int, byte) {}

func closeFD(int) error { return nil }
