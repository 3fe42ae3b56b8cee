//go:build dragonfly || freebsd || illumos || linux || netbsd || openbsd || solaris

package bridge

import "golang.org/x/sys/unix"

// newPipeFDs opens the pipe with O_NONBLOCK and O_CLOEXEC set atomically.
func newPipeFDs() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, &OSError{Op: "pipe2", Err: err}
	}
	return fds[0], fds[1], nil
}
