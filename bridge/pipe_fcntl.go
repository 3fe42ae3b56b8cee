//go:build unix && !(dragonfly || freebsd || illumos || linux || netbsd || openbsd || solaris)

package bridge

import "golang.org/x/sys/unix"

// newPipeFDs opens the pipe and then sets O_NONBLOCK and FD_CLOEXEC with
// fcntl(2), for platforms without pipe2(2).
func newPipeFDs() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, &OSError{Op: "pipe", Err: err}
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, &OSError{Op: "fcntl O_NONBLOCK", Err: err}
		}
		unix.CloseOnExec(fd)
	}
	return fds[0], fds[1], nil
}
