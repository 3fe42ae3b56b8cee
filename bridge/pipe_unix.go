//go:build unix

package bridge

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ///////////////////////////////////////////////
// Self-Pipe
// ///////////////////////////////////////////////

// pipeFDs creates the raw descriptor pair. Tests replace it to simulate
// descriptor exhaustion.
var pipeFDs = newPipeFDs

// openPipe creates the self-pipe with both ends non-blocking and
// close-on-exec. The read end is returned as an [os.File] so the dispatch
// goroutine parks on the runtime poller; the write end stays a raw descriptor
// for the relay.
func openPipe() (*os.File, int, error) {
	rfd, wfd, err := pipeFDs()
	if err != nil {
		return nil, -1, err
	}
	r := os.NewFile(uintptr(rfd), "sigmsg-pipe")
	if r == nil {
		_ = unix.Close(rfd)
		_ = unix.Close(wfd)
		return nil, -1, &OSError{Op: "wrap read end", Err: syscall.EBADF}
	}
	return r, wfd, nil
}

// writeByte writes b to fd and discards the result. A full pipe returns
// EAGAIN and the notification is dropped.
func writeByte(fd int, b byte) {
	buf := [1]byte{b}
	_, _ = unix.Write(fd, buf[:])
}

// closeFD closes a raw descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}
