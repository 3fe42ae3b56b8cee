package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by [New] while another bridge is live in
	// this process. Retry after every handle of the existing bridge is closed.
	ErrAlreadyActive = errors.New("bridge: a signal bridge is already active")

	// ErrDisconnected is returned by a [Receiver] once its bridge has been torn
	// down and no further signals can arrive.
	ErrDisconnected = errors.New("bridge: signal channel disconnected")

	// ErrOS matches any [*OSError] via [errors.Is].
	ErrOS = errors.New("bridge: OS error during setup")
)

// OSError reports an OS-level failure while setting up a bridge. Everything
// created before the failure has already been released when it is returned.
type OSError struct {
	// Op names the failed step, e.g. "pipe2".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *OSError) Error() string {
	return fmt.Sprintf("bridge: %s: %v", e.Op, e.Err)
}

func (e *OSError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrOS) match any OSError.
func (e *OSError) Is(target error) bool { return target == ErrOS }
