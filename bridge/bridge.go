// Package bridge turns asynchronous OS signals into ordinary messages that any
// number of subscribers can receive by blocking, polling, or ranging.
//
// A signal is carried from the handler to application code with the
// self-pipe trick: the handler only writes the signal number as one byte into
// a non-blocking pipe, and a dispatch goroutine reads the pipe and fans each
// signal out to every [Receiver].
//
//	b, err := bridge.New()
//	if err != nil {
//		return err
//	}
//	defer b.Close()
//
//	for sig := range b.Subscribe().All() {
//		fmt.Println("received", sig)
//		if sig.IsTerminating() {
//			break
//		}
//	}
//
// Only one bridge may be active per process. Handles are shared with
// [Bridge.Clone]; closing the last handle (or letting every handle become
// unreachable) closes the pipe, stops the dispatch goroutine, and disconnects
// every receiver.
package bridge

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
)

// ///////////////////////////////////////////////
// Shared Core
// ///////////////////////////////////////////////

// core is the reference-counted state shared by every handle of one bridge.
type core struct {
	// refs counts handles that have not been released.
	refs atomic.Int64
	// writeFD is the self-pipe write end, also published in [state].
	writeFD int
	// read is the self-pipe read end, owned by the dispatch goroutine.
	read *os.File
	// done is closed when the dispatch goroutine exits.
	done chan struct{}

	log *slog.Logger
	obs Observer

	// mu guards the subscriber registry.
	mu      sync.Mutex
	subs    map[uint64]*mailbox
	nextID  uint64
	stopped bool
}

// shutdown runs once, when the last handle is released. The write descriptor
// is retracted from the relay before it is closed, so no relay call writes to
// a closed or reused descriptor. Closing the write end lets the dispatch
// goroutine drain the pipe, see end-of-stream, and exit.
func (c *core) shutdown() error {
	state.retract()
	err := closeFD(c.writeFD)
	<-c.done
	state.release()
	c.log.Debug("signal bridge closed")
	if err != nil {
		return &OSError{Op: "close write end", Err: err}
	}
	return nil
}

// ref is one handle's claim on the core.
type ref struct {
	core     *core
	released atomic.Bool
}

// release drops this claim once. The last claim shuts the core down.
func (r *ref) release() error {
	if !r.released.CompareAndSwap(false, true) {
		return nil
	}
	if r.core.refs.Add(-1) > 0 {
		return nil
	}
	return r.core.shutdown()
}

// ///////////////////////////////////////////////
// Bridge
// ///////////////////////////////////////////////

// Bridge is a handle to the process's signal bridge.
type Bridge struct {
	ref *ref
}

// newHandle returns a handle holding one reference that is released on
// [Bridge.Close] or, failing that, when the handle is garbage collected.
func newHandle(c *core) *Bridge {
	b := &Bridge{ref: &ref{core: c}}
	runtime.AddCleanup(b, func(r *ref) { _ = r.release() }, b.ref)
	return b
}

// New creates the process's signal bridge and installs signal handling for
// every supported signal.
//
// It returns [ErrAlreadyActive] while another bridge is live, and an
// [*OSError] if the self-pipe cannot be created. A failed New leaves no
// descriptors open and no process-wide state behind.
//
// Keep the returned handle reachable and call [Bridge.Close] when done.
// Receivers do not keep the bridge alive: a caller that keeps only
// New().Subscribe() sees [ErrDisconnected] after the next garbage
// collection, and from then on every supported signal, SIGINT and SIGTERM
// included, is swallowed by the still-installed relay.
func New(opts ...Option) (*Bridge, error) {
	if !state.acquire() {
		return nil, ErrAlreadyActive
	}

	o := options{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	r, wfd, err := openPipe()
	if err != nil {
		state.release()
		return nil, err
	}

	c := &core{
		writeFD: wfd,
		read:    r,
		done:    make(chan struct{}),
		log:     o.log,
		obs:     o.obs,
		subs:    make(map[uint64]*mailbox),
	}
	c.refs.Store(1)

	state.publish(wfd)
	go c.dispatch()
	installRelay()

	c.log.Debug("signal bridge started", "write_fd", wfd)
	return newHandle(c), nil
}

// Subscribe returns a new [Receiver] that gets its own copy of every signal
// delivered from now on. It never fails; subscribing through a closed handle
// or to a bridge that has shut down returns a receiver that is already
// disconnected.
func (b *Bridge) Subscribe() *Receiver {
	m := newMailbox()
	c := b.ref.core

	c.mu.Lock()
	if b.ref.released.Load() || c.stopped {
		c.mu.Unlock()
		m.disconnect()
		return newReceiver(m)
	}
	c.nextID++
	c.subs[c.nextID] = m
	n := len(c.subs)
	c.mu.Unlock()

	if c.obs != nil {
		c.obs.Subscribers(n)
	}
	return newReceiver(m)
}

// Clone returns another handle to the same bridge. The bridge shuts down when
// every handle has been closed. Cloning a closed handle returns a closed
// handle.
func (b *Bridge) Clone() *Bridge {
	c := b.ref.core
	if b.ref.released.Load() {
		return closedHandle(c)
	}
	for {
		n := c.refs.Load()
		if n == 0 {
			return closedHandle(c)
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return newHandle(c)
		}
	}
}

func closedHandle(c *core) *Bridge {
	r := &ref{core: c}
	r.released.Store(true)
	return &Bridge{ref: r}
}

// Close releases this handle. Closing the last handle closes the self-pipe
// and returns once the dispatch goroutine has exited and every receiver is
// disconnected. Close is idempotent per handle. It must not be called from an
// [Observer].
func (b *Bridge) Close() error {
	return b.ref.release()
}

// Done returns a channel that is closed once the dispatch goroutine exits.
func (b *Bridge) Done() <-chan struct{} {
	return b.ref.core.done
}

// Subscribers returns the number of registered receivers. Receivers closed or
// collected since the last delivered signal are still counted.
func (b *Bridge) Subscribers() int {
	c := b.ref.core
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Active reports whether a bridge is live in this process.
func Active() bool {
	return state.isActive()
}
