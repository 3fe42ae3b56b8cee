package bridge

import (
	"context"
	"iter"
	"runtime"
)

// ///////////////////////////////////////////////
// Receiver
// ///////////////////////////////////////////////

// Receiver receives signals delivered by a [Bridge]. Obtain one with
// [Bridge.Subscribe]. Each receiver sees every signal delivered after it was
// created, in delivery order, independently of other receivers.
//
// A receiver that is closed or becomes unreachable stops being delivered to;
// the bridge drops it on the next signal.
type Receiver struct {
	box *mailbox
}

func newReceiver(m *mailbox) *Receiver {
	r := &Receiver{box: m}
	runtime.AddCleanup(r, func(m *mailbox) { m.drop() }, m)
	return r
}

// Listen blocks until a signal is available and returns it. Queued signals
// are returned before [ErrDisconnected] is reported.
func (r *Receiver) Listen() (Signal, error) {
	return r.ListenContext(context.Background())
}

// ListenContext is like [Receiver.Listen] but returns ctx.Err() if ctx is
// done first.
func (r *Receiver) ListenContext(ctx context.Context) (Signal, error) {
	defer runtime.KeepAlive(r)
	for {
		s, ok, closed := r.box.take()
		if ok {
			return s, nil
		}
		if closed {
			return 0, ErrDisconnected
		}
		select {
		case <-r.box.ready:
		case <-r.box.gone:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// TryListen returns the next signal without blocking. ok is false when none
// is pending; err is [ErrDisconnected] once no signal can arrive.
func (r *Receiver) TryListen() (sig Signal, ok bool, err error) {
	s, ok, closed := r.box.take()
	switch {
	case ok:
		return s, true, nil
	case closed:
		return 0, false, ErrDisconnected
	default:
		return 0, false, nil
	}
}

// All returns an iterator over received signals. Each call starts a new
// iteration over the same receiver; it ends when the bridge disconnects or
// the loop breaks.
func (r *Receiver) All() iter.Seq[Signal] {
	return func(yield func(Signal) bool) {
		for {
			s, err := r.Listen()
			if err != nil {
				return
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Pending returns the number of queued signals.
func (r *Receiver) Pending() int {
	return r.box.len()
}

// Close unsubscribes r. Pending signals are discarded and later calls report
// [ErrDisconnected].
func (r *Receiver) Close() {
	r.box.drop()
}
