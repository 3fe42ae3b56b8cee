package bridge

import (
	"runtime"
	"sync/atomic"
)

// ///////////////////////////////////////////////
// Process-Wide State
// ///////////////////////////////////////////////

// instanceGuard is the only process-wide mutable state of the package. Its
// lifetime is one active handle chain: [New] acquires it and the last
// [Bridge.Close] resets it.
//
// The relay reads writeFD with no other reference to the bridge, so the
// descriptor lives here rather than on the bridge.
type instanceGuard struct {
	// active is set while a bridge exists.
	active atomic.Bool
	// writeFD is the published write end of the self-pipe, -1 when none.
	writeFD atomic.Int32
	// inflight counts relay calls between loading writeFD and finishing the write.
	inflight atomic.Int32
}

// state is the process-wide guard.
var state = newInstanceGuard()

func newInstanceGuard() *instanceGuard {
	g := &instanceGuard{}
	g.writeFD.Store(-1)
	return g
}

// acquire marks a bridge active. It reports false if one already is.
func (g *instanceGuard) acquire() bool {
	return g.active.CompareAndSwap(false, true)
}

// release returns the guard to the uninitialized state.
func (g *instanceGuard) release() {
	g.writeFD.Store(-1)
	g.active.Store(false)
}

// publish makes fd visible to the relay.
func (g *instanceGuard) publish(fd int) {
	g.writeFD.Store(int32(fd))
}

// retract hides the write descriptor from the relay and waits until no relay
// call that may have loaded the old value is still running. After retract
// returns the descriptor can be closed without a relay writing to it.
//
// The relay increments inflight before loading writeFD, so once inflight is
// observed at zero after the store, any later relay call loads -1.
func (g *instanceGuard) retract() {
	g.writeFD.Store(-1)
	for g.inflight.Load() != 0 {
		runtime.Gosched()
	}
}

// isActive reports whether a bridge currently holds the guard.
func (g *instanceGuard) isActive() bool {
	return g.active.Load()
}
