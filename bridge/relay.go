package bridge

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ///////////////////////////////////////////////
// Cross-Domain Relay
// ///////////////////////////////////////////////

// relayQueue is the buffer between the runtime's signal handler and the relay
// goroutine. The runtime drops a signal when it is full, as a full self-pipe
// would.
const relayQueue = 64

var relayOnce sync.Once

// installRelay registers [relay] for every catalog signal. It runs once per
// process; handlers then stay installed until exit, and between bridges the
// relay finds no published descriptor and discards what it receives.
//
// [New] calls it only after the pipe is open and the dispatch goroutine is
// running, so no signal arrives before something can read it.
func installRelay() {
	relayOnce.Do(func() {
		ch := make(chan os.Signal, relayQueue)
		sigs := make([]os.Signal, 0, len(catalog))
		for _, e := range catalog {
			sigs = append(sigs, e.num)
		}
		signal.Notify(ch, sigs...)
		go func() {
			for sig := range ch {
				if n, ok := sig.(syscall.Signal); ok {
					relay(int(n))
				}
			}
		}()
	})
}

// relay is the handler body. It reads the published write descriptor and, if
// one is set, writes the signal number as a single byte. It does not allocate,
// lock, or report failure: a write that cannot complete drops the
// notification.
func relay(signum int) {
	state.inflight.Add(1)
	if fd := state.writeFD.Load(); fd >= 0 {
		writeByte(int(fd), byte(signum))
	}
	state.inflight.Add(-1)
}
