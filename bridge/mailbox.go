package bridge

import (
	"sync"
	"sync/atomic"
)

// mailbox is one subscriber's delivery endpoint: an unbounded FIFO so that
// fan-out never blocks the dispatch goroutine.
type mailbox struct {
	mu    sync.Mutex
	queue []Signal
	// disconnected is set once the sending side is gone.
	disconnected bool
	// ready holds at most one wake-up for blocked listeners.
	ready chan struct{}
	// gone is closed on disconnect.
	gone chan struct{}
	// dropped is set when the Receiver is closed or collected.
	dropped atomic.Bool
}

func newMailbox() *mailbox {
	return &mailbox{
		ready: make(chan struct{}, 1),
		gone:  make(chan struct{}),
	}
}

// push appends s. It reports false if the receiving side has been dropped,
// telling the dispatcher to prune this mailbox.
func (m *mailbox) push(s Signal) bool {
	if m.dropped.Load() {
		return false
	}
	m.mu.Lock()
	m.queue = append(m.queue, s)
	m.mu.Unlock()
	m.wake()
	return true
}

// take pops the oldest queued signal. When nothing is queued, closed reports
// whether no more signals can ever arrive.
func (m *mailbox) take() (s Signal, ok, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped.Load() {
		return 0, false, true
	}
	if len(m.queue) == 0 {
		return 0, false, m.disconnected
	}
	s = m.queue[0]
	m.queue = m.queue[1:]
	if len(m.queue) == 0 {
		m.queue = nil
	} else {
		// Another listener may be waiting on the same receiver.
		m.wake()
	}
	return s, true, false
}

// len returns the number of queued signals.
func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *mailbox) wake() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// disconnect marks the sending side gone. Idempotent.
func (m *mailbox) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.disconnected {
		m.disconnected = true
		close(m.gone)
	}
}

// drop marks the receiving side gone and discards queued signals.
func (m *mailbox) drop() {
	m.dropped.Store(true)
	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()
	m.wake()
}
