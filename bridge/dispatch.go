package bridge

import (
	"errors"
	"io"
	"log/slog"
)

// ///////////////////////////////////////////////
// Dispatch
// ///////////////////////////////////////////////

// readBufSize bounds how many signal bytes one read can return.
const readBufSize = 64

// dispatch is the only reader of the self-pipe. It decodes each byte and fans
// the signal out to every registered mailbox, in pipe order, until the write
// end is closed. On exit it closes the read end and disconnects every
// remaining mailbox.
func (c *core) dispatch() {
	defer close(c.done)

	buf := make([]byte, readBufSize)
	for {
		n, err := c.read.Read(buf)
		for _, b := range buf[:n] {
			c.deliver(b)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Warn("signal pipe read failed", "error", err)
			}
			break
		}
	}

	if err := c.read.Close(); err != nil {
		c.log.Debug("closing signal pipe read end", "error", err)
	}
	c.disconnectAll()
	c.log.Debug("signal dispatcher stopped")
}

// deliver decodes one byte and pushes the signal to every live mailbox,
// pruning mailboxes whose receiver is gone. Unsupported bytes are skipped.
func (c *core) deliver(b byte) {
	sig, ok := FromNumber(int(b))
	if !ok {
		c.log.Debug("ignoring unsupported signal number", "number", int(b))
		if c.obs != nil {
			c.obs.UnsupportedByte(b)
		}
		return
	}

	c.mu.Lock()
	delivered, pruned := 0, 0
	for id, m := range c.subs {
		if m.push(sig) {
			delivered++
			continue
		}
		delete(c.subs, id)
		pruned++
	}
	remaining := len(c.subs)
	c.mu.Unlock()

	c.log.Debug("signal dispatched", slog.String("signal", sig.String()), slog.Int("receivers", delivered))
	if c.obs != nil {
		c.obs.SignalDelivered(sig, delivered)
		if pruned > 0 {
			c.obs.ReceiversPruned(pruned)
			c.obs.Subscribers(remaining)
		}
	}
}

// disconnectAll closes the registry and disconnects every mailbox in it.
func (c *core) disconnectAll() {
	c.mu.Lock()
	c.stopped = true
	for id, m := range c.subs {
		m.disconnect()
		delete(c.subs, id)
	}
	c.mu.Unlock()
	if c.obs != nil {
		c.obs.Subscribers(0)
	}
}
