package bridge

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// ///////////////////////////////////////////////
// Signal Catalog
// ///////////////////////////////////////////////

// Signal identifies one of the OS signals the bridge forwards.
//
// Signals that cannot be caught (SIGKILL, SIGSTOP), that dump core by default
// (SIGQUIT), or that report a fault in the signaled thread (SIGSEGV, SIGBUS)
// are not part of the catalog and are never installed.
type Signal uint8

// Supported signals. The zero value is not a valid Signal.
const (
	// SIGHUP reports a terminal hang-up or a dead controlling process.
	SIGHUP Signal = iota + 1
	// SIGINT is the interactive interrupt (Ctrl+C).
	SIGINT
	// SIGILL reports an illegal instruction.
	SIGILL
	// SIGABRT is a process abort.
	SIGABRT
	// SIGFPE is a floating-point exception.
	SIGFPE
	// SIGPIPE reports a write to a pipe with no reader.
	SIGPIPE
	// SIGALRM reports an expired alarm timer.
	SIGALRM
	// SIGTERM is a polite termination request.
	SIGTERM
)

// catalogEntry pairs a Signal with its OS number and display name.
type catalogEntry struct {
	sig  Signal
	num  syscall.Signal
	name string
}

// catalog lists every supported signal in declaration order.
var catalog = [...]catalogEntry{
	{SIGHUP, syscall.SIGHUP, "SIGHUP"},
	{SIGINT, syscall.SIGINT, "SIGINT"},
	{SIGILL, syscall.SIGILL, "SIGILL"},
	{SIGABRT, syscall.SIGABRT, "SIGABRT"},
	{SIGFPE, syscall.SIGFPE, "SIGFPE"},
	{SIGPIPE, syscall.SIGPIPE, "SIGPIPE"},
	{SIGALRM, syscall.SIGALRM, "SIGALRM"},
	{SIGTERM, syscall.SIGTERM, "SIGTERM"},
}

// byNumber maps a single-byte OS signal number back to its Signal. Built once
// so the dispatch loop decodes without searching.
var byNumber = func() (t [256]Signal) {
	for _, e := range catalog {
		t[uint8(e.num)] = e.sig
	}
	return t
}()

// All returns every supported Signal in catalog order.
func All() []Signal {
	out := make([]Signal, len(catalog))
	for i, e := range catalog {
		out[i] = e.sig
	}
	return out
}

// FromNumber returns the Signal for an OS signal number. The boolean is false
// for any number outside the catalog.
func FromNumber(n int) (Signal, bool) {
	if n <= 0 || n > 255 {
		return 0, false
	}
	s := byNumber[n]
	return s, s != 0
}

// Parse resolves a signal name to a Signal. It accepts the conventional
// mnemonic with or without the "SIG" prefix, in any case ("SIGHUP", "hup").
func Parse(name string) (Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	for _, e := range catalog {
		if e.name == n {
			return e.sig, nil
		}
	}
	return 0, fmt.Errorf("unsupported signal %q", name)
}

// Valid reports whether s is a member of the catalog.
func (s Signal) Valid() bool {
	return s >= SIGHUP && s <= SIGTERM
}

// Number returns the OS signal number for s, or 0 if s is not valid.
func (s Signal) Number() int {
	if !s.Valid() {
		return 0
	}
	return int(catalog[s-1].num)
}

// OS returns s as an [os.Signal] for use with [os/signal] and [syscall.Kill].
// It returns nil if s is not valid.
func (s Signal) OS() os.Signal {
	if !s.Valid() {
		return nil
	}
	return catalog[s-1].num
}

// String returns the conventional mnemonic, e.g. "SIGHUP".
func (s Signal) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Signal(%d)", uint8(s))
	}
	return catalog[s-1].name
}

// IsTerminating reports whether s conventionally asks the process to stop.
// Consumers use it to decide when to stop listening; the bridge itself does
// not act on it.
func (s Signal) IsTerminating() bool {
	return s == SIGINT || s == SIGTERM
}
