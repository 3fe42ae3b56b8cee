//go:build unix

package main

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"tools.zach/dev/sigmsg/internal/config"
	"tools.zach/dev/sigmsg/internal/logger"
)

func raise(t *testing.T, sig unix.Signal) {
	t.Helper()
	if err := unix.Kill(os.Getpid(), sig); err != nil {
		t.Fatalf("kill(%v) error: %v", sig, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// startDaemon runs a daemon on a temp data dir with the given config body.
func startDaemon(t *testing.T, body string) (*daemon, *lockedBuffer, <-chan struct{}) {
	t.Helper()
	dp := DataPaths{Root: t.TempDir()}
	writeConfig(t, dp, body)
	cfg, err := config.Load(dp.Root)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	out := &lockedBuffer{}
	d, err := newDaemon(dp, cfg, level, slog.New(logger.NewHandler(out, level)))
	if err != nil {
		t.Fatalf("newDaemon() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		d.run()
		close(done)
	}()
	return d, out, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
}

// ///////////////////////////////////////////////
// Daemon Tests
// ///////////////////////////////////////////////

func TestDaemon_HangupReloadsAndTermExits(t *testing.T) {
	d, out, done := startDaemon(t, `version = 2
[watch]
reload_on_change = false
subscribers = 2
`)

	writeConfig(t, d.paths, `version = 2
[log]
level = "debug"
[watch]
reload_on_change = false
subscribers = 2
`)
	raise(t, unix.SIGHUP)
	waitFor(t, "reload", func() bool { return d.level.Level() == slog.LevelDebug })

	raise(t, unix.SIGTERM)
	waitDone(t, done)
	if err := d.close(); err != nil {
		t.Errorf("close() error: %v", err)
	}

	log := out.String()
	for _, want := range []string{"signal=SIGHUP", "subscriber=1", "config reloaded", "received shutdown signal"} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}
}

func TestDaemon_FilteredSignalNotLogged(t *testing.T) {
	d, out, done := startDaemon(t, `version = 2
[watch]
include = ["SIGTERM"]
reload_on_change = false
`)

	raise(t, unix.SIGALRM)
	raise(t, unix.SIGTERM)
	waitDone(t, done)
	if err := d.close(); err != nil {
		t.Errorf("close() error: %v", err)
	}

	log := out.String()
	if strings.Contains(log, "signal=SIGALRM") {
		t.Errorf("filtered signal was logged:\n%s", log)
	}
	if !strings.Contains(log, "signal=SIGTERM") {
		t.Errorf("selected signal missing:\n%s", log)
	}
}

func TestDaemon_StaysUpWithoutExitOnTerminating(t *testing.T) {
	d, _, done := startDaemon(t, `version = 2
[watch]
exit_on_terminating = false
reload_on_change = false
`)

	raise(t, unix.SIGINT)
	select {
	case <-done:
		t.Fatal("run returned on SIGINT with exit_on_terminating = false")
	case <-time.After(100 * time.Millisecond):
	}

	if err := d.bridge.Close(); err != nil {
		t.Fatalf("bridge Close() error: %v", err)
	}
	waitDone(t, done)
	if err := d.close(); err != nil {
		t.Errorf("close() error: %v", err)
	}
}

func TestDaemon_FileChangeReloads(t *testing.T) {
	d, _, done := startDaemon(t, "version = 2\n")

	writeConfig(t, d.paths, "version = 2\n[log]\nlevel = \"warn\"\n")
	deadline := time.Now().Add(5 * time.Second)
	for d.level.Level() != slog.LevelWarn {
		if time.Now().After(deadline) {
			t.Fatal("config change on disk was not applied")
		}
		time.Sleep(20 * time.Millisecond)
	}

	raise(t, unix.SIGTERM)
	waitDone(t, done)
	if err := d.close(); err != nil {
		t.Errorf("close() error: %v", err)
	}
}
