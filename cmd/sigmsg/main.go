// Package main implements the sigmsg daemon, which subscribes to the process
// signal bridge and reports every selected signal to its log, a Prometheus
// endpoint, and an optional webhook.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	rootpkg "tools.zach/dev/sigmsg"
	"tools.zach/dev/sigmsg/internal/atomicfile"
	"tools.zach/dev/sigmsg/internal/config"
	"tools.zach/dev/sigmsg/internal/logger"
	"tools.zach/dev/sigmsg/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//
//	-X main.version=0.1.0
//
// When ldflags are not set, resolveVersion reads the VCS info that Go embeds
// automatically.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and dirty
// state are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token proving ownership of the
// PID file, so [removePID] only deletes a file this instance wrote.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID opens the PID file, takes the advisory lock and writes
// "PID:TOKEN". The returned handle holds the lock and must stay open until
// [removePID].
func writePID(dp DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dp.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	fail := func(step string, err error) (*os.File, error) {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("%s PID file: %w", step, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d:%s", os.Getpid(), token)); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	return f, nil
}

// readPID parses a "PID:TOKEN" file body. Either part may be empty.
func readPID(data []byte) (pid int, token string) {
	head, tail, _ := strings.Cut(strings.TrimSpace(string(data)), ":")
	pid, _ = strconv.Atoi(head)
	return pid, tail
}

// removePID releases the lock and deletes the PID file if it still carries
// token.
func removePID(dp DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dp.PID())
	if err != nil {
		return
	}
	if _, tok := readPID(data); tok == token {
		os.Remove(dp.PID())
	}
}

// checkStalePID reports whether another daemon holds the PID lock. A file
// whose lock can be taken belongs to a dead process and is removed.
func checkStalePID(dp DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dp.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dp.PID())
		f.Close()
		pid, _ := readPID(data)
		return true, pid
	}

	_ = unlockFile(f)
	f.Close()
	os.Remove(dp.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Setup
// ///////////////////////////////////////////////

// defaultDataDir returns ~/.sigmsg, or ./.sigmsg when the home directory
// cannot be determined.
func defaultDataDir() string {
	dp, err := paths.Default()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return dp.Root
}

// writeDefaultConfig writes the embedded default config unless a config file
// already exists.
func writeDefaultConfig(dp DataPaths) (bool, error) {
	if _, err := os.Stat(dp.Config()); !os.IsNotExist(err) {
		return false, nil
	}
	if err := atomicfile.Write(dp.Config(), rootpkg.DefaultConfigTOML, 0o644); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// loggerOptions maps the [log] section onto logger options. level is shared
// with the daemon so reloads can change it in place.
func loggerOptions(dp DataPaths, cfg *config.Config, level *slog.LevelVar) logger.Options {
	level.Set(logger.ParseLevel(cfg.Log.Level))
	return logger.Options{
		Path:       dp.Log(),
		Level:      level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, PID file, and logs")
	tail := flag.Int("tail", 0, "Print the last N log lines and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	mirror := flag.Bool("stderr", false, "Also write log lines to stderr")
	flag.Parse()

	dp := DataPaths{Root: *dataDir}

	if *showVersion {
		fmt.Println(paths.BinaryName, resolveVersion())
		return
	}

	if *tail > 0 {
		out, err := logger.ReadTail(dp.Log(), *tail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: read log: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(out)
		return
	}

	os.Exit(start(dp, *mirror))
}

// start prepares the data directory, config, logger and PID lock, then runs
// the daemon. It returns the process exit code.
func start(dp DataPaths, mirror bool) int {
	if err := dp.Ensure(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	if alive, pid := checkStalePID(dp); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		return 1
	}

	if _, err := writeDefaultConfig(dp); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cfg, err := config.Load(dp.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	opts := loggerOptions(dp, cfg, level)
	if mirror {
		opts.Mirror = os.Stderr
	}
	log, logCloser, err := logger.NewLogger(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("sigmsg starting", "version", resolveVersion(), "data_dir", dp.Root, "pid", os.Getpid())

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		return 1
	}
	defer removePID(dp, token, pidFile)

	d, err := newDaemon(dp, cfg, level, log)
	if err != nil {
		slog.Error("failed to start daemon", "error", err)
		return 1
	}
	d.run()
	if err := d.close(); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	slog.Info("sigmsg stopped")
	return 0
}
