// Package logger provides structured logging with custom levels and formatting
// for the sigmsg daemon.
//
// Log output format:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2=value2
//
// Custom levels beyond the standard slog set:
//   - LevelTrace (-8): verbose diagnostic tracing
//   - LevelFail  (12): unrecoverable errors
package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Custom Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug // -4
	LevelInfo  slog.Level = slog.LevelInfo  // 0
	LevelWarn  slog.Level = slog.LevelWarn  // 4
	LevelError slog.Level = slog.LevelError // 8
	LevelFail  slog.Level = 12
)

// LevelNames lists the level names accepted by [ParseLevel], lowest first.
var LevelNames = []string{"trace", "debug", "info", "warn", "error", "fail"}

func levelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARN"
	case l <= LevelError:
		return "ERROR"
	default:
		return "FAIL"
	}
}

// ParseLevel converts a level string to slog.Level.
// Supports: trace, debug, info, warn, error, fail (case-insensitive).
// Returns LevelInfo for unrecognized strings.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fail":
		return LevelFail
	default:
		return LevelInfo
	}
}

// KnownLevel reports whether s is one of [LevelNames].
func KnownLevel(s string) bool {
	return slices.Contains(LevelNames, strings.ToLower(strings.TrimSpace(s)))
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

var lineEnding = "\n"

func init() {
	if runtime.GOOS == "windows" {
		lineEnding = "\r\n"
	}
}

// Handler is a slog.Handler that formats log records as:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, ...
//
// The minimum level is read through a [slog.Leveler] on every record, so a
// [*slog.LevelVar] lets the daemon change verbosity on config reload without
// rebuilding the logger.
type Handler struct {
	w  io.Writer
	mu *sync.Mutex
	// level is consulted on every Enabled call.
	level slog.Leveler
	// prefix is the rendered form of attributes added via [Handler.WithAttrs].
	prefix []string
	// group is the dot-separated key prefix set via [Handler.WithGroup].
	group string
}

// NewHandler creates a Handler that writes to w, filtering records below level.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = LevelInfo
	}
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes a log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	buf.WriteString(" [")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	fields := slices.Clone(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.group, a)
		return true
	})
	if len(fields) > 0 {
		buf.WriteString(" | ")
		buf.WriteString(strings.Join(fields, ", "))
	}
	buf.WriteString(lineEnding)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

// appendAttr renders a as "key=value", flattening group values into dotted
// keys. Empty attributes are skipped.
func appendAttr(dst []string, group string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	key := a.Key
	if group != "" && key != "" {
		key = group + "." + key
	} else if key == "" {
		key = group
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			dst = appendAttr(dst, key, ga)
		}
		return dst
	}
	return append(dst, key+"="+a.Value.String())
}

// WithAttrs returns a new Handler with the given attributes pre-applied.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := slices.Clone(h.prefix)
	for _, a := range attrs {
		prefix = appendAttr(prefix, h.group, a)
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, prefix: prefix, group: h.group}
}

// WithGroup returns a new Handler whose later attribute keys are prefixed
// with name (e.g., "group.key").
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, prefix: h.prefix, group: g}
}

// ///////////////////////////////////////////////
// Logger Constructor
// ///////////////////////////////////////////////

// Options configures [NewLogger].
type Options struct {
	// Path is the log file. Rotated copies are kept next to it.
	Path string
	// Level is the minimum level. A *slog.LevelVar makes it adjustable.
	Level slog.Leveler
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
	// MaxAgeDays removes rotated files older than this many days. Zero keeps them.
	MaxAgeDays int
	// Mirror, if set, receives a copy of every line (e.g. os.Stderr).
	Mirror io.Writer
}

// NewLogger creates a slog.Logger that writes to a rotating log file.
// The returned io.Closer must be closed to flush pending writes.
func NewLogger(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Path == "" {
		return nil, nil, errors.New("logger: empty log path")
	}
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	var w io.Writer = lj
	if opts.Mirror != nil {
		w = io.MultiWriter(lj, opts.Mirror)
	}
	return slog.New(NewHandler(w, opts.Level)), lj, nil
}

// ///////////////////////////////////////////////
// Helper Functions
// ///////////////////////////////////////////////

// Trace logs a message at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs a message at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}

// ///////////////////////////////////////////////
// ReadTail
// ///////////////////////////////////////////////

// tailChunk is the block size ReadTail reads backwards from the end.
const tailChunk = 8 << 10

// ReadTail returns the last n lines from the file at path, oldest first.
// The file is read backwards from the end, so cost depends on n rather than on
// the file size.
func ReadTail(path string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}

	var (
		tail []byte
		off  = st.Size()
		buf  = make([]byte, tailChunk)
	)
	// One extra newline is needed when the file ends with one.
	for off > 0 && bytes.Count(bytes.TrimRight(tail, "\r\n"), []byte{'\n'}) < n {
		size := min(int64(tailChunk), off)
		off -= size
		if _, err := f.ReadAt(buf[:size], off); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading log file: %w", err)
		}
		tail = append(slices.Clone(buf[:size]), tail...)
	}

	text := strings.TrimRight(strings.ReplaceAll(string(tail), "\r\n", "\n"), "\n")
	if text == "" {
		return "", nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
