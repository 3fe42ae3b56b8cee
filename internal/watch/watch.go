// Package watch reports changes to a single file, typically config.toml.
//
// The parent directory is watched rather than the file itself, so changes
// made by replacing the file (atomic rename, most editors) are seen. When
// fsnotify is unavailable or fails, the watcher falls back to polling the
// file's modification time and size.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

const (
	// DefaultPollInterval is the stat interval in polling mode.
	DefaultPollInterval = 2 * time.Second
	// DefaultSettle is how long the file must stay quiet before a change is
	// reported, so a burst of writes yields one event after the last.
	DefaultSettle = 150 * time.Millisecond
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher monitors one file for changes.
type Watcher struct {
	path string
	base string
	// events is buffered to 1 so changes made before the consumer reads coalesce.
	events chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// mu guards fsw, which the watch goroutine clears on fallback.
	mu  sync.Mutex
	fsw *fsnotify.Watcher

	polling      atomic.Bool
	pollInterval time.Duration
	settle       time.Duration
}

// Option configures a [Watcher].
type Option func(*Watcher)

// WithPollInterval sets the polling-mode stat interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithSettle sets the quiet period before a change is reported. Zero reports
// every change immediately.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// withPolling forces polling mode.
func withPolling() Option {
	return func(w *Watcher) { w.polling.Store(true) }
}

// New starts watching path. The file does not need to exist yet, but its
// directory must.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}
	dir := filepath.Dir(abs)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("watch directory %s: not accessible", dir)
	}

	w := &Watcher{
		path:         abs,
		base:         filepath.Base(abs),
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: DefaultPollInterval,
		settle:       DefaultSettle,
	}
	for _, opt := range opts {
		opt(w)
	}

	if !w.polling.Load() {
		if fsw, err := w.startNotify(dir); err != nil {
			slog.Info("fsnotify unavailable, falling back to polling", "path", abs, "error", err)
		} else {
			w.fsw = fsw
			w.wg.Add(1)
			go w.watch(fsw)
			return w, nil
		}
	}

	w.polling.Store(true)
	w.wg.Add(1)
	go w.poll()
	return w, nil
}

func (w *Watcher) startNotify(dir string) (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return fsw, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a value after the file changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.fsw != nil {
			if cerr := w.fsw.Close(); cerr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", cerr)
			}
			w.fsw = nil
		}
		w.mu.Unlock()
		w.wg.Wait()
	})
	return err
}

// relevant reports whether ev changes the content seen at w.path.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.base {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// watch forwards fsnotify events for the file after the settle period. On an
// fsnotify error it closes the native watcher and switches to [Watcher.poll].
func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		settled <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if w.settle <= 0 {
				w.notify()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.settle)
			} else {
				timer.Reset(w.settle)
			}
			settled = timer.C
		case <-settled:
			settled = nil
			w.notify()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "path", w.path, "error", err)
			w.mu.Lock()
			if w.fsw != nil {
				w.fsw.Close()
				w.fsw = nil
			}
			w.mu.Unlock()
			w.polling.Store(true)
			w.wg.Add(1)
			go w.poll()
			return
		}
	}
}

// stamp identifies one version of the file for polling.
type stamp struct {
	mod  time.Time
	size int64
	ok   bool
}

func (w *Watcher) stat() stamp {
	info, err := os.Stat(w.path)
	if err != nil {
		return stamp{}
	}
	return stamp{mod: info.ModTime(), size: info.Size(), ok: true}
}

// poll stats the file every pollInterval and notifies when it appears or its
// modification time or size changes. A file that disappears is not a change.
func (w *Watcher) poll() {
	defer w.wg.Done()
	last := w.stat()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			cur := w.stat()
			if !cur.ok {
				continue
			}
			if !last.ok || !cur.mod.Equal(last.mod) || cur.size != last.size {
				last = cur
				w.notify()
			}
		}
	}
}

// notify queues one event unless one is already pending.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
