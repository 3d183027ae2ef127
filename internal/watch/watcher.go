// Package watch observes a single keynote file and exposes a level-triggered
// "changed since last check" signal.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Common errors returned by Start. Use errors.Is to test a *WatchError
// against them.
var (
	// ErrNotFound is returned when the directory or the file does not
	// exist at the time the watch is started.
	ErrNotFound = errors.New("watch target not found")

	// ErrStartFailed is returned for every other platform failure
	// (permissions, inotify limits, descriptor exhaustion).
	ErrStartFailed = errors.New("watch failed to start")
)

// WatchError describes why a watch could not be started.
type WatchError struct {
	// Kind is ErrNotFound or ErrStartFailed.
	Kind error
	// Path is the file the caller asked to watch.
	Path string
	// Err is the underlying cause, if any.
	Err error
}

func (e *WatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

// Is reports whether target is the error kind of e.
func (e *WatchError) Is(target error) bool { return target == e.Kind }

func (e *WatchError) Unwrap() error { return e.Err }

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger used for watcher errors reported by the
// platform after the watch has started.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher watches one (directory, filename) pair.
//
// The directory is registered with fsnotify rather than the file so that
// editors which save by writing a temporary file and renaming it over the
// original are still observed. Only Write and Create events whose name is
// the watched file count as changes.
//
// Every observed change bumps a generation counter; Signal reports whether
// the counter has moved past the last acknowledged generation. Any number
// of writes between two checks therefore collapses into one true reading.
type Watcher struct {
	dir  string
	file string
	path string

	fsw    *fsnotify.Watcher
	logger *slog.Logger

	observed atomic.Uint64
	acked    atomic.Uint64

	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Start begins watching dir/file. It fails with ErrNotFound if either does
// not exist and with ErrStartFailed for any other error. On failure no
// goroutine is left running.
func Start(dir, file string, opts ...Option) (*Watcher, error) {
	path := filepath.Join(dir, file)

	if err := checkTarget(dir, path); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &WatchError{Kind: ErrStartFailed, Path: path, Err: err}
	}

	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		kind := ErrStartFailed
		if errors.Is(err, fs.ErrNotExist) {
			kind = ErrNotFound
		}
		return nil, &WatchError{Kind: kind, Path: path, Err: err}
	}

	w := &Watcher{
		dir:     dir,
		file:    file,
		path:    filepath.Clean(path),
		fsw:     fsw,
		logger:  slog.Default(),
		done:    make(chan struct{}),
		running: true,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// checkTarget verifies that dir is a directory and path exists.
func checkTarget(dir, path string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &WatchError{Kind: ErrNotFound, Path: path, Err: err}
	case err != nil:
		return &WatchError{Kind: ErrStartFailed, Path: path, Err: err}
	case !info.IsDir():
		return &WatchError{Kind: ErrNotFound, Path: path, Err: fmt.Errorf("%s is not a directory", dir)}
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &WatchError{Kind: ErrNotFound, Path: path, Err: err}
		}
		return &WatchError{Kind: ErrStartFailed, Path: path, Err: err}
	}

	return nil
}

// Path returns the watched file path.
func (w *Watcher) Path() string { return w.path }

// Signal reports whether the file has been written since the last Clear.
func (w *Watcher) Signal() bool {
	if w == nil {
		return false
	}
	return w.observed.Load() > w.acked.Load()
}

// Generation returns the number of changes observed so far. Pass it to
// ClearThrough after acting on the file content read at that point.
func (w *Watcher) Generation() uint64 {
	if w == nil {
		return 0
	}
	return w.observed.Load()
}

// Clear resets the signal. Call it only after the change has been
// durably handled.
func (w *Watcher) Clear() {
	if w == nil {
		return
	}
	w.ClearThrough(w.observed.Load())
}

// ClearThrough acknowledges every change up to and including generation
// gen. Changes observed after gen keep the signal set.
func (w *Watcher) ClearThrough(gen uint64) {
	if w == nil {
		return
	}
	for {
		cur := w.acked.Load()
		if gen <= cur || w.acked.CompareAndSwap(cur, gen) {
			return
		}
	}
}

// Stop closes the platform watch and blocks until the event goroutine has
// exited. Calling Stop on a stopped or nil watcher is a no-op.
func (w *Watcher) Stop() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	err := w.fsw.Close()

	w.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close watcher for %s: %w", w.path, err)
	}
	return nil
}

// Running reports whether the event goroutine is live.
func (w *Watcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// processEvents blocks on fsnotify until a matching change arrives or
// Stop is called.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.matches(event) {
				w.observed.Add(1)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("keynote watcher error",
				slog.String("path", w.path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// matches reports whether event is a write-class change to the watched file.
func (w *Watcher) matches(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}
