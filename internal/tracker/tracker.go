// Package tracker keeps one document's keynote table in step with the
// keynote file on disk.
//
// A Tracker owns a watch.Watcher on the document's keynote file. The
// watcher only raises a dirty flag; the actual reload happens when the
// host calls Sync from its idle loop, inside a document transaction:
//
//	t := tracker.New(doc, tracker.WithLogger(logger))
//	defer t.Stop()
//
//	for range ticker.C {
//	    t.Sync()
//	}
//
// Nothing in Start, Sync or the watch goroutine ever returns an error to
// the driver or panics through it. Path and watch failures leave the
// tracker inert until Restart; reload and commit failures leave the dirty
// flag set so the next Sync retries.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/keynotes-rtc/keynotes/internal/keynote"
	"github.com/keynotes-rtc/keynotes/internal/watch"
)

// Transaction names the tracking core knows about.
const (
	// ReloadTransactionName names the transaction every reload runs in.
	ReloadTransactionName = "Reload keynote table"

	// SettingsTransactionName names the host transaction that edits a
	// document's keynote settings, and therefore possibly its keynote file.
	SettingsTransactionName = "Keynoting Settings"
)

// State is the tracking state of a document.
type State int

const (
	// Inert means no watch is running.
	Inert State = iota
	// Watching means the keynote file is being watched.
	Watching
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Inert:
		return "inert"
	case Watching:
		return "watching"
	default:
		return "unknown"
	}
}

// SyncResult is what one Sync call did.
type SyncResult int

const (
	// SyncIdle means there was nothing to do.
	SyncIdle SyncResult = iota
	// SyncReloaded means the table was reloaded and committed.
	SyncReloaded
	// SyncFailed means a reload was attempted and failed; it will be
	// retried on the next call.
	SyncFailed
)

// String returns a human-readable representation of the result.
func (r SyncResult) String() string {
	switch r {
	case SyncIdle:
		return "idle"
	case SyncReloaded:
		return "reloaded"
	case SyncFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTranslator sets the model path translator. The default returns
// model paths unchanged.
func WithTranslator(tr PathTranslator) Option {
	return func(t *Tracker) {
		if tr != nil {
			t.translator = tr
		}
	}
}

// WithObserver registers an observer for tracker events.
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.observers = append(t.observers, o)
		}
	}
}

// Tracker watches one document's keynote file and reloads the document's
// keynote table when the file changes.
//
// All methods are safe for concurrent use; they serialize on an internal
// mutex, so Sync never overlaps itself, Stop or Restart.
type Tracker struct {
	host       Host
	translator PathTranslator
	logger     *slog.Logger
	observers  []Observer

	mu          sync.Mutex
	closed      bool
	resource    Resource
	watcher     *watch.Watcher
	state       State
	keynotePath string
	keynoteDir  string
	keynoteFile string
	lastErr     error
	lastFailure string
	failures    int
}

// New creates a tracker for host and immediately tries to start it. A
// failed start is logged and leaves the tracker inert; it is never
// returned.
func New(host Host, opts ...Option) *Tracker {
	t := &Tracker{
		host:       host,
		translator: identityTranslator,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(slog.String("document", host.Path()))

	t.Start()
	return t
}

// Start resolves the keynote file and starts watching it. It is a no-op
// if the tracker is already watching.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start()
}

// Stop stops the watch, blocking until its goroutine has exited, and
// clears the dirty flag. Stop is idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
}

// Close stops tracking for good. After Close, Start, Restart and Sync do
// nothing. Close is idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop()
	t.closed = true
}

// Closed reports whether Close has been called.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Restart stops tracking and starts again, re-resolving the keynote file.
// It is used when the document's keynote settings change.
func (t *Tracker) Restart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.logger.Debug("restarting keynote tracking")
	t.stop()
	t.start()
}

// Sync reloads the keynote table if the file changed since the last
// successful reload. It never panics and never returns an error; the
// result says what happened.
func (t *Tracker) Sync() SyncResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.watcher
	if t.closed || !w.Signal() {
		return SyncIdle
	}

	gen := w.Generation()
	if err := t.reload(); err != nil {
		t.recordFailure(err)
		return SyncFailed
	}

	// Only changes seen before the reload read the file are acknowledged.
	w.ClearThrough(gen)

	if t.failures > 0 {
		t.logger.Info("keynote reload recovered",
			slog.String("keynotes", t.keynotePath),
			slog.Int("failed_attempts", t.failures),
		)
	} else {
		t.logger.Info("keynote table reloaded", slog.String("keynotes", t.keynotePath))
	}
	t.lastFailure = ""
	t.failures = 0
	t.emit(EventReloaded, nil)

	return SyncReloaded
}

// Dirty reports whether the keynote file changed since the last successful
// reload.
func (t *Tracker) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watcher.Signal()
}

// State returns the tracking state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the error that made the last Start fail, or nil.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// KeynotePath returns the keynote file resolved by the last Start, or ""
// if it could not be resolved.
func (t *Tracker) KeynotePath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keynotePath
}

// Document returns the document path.
func (t *Tracker) Document() string { return t.host.Path() }

// ID returns the document identity.
func (t *Tracker) ID() int64 { return t.host.ID() }

func (t *Tracker) start() {
	if t.closed || t.state == Watching {
		return
	}

	t.lastErr = nil
	t.lastFailure = ""
	t.failures = 0

	path, dir, file, err := t.resolve()
	if err != nil {
		t.goInert(err, "could not get keynote file")
		return
	}
	t.keynotePath, t.keynoteDir, t.keynoteFile = path, dir, file

	w, err := watch.Start(dir, file, watch.WithLogger(t.logger))
	if err != nil {
		t.goInert(err, "could not start tracking keynote file")
		return
	}

	t.watcher = w
	t.state = Watching
	t.logger.Info("tracking keynote file", slog.String("keynotes", path))
	t.emit(EventStarted, nil)
}

func (t *Tracker) goInert(err error, msg string) {
	t.lastErr = err
	t.state = Inert
	t.logger.Error(msg,
		slog.String("keynotes", t.keynotePath),
		slog.String("error", err.Error()),
	)
	t.emit(EventInert, err)
}

func (t *Tracker) stop() {
	if t.watcher != nil {
		t.watcher.Clear()
		if err := t.watcher.Stop(); err != nil {
			t.logger.Warn("could not stop keynote watcher",
				slog.String("keynotes", t.keynotePath),
				slog.String("error", err.Error()),
			)
		}
		t.watcher = nil
	}

	if t.state == Watching {
		t.state = Inert
		t.logger.Debug("stopped tracking keynote file", slog.String("keynotes", t.keynotePath))
		t.emit(EventStopped, nil)
	}
}

// resolve derives the keynote file's path, directory and file name.
func (t *Tracker) resolve() (path, dir, file string, err error) {
	doc := t.host.Path()

	res := t.host.Keynotes()
	t.resource = res
	t.keynotePath, t.keynoteDir, t.keynoteFile = "", "", ""

	if res == nil || !res.IsExternalFileBacked() {
		return "", "", "", &PathError{Kind: ErrNotExternal, Document: doc}
	}

	modelPath, err := res.ExternalFilePath()
	if err != nil {
		return "", "", "", &PathError{Kind: ErrEmptyPath, Document: doc, Err: err}
	}
	if strings.TrimSpace(modelPath) == "" {
		return "", "", "", &PathError{Kind: ErrEmptyPath, Document: doc}
	}

	path, err = t.translator.UserVisiblePath(modelPath)
	if err != nil {
		kind := ErrMalformedPath
		if errors.Is(err, ErrEmptyPath) {
			kind = ErrEmptyPath
		}
		return "", "", "", &PathError{Kind: kind, Document: doc, Path: modelPath, Err: err}
	}
	if path == "" {
		return "", "", "", &PathError{Kind: ErrEmptyPath, Document: doc, Path: modelPath}
	}

	dir, file, ok := splitPath(path)
	if !ok {
		return "", "", "", &PathError{Kind: ErrMalformedPath, Document: doc, Path: path}
	}

	return path, dir, file, nil
}

// splitPath splits path at its last separator. Both '/' and the platform
// separator are accepted. It fails when there is no separator or nothing
// follows it.
func splitPath(path string) (dir, file string, ok bool) {
	idx := strings.LastIndexAny(path, "/"+string(os.PathSeparator))
	if idx < 0 || idx == len(path)-1 {
		return "", "", false
	}

	dir = path[:idx]
	if dir == "" {
		dir = path[:1]
	}
	return dir, path[idx+1:], true
}

// reload runs the resource's Reload inside a transaction. Panics from the
// host are recovered and reported as a ReloadError.
func (t *Tracker) reload() (err error) {
	doc := t.host.Path()

	defer func() {
		if r := recover(); r != nil {
			err = &ReloadError{Document: doc, Keynotes: t.keynotePath, Status: keynote.Failure, Panic: r}
		}
	}()

	tx := t.host.NewTransaction()
	defer func() {
		if cerr := tx.Close(); cerr != nil {
			t.logger.Debug("closing reload transaction", slog.String("error", cerr.Error()))
		}
	}()

	if tx.Start(ReloadTransactionName) != TxStarted {
		return &CommitError{Document: doc, Keynotes: t.keynotePath, Stage: StageStart, Err: tx.Err()}
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		if tx.Rollback() != TxRolledBack {
			t.logger.Warn("could not roll back reload transaction", slog.Any("error", tx.Err()))
		}
	}()

	var results keynote.LoadResults
	status := t.resource.Reload(&results)
	if !status.OK() {
		return &ReloadError{
			Document: doc,
			Keynotes: t.keynotePath,
			Status:   status,
			Detail:   results.Summary(3),
		}
	}

	// A failed commit follows the transaction's own rollback semantics.
	finished = true
	if tx.Commit() != TxCommitted {
		return &CommitError{Document: doc, Keynotes: t.keynotePath, Stage: StageCommit, Err: tx.Err()}
	}

	return nil
}

// recordFailure logs a failed attempt. The first occurrence of a failure
// is logged at its own level; identical repeats drop to debug so a
// permanently broken file does not flood the log.
func (t *Tracker) recordFailure(err error) {
	t.failures++
	msg := err.Error()
	repeat := msg == t.lastFailure
	t.lastFailure = msg

	attrs := []any{
		slog.String("keynotes", t.keynotePath),
		slog.String("error", msg),
		slog.Int("attempt", t.failures),
	}

	var commitErr *CommitError
	switch {
	case repeat:
		t.logger.Debug("keynote reload still failing", attrs...)
	case errors.As(err, &commitErr):
		t.logger.Warn(fmt.Sprintf("could not %s reload transaction", commitErr.Stage), attrs...)
	default:
		t.logger.Error("could not reload keynote table", attrs...)
	}

	t.emit(EventFailed, err)
}

func (t *Tracker) emit(typ EventType, err error) {
	if len(t.observers) == 0 {
		return
	}
	e := Event{
		Type:       typ,
		DocumentID: t.host.ID(),
		Document:   t.host.Path(),
		Keynotes:   t.keynotePath,
		Err:        err,
		Time:       time.Now(),
	}
	for _, o := range t.observers {
		t.notify(o, e)
	}
}

// notify delivers e to o. A panicking observer is logged and skipped.
func (t *Tracker) notify(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("tracker observer panicked",
				slog.String("event", string(e.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	o.Notify(e)
}
