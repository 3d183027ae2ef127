// Package registry owns one tracker per open document and drives them.
//
// The registry:
// 1. Creates a tracker when a document is opened
// 2. Stops and drops it, synchronously, when the document closes
// 3. Restarts it when the document's keynote settings change
// 4. Syncs every tracker, one at a time, on each idle tick
package registry

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/keynotes-rtc/keynotes/internal/tracker"
)

// SettingsChanged is the transaction name that makes Changed restart a
// document's tracker.
const SettingsChanged = tracker.SettingsTransactionName

// DefaultIdleInterval is how often Run syncs when no interval is given.
const DefaultIdleInterval = 500 * time.Millisecond

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. It is also handed to every tracker.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTrackerOptions adds options applied to every tracker the registry
// creates.
func WithTrackerOptions(opts ...tracker.Option) Option {
	return func(r *Registry) {
		r.trackerOpts = append(r.trackerOpts, opts...)
	}
}

// WithIdleHook registers a function run at the start of every idle tick,
// before any tracker is synced.
func WithIdleHook(hook func(ctx context.Context)) Option {
	return func(r *Registry) {
		if hook != nil {
			r.hooks = append(r.hooks, hook)
		}
	}
}

// Registry maps document identities to their trackers. It is safe for
// concurrent use.
type Registry struct {
	logger      *slog.Logger
	trackerOpts []tracker.Option
	hooks       []func(ctx context.Context)

	mu       sync.Mutex
	trackers map[int64]*tracker.Tracker

	// idleMu keeps idle ticks from overlapping each other.
	idleMu sync.Mutex
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:   slog.Default(),
		trackers: make(map[int64]*tracker.Tracker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Opened starts tracking a newly opened document. If the document is
// already tracked its old tracker is stopped and replaced.
func (r *Registry) Opened(host tracker.Host) *tracker.Tracker {
	opts := append([]tracker.Option{tracker.WithLogger(r.logger)}, r.trackerOpts...)
	t := tracker.New(host, opts...)

	r.mu.Lock()
	old := r.trackers[host.ID()]
	r.trackers[host.ID()] = t
	r.mu.Unlock()

	if old != nil {
		r.logger.Warn("document opened twice, replacing tracker",
			slog.String("document", host.Path()),
			slog.Int64("id", host.ID()),
		)
		old.Close()
	}

	r.logger.Debug("document opened",
		slog.String("document", host.Path()),
		slog.String("state", t.State().String()),
	)
	return t
}

// Closing stops tracking a document for good. It blocks until the watch
// goroutine has exited, and a Changed racing with it cannot restart the
// tracker. It reports whether the document was tracked.
func (r *Registry) Closing(id int64) bool {
	r.mu.Lock()
	t, ok := r.trackers[id]
	delete(r.trackers, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	t.Close()
	r.logger.Debug("document closed", slog.String("document", t.Document()))
	return true
}

// Changed handles a document change notification carrying the names of
// the committed transactions. A SettingsChanged name restarts the
// document's tracker. It reports whether a restart happened.
func (r *Registry) Changed(id int64, names []string) bool {
	if !slices.Contains(names, SettingsChanged) {
		return false
	}

	t := r.Get(id)
	if t == nil {
		return false
	}

	r.logger.Info("keynote settings changed, restarting tracking",
		slog.String("document", t.Document()),
	)
	t.Restart()
	return !t.Closed()
}

// IdleReport counts what one idle tick did.
type IdleReport struct {
	Tracked  int
	Reloaded int
	Failed   int
}

// Idle syncs every tracker once, sequentially, in document order.
func (r *Registry) Idle(ctx context.Context) IdleReport {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()

	for _, hook := range r.hooks {
		hook(ctx)
	}

	var report IdleReport
	for _, t := range r.list() {
		if ctx.Err() != nil {
			break
		}
		report.Tracked++
		switch t.Sync() {
		case tracker.SyncReloaded:
			report.Reloaded++
		case tracker.SyncFailed:
			report.Failed++
		}
	}
	return report
}

// Run calls Idle every interval until ctx is cancelled. Trackers stay
// registered when Run returns; call Close to stop them.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultIdleInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Debug("idle loop started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("idle loop stopped")
			return nil

		case <-ticker.C:
			report := r.Idle(ctx)
			if report.Reloaded > 0 || report.Failed > 0 {
				r.logger.Debug("idle tick",
					slog.Int("tracked", report.Tracked),
					slog.Int("reloaded", report.Reloaded),
					slog.Int("failed", report.Failed),
				)
			}
		}
	}
}

// Get returns the tracker for a document, or nil.
func (r *Registry) Get(id int64) *tracker.Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackers[id]
}

// Len returns the number of tracked documents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Status describes one tracked document.
type Status struct {
	ID        int64  `json:"id" yaml:"id"`
	Document  string `json:"document" yaml:"document"`
	Keynotes  string `json:"keynotes,omitempty" yaml:"keynotes,omitempty"`
	State     string `json:"state" yaml:"state"`
	Dirty     bool   `json:"dirty" yaml:"dirty"`
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Snapshot returns the status of every tracked document in document order.
func (r *Registry) Snapshot() []Status {
	trackers := r.list()
	out := make([]Status, 0, len(trackers))
	for _, t := range trackers {
		s := Status{
			ID:       t.ID(),
			Document: t.Document(),
			Keynotes: t.KeynotePath(),
			State:    t.State().String(),
			Dirty:    t.Dirty(),
		}
		if err := t.LastError(); err != nil {
			s.LastError = err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Close stops and drops every tracker.
func (r *Registry) Close() {
	r.mu.Lock()
	trackers := r.trackers
	r.trackers = make(map[int64]*tracker.Tracker)
	r.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}
}

// list returns the trackers sorted by document identity.
func (r *Registry) list() []*tracker.Tracker {
	r.mu.Lock()
	out := make([]*tracker.Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
