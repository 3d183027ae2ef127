// Package document implements the host document that keynote tracking runs
// against.
//
// A document is a single SQLite file opened through the ncruces/go-sqlite3
// driver in WAL mode:
//
//   - settings: key/value pairs, including the keynote file binding
//   - keynotes: the committed rows of the document's keynote table
//
// Every change goes through a named Transaction. Listeners registered with
// OnChanged receive the names of committed transactions, which is how the
// registry learns that a document's keynote settings changed.
package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/keynotes-rtc/keynotes/internal/keynote"
	"github.com/keynotes-rtc/keynotes/internal/tracker"
)

// Settings keys.
const (
	settingKeynoteFile   = "keynote_file"
	settingKeynoteDigest = "keynote_digest"
)

var (
	// ErrClosed is returned by operations on a closed document.
	ErrClosed = errors.New("document is closed")

	// ErrTransactionActive is returned when a transaction is started while
	// another one is still open on the same document.
	ErrTransactionActive = errors.New("another transaction is active")

	// ErrNoTransaction is returned when the keynote table is reloaded
	// outside a transaction.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrNoKeynoteFile is returned when the document has no keynote file.
	ErrNoKeynoteFile = errors.New("document has no keynote file")
)

// nextID hands out document identities for this process.
var nextID atomic.Int64

// ChangeFunc receives the names of the transactions a document committed.
type ChangeFunc func(id int64, names []string)

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the document logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Document) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Document is an open keynoted document.
type Document struct {
	id     int64
	path   string
	logger *slog.Logger
	table  *keynote.Table

	mu         sync.Mutex
	conn       *sql.DB
	active     *Transaction
	keynoteRef string
	listeners  []listener
	nextToken  int
}

type listener struct {
	token int
	fn    ChangeFunc
}

// Open opens the document at path, creating it and its schema if needed.
//
// The caller MUST call Close when done.
func Open(path string, opts ...Option) (*Document, error) {
	return OpenContext(context.Background(), path, opts...)
}

// OpenContext opens a document with context support.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document path %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping document: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	d := &Document{
		id:     nextID.Add(1),
		path:   abs,
		logger: slog.Default(),
		conn:   conn,
	}
	for _, opt := range opts {
		opt(d)
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := d.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := d.load(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return d, nil
}

func (d *Document) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS keynotes (
		position INTEGER PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		text TEXT NOT NULL,
		parent TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_keynotes_parent ON keynotes(parent);
	`

	if _, err := d.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// load reads the committed binding and rows into memory.
func (d *Document) load(ctx context.Context) error {
	ref, err := d.setting(ctx, settingKeynoteFile)
	if err != nil {
		return err
	}
	digest, err := d.setting(ctx, settingKeynoteDigest)
	if err != nil {
		return err
	}
	entries, err := d.readEntries(ctx)
	if err != nil {
		return err
	}

	d.keynoteRef = ref
	d.table = keynote.NewTable(entries, digest)
	return nil
}

// Close closes the document. A transaction still open is rolled back.
func (d *Document) Close() error {
	d.mu.Lock()
	conn := d.conn
	active := d.active
	d.conn = nil
	d.active = nil
	d.mu.Unlock()

	if conn == nil {
		return nil
	}

	if active != nil {
		active.abandon()
	}

	if _, err := conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		d.logger.Warn("failed to checkpoint WAL",
			slog.String("document", d.path),
			slog.String("error", err.Error()),
		)
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close document: %w", err)
	}
	return nil
}

// ID returns the process-unique identity assigned when the document was
// opened.
func (d *Document) ID() int64 { return d.id }

// Path returns the absolute path of the document file.
func (d *Document) Path() string { return d.path }

// Keynotes returns the document's keynote table resource.
func (d *Document) Keynotes() tracker.Resource { return &keynoteResource{doc: d} }

// NewTransaction returns an unstarted transaction on the document.
func (d *Document) NewTransaction() tracker.Transaction {
	return d.newTransaction(context.Background())
}

func (d *Document) newTransaction(ctx context.Context) *Transaction {
	return &Transaction{doc: d, ctx: ctx}
}

// Table returns the in-memory keynote table. It changes when a reload
// commits or when Poll finds rows committed by another process.
func (d *Document) Table() *keynote.Table { return d.table }

// KeynoteReference returns the stored model path of the keynote file, or
// "" when the document has none.
func (d *Document) KeynoteReference() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keynoteRef
}

// KeynoteFile returns the user-visible path of the keynote file.
func (d *Document) KeynoteFile() (string, error) {
	ref := d.KeynoteReference()
	if ref == "" {
		return "", ErrNoKeynoteFile
	}
	return TranslatePath(ref)
}

// SetKeynoteFile binds the document to the keynote file at path and loads
// it, in one transaction named tracker.SettingsTransactionName. An empty
// path removes the binding and keeps the current rows.
func (d *Document) SetKeynoteFile(ctx context.Context, path string) error {
	var (
		ref  string
		snap *keynote.Snapshot
	)
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve keynote file %s: %w", path, err)
		}

		var results keynote.LoadResults
		snap, err = keynote.Read(abs, &results)
		if err != nil {
			if results.HasErrors() {
				return fmt.Errorf("%w: %s", err, results.Summary(10))
			}
			return err
		}
		ref = ModelPath(abs)
	}

	tx := d.newTransaction(ctx)
	defer tx.Close()

	if tx.Start(tracker.SettingsTransactionName) != tracker.TxStarted {
		return tx.Err()
	}

	if err := tx.putSetting(settingKeynoteFile, ref); err != nil {
		return err
	}
	if snap != nil {
		if err := tx.replaceKeynotes(snap); err != nil {
			return err
		}
	}

	tx.onCommit(func() {
		d.mu.Lock()
		d.keynoteRef = ref
		d.mu.Unlock()
		if snap != nil {
			d.table.Replace(snap)
		}
	})

	if tx.Commit() != tracker.TxCommitted {
		return tx.Err()
	}

	d.logger.Info("keynote file bound",
		slog.String("document", d.path),
		slog.String("keynotes", ref),
	)
	return nil
}

// Entries reads the committed keynote rows in file order.
func (d *Document) Entries(ctx context.Context) ([]keynote.Entry, error) {
	return d.readEntries(ctx)
}

// OnChanged registers fn to be called after every commit. The returned
// function removes the registration.
func (d *Document) OnChanged(fn ChangeFunc) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextToken++
	token := d.nextToken
	d.listeners = append(d.listeners, listener{token: token, fn: fn})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, l := range d.listeners {
			if l.token == token {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

func (d *Document) notify(names []string) {
	d.mu.Lock()
	fns := make([]ChangeFunc, 0, len(d.listeners))
	for _, l := range d.listeners {
		fns = append(fns, l.fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(d.id, names)
	}
}

// Poll picks up changes committed to the document file by another
// process. A changed keynote binding is announced to listeners as a
// tracker.SettingsTransactionName commit; rows reloaded elsewhere replace
// the in-memory table. It reports whether the binding changed. Poll does
// nothing while a transaction is open.
func (d *Document) Poll(ctx context.Context) (bool, error) {
	if err := d.checkOpen(); err != nil {
		return false, err
	}

	ref, err := d.setting(ctx, settingKeynoteFile)
	if err != nil {
		return false, err
	}
	digest, err := d.setting(ctx, settingKeynoteDigest)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	if d.active != nil {
		d.mu.Unlock()
		return false, nil
	}
	changed := ref != d.keynoteRef
	d.keynoteRef = ref
	d.mu.Unlock()

	if digest != d.table.Digest() {
		entries, err := d.readEntries(ctx)
		if err != nil {
			return false, err
		}
		d.table.Replace(&keynote.Snapshot{Digest: digest, Entries: entries})
		d.logger.Debug("keynote rows changed on disk", slog.String("document", d.path))
	}

	if changed {
		d.logger.Info("keynote binding changed on disk",
			slog.String("document", d.path),
			slog.String("keynotes", ref),
		)
		d.notify([]string{tracker.SettingsTransactionName})
	}
	return changed, nil
}

func (d *Document) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return ErrClosed
	}
	return nil
}

func (d *Document) db() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil, ErrClosed
	}
	return d.conn, nil
}

func (d *Document) setting(ctx context.Context, key string) (string, error) {
	conn, err := d.db()
	if err != nil {
		return "", err
	}

	var value string
	err = conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

func (d *Document) readEntries(ctx context.Context) ([]keynote.Entry, error) {
	conn, err := d.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT key, text, parent FROM keynotes ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query keynotes: %w", err)
	}
	defer rows.Close()

	var entries []keynote.Entry
	for rows.Next() {
		var e keynote.Entry
		if err := rows.Scan(&e.Key, &e.Text, &e.Parent); err != nil {
			return nil, fmt.Errorf("failed to scan keynote: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keynotes: %w", err)
	}
	return entries, nil
}
