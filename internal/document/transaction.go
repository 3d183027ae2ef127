package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keynotes-rtc/keynotes/internal/keynote"
	"github.com/keynotes-rtc/keynotes/internal/tracker"
)

var errNotStarted = errors.New("transaction not started")

// Transaction is a named unit of change against a Document, backed by a
// sql.Tx. At most one transaction is active per document.
//
// In-memory state staged with onCommit is applied only after the SQL
// commit succeeds, so a rolled back transaction leaves the document as it
// was.
type Transaction struct {
	doc *Document
	ctx context.Context

	name    string
	tx      *sql.Tx
	started bool
	done    bool
	err     error
	hooks   []func()
}

var _ tracker.Transaction = (*Transaction)(nil)

// Start begins the transaction under name.
func (t *Transaction) Start(name string) tracker.TxStatus {
	if t.started {
		t.err = fmt.Errorf("transaction %q already started", t.name)
		return tracker.TxFailed
	}

	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		t.err = ErrClosed
		return tracker.TxFailed
	}
	if d.active != nil {
		t.err = fmt.Errorf("cannot start %q while %q is open: %w", name, d.active.name, ErrTransactionActive)
		return tracker.TxFailed
	}

	tx, err := d.conn.BeginTx(t.ctx, nil)
	if err != nil {
		t.err = fmt.Errorf("failed to begin transaction %q: %w", name, err)
		return tracker.TxFailed
	}

	t.name = name
	t.tx = tx
	t.started = true
	d.active = t
	return tracker.TxStarted
}

// Commit commits the transaction, applies staged in-memory state and
// notifies the document's change listeners.
func (t *Transaction) Commit() tracker.TxStatus {
	if !t.started || t.done {
		t.err = errNotStarted
		return tracker.TxFailed
	}
	t.done = true

	err := t.tx.Commit()
	t.doc.release(t)
	if err != nil {
		t.err = fmt.Errorf("failed to commit transaction %q: %w", t.name, err)
		return tracker.TxFailed
	}

	for _, hook := range t.hooks {
		hook()
	}
	t.doc.notify([]string{t.name})
	return tracker.TxCommitted
}

// Rollback abandons the transaction.
func (t *Transaction) Rollback() tracker.TxStatus {
	if !t.started || t.done {
		t.err = errNotStarted
		return tracker.TxFailed
	}
	t.done = true

	err := t.tx.Rollback()
	t.doc.release(t)
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.err = fmt.Errorf("failed to roll back transaction %q: %w", t.name, err)
		return tracker.TxFailed
	}
	return tracker.TxRolledBack
}

// Close rolls back a transaction that was started but not finished. It is
// safe to call on every path.
func (t *Transaction) Close() error {
	if !t.started || t.done {
		return nil
	}
	if t.Rollback() != tracker.TxRolledBack {
		return t.err
	}
	return nil
}

// Err returns the cause of the last failed step.
func (t *Transaction) Err() error { return t.err }

// Name returns the name the transaction was started with.
func (t *Transaction) Name() string { return t.name }

// abandon rolls back without touching the document, for Close.
func (t *Transaction) abandon() {
	if t.started && !t.done {
		t.done = true
		_ = t.tx.Rollback()
	}
}

func (t *Transaction) onCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *Transaction) putSetting(key, value string) error {
	if !t.started || t.done {
		return errNotStarted
	}

	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := t.tx.ExecContext(t.ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// replaceKeynotes swaps every keynote row for the snapshot's entries and
// records its digest.
func (t *Transaction) replaceKeynotes(snap *keynote.Snapshot) error {
	if !t.started || t.done {
		return errNotStarted
	}

	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM keynotes`); err != nil {
		return fmt.Errorf("failed to clear keynotes: %w", err)
	}

	stmt, err := t.tx.PrepareContext(t.ctx, `INSERT INTO keynotes (position, key, text, parent) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare keynote insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range snap.Entries {
		if _, err := stmt.ExecContext(t.ctx, i, e.Key, e.Text, e.Parent); err != nil {
			return fmt.Errorf("failed to insert keynote %s: %w", e.Key, err)
		}
	}

	return t.putSetting(settingKeynoteDigest, snap.Digest)
}

func (d *Document) release(t *Transaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == t {
		d.active = nil
	}
}

func (d *Document) activeTransaction() *Transaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}
