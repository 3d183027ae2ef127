package document

import (
	"fmt"

	"github.com/keynotes-rtc/keynotes/internal/keynote"
	"github.com/keynotes-rtc/keynotes/internal/tracker"
)

// keynoteResource is the document's keynote table as the tracker sees it.
type keynoteResource struct {
	doc *Document
}

var _ tracker.Resource = (*keynoteResource)(nil)

func (r *keynoteResource) IsExternalFileBacked() bool {
	return r.doc.KeynoteReference() != ""
}

func (r *keynoteResource) ExternalFilePath() (string, error) {
	ref := r.doc.KeynoteReference()
	if ref == "" {
		return "", ErrNoKeynoteFile
	}
	return ref, nil
}

// Reload reads the keynote file and stages its rows in the active
// transaction. The in-memory table is replaced when that transaction
// commits.
func (r *keynoteResource) Reload(results *keynote.LoadResults) keynote.ReloadStatus {
	if results == nil {
		results = new(keynote.LoadResults)
	}

	tx := r.doc.activeTransaction()
	if tx == nil {
		results.Fail(ErrNoTransaction)
		return keynote.Failure
	}

	path, err := r.doc.KeynoteFile()
	if err != nil {
		results.Fail(err)
		return keynote.Failure
	}

	snap, err := keynote.Read(path, results)
	if err != nil {
		return keynote.Failure
	}

	table := r.doc.Table()
	if snap.Digest == table.Digest() {
		return keynote.AlreadyCurrent
	}

	if err := tx.replaceKeynotes(snap); err != nil {
		results.Fail(fmt.Errorf("failed to stage keynotes: %w", err))
		return keynote.Failure
	}
	tx.onCommit(func() { table.Replace(snap) })

	return keynote.Success
}
