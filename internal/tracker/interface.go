package tracker

import "github.com/keynotes-rtc/keynotes/internal/keynote"

// Resource is the host-managed keynote table of one document.
//
// The tracker never touches the table's content directly; it only asks
// where the table's file lives and tells it to reload.
type Resource interface {
	// IsExternalFileBacked reports whether the table is loaded from a
	// file outside the document.
	IsExternalFileBacked() bool

	// ExternalFilePath returns the model path of the backing file. It
	// returns an error, or "", when the reference resolves to nothing.
	ExternalFilePath() (string, error)

	// Reload re-reads the backing file into the table. It must be called
	// inside a started Transaction. Problems are recorded in results.
	Reload(results *keynote.LoadResults) keynote.ReloadStatus
}

// TxStatus is the status reported by a Transaction step.
type TxStatus int

const (
	// TxFailed means the step did not happen.
	TxFailed TxStatus = iota
	// TxStarted is returned by a successful Start.
	TxStarted
	// TxCommitted is returned by a successful Commit.
	TxCommitted
	// TxRolledBack is returned by a successful Rollback.
	TxRolledBack
)

// String returns a human-readable representation of the status.
func (s TxStatus) String() string {
	switch s {
	case TxStarted:
		return "started"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled-back"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transaction is a named unit of change against a host document.
//
// Close releases host resources on every exit path; closing a transaction
// that was started but neither committed nor rolled back rolls it back.
type Transaction interface {
	Start(name string) TxStatus
	Commit() TxStatus
	Rollback() TxStatus
	Close() error

	// Err returns the cause of the last failed step, if known.
	Err() error
}

// Host is the document a tracker belongs to.
type Host interface {
	// ID identifies the document for the lifetime of the session.
	ID() int64

	// Path is the document's own location, used in log messages.
	Path() string

	// Keynotes returns the document's keynote table.
	Keynotes() Resource

	// NewTransaction returns an unstarted transaction on the document.
	NewTransaction() Transaction
}

// PathTranslator converts a model path into a user-visible file system
// path. It may fail if the path is empty or cannot be represented.
type PathTranslator interface {
	UserVisiblePath(modelPath string) (string, error)
}

// PathTranslatorFunc adapts a function to PathTranslator.
type PathTranslatorFunc func(modelPath string) (string, error)

// UserVisiblePath implements PathTranslator.
func (f PathTranslatorFunc) UserVisiblePath(modelPath string) (string, error) {
	return f(modelPath)
}

// identityTranslator returns model paths unchanged.
var identityTranslator = PathTranslatorFunc(func(modelPath string) (string, error) {
	return modelPath, nil
})
