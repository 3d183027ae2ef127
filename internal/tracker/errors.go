package tracker

import (
	"errors"
	"fmt"

	"github.com/keynotes-rtc/keynotes/internal/keynote"
)

// Errors recorded by Start when the keynote file cannot be located. They
// can be checked with errors.Is against the error returned by LastError:
//
//	if errors.Is(t.LastError(), tracker.ErrNotExternal) {
//	    // the document has no external keynote file
//	}
var (
	// ErrNotExternal means the keynote table is not backed by a file.
	ErrNotExternal = errors.New("keynote table is not backed by an external file")

	// ErrEmptyPath means the file reference resolves to no path.
	ErrEmptyPath = errors.New("keynote file reference is empty")

	// ErrMalformedPath means no directory and file name could be split
	// from the resolved path.
	ErrMalformedPath = errors.New("keynote file path is malformed")
)

// PathError is recorded when Start cannot derive the watched location.
// Tracking stays stopped until the next Restart.
type PathError struct {
	// Kind is ErrNotExternal, ErrEmptyPath or ErrMalformedPath.
	Kind     error
	Document string
	Path     string
	Err      error
}

func (e *PathError) Error() string {
	msg := fmt.Sprintf("document %s: %v", e.Document, e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the error kind of e.
func (e *PathError) Is(target error) bool { return target == e.Kind }

func (e *PathError) Unwrap() error { return e.Err }

// ReloadError is returned when the table's Reload reports Failure or
// panics. The dirty flag stays set and the next Sync retries.
type ReloadError struct {
	Document string
	Keynotes string
	Status   keynote.ReloadStatus
	// Detail summarises the problems recorded during the load.
	Detail string
	// Panic holds the recovered value when Reload panicked.
	Panic any
}

func (e *ReloadError) Error() string {
	msg := fmt.Sprintf("could not reload keynote table for document %s from file at %s", e.Document, e.Keynotes)
	switch {
	case e.Panic != nil:
		msg += fmt.Sprintf(": panic: %v", e.Panic)
	case e.Detail != "":
		msg += ": " + e.Detail
	default:
		msg += ": " + e.Status.String()
	}
	return msg
}

// Transaction stages reported by CommitError.
const (
	StageStart  = "start"
	StageCommit = "commit"
)

// CommitError is returned when the reload transaction cannot be started
// or committed. The dirty flag stays set and the next Sync retries.
type CommitError struct {
	Document string
	Keynotes string
	Stage    string
	Err      error
}

func (e *CommitError) Error() string {
	msg := fmt.Sprintf("could not %s transaction for document %s", e.Stage, e.Document)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommitError) Unwrap() error { return e.Err }
