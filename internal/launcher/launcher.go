// Package launcher hands a keynote file over to the collaborative editor.
//
// A running editing session leaves a lock file next to the keynote file
// whose content is the URI that joins it. When there is no lock file the
// launcher opens a URI that starts a new session for the file instead.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LockStyle selects where the lock file of a keynote file lives.
type LockStyle string

const (
	// LockSuffix is <dir>/<file>.lock.
	LockSuffix LockStyle = "suffix"
	// LockHidden is <dir>/.<file>.lock.
	LockHidden LockStyle = "hidden"
)

// DefaultTemplate is the new-session URI. {path} is replaced by the
// query-escaped keynote path.
const DefaultTemplate = "atom://teletype-revit-linker/new?file={path}"

// ParseLockStyle converts a configured style name.
func ParseLockStyle(s string) (LockStyle, error) {
	switch LockStyle(s) {
	case LockSuffix, LockHidden:
		return LockStyle(s), nil
	case "":
		return LockSuffix, nil
	default:
		return "", fmt.Errorf("unknown lock style %q", s)
	}
}

// LockPath returns the lock file for the keynote file at path.
func LockPath(path string, style LockStyle) string {
	if style == LockHidden {
		dir, file := filepath.Split(path)
		return filepath.Join(dir, "."+file+".lock")
	}
	return path + ".lock"
}

// SessionURI fills template with the keynote path.
func SessionURI(template, path string) string {
	if template == "" {
		template = DefaultTemplate
	}
	return strings.ReplaceAll(template, "{path}", url.QueryEscape(path))
}

// Target is what the launcher will open for a keynote file.
type Target struct {
	URI string `json:"uri" yaml:"uri"`

	// LockFile is the lock file that was looked for.
	LockFile string `json:"lock_file" yaml:"lock_file"`

	// Join is true when URI came from the lock file and joins a running
	// session.
	Join bool `json:"join" yaml:"join"`
}

// Options configure target resolution.
type Options struct {
	Style    LockStyle
	Template string
}

// Resolve works out the target for the keynote file at path. A lock file
// with blank content is treated as stale and ignored.
func Resolve(path string, opts Options) (Target, error) {
	if path == "" {
		return Target{}, errors.New("keynote path is empty")
	}

	lock := LockPath(path, opts.Style)
	t := Target{LockFile: lock}

	data, err := os.ReadFile(lock)
	switch {
	case err == nil:
		if uri := strings.TrimSpace(string(data)); uri != "" {
			t.URI = uri
			t.Join = true
			return t, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Target{}, fmt.Errorf("failed to read lock file %s: %w", lock, err)
	}

	t.URI = SessionURI(opts.Template, path)
	return t, nil
}

// Opener opens a URI with whatever the platform registers for its scheme.
type Opener interface {
	Open(ctx context.Context, uri string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, uri string) error

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, uri string) error { return f(ctx, uri) }

// Launcher resolves and opens targets.
type Launcher struct {
	Options Options
	Opener  Opener
	Logger  *slog.Logger
}

// New returns a Launcher using the system opener.
func New(opts Options, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{Options: opts, Opener: SystemOpener{}, Logger: logger}
}

// Launch resolves the target for the keynote file at path and opens it.
func (l *Launcher) Launch(ctx context.Context, path string) (Target, error) {
	t, err := Resolve(path, l.Options)
	if err != nil {
		return Target{}, err
	}

	l.Logger.Info("opening keynote session",
		slog.String("keynotes", path),
		slog.String("uri", t.URI),
		slog.Bool("join", t.Join),
	)

	if err := l.Opener.Open(ctx, t.URI); err != nil {
		return t, fmt.Errorf("failed to open %s: %w", t.URI, err)
	}
	return t, nil
}
