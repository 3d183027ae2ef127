package document

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/keynotes-rtc/keynotes/internal/tracker"
)

func TestTranslatePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX paths")
	}

	tests := []struct {
		name    string
		model   string
		want    string
		wantErr error
	}{
		{name: "file url", model: "file:///srv/notes/keynotes.txt", want: "/srv/notes/keynotes.txt"},
		{name: "escaped", model: "file:///srv/my%20notes/k.txt", want: "/srv/my notes/k.txt"},
		{name: "localhost", model: "file://localhost/srv/k.txt", want: "/srv/k.txt"},
		{name: "plain", model: "/srv/k.txt", want: "/srv/k.txt"},
		{name: "relative plain", model: "k.txt", want: "k.txt"},
		{name: "empty", model: "", wantErr: tracker.ErrEmptyPath},
		{name: "blank", model: "   ", wantErr: tracker.ErrEmptyPath},
		{name: "no path", model: "file://", wantErr: tracker.ErrEmptyPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TranslatePath(tt.model)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("TranslatePath(%q) error = %v, want %v", tt.model, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("TranslatePath(%q) failed: %v", tt.model, err)
			}
			if got != tt.want {
				t.Errorf("TranslatePath(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestTranslatePath_Opaque(t *testing.T) {
	if _, err := TranslatePath("file:relative/k.txt"); err == nil {
		t.Error("Expected an error for an opaque file URL")
	}
}

func TestModelPath_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "my notes", "keynotes.txt")

	model := ModelPath(path)
	if model[:5] != "file:" {
		t.Errorf("ModelPath(%q) = %q, want a file URL", path, model)
	}

	got, err := TranslatePath(model)
	if err != nil {
		t.Fatalf("TranslatePath(%q) failed: %v", model, err)
	}
	if got != path {
		t.Errorf("Round trip = %q, want %q", got, path)
	}
}
