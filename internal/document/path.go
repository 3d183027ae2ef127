package document

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/keynotes-rtc/keynotes/internal/tracker"
)

// ModelPath returns the model path stored for the file at path: a file
// URL for absolute paths, the path itself otherwise.
func ModelPath(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}

	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		// Windows drive path: C:/x becomes /C:/x.
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}

// TranslatePath converts a model path into a user-visible file system path.
// File URLs are decoded; anything else is returned unchanged. An empty
// model path fails with an error matching tracker.ErrEmptyPath.
func TranslatePath(modelPath string) (string, error) {
	modelPath = strings.TrimSpace(modelPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path: %w", tracker.ErrEmptyPath)
	}

	if !strings.HasPrefix(strings.ToLower(modelPath), "file:") {
		return modelPath, nil
	}

	u, err := url.Parse(modelPath)
	if err != nil {
		return "", fmt.Errorf("invalid model path %q: %w", modelPath, err)
	}
	if u.Opaque != "" {
		return "", fmt.Errorf("invalid model path %q: file URL must be absolute", modelPath)
	}

	p := u.Path
	if p == "" {
		return "", fmt.Errorf("model path %q: %w", modelPath, tracker.ErrEmptyPath)
	}

	if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
		// UNC share.
		return filepath.FromSlash("//" + u.Host + p), nil
	}

	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

// Translator is the tracker.PathTranslator for document model paths.
var Translator tracker.PathTranslator = tracker.PathTranslatorFunc(TranslatePath)
