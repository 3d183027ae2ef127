// Package keynote reads keynote text files and holds the in-memory keynote
// table a document annotates its views with.
//
// A keynote file is UTF-8 text with one entry per line:
//
//	key<TAB>text[<TAB>parent]
//
// Blank lines and lines starting with '#' are skipped. A parent must name
// another key in the same file. Any malformed line fails the whole load;
// the table is always replaced in full, never patched.
package keynote

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReloadStatus is the outcome of reloading a table from its file.
type ReloadStatus int

const (
	// Failure means the file could not be read or parsed; the table is
	// unchanged.
	Failure ReloadStatus = iota
	// Success means the table now reflects the file.
	Success
	// AlreadyCurrent means the file content matches the last load.
	AlreadyCurrent
)

// String returns a human-readable representation of the status.
func (s ReloadStatus) String() string {
	switch s {
	case Success:
		return "success"
	case AlreadyCurrent:
		return "already-current"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// OK reports whether the status counts as a successful reload.
func (s ReloadStatus) OK() bool {
	return s == Success || s == AlreadyCurrent
}

// Entry is one keynote.
type Entry struct {
	Key    string `json:"key" yaml:"key"`
	Text   string `json:"text" yaml:"text"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Snapshot is the parsed content of a keynote file.
type Snapshot struct {
	Path    string
	Digest  string
	Entries []Entry
}

// Read loads and parses the keynote file at path. Problems are recorded in
// results; the returned error is non-nil whenever the snapshot must not be
// applied.
func Read(path string, results *LoadResults) (*Snapshot, error) {
	if results == nil {
		results = new(LoadResults)
	}
	results.begin(path)

	data, err := os.ReadFile(path)
	if err != nil {
		results.Fail(err)
		return nil, fmt.Errorf("failed to read keynote file %s: %w", path, err)
	}

	entries, err := Parse(bytes.NewReader(data), results)
	if err != nil {
		return nil, fmt.Errorf("failed to parse keynote file %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	return &Snapshot{
		Path:    path,
		Digest:  hex.EncodeToString(sum[:]),
		Entries: entries,
	}, nil
}

// Parse reads keynote lines from r. Every malformed line is recorded in
// results; if any were found Parse returns an error and no entries.
func Parse(r io.Reader, results *LoadResults) ([]Entry, error) {
	if results == nil {
		results = new(LoadResults)
	}

	var (
		entries []Entry
		seen    = make(map[string]int)
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			results.addIssue(lineNo, "expected key<TAB>text, got %q", line)
			continue
		}
		if len(fields) > 3 {
			results.addIssue(lineNo, "too many fields (%d)", len(fields))
			continue
		}

		entry := Entry{
			Key:  strings.TrimSpace(fields[0]),
			Text: strings.TrimSpace(fields[1]),
		}
		if len(fields) == 3 {
			entry.Parent = strings.TrimSpace(fields[2])
		}

		if entry.Key == "" {
			results.addIssue(lineNo, "empty key")
			continue
		}
		if first, dup := seen[entry.Key]; dup {
			results.addIssue(lineNo, "duplicate key %q (first defined on line %d)", entry.Key, first)
			continue
		}
		if entry.Parent == entry.Key {
			results.addIssue(lineNo, "key %q is its own parent", entry.Key)
			continue
		}

		seen[entry.Key] = lineNo
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		results.Fail(err)
		return nil, err
	}

	for _, e := range entries {
		if e.Parent != "" {
			if _, ok := seen[e.Parent]; !ok {
				results.addIssue(seen[e.Key], "key %q references unknown parent %q", e.Key, e.Parent)
			}
		}
	}

	if results.HasErrors() {
		return nil, fmt.Errorf("%d malformed keynote line(s)", len(results.Issues))
	}

	return entries, nil
}
