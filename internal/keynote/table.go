package keynote

import (
	"sort"
	"sync"
)

// Table is an in-memory keynote table. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
	byKey   map[string]int
	digest  string
}

// NewTable returns a table holding entries, tagged with the digest of the
// file content they were loaded from.
func NewTable(entries []Entry, digest string) *Table {
	t := &Table{}
	t.set(entries, digest)
	return t
}

// Reload reads the file at path and replaces the table's content. It
// returns AlreadyCurrent without touching the table when the file is
// byte-identical to the last load.
func (t *Table) Reload(path string, results *LoadResults) ReloadStatus {
	snap, err := Read(path, results)
	if err != nil {
		return Failure
	}
	if snap.Digest == t.Digest() {
		return AlreadyCurrent
	}
	t.Replace(snap)
	return Success
}

// Replace swaps the whole table for the snapshot's entries.
func (t *Table) Replace(snap *Snapshot) {
	t.set(snap.Entries, snap.Digest)
}

func (t *Table) set(entries []Entry, digest string) {
	byKey := make(map[string]int, len(entries))
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	for i, e := range copied {
		byKey[e.Key] = i
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = copied
	t.byKey = byKey
	t.digest = digest
}

// Digest returns the content digest of the last load, or "" if the table
// was never loaded.
func (t *Table) Digest() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.digest
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Lookup returns the entry for key.
func (t *Table) Lookup(key string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Entries returns a copy of the entries in file order.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Children returns the keys whose parent is key, sorted.
func (t *Table) Children(key string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var keys []string
	for _, e := range t.entries {
		if e.Parent == key {
			keys = append(keys, e.Key)
		}
	}
	sort.Strings(keys)
	return keys
}
