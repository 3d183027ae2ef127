package watch

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// setupKeynoteFile creates a temporary directory holding a keynote file.
func setupKeynoteFile(t *testing.T) (dir, file string) {
	t.Helper()

	dir = t.TempDir()
	file = "keynotes.txt"
	if err := os.WriteFile(filepath.Join(dir, file), []byte("A\tFirst\n"), 0644); err != nil {
		t.Fatalf("Failed to write keynote file: %v", err)
	}
	return dir, file
}

// waitForSignal polls until the watcher reports a change or the timeout expires.
func waitForSignal(w *Watcher, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.Signal() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return w.Signal()
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("Failed to append to %s: %v", path, err)
	}
}

// TestStart_MissingFile verifies that a missing file fails with ErrNotFound.
func TestStart_MissingFile(t *testing.T) {
	dir := t.TempDir()

	w, err := Start(dir, "missing.txt")
	if err == nil {
		w.Stop()
		t.Fatal("Start() should fail for a missing file")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	var watchErr *WatchError
	if !errors.As(err, &watchErr) {
		t.Fatalf("Expected *WatchError, got %T", err)
	}
	if watchErr.Path != filepath.Join(dir, "missing.txt") {
		t.Errorf("Unexpected path %q", watchErr.Path)
	}

	// A nil watcher is inert: Stop is a no-op and no signal is ever observed.
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() on nil watcher returned %v", err)
	}
	if w.Signal() {
		t.Error("Nil watcher should never signal")
	}
}

// TestStart_MissingDirectory verifies that a missing directory fails with ErrNotFound.
func TestStart_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nope")

	_, err := Start(dir, "keynotes.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrStartFailed) {
		t.Error("Missing directory should not be reported as ErrStartFailed")
	}
}

// TestStart_DirectoryIsFile verifies that a regular file used as directory is rejected.
func TestStart_DirectoryIsFile(t *testing.T) {
	dir, file := setupKeynoteFile(t)

	_, err := Start(filepath.Join(dir, file), "keynotes.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

// TestWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestWatcher_StartStop(t *testing.T) {
	dir, file := setupKeynoteFile(t)

	w, err := Start(dir, file)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if !w.Running() {
		t.Error("Watcher should be running after Start()")
	}
	if w.Signal() {
		t.Error("Fresh watcher should not signal")
	}
	if w.Path() != filepath.Join(dir, file) {
		t.Errorf("Unexpected path %q", w.Path())
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.Running() {
		t.Error("Watcher should not be running after Stop()")
	}

	// Second stop is a no-op
	if err := w.Stop(); err != nil {
		t.Fatalf("Second Stop() failed: %v", err)
	}
}

// TestWatcher_Coalescing verifies that many writes collapse into one reading.
func TestWatcher_Coalescing(t *testing.T) {
	dir, file := setupKeynoteFile(t)
	path := filepath.Join(dir, file)

	w, err := Start(dir, file)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		appendLine(t, path, "B\tSecond")
	}

	if !waitForSignal(w, 2*time.Second) {
		t.Fatal("Timeout waiting for change signal")
	}

	// Let the remaining events drain before acknowledging them
	time.Sleep(100 * time.Millisecond)

	if !w.Signal() {
		t.Error("Signal should stay true until cleared")
	}

	w.Clear()
	if w.Signal() {
		t.Error("Signal should be false immediately after Clear()")
	}
}

// TestWatcher_ReplaceByRename verifies that atomic-save editors are observed.
func TestWatcher_ReplaceByRename(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("rename-over-existing visibility depends on the platform backend")
	}
	dir, file := setupKeynoteFile(t)

	w, err := Start(dir, file)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	tmp := filepath.Join(dir, ".keynotes.txt.swp")
	if err := os.WriteFile(tmp, []byte("A\tReplaced\n"), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, file)); err != nil {
		t.Fatalf("Failed to rename temp file: %v", err)
	}

	if !waitForSignal(w, 2*time.Second) {
		t.Fatal("Timeout waiting for change signal after rename")
	}
}

// TestWatcher_OtherFilesIgnored verifies that siblings of the watched file do not signal.
func TestWatcher_OtherFilesIgnored(t *testing.T) {
	dir, file := setupKeynoteFile(t)

	w, err := Start(dir, file)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0644); err != nil {
		t.Fatalf("Failed to write sibling file: %v", err)
	}

	if waitForSignal(w, 300*time.Millisecond) {
		t.Error("Sibling file write should not signal")
	}
}

// TestWatcher_NoSignalAfterStop verifies that writes after Stop are never observed.
func TestWatcher_NoSignalAfterStop(t *testing.T) {
	dir, file := setupKeynoteFile(t)

	w, err := Start(dir, file)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	appendLine(t, filepath.Join(dir, file), "C\tThird")

	if waitForSignal(w, 300*time.Millisecond) {
		t.Error("Stopped watcher should not signal")
	}
}

// TestWatcher_ClearThrough verifies that changes after a generation stay pending.
func TestWatcher_ClearThrough(t *testing.T) {
	dir, file := setupKeynoteFile(t)
	path := filepath.Join(dir, file)

	w, err := Start(dir, file)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	appendLine(t, path, "B\tSecond")
	if !waitForSignal(w, 2*time.Second) {
		t.Fatal("Timeout waiting for first change")
	}
	time.Sleep(100 * time.Millisecond)
	gen := w.Generation()

	appendLine(t, path, "C\tThird")
	deadline := time.Now().Add(2 * time.Second)
	for w.Generation() == gen && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if w.Generation() == gen {
		t.Fatal("Timeout waiting for second change")
	}

	w.ClearThrough(gen)
	if !w.Signal() {
		t.Error("Change after the acknowledged generation should keep the signal set")
	}

	// Acknowledging an older generation never rewinds
	w.Clear()
	w.ClearThrough(gen)
	if w.Signal() {
		t.Error("ClearThrough with an old generation should not re-raise the signal")
	}
}
