package launcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLockStyle(t *testing.T) {
	style, err := ParseLockStyle("hidden")
	require.NoError(t, err)
	assert.Equal(t, LockHidden, style)

	style, err = ParseLockStyle("")
	require.NoError(t, err)
	assert.Equal(t, LockSuffix, style)

	_, err = ParseLockStyle("sibling")
	assert.ErrorContains(t, err, "unknown lock style")
}

func TestLockPath(t *testing.T) {
	path := filepath.Join("srv", "notes", "keynotes.txt")

	assert.Equal(t, path+".lock", LockPath(path, LockSuffix))
	assert.Equal(t, filepath.Join("srv", "notes", ".keynotes.txt.lock"), LockPath(path, LockHidden))
}

func TestSessionURI(t *testing.T) {
	got := SessionURI("", "/srv/my notes/k.txt")
	assert.Equal(t, "atom://teletype-revit-linker/new?file=%2Fsrv%2Fmy+notes%2Fk.txt", got)

	got = SessionURI("editor://open/{path}?again={path}", "a&b")
	assert.Equal(t, "editor://open/a%26b?again=a%26b", got)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keynotes.txt")

	t.Run("no lock file", func(t *testing.T) {
		target, err := Resolve(path, Options{})
		require.NoError(t, err)
		assert.False(t, target.Join)
		assert.Equal(t, path+".lock", target.LockFile)
		assert.Equal(t, SessionURI(DefaultTemplate, path), target.URI)
	})

	t.Run("suffix lock", func(t *testing.T) {
		lock := path + ".lock"
		require.NoError(t, os.WriteFile(lock, []byte("  atom://teletype/portal/1234\n"), 0o644))
		t.Cleanup(func() { os.Remove(lock) })

		target, err := Resolve(path, Options{Style: LockSuffix})
		require.NoError(t, err)
		assert.True(t, target.Join)
		assert.Equal(t, "atom://teletype/portal/1234", target.URI)
	})

	t.Run("hidden lock", func(t *testing.T) {
		lock := filepath.Join(dir, ".keynotes.txt.lock")
		require.NoError(t, os.WriteFile(lock, []byte("atom://teletype/portal/abcd"), 0o644))
		t.Cleanup(func() { os.Remove(lock) })

		target, err := Resolve(path, Options{Style: LockHidden})
		require.NoError(t, err)
		assert.True(t, target.Join)
		assert.Equal(t, "atom://teletype/portal/abcd", target.URI)

		target, err = Resolve(path, Options{Style: LockSuffix})
		require.NoError(t, err)
		assert.False(t, target.Join, "suffix style ignores the hidden lock")
	})

	t.Run("blank lock is stale", func(t *testing.T) {
		lock := path + ".lock"
		require.NoError(t, os.WriteFile(lock, []byte(" \n"), 0o644))
		t.Cleanup(func() { os.Remove(lock) })

		target, err := Resolve(path, Options{Template: "x://new?f={path}"})
		require.NoError(t, err)
		assert.False(t, target.Join)
		assert.Equal(t, SessionURI("x://new?f={path}", path), target.URI)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Resolve("", Options{})
		assert.Error(t, err)
	})
}

func TestLaunch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keynotes.txt")

	var opened []string
	l := &Launcher{
		Opener: OpenerFunc(func(_ context.Context, uri string) error {
			opened = append(opened, uri)
			return nil
		}),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	target, err := l.Launch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{target.URI}, opened)
}

func TestLaunch_OpenerFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keynotes.txt")
	boom := errors.New("no handler for atom://")

	l := &Launcher{
		Opener: OpenerFunc(func(context.Context, string) error { return boom }),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	target, err := l.Launch(context.Background(), path)
	assert.ErrorIs(t, err, boom)
	assert.NotEmpty(t, target.URI, "target is returned even when opening fails")
}

func TestExecContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	out, err := execContext(context.Background(), 0, "sh", "-c", "printf ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	_, err = execContext(context.Background(), 0, "sh", "-c", "echo no handler >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
}
