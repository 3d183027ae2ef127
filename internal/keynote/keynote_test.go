package keynote

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeynotes(t *testing.T, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "keynotes.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))

	return p
}

func TestParse_Valid(t *testing.T) {
	input := "\ufeff# Division 09\n" +
		"09\tFinishes\n" +
		"09 29 00\tGypsum Board\t09\r\n" +
		"\n" +
		"09 91 00\tPainting\t09\n"

	var results LoadResults
	entries, err := Parse(strings.NewReader(input), &results)
	require.NoError(t, err)
	assert.False(t, results.HasErrors())

	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Key: "09", Text: "Finishes"}, entries[0])
	assert.Equal(t, Entry{Key: "09 29 00", Text: "Gypsum Board", Parent: "09"}, entries[1])
	assert.Equal(t, "Painting", entries[2].Text)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "missing tab", input: "A Walls\n", want: "expected key<TAB>text"},
		{name: "too many fields", input: "A\tWalls\tB\tC\n", want: "too many fields"},
		{name: "empty key", input: "\tWalls\n", want: "empty key"},
		{name: "duplicate key", input: "A\tWalls\nA\tDoors\n", want: "duplicate key"},
		{name: "self parent", input: "A\tWalls\tA\n", want: "its own parent"},
		{name: "unknown parent", input: "A\tWalls\tZ\n", want: "unknown parent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results LoadResults
			entries, err := Parse(strings.NewReader(tt.input), &results)
			require.Error(t, err)
			assert.Nil(t, entries)
			assert.True(t, results.HasErrors())
			assert.Contains(t, results.Summary(0), tt.want)
		})
	}
}

func TestParse_NilResults(t *testing.T) {
	_, err := Parse(strings.NewReader("no tab here\n"), nil)
	assert.Error(t, err)
}

func TestRead_MissingFile(t *testing.T) {
	var results LoadResults
	_, err := Read(filepath.Join(t.TempDir(), "missing.txt"), &results)
	require.Error(t, err)
	assert.True(t, results.HasErrors())
	assert.ErrorIs(t, results.Err, os.ErrNotExist)
}

func TestTable_Reload(t *testing.T) {
	p := writeKeynotes(t, "A\tWalls\nB\tDoors\tA\n")
	table := NewTable(nil, "")

	var results LoadResults
	assert.Equal(t, Success, table.Reload(p, &results))
	assert.Equal(t, 2, table.Len())
	assert.NotEmpty(t, table.Digest())

	e, ok := table.Lookup("B")
	require.True(t, ok)
	assert.Equal(t, "A", e.Parent)
	assert.Equal(t, []string{"B"}, table.Children("A"))

	// Unchanged content is reported as already current.
	assert.Equal(t, AlreadyCurrent, table.Reload(p, &results))

	// A broken file leaves the table untouched.
	require.NoError(t, os.WriteFile(p, []byte("broken\n"), 0o600))
	assert.Equal(t, Failure, table.Reload(p, &results))
	assert.Equal(t, 2, table.Len())
	assert.Contains(t, results.Summary(1), "line 1")

	// The table is replaced in full, not merged.
	require.NoError(t, os.WriteFile(p, []byte("C\tRoofs\n"), 0o600))
	assert.Equal(t, Success, table.Reload(p, &results))
	assert.Equal(t, []Entry{{Key: "C", Text: "Roofs"}}, table.Entries())
	_, ok = table.Lookup("A")
	assert.False(t, ok)
}

func TestReloadStatus(t *testing.T) {
	assert.True(t, Success.OK())
	assert.True(t, AlreadyCurrent.OK())
	assert.False(t, Failure.OK())
	assert.Equal(t, "already-current", AlreadyCurrent.String())
	assert.Equal(t, "unknown", ReloadStatus(42).String())
}

func TestLoadResults_Summary(t *testing.T) {
	var results LoadResults
	results.addIssue(1, "first")
	results.addIssue(2, "second")
	results.addIssue(3, "third")

	assert.Equal(t, "line 1: first; line 2: second; and 1 more", results.Summary(2))

	var nilResults *LoadResults
	assert.False(t, nilResults.HasErrors())
	assert.Empty(t, nilResults.Summary(3))
}
