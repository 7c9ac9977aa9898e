package fsutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadLinesMissingFile(t *testing.T) {
	require.Nil(t, ReadLines(filepath.Join(t.TempDir(), "absent")))
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submission")
	in := []string{"/a", "/b with space", "/a"}
	require.NoError(t, WriteLines(path, in))
	require.Equal(t, in, ReadLines(path))

	require.NoError(t, WriteLines(path, nil))
	require.Nil(t, ReadLines(path))
}

func TestAppendLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submission")
	require.NoError(t, AppendLines(path, []string{"/a"}))
	require.NoError(t, AppendLines(path, []string{"/b", "/c"}))
	require.Equal(t, []string{"/a", "/b", "/c"}, ReadLines(path))
}

func TestRemoveLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submission")
	require.NoError(t, WriteLines(path, []string{"/a", "/b", "/c", "/b"}))
	require.NoError(t, RemoveLines(path, []string{"/b"}))
	require.Equal(t, []string{"/a", "/c"}, ReadLines(path))
}
