package fsio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAllThenReadFileTrimmed(t *testing.T) {
	fs := NewMem()

	err := fs.WriteFileAll("/a/b/c.txt", []byte("  hello world  \n"), 0644)
	require.NoError(t, err)

	got, err := fs.ReadFileTrimmed("/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestReadFileTrimmedMissing(t *testing.T) {
	fs := NewMem()

	_, err := fs.ReadFileTrimmed("/nope")
	assert.Error(t, err)
}

func TestMkdirAllTolertesExisting(t *testing.T) {
	fs := NewMem()

	require.NoError(t, fs.MkdirAll("/x/y", 0755))
	require.NoError(t, fs.MkdirAll("/x/y", 0755))
}

func TestSymlinkUnsupportedOnMemMapFs(t *testing.T) {
	fs := NewMem()

	err := fs.Symlink("/a", "/b")
	assert.Error(t, err)
}
