package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindTargetIndexRegistersDisjointPaths(t *testing.T) {
	idx := NewBindTargetIndex()

	require.NoError(t, idx.Register("/dev/console"))
	require.NoError(t, idx.Register("/mnt/sdcard"))
	assert.Equal(t, 2, idx.Len())
}

func TestBindTargetIndexRejectsExactDuplicate(t *testing.T) {
	idx := NewBindTargetIndex()
	require.NoError(t, idx.Register("/dev/console"))

	err := idx.Register("/dev/console")
	assert.Error(t, err)
}

func TestBindTargetIndexRejectsAncestorDescendantConflict(t *testing.T) {
	idx := NewBindTargetIndex()
	require.NoError(t, idx.Register("/mnt/sdcard"))

	err := idx.Register("/mnt/sdcard/sub")
	assert.Error(t, err)

	idx2 := NewBindTargetIndex()
	require.NoError(t, idx2.Register("/mnt/sdcard/sub"))
	err = idx2.Register("/mnt/sdcard")
	assert.Error(t, err)
}

func TestIsPathPrefix(t *testing.T) {
	assert.True(t, isPathPrefix("/a/b", "/a/b"))
	assert.True(t, isPathPrefix("/a/b", "/a/b/c"))
	assert.False(t, isPathPrefix("/a/b", "/a/bc"))
	assert.False(t, isPathPrefix("/a/bc", "/a/b"))
}
