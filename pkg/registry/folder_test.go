package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFolder_Ancestors(t *testing.T) {
	r := New()

	created, err := r.CreateFolder("a/b/c", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a/b", "a/b/c"}, created)

	assert.True(t, r.FolderExists("a"))
	assert.True(t, r.FolderExists("a/b"))
	assert.True(t, r.FolderExists("a/b/c"))
	assert.False(t, r.FolderExists("a/b/c/d"))

	_, err = r.CreateFolder("a/b/c", "alice")
	assert.ErrorIs(t, err, ErrFolderExists)
}

func TestCreateFolder_PartialAncestors(t *testing.T) {
	r := New()
	_, err := r.CreateFolder("a", "alice")
	require.NoError(t, err)

	created, err := r.CreateFolder("a/b", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b"}, created)

	folders := r.Folders()
	require.Len(t, folders, 2)
	assert.Equal(t, "alice", folders[0].Owner)
	assert.Equal(t, "bob", folders[1].Owner)
}

func TestCreateFolder_Normalization(t *testing.T) {
	r := New()

	created, err := r.CreateFolder("/docs//2026/", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "docs/2026"}, created)

	assert.True(t, r.FolderExists("docs/2026"))
	assert.True(t, r.FolderExists("/docs/2026/"))
}

func TestCreateFolder_Invalid(t *testing.T) {
	r := New()

	_, err := r.CreateFolder("", "alice")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = r.CreateFolder("///", "alice")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = r.CreateFolder("a:b", "alice")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestFolderExists_RootAlways(t *testing.T) {
	r := New()
	assert.True(t, r.FolderExists(""))
}
