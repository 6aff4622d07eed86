package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/libpath"
)

func TestRecordSaveAndNoOpOnIdentical(t *testing.T) {
	k, err := NewKeeper(t.TempDir())
	require.NoError(t, err)
	modpath := libpath.MustParse("test.local.foo.main")

	made, err := k.RecordSave(modpath, []byte("deduc X {\n}\n"))
	require.NoError(t, err)
	assert.True(t, made)

	// Identical content produces no new commit.
	made, err = k.RecordSave(modpath, []byte("deduc X {\n}\n"))
	require.NoError(t, err)
	assert.False(t, made)

	made, err = k.RecordSave(modpath, []byte("deduc X {\n  asrt A {\n  }\n}\n"))
	require.NoError(t, err)
	assert.True(t, made)

	snap, err := k.LastSnapshot(modpath)
	require.NoError(t, err)
	assert.Contains(t, string(snap), "asrt A")
}

func TestLastSnapshotAbsent(t *testing.T) {
	k, err := NewKeeper(t.TempDir())
	require.NoError(t, err)
	snap, err := k.LastSnapshot(libpath.MustParse("test.local.foo.never"))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestMergeText(t *testing.T) {
	k, err := NewKeeper(t.TempDir())
	require.NoError(t, err)
	modpath := libpath.MustParse("test.local.foo.m")
	_, err = k.RecordSave(modpath, []byte("base\n"))
	require.NoError(t, err)

	// Only the editor changed: editor wins.
	merged, conflict, err := k.MergeText(modpath, "edited\n", "base\n")
	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Equal(t, "edited\n", merged)

	// Only the disk changed: disk wins.
	merged, conflict, err = k.MergeText(modpath, "base\n", "external\n")
	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Equal(t, "external\n", merged)

	// Both changed: conflict markers.
	merged, conflict, err = k.MergeText(modpath, "edited\n", "external\n")
	require.NoError(t, err)
	assert.True(t, conflict)
	assert.Contains(t, merged, "<<<<<<< editor")
	assert.Contains(t, merged, ">>>>>>> disk")
}

func TestRepoRootModuleSave(t *testing.T) {
	k, err := NewKeeper(t.TempDir())
	require.NoError(t, err)
	made, err := k.RecordSave(libpath.MustParse("test.local.foo"), []byte("# root\n"))
	require.NoError(t, err)
	assert.True(t, made)
}
