package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/lang/pfsc"
)

func TestFSArtifactLayout(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root, 16)
	require.NoError(t, err)

	require.NoError(t, fs.RecordDashgraph("test.moo.bar.results.Pf", "v1.0.0", []byte(`{"x":1}`)))
	require.NoError(t, fs.RecordAnnobuild("test.moo.bar.results.Notes", "v1.0.0",
		[]byte("<p>hi</p>"), []byte(`{}`)))
	require.NoError(t, fs.RecordModuleSource("test.moo.bar.results", "v1.0.0", []byte("src")))
	require.NoError(t, fs.RecordRepoManifest("test.moo.bar", "v1.0.0", []byte(`{"tree_model":{}}`)))

	// The on-disk layout is <build_root>/<host>/<user>/<repo>/<version>/<subpath>/.
	base := filepath.Join(root, "test", "moo", "bar", "v1.0.0")
	for _, rel := range []string{
		"results/Pf.dg.json",
		"results/Notes.anno.html",
		"results/Notes.anno.json",
		"results.src",
		"manifest.json",
	} {
		_, err := os.Stat(filepath.Join(base, filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
	}

	dg, err := fs.LoadDashgraph("test.moo.bar.results.Pf", "v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(dg))
	// Cached read returns the same content.
	dg, err = fs.LoadDashgraph("test.moo.bar.results.Pf", "v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(dg))

	html, data, err := fs.LoadAnnotation("test.moo.bar.results.Notes", "v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(html))
	assert.Equal(t, "{}", string(data))
}

func TestFSDeleteBuildsUnderModule(t *testing.T) {
	fs, err := NewFS(t.TempDir(), 16)
	require.NoError(t, err)
	require.NoError(t, fs.RecordDashgraph("test.moo.bar.results.Pf", "WIP", []byte(`{}`)))
	require.NoError(t, fs.RecordModuleSource("test.moo.bar.results", "WIP", []byte("src")))

	require.NoError(t, fs.DeleteBuildsUnderModule("test.moo.bar.results", "WIP"))
	_, err = fs.LoadDashgraph("test.moo.bar.results.Pf", "WIP")
	assert.Error(t, err)
	_, err = fs.LoadModuleSource("test.moo.bar.results", "WIP")
	assert.Error(t, err)
}

func TestModuleCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	text := []byte("deduc X {\n    asrt A {\n        sy = \"A\"\n    }\n    meson = \"A.\"\n}\n")
	tree, err := pfsc.Parse(string(text))
	require.NoError(t, err)

	c := OpenModuleCache(dir, "test.moo.bar", "WIP", true)
	assert.Nil(t, c.Get("test.moo.bar.m", text))
	c.Put("test.moo.bar.m", text, tree)
	require.NoError(t, c.Persist())

	// A fresh cache handle reloads the persisted entries.
	c2 := OpenModuleCache(dir, "test.moo.bar", "WIP", true)
	got := c2.Get("test.moo.bar.m", text)
	require.NotNil(t, got)
	assert.Len(t, got.Items, len(tree.Items))

	// A content change misses.
	assert.Nil(t, c2.Get("test.moo.bar.m", append(text, '\n')))

	// Caching disabled: always empty.
	c3 := OpenModuleCache(dir, "test.moo.bar", "WIP", false)
	assert.Nil(t, c3.Get("test.moo.bar.m", text))
}
