package build

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/config"
	"proofmesh/internal/gdb/sqlitegraph"
	"proofmesh/internal/index"
	"proofmesh/internal/libpath"
	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// testStack builds a Builder over a temp library and an in-memory store.
func testStack(t *testing.T) (*config.Config, *sqlitegraph.Store, *FS, *Builder) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Library.Root = filepath.Join(dir, "lib")
	cfg.Library.BuildRoot = filepath.Join(dir, "build")
	cfg.Build.CacheDir = filepath.Join(dir, "cache")
	cfg.Build.Workers = 2
	require.NoError(t, os.MkdirAll(cfg.Library.Root, 0755))

	store, err := sqlitegraph.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fs, err := NewFS(cfg.Library.BuildRoot, 64)
	require.NoError(t, err)

	return cfg, store, fs, NewBuilder(cfg, store, fs)
}

// writeRepoFiles lays files into a repo's working tree under the library
// root.
func writeRepoFiles(t *testing.T, libRoot, repopath string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(libRoot, filepath.FromSlash(repopath))
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return dir
}

// commitAndTag commits everything in the repo dir and tags the commit.
func commitAndTag(t *testing.T, dir, tag string) {
	t.Helper()
	gr, err := git.PlainOpen(dir)
	if err == git.ErrRepositoryNotExists {
		gr, err = git.PlainInit(dir, false)
	}
	require.NoError(t, err)
	wt, err := gr.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	hash, err := wt.Commit("release "+tag, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.org", When: time.Now()},
	})
	require.NoError(t, err)
	_, err = gr.CreateTag(tag, hash, nil)
	require.NoError(t, err)
}

const simpleDeducModule = `
deduc Foo {
    asrt A {
        sy = "A"
    }
    asrt B {
        sy = "B"
    }
    meson = "A so B."
}
`

func TestBuildWipSimpleDeduc(t *testing.T) {
	cfg, store, fs, builder := testStack(t)
	// The deduc lives in the repo's own root module.
	writeRepoFiles(t, cfg.Library.Root, "test/local/foo", map[string]string{
		"__.pfsc": simpleDeducModule,
	})

	err := builder.Build(context.Background(), Request{
		Modpath:   libpath.MustParse("test.local.foo"),
		Version:   version.WIP(),
		Recursive: true,
	})
	require.NoError(t, err)

	nodes, relns, err := store.GetExistingObjects("test.local.foo", "WIP", false)
	require.NoError(t, err)

	counts := map[index.Label]int{}
	for _, n := range nodes {
		counts[n.Label]++
		assert.Equal(t, "WIP", n.Major)
		assert.Equal(t, "test.local.foo", n.Modpath)
	}
	assert.Equal(t, 1, counts[index.LabelDeduc])
	assert.Equal(t, 2, counts[index.LabelNode])

	var implies, unders int
	for _, r := range relns {
		switch r.Type {
		case index.RelnImplies:
			implies++
			assert.Equal(t, "test.local.foo.Foo.A", r.TailLibpath)
			assert.Equal(t, "test.local.foo.Foo.B", r.HeadLibpath)
		case index.RelnUnder:
			unders++
		}
	}
	assert.Equal(t, 1, implies)
	assert.Equal(t, 3, unders)

	// Artifacts: dashgraph and source were written.
	dg, err := fs.LoadDashgraph("test.local.foo.Foo", "WIP")
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(dg, &parsed))
	assert.Equal(t, "test.local.foo.Foo", parsed["libpath"])

	src, err := fs.LoadModuleSource("test.local.foo", "WIP")
	require.NoError(t, err)
	assert.Contains(t, string(src), "deduc Foo")

	mani, err := fs.LoadRepoManifest("test.local.foo", "WIP")
	require.NoError(t, err)
	assert.Contains(t, string(mani), "tree_model")
}

func TestWipRebuildIsIdempotent(t *testing.T) {
	cfg, store, _, builder := testStack(t)
	writeRepoFiles(t, cfg.Library.Root, "test/local/foo", map[string]string{
		"main.pfsc": simpleDeducModule,
	})
	req := Request{
		Modpath:   libpath.MustParse("test.local.foo"),
		Version:   version.WIP(),
		Recursive: true,
		Caching:   true,
	}
	require.NoError(t, builder.Build(context.Background(), req))
	require.NoError(t, builder.Build(context.Background(), req))

	nodes, _, err := store.GetExistingObjects("test.local.foo.main", "WIP", false)
	require.NoError(t, err)
	counts := map[index.Label]int{}
	for _, n := range nodes {
		counts[n.Label]++
	}
	assert.Equal(t, 1, counts[index.LabelDeduc])
	assert.Equal(t, 2, counts[index.LabelNode])
}

func TestReleaseMoveAndOriginPropagation(t *testing.T) {
	cfg, store, fs, builder := testStack(t)
	repoDir := writeRepoFiles(t, cfg.Library.Root, "test/moo/bar", map[string]string{
		"__.pfsc": "\n",
		"results.pfsc": `
deduc Pf {
    asrt T {
        sy = "T"
    }
    meson = "T."
}
`,
	})
	commitAndTag(t, repoDir, "v1.0.0")

	writeRepoFiles(t, cfg.Library.Root, "test/moo/bar", map[string]string{
		"__.pfsc": `
changelog = {
    moved: {
        "test.moo.bar.results.Pf.T": "test.moo.bar.results.Pf.U",
    },
}
`,
		"results.pfsc": `
deduc Pf {
    asrt U {
        sy = "U"
    }
    meson = "U."
}
`,
	})
	commitAndTag(t, repoDir, "v2.0.0")

	repoLp := libpath.MustParse("test.moo.bar")
	require.NoError(t, builder.Build(context.Background(), Request{
		Modpath: repoLp, Version: version.New(1, 0, 0), Recursive: true,
	}))
	require.NoError(t, builder.Build(context.Background(), Request{
		Modpath: repoLp, Version: version.New(2, 0, 0), Recursive: true,
	}))

	// The dashgraph at v2 shows Pf.U carrying the origin of Pf.T@1.
	dg, err := fs.LoadDashgraph("test.moo.bar.results.Pf", "v2.0.0")
	require.NoError(t, err)
	var parsed struct {
		Children map[string]map[string]interface{} `json:"children"`
	}
	require.NoError(t, json.Unmarshal(dg, &parsed))
	u, ok := parsed.Children["test.moo.bar.results.Pf.U"]
	require.True(t, ok, "expected Pf.U in children")
	assert.Equal(t, "test.moo.bar.results.Pf.T@1", u["origin"])

	// The index agrees, and the MOVE edge is queryable.
	mc, err := store.FindMoveConjugate("test.moo.bar.results.Pf.T", "1")
	require.NoError(t, err)
	require.NotNil(t, mc)
	assert.Equal(t, "test.moo.bar.results.Pf.U", mc.Libpath)

	// Both releases are recorded, in order.
	infos, err := store.GetVersionsIndexed("test.moo.bar", false)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "v1.0.0", infos[0].Version.String())
	assert.Equal(t, "v2.0.0", infos[1].Version.String())
	assert.NotEmpty(t, infos[0].CommitHash)
}

func TestReleaseRequiresChangeLogOnMajorBump(t *testing.T) {
	cfg, _, _, builder := testStack(t)
	repoDir := writeRepoFiles(t, cfg.Library.Root, "test/moo/clog", map[string]string{
		"main.pfsc": simpleDeducModule,
	})
	commitAndTag(t, repoDir, "v1.0.0")
	writeRepoFiles(t, cfg.Library.Root, "test/moo/clog", map[string]string{
		"main.pfsc": simpleDeducModule + "\n# revised\n",
	})
	commitAndTag(t, repoDir, "v2.0.0")

	repoLp := libpath.MustParse("test.moo.clog")
	require.NoError(t, builder.Build(context.Background(), Request{
		Modpath: repoLp, Version: version.New(1, 0, 0), Recursive: true,
	}))
	err := builder.Build(context.Background(), Request{
		Modpath: repoLp, Version: version.New(2, 0, 0), Recursive: true,
	})
	assert.True(t, perr.Is(err, perr.MissingRepoChangeLog), "got %v", err)
}

func TestForbiddenWipImportInRelease(t *testing.T) {
	cfg, store, _, builder := testStack(t)
	repoDir := writeRepoFiles(t, cfg.Library.Root, "test/moo/wipdep", map[string]string{
		"__.pfsc":   "deps = {\"test.other.dep\": \"WIP\"}\n",
		"main.pfsc": simpleDeducModule,
	})
	commitAndTag(t, repoDir, "v1.0.0")

	err := builder.Build(context.Background(), Request{
		Modpath:   libpath.MustParse("test.moo.wipdep"),
		Version:   version.New(1, 0, 0),
		Recursive: true,
	})
	assert.True(t, perr.Is(err, perr.NoWipImportsInNumberedReleases), "got %v", err)

	// The index is unchanged.
	ok, err := store.VersionIsAlreadyIndexed("test.moo.wipdep", version.New(1, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseBuildOnSubRepoRefused(t *testing.T) {
	cfg, _, _, builder := testStack(t)
	writeRepoFiles(t, cfg.Library.Root, "test/local/foo", map[string]string{
		"main.pfsc": simpleDeducModule,
	})
	err := builder.Build(context.Background(), Request{
		Modpath:   libpath.MustParse("test.local.foo.main"),
		Version:   version.New(1, 0, 0),
		Recursive: true,
	})
	assert.True(t, perr.Is(err, perr.AttemptedReleaseBuildOnSubRepo), "got %v", err)
}

func TestPartialBuildMergesManifest(t *testing.T) {
	cfg, _, fs, builder := testStack(t)
	writeRepoFiles(t, cfg.Library.Root, "test/local/part", map[string]string{
		"main.pfsc":  simpleDeducModule,
		"other.pfsc": "deduc Bar {\n    asrt C {\n        sy = \"C\"\n    }\n    meson = \"C.\"\n}\n",
	})
	repoLp := libpath.MustParse("test.local.part")
	require.NoError(t, builder.Build(context.Background(), Request{
		Modpath: repoLp, Version: version.WIP(), Recursive: true,
	}))

	// Rebuild just one module; the manifest keeps the other subtree.
	require.NoError(t, builder.Build(context.Background(), Request{
		Modpath: libpath.MustParse("test.local.part.main"), Version: version.WIP(),
	}))
	mani, err := fs.LoadRepoManifest("test.local.part", "WIP")
	require.NoError(t, err)
	assert.Contains(t, string(mani), "test.local.part.other")
	assert.Contains(t, string(mani), "test.local.part.main")
}

func TestBuildCancellation(t *testing.T) {
	cfg, _, _, builder := testStack(t)
	writeRepoFiles(t, cfg.Library.Root, "test/local/foo", map[string]string{
		"main.pfsc": simpleDeducModule,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := builder.Build(ctx, Request{
		Modpath:   libpath.MustParse("test.local.foo"),
		Version:   version.WIP(),
		Recursive: true,
	})
	assert.True(t, perr.Is(err, perr.BuildCancelled), "got %v", err)
}
