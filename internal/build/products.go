package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
)

// ArtifactStore is the contract for build-product persistence. The graph
// store satisfies it when the deployment stores artifacts in the graph; FS
// is the filesystem default.
type ArtifactStore interface {
	RecordModuleSource(modpath, fullVersion string, text []byte) error
	RecordDashgraph(deducpath, fullVersion string, dgJSON []byte) error
	RecordAnnobuild(annopath, fullVersion string, html, dataJSON []byte) error
	RecordRepoManifest(repopath, fullVersion string, manifestJSON []byte) error
	DeleteBuildsUnderModule(modpath, fullVersion string) error

	LoadDashgraph(deducpath, fullVersion string) ([]byte, error)
	LoadAnnotation(annopath, fullVersion string) (html []byte, data []byte, err error)
	LoadModuleSource(modpath, fullVersion string) ([]byte, error)
	LoadRepoManifest(repopath, fullVersion string) ([]byte, error)
}

// FS stores build products on the filesystem under
// <build_root>/<host>/<user>/<repo>/<version>/<subpath>/, with bounded read
// caches in front of the hot artifacts.
type FS struct {
	root string

	dashCache *lru.Cache[string, []byte]
	annoCache *lru.Cache[string, [2][]byte]
	maniCache *lru.Cache[string, []byte]
}

// NewFS opens a filesystem artifact store. cacheSize bounds each per-kind
// cache.
func NewFS(root string, cacheSize int) (*FS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, perr.Wrap(perr.RepoError, err, "failed to create build root %s", root)
	}
	dash, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dashgraph cache: %w", err)
	}
	anno, err := lru.New[string, [2][]byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create annotation cache: %w", err)
	}
	mani, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest cache: %w", err)
	}
	return &FS{root: root, dashCache: dash, annoCache: anno, maniCache: mani}, nil
}

// dirFor maps (libpath prefix, version) to a directory: the repo part, then
// the version, then the within-repo path.
func (f *FS) dirFor(lp libpath.Libpath, fullVersion string) string {
	segs := lp.Segments()
	parts := []string{f.root}
	n := libpath.RepoSegments
	if len(segs) < n {
		n = len(segs)
	}
	parts = append(parts, segs[:n]...)
	parts = append(parts, fullVersion)
	parts = append(parts, segs[n:]...)
	return filepath.Join(parts...)
}

// artifactBase maps a libpath to the directory and basename of its
// artifacts. A repo-root module's artifacts take the directory-module name.
func (f *FS) artifactBase(lp libpath.Libpath, fullVersion string) (string, string) {
	if lp.NumSegments() <= libpath.RepoSegments {
		return f.dirFor(lp, fullVersion), libpath.DirModuleName
	}
	return f.dirFor(lp.Parent(), fullVersion), lp.LastSegment()
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func cacheKey(lp, vers string) string {
	return lp + "@" + vers
}

// RecordModuleSource writes <modname>.src beside the module's artifacts.
func (f *FS) RecordModuleSource(modpath, fullVersion string, text []byte) error {
	lp := libpath.MustParse(modpath)
	dir, base := f.artifactBase(lp, fullVersion)
	path := filepath.Join(dir, base+".src")
	if err := writeFileAtomic(path, text); err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to write module source %s", path)
	}
	return nil
}

// RecordDashgraph writes <deducname>.dg.json.
func (f *FS) RecordDashgraph(deducpath, fullVersion string, dgJSON []byte) error {
	lp := libpath.MustParse(deducpath)
	dir, base := f.artifactBase(lp, fullVersion)
	path := filepath.Join(dir, base+".dg.json")
	if err := writeFileAtomic(path, dgJSON); err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to write dashgraph %s", path)
	}
	f.dashCache.Remove(cacheKey(deducpath, fullVersion))
	return nil
}

// RecordAnnobuild writes <annoname>.anno.html and <annoname>.anno.json.
func (f *FS) RecordAnnobuild(annopath, fullVersion string, html, dataJSON []byte) error {
	lp := libpath.MustParse(annopath)
	dir, name := f.artifactBase(lp, fullVersion)
	base := filepath.Join(dir, name)
	if err := writeFileAtomic(base+".anno.html", html); err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to write annotation html for %s", annopath)
	}
	if err := writeFileAtomic(base+".anno.json", dataJSON); err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to write annotation json for %s", annopath)
	}
	f.annoCache.Remove(cacheKey(annopath, fullVersion))
	return nil
}

// RecordRepoManifest writes manifest.json at the repo+version root.
func (f *FS) RecordRepoManifest(repopath, fullVersion string, manifestJSON []byte) error {
	dir := f.dirFor(libpath.MustParse(repopath), fullVersion)
	if err := writeFileAtomic(filepath.Join(dir, "manifest.json"), manifestJSON); err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to write manifest for %s", repopath)
	}
	f.maniCache.Remove(cacheKey(repopath, fullVersion))
	return nil
}

// DeleteBuildsUnderModule clears old build products for a module and its
// submodules.
func (f *FS) DeleteBuildsUnderModule(modpath, fullVersion string) error {
	lp := libpath.MustParse(modpath)
	dir := f.dirFor(lp, fullVersion)
	// A file module's artifacts sit in the parent directory, named by its
	// final segment.
	parentDir, base := f.artifactBase(lp, fullVersion)
	entries, err := os.ReadDir(parentDir)
	if err == nil {
		prefix := base + "."
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
				os.Remove(filepath.Join(parentDir, entry.Name()))
			}
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to clear builds under %s", modpath)
	}
	logging.BuildDebug("Cleared build products under %s@%s", modpath, fullVersion)
	return nil
}

// LoadDashgraph reads a dashgraph back.
func (f *FS) LoadDashgraph(deducpath, fullVersion string) ([]byte, error) {
	key := cacheKey(deducpath, fullVersion)
	if data, ok := f.dashCache.Get(key); ok {
		return data, nil
	}
	lp := libpath.MustParse(deducpath)
	dir, base := f.artifactBase(lp, fullVersion)
	path := filepath.Join(dir, base+".dg.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.New(perr.MissingDashgraph, "no dashgraph for %s@%s", deducpath, fullVersion)
	}
	f.dashCache.Add(key, data)
	return data, nil
}

// LoadAnnotation reads an annotation build back.
func (f *FS) LoadAnnotation(annopath, fullVersion string) ([]byte, []byte, error) {
	key := cacheKey(annopath, fullVersion)
	if pair, ok := f.annoCache.Get(key); ok {
		return pair[0], pair[1], nil
	}
	lp := libpath.MustParse(annopath)
	dir, name := f.artifactBase(lp, fullVersion)
	base := filepath.Join(dir, name)
	html, err := os.ReadFile(base + ".anno.html")
	if err != nil {
		return nil, nil, perr.New(perr.MissingAnnotation, "no annotation build for %s@%s", annopath, fullVersion)
	}
	data, err := os.ReadFile(base + ".anno.json")
	if err != nil {
		return nil, nil, perr.New(perr.MissingAnnotation, "no annotation data for %s@%s", annopath, fullVersion)
	}
	f.annoCache.Add(key, [2][]byte{html, data})
	return html, data, nil
}

// LoadModuleSource reads the compiled source text back.
func (f *FS) LoadModuleSource(modpath, fullVersion string) ([]byte, error) {
	lp := libpath.MustParse(modpath)
	dir, base := f.artifactBase(lp, fullVersion)
	path := filepath.Join(dir, base+".src")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.New(perr.MissingModuleSource, "no source for %s@%s", modpath, fullVersion)
	}
	return data, nil
}

// LoadRepoManifest reads a manifest back.
func (f *FS) LoadRepoManifest(repopath, fullVersion string) ([]byte, error) {
	key := cacheKey(repopath, fullVersion)
	if data, ok := f.maniCache.Get(key); ok {
		return data, nil
	}
	path := filepath.Join(f.dirFor(libpath.MustParse(repopath), fullVersion), "manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.New(perr.MissingManifest, "no manifest for %s@%s", repopath, fullVersion)
	}
	f.maniCache.Add(key, data)
	return data, nil
}
