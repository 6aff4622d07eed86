package build

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/logging"
)

func init() {
	// The parse tree holds Item interface values; gob needs the concrete
	// types registered.
	gob.Register(&pfsc.ImportDecl{})
	gob.Register(&pfsc.Assignment{})
	gob.Register(&pfsc.DefnDecl{})
	gob.Register(&pfsc.DeducDecl{})
	gob.Register(&pfsc.NodeDecl{})
	gob.Register(&pfsc.AnnoDecl{})
}

// cachedModule is one entry of the parse cache.
type cachedModule struct {
	Hash string
	Tree *pfsc.ModuleTree
}

// ModuleCache persists parse results per repo per version, so a subsequent
// build on the same repo version can reuse them. The cache is per-build, not
// shared across workers.
type ModuleCache struct {
	dir     string
	key     string
	enabled bool
	entries map[string]cachedModule
	dirty   bool
}

// OpenModuleCache loads the cache for (repopath, version) from disk, when
// caching is enabled and a cache file exists.
func OpenModuleCache(cacheDir, repopath, fullVersion string, enabled bool) *ModuleCache {
	c := &ModuleCache{
		dir:     cacheDir,
		key:     repopath + "@" + strings.ReplaceAll(fullVersion, ".", "_"),
		enabled: enabled && cacheDir != "",
		entries: map[string]cachedModule{},
	}
	if !c.enabled {
		return c
	}
	data, err := os.ReadFile(c.path())
	if err != nil {
		return c
	}
	dec := gob.NewDecoder(strings.NewReader(string(data)))
	var entries map[string]cachedModule
	if err := dec.Decode(&entries); err != nil {
		logging.BuildDebug("Ignoring unreadable module cache %s: %v", c.path(), err)
		return c
	}
	c.entries = entries
	logging.BuildDebug("Loaded module cache %s (%d entries)", c.key, len(entries))
	return c
}

func (c *ModuleCache) path() string {
	return filepath.Join(c.dir, c.key+".gob")
}

func hashText(text []byte) string {
	sum := sha256.Sum256(text)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached parse tree for a module whose source hashes the
// same, or nil.
func (c *ModuleCache) Get(modpath string, text []byte) *pfsc.ModuleTree {
	entry, ok := c.entries[modpath]
	if !ok || entry.Hash != hashText(text) {
		return nil
	}
	return entry.Tree
}

// Put records a parse result.
func (c *ModuleCache) Put(modpath string, text []byte, tree *pfsc.ModuleTree) {
	if !c.enabled {
		return
	}
	c.entries[modpath] = cachedModule{Hash: hashText(text), Tree: tree}
	c.dirty = true
}

// Persist writes the cache to disk after a successful build.
func (c *ModuleCache) Persist() error {
	if !c.enabled || !c.dirty {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	var sb strings.Builder
	enc := gob.NewEncoder(&sb)
	if err := enc.Encode(c.entries); err != nil {
		return fmt.Errorf("failed to encode module cache: %w", err)
	}
	if err := writeFileAtomic(c.path(), []byte(sb.String())); err != nil {
		return fmt.Errorf("failed to write module cache: %w", err)
	}
	logging.BuildDebug("Persisted module cache %s (%d entries)", c.key, len(c.entries))
	return nil
}
