// Package repo models a repository on disk: a directory tree under the
// library root whose path equals its libpath, version-controlled by git. The
// Builder requires the checkout capability from this backing.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// Repo is one content repository.
type Repo struct {
	Libpath libpath.Libpath
	// Dir is the repository's working tree on disk.
	Dir string
}

// Open locates a repository under the library root. The repo's directory is
// the libpath with dots mapped to path separators.
func Open(libRoot string, repopath libpath.Libpath) (*Repo, error) {
	if !repopath.IsRepo() {
		return nil, perr.New(perr.BadLibpath, "%s is not a repopath", repopath)
	}
	dir := filepath.Join(append([]string{libRoot}, repopath.Segments()...)...)
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return nil, perr.New(perr.RepoError, "repository %s not found under %s", repopath, libRoot)
	}
	return &Repo{Libpath: repopath, Dir: dir}, nil
}

// TagForVersion is the git tag naming convention for releases.
func TagForVersion(v version.Version) string {
	return v.String()
}

// Checkout moves the working tree to the given version: a release checks out
// its tag; WIP leaves the working tree at whatever the author has checked
// out, and is likewise a no-op when the directory is not a git repository at
// all (plain directories are treated as permanently at WIP).
func (r *Repo) Checkout(v version.Version) error {
	timer := logging.StartTimer(logging.CategoryRepo, "Checkout")
	defer timer.Stop()

	gr, err := git.PlainOpen(r.Dir)
	if err == git.ErrRepositoryNotExists {
		if v.IsWIP {
			logging.RepoDebug("Repo %s is not git-backed; treating as WIP", r.Libpath)
			return nil
		}
		return perr.New(perr.VersionNotBuiltYet,
			"repository %s has no version control; cannot check out %s", r.Libpath, v)
	}
	if err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to open git repo %s", r.Libpath)
	}
	wt, err := gr.Worktree()
	if err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to open worktree of %s", r.Libpath)
	}
	if v.IsWIP {
		// Stay wherever the author's head is.
		return nil
	}
	tag := TagForVersion(v)
	ref, err := gr.Tag(tag)
	if err != nil {
		return perr.New(perr.VersionNotBuiltYet,
			"repository %s has no tag %s", r.Libpath, tag)
	}
	// Resolve annotated tags through to the commit.
	hash := ref.Hash()
	if obj, err := gr.TagObject(hash); err == nil {
		commit, err := obj.Commit()
		if err != nil {
			return perr.Wrap(perr.RepoError, err, "failed to resolve tag %s of %s", tag, r.Libpath)
		}
		hash = commit.Hash
	}
	logging.Repo("Checking out %s at %s (%s)", r.Libpath, tag, hash)
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to check out %s at %s", r.Libpath, tag)
	}
	return nil
}

// CurrentHash returns the working tree's HEAD commit hash, or "" for a
// non-git directory.
func (r *Repo) CurrentHash() (string, error) {
	gr, err := git.PlainOpen(r.Dir)
	if err == git.ErrRepositoryNotExists {
		return "", nil
	}
	if err != nil {
		return "", perr.Wrap(perr.RepoError, err, "failed to open git repo %s", r.Libpath)
	}
	head, err := gr.Head()
	if err != nil {
		return "", perr.Wrap(perr.RepoError, err, "failed to read HEAD of %s", r.Libpath)
	}
	return head.Hash().String(), nil
}

// ListReleaseTags returns the version tags present on the repository.
func (r *Repo) ListReleaseTags() ([]version.Version, error) {
	gr, err := git.PlainOpen(r.Dir)
	if err == git.ErrRepositoryNotExists {
		return nil, nil
	}
	if err != nil {
		return nil, perr.Wrap(perr.RepoError, err, "failed to open git repo %s", r.Libpath)
	}
	iter, err := gr.Tags()
	if err != nil {
		return nil, perr.Wrap(perr.RepoError, err, "failed to list tags of %s", r.Libpath)
	}
	var out []version.Version
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		v, err := version.Parse(ref.Name().Short())
		if err == nil && !v.IsWIP {
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tags of %s: %w", r.Libpath, err)
	}
	return out, nil
}

// WalkModules walks the repository's directory tree calling fn for every
// pfsc module file, with the module's libpath. Hidden entries and names in
// skip are ignored. A "__" module stands for its directory.
func (r *Repo) WalkModules(skip []string, fn func(modpath libpath.Libpath, fsPath string) error) error {
	skipSet := map[string]bool{}
	for _, name := range skip {
		skipSet[name] = true
	}
	var walk func(dir string, lp libpath.Libpath) error
	walk = func(dir string, lp libpath.Libpath) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return perr.Wrap(perr.RepoError, err, "failed to read %s", dir)
		}
		for _, entry := range entries {
			name := entry.Name()
			if name == "" || name[0] == '.' || skipSet[name] {
				continue
			}
			full := filepath.Join(dir, name)
			if entry.IsDir() {
				child, err := lp.Join(name)
				if err != nil {
					logging.RepoDebug("Skipping non-libpath directory %s", full)
					continue
				}
				if err := walk(full, child); err != nil {
					return err
				}
				continue
			}
			if filepath.Ext(name) != libpath.PfscExtension {
				continue
			}
			base := name[:len(name)-len(libpath.PfscExtension)]
			var modpath libpath.Libpath
			if base == libpath.DirModuleName {
				modpath = lp
			} else {
				modpath, err = lp.Join(base)
				if err != nil {
					logging.RepoDebug("Skipping non-libpath module %s", full)
					continue
				}
			}
			if err := fn(modpath, full); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(r.Dir, r.Libpath)
}
