// Package shadow implements shadow version control: an append-only commit
// history of module saves, parallel to (and never touching) the author's own
// git working tree. Each save diffs against the last shadow commit; identical
// content produces no new commit.
package shadow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
)

// Keeper maintains the shadow repositories under one shadow root.
type Keeper struct {
	root string
}

// NewKeeper opens (creating if needed) the shadow root.
func NewKeeper(root string) (*Keeper, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, perr.Wrap(perr.ShadowError, err, "failed to create shadow root %s", root)
	}
	return &Keeper{root: root}, nil
}

// repoDir maps a repopath to its shadow repository directory.
func (k *Keeper) repoDir(repopath libpath.Libpath) string {
	return filepath.Join(append([]string{k.root}, repopath.Segments()...)...)
}

// openRepo opens or initializes the shadow repository for a repopath.
func (k *Keeper) openRepo(repopath libpath.Libpath) (*git.Repository, string, error) {
	dir := k.repoDir(repopath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", perr.Wrap(perr.ShadowError, err, "failed to create shadow dir %s", dir)
	}
	gr, err := git.PlainOpen(dir)
	if err == git.ErrRepositoryNotExists {
		gr, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, "", perr.Wrap(perr.ShadowError, err, "failed to open shadow repo for %s", repopath)
	}
	return gr, dir, nil
}

// relFile maps a modpath to its file inside the shadow repo.
func relFile(repopath, modpath libpath.Libpath) (string, error) {
	if modpath.String() == repopath.String() {
		return libpath.DirModuleName + libpath.PfscExtension, nil
	}
	segs, err := modpath.RelativeTo(repopath)
	if err != nil {
		return "", err
	}
	return filepath.Join(segs...) + libpath.PfscExtension, nil
}

// RecordSave snapshots module text into the shadow history. Returns true
// when a new commit was made; identical content is a no-op.
func (k *Keeper) RecordSave(modpath libpath.Libpath, text []byte) (bool, error) {
	timer := logging.StartTimer(logging.CategoryShadow, "RecordSave")
	defer timer.Stop()

	repopath, err := modpath.Repopath()
	if err != nil {
		return false, err
	}
	gr, dir, err := k.openRepo(repopath)
	if err != nil {
		return false, err
	}
	rel, err := relFile(repopath, modpath)
	if err != nil {
		return false, err
	}
	full := filepath.Join(dir, rel)

	if old, err := os.ReadFile(full); err == nil && string(old) == string(text) {
		logging.ShadowDebug("No change for %s; skipping shadow commit", modpath)
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return false, perr.Wrap(perr.ShadowError, err, "failed to create %s", filepath.Dir(full))
	}
	if err := os.WriteFile(full, text, 0644); err != nil {
		return false, perr.Wrap(perr.ShadowError, err, "failed to write %s", full)
	}

	wt, err := gr.Worktree()
	if err != nil {
		return false, perr.Wrap(perr.ShadowError, err, "failed to open shadow worktree")
	}
	if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
		return false, perr.Wrap(perr.ShadowError, err, "failed to stage %s", rel)
	}
	msg := fmt.Sprintf("save %s", modpath)
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "proofmesh",
			Email: "shadow@proofmesh.invalid",
			When:  time.Now(),
		},
	})
	if err != nil {
		return false, perr.Wrap(perr.ShadowError, err, "failed to commit shadow save of %s", modpath)
	}
	logging.Shadow("Shadow commit for %s", modpath)
	return true, nil
}

// LastSnapshot returns the most recently committed text of a module, or nil
// when the module has no shadow history yet.
func (k *Keeper) LastSnapshot(modpath libpath.Libpath) ([]byte, error) {
	repopath, err := modpath.Repopath()
	if err != nil {
		return nil, err
	}
	rel, err := relFile(repopath, modpath)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(k.repoDir(repopath), rel)
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, perr.Wrap(perr.ShadowError, err, "failed to read shadow snapshot of %s", modpath)
	}
	return data, nil
}

// MergeText produces a git-style three-way merge of the user's in-browser
// text against the on-disk text, with the last shadow snapshot as base.
// When only one side changed, that side wins cleanly.
func (k *Keeper) MergeText(modpath libpath.Libpath, userText, diskText string) (string, bool, error) {
	base, err := k.LastSnapshot(modpath)
	if err != nil {
		return "", false, err
	}
	baseText := string(base)
	switch {
	case userText == diskText:
		return userText, false, nil
	case baseText == diskText:
		return userText, false, nil
	case baseText == userText:
		return diskText, false, nil
	}
	var sb strings.Builder
	sb.WriteString("<<<<<<< editor\n")
	sb.WriteString(userText)
	if !strings.HasSuffix(userText, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString("=======\n")
	sb.WriteString(diskText)
	if !strings.HasSuffix(diskText, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString(">>>>>>> disk\n")
	return sb.String(), true, nil
}
