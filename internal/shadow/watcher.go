package shadow

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
)

// Watcher snapshots external edits: modules changed on disk outside the IDE
// (e.g. by the author's own editor) get shadow commits too, so the history
// stays gapless.
type Watcher struct {
	libRoot string
	keeper  *Keeper
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching a repository's working tree for module edits.
func NewWatcher(libRoot string, repopath libpath.Libpath, keeper *Keeper) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, perr.Wrap(perr.ShadowError, err, "failed to create fs watcher")
	}
	w := &Watcher{libRoot: libRoot, keeper: keeper, fsw: fsw, done: make(chan struct{})}

	repoDir := filepath.Join(append([]string{libRoot}, repopath.Segments()...)...)
	if err := filepath.WalkDir(repoDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		fsw.Close()
		return nil, perr.Wrap(perr.ShadowError, err, "failed to watch %s", repoDir)
	}

	go w.run()
	logging.Shadow("Watching %s for external edits", repoDir)
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != libpath.PfscExtension {
				continue
			}
			w.snapshot(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryShadow).Warn("fs watcher error: %v", err)
		}
	}
}

// snapshot records an external edit into the shadow history.
func (w *Watcher) snapshot(fsPath string) {
	rel, err := filepath.Rel(w.libRoot, fsPath)
	if err != nil {
		return
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), libpath.PfscExtension)
	segs := strings.Split(rel, "/")
	if len(segs) > 0 && segs[len(segs)-1] == libpath.DirModuleName {
		segs = segs[:len(segs)-1]
	}
	modpath, err := libpath.ParseTrusted(strings.Join(segs, "."))
	if err != nil {
		return
	}
	text, err := os.ReadFile(fsPath)
	if err != nil {
		return
	}
	if _, err := w.keeper.RecordSave(modpath, text); err != nil {
		logging.Get(logging.CategoryShadow).Warn("failed to snapshot %s: %v", modpath, err)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
