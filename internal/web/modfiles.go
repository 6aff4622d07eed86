package web

import (
	"os"
	"path/filepath"

	"proofmesh/internal/libpath"
	"proofmesh/internal/perr"
)

// newModuleFile creates an empty pfsc module file for a modpath under the
// library root. The parent must already exist as a directory or be a file
// module converted to a directory first.
func newModuleFile(libRoot string, modpath libpath.Libpath) (string, error) {
	segs := modpath.Segments()
	dir := filepath.Join(append([]string{libRoot}, segs[:len(segs)-1]...)...)
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return "", perr.New(perr.ModuleDoesNotContainObject,
			"parent of %s is not a directory", modpath)
	}
	path := filepath.Join(dir, segs[len(segs)-1]+libpath.PfscExtension)
	if _, err := os.Stat(path); err == nil {
		return "", perr.New(perr.LibpathNotAllowed, "module %s already exists", modpath)
	}
	if _, err := os.Stat(filepath.Join(dir, segs[len(segs)-1])); err == nil {
		return "", perr.New(perr.LibpathNotAllowed,
			"name %s is already used by a directory", modpath)
	}
	if err := os.WriteFile(path, []byte{}, 0644); err != nil {
		return "", perr.Wrap(perr.RepoError, err, "failed to create module %s", modpath)
	}
	return path, nil
}

// renameModuleFile renames a module file (or directory module) on disk,
// returning the new modpath.
func renameModuleFile(libRoot string, modpath libpath.Libpath, newName string) (libpath.Libpath, error) {
	newPath, err := modpath.Parent().Join(newName)
	if err != nil {
		return libpath.Libpath{}, err
	}
	segs := modpath.Segments()
	dir := filepath.Join(append([]string{libRoot}, segs[:len(segs)-1]...)...)
	oldFile := filepath.Join(dir, segs[len(segs)-1]+libpath.PfscExtension)
	newFile := filepath.Join(dir, newName+libpath.PfscExtension)
	if _, err := os.Stat(newFile); err == nil {
		return libpath.Libpath{}, perr.New(perr.LibpathNotAllowed,
			"module %s already exists", newPath)
	}
	if _, err := os.Stat(oldFile); err == nil {
		if err := os.Rename(oldFile, newFile); err != nil {
			return libpath.Libpath{}, perr.Wrap(perr.RepoError, err,
				"failed to rename module %s", modpath)
		}
		return newPath, nil
	}
	// Directory module.
	oldDir := filepath.Join(dir, segs[len(segs)-1])
	if st, err := os.Stat(oldDir); err == nil && st.IsDir() {
		newDir := filepath.Join(dir, newName)
		if err := os.Rename(oldDir, newDir); err != nil {
			return libpath.Libpath{}, perr.Wrap(perr.RepoError, err,
				"failed to rename module %s", modpath)
		}
		return newPath, nil
	}
	return libpath.Libpath{}, perr.New(perr.ModuleDoesNotContainObject,
		"module %s not found", modpath)
}
