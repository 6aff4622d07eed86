package libpath

import (
	"os"
	"path/filepath"
	"strings"
)

// PfscExtension is the module file extension.
const PfscExtension = ".pfsc"

// DirModuleName is the special module name standing for the containing
// directory's own module.
const DirModuleName = "__"

// PathInfo classifies a libpath against the library filesystem root: whether
// the path names a directory, a pfsc source file, or neither, and where the
// longest module prefix ends.
type PathInfo struct {
	Libpath Libpath
	// FSPath is the filesystem path corresponding to the module prefix,
	// without extension.
	FSPath string
	// IsDir reports whether the full libpath names a directory.
	IsDir bool
	// IsFile reports whether the full libpath names a pfsc file.
	IsFile bool
	// ModSegments is the number of leading segments that name a module (the
	// file or directory itself); trailing segments address entities within it.
	ModSegments int
}

// Probe classifies libpath p under the given library root. The module prefix
// is the longest leading run of segments that exists on disk as directories
// followed optionally by one .pfsc file.
func Probe(root string, p Libpath) PathInfo {
	info := PathInfo{Libpath: p}
	segs := p.Segments()
	fsPath := root
	n := 0
	for i, seg := range segs {
		next := filepath.Join(fsPath, seg)
		if st, err := os.Stat(next); err == nil && st.IsDir() {
			fsPath = next
			n = i + 1
			continue
		}
		if st, err := os.Stat(next + PfscExtension); err == nil && !st.IsDir() {
			info.FSPath = next
			info.ModSegments = i + 1
			info.IsFile = i+1 == len(segs)
			return info
		}
		break
	}
	info.FSPath = fsPath
	info.ModSegments = n
	info.IsDir = n == len(segs) && n > 0
	return info
}

// ModpathFor returns the longest prefix of p that names a module on disk.
// For a path addressing an entity inside a file module, that is the file; for
// a directory, the directory's own "__" module is implied.
func ModpathFor(root string, p Libpath) (Libpath, bool) {
	info := Probe(root, p)
	if info.ModSegments == 0 {
		return Libpath{}, false
	}
	segs := p.Segments()[:info.ModSegments]
	return Libpath{strings.Join(segs, ".")}, true
}

// FSPathForModule maps a module libpath to its source file under root,
// preferring "<dir>/__.pfsc" when the path names a directory.
func FSPathForModule(root string, modpath Libpath) (string, bool) {
	base := filepath.Join(append([]string{root}, modpath.Segments()...)...)
	if st, err := os.Stat(base); err == nil && st.IsDir() {
		own := filepath.Join(base, DirModuleName+PfscExtension)
		if _, err := os.Stat(own); err == nil {
			return own, true
		}
		return "", false
	}
	file := base + PfscExtension
	if st, err := os.Stat(file); err == nil && !st.IsDir() {
		return file, true
	}
	return "", false
}
