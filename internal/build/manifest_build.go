package build

import (
	"sort"
	"strings"

	"proofmesh/internal/lang"
	"proofmesh/internal/manifest"
)

// buildManifest constructs the manifest tree for the built modules: module
// nodes mirroring the directory structure from the repo root down, with a
// content node per deduction and annotation.
func buildManifest(reg *registry, touched []string, repopath string) *manifest.Manifest {
	root := manifest.NewTreeNode(repopath, map[string]interface{}{
		"name": lastSegment(repopath),
		"type": "MODULE",
	})
	m := manifest.New(root)

	// Module nodes first, shallowest first, so parents exist before
	// children.
	sorted := append([]string{}, touched...)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Count(sorted[i], ".") < strings.Count(sorted[j], ".")
	})
	for _, modpath := range sorted {
		node := ensureNode(m, modpath, repopath)
		mod := reg.GetModule(modpath)
		for _, d := range mod.Deductions() {
			dp := d.GetLibpath().String()
			child := manifest.NewTreeNode(dp, map[string]interface{}{
				"name":   d.GetName(),
				"type":   "CHART",
				"origin": d.GetOrigin(),
			})
			node.AddChild(child)
			m.AddNode(child)
		}
		for _, a := range mod.Annotations() {
			ap := a.GetLibpath().String()
			child := manifest.NewTreeNode(ap, map[string]interface{}{
				"name":   a.GetName(),
				"type":   "NOTES",
				"origin": a.GetOrigin(),
			})
			node.AddChild(child)
			m.AddNode(child)
		}
		// Doc infos collected from the module's deductions.
		for _, d := range mod.Deductions() {
			d.RecursiveItemVisit(func(e lang.Entity) bool {
				if n, ok := e.(*lang.Node); ok {
					if v := n.Assignments["doc"]; v != nil {
						if s := v.AsString(); s != "" {
							m.AddDocInfo(s, map[string]interface{}{})
						}
					}
				}
				return true
			})
		}
	}
	return m
}

// ensureNode finds or creates the module node for a modpath, creating the
// intermediate module chain from the repo root.
func ensureNode(m *manifest.Manifest, modpath, repopath string) *manifest.TreeNode {
	if node := m.Get(modpath); node != nil {
		return node
	}
	parentPath := modpath[:strings.LastIndex(modpath, ".")]
	var parent *manifest.TreeNode
	if parentPath == repopath || !strings.HasPrefix(modpath, repopath+".") {
		parent = m.Get(repopath)
	} else {
		parent = ensureNode(m, parentPath, repopath)
	}
	node := manifest.NewTreeNode(modpath, map[string]interface{}{
		"name": lastSegment(modpath),
		"type": "MODULE",
	})
	parent.AddChild(node)
	m.AddNode(node)
	return node
}

func lastSegment(libpath string) string {
	i := strings.LastIndex(libpath, ".")
	return libpath[i+1:]
}
