// Package manifest models the repository tree shipped to the front-end: one
// node per module or content item, plus build and doc-info sections. Partial
// builds merge their subtree into the existing manifest.
package manifest

import (
	"encoding/json"
	"strings"

	"proofmesh/internal/perr"
)

// BuildInfo records one build operation covered by a manifest.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Time    string `json:"time,omitempty"`
}

// TreeNode is a single node in the manifest tree.
type TreeNode struct {
	ID       string
	Data     map[string]interface{}
	Children []*TreeNode
	Parent   *TreeNode `json:"-"`
}

// NewTreeNode constructs a node with the given id and data.
func NewTreeNode(id string, data map[string]interface{}) *TreeNode {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["libpath"] = id
	return &TreeNode{ID: id, Data: data}
}

// AddChild appends a child node.
func (n *TreeNode) AddChild(child *TreeNode) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Replace swaps an existing child for another node.
func (n *TreeNode) Replace(old, new *TreeNode) {
	for i, c := range n.Children {
		if c == old {
			new.Parent = n
			n.Children[i] = new
			return
		}
	}
}

// buildDict renders the node for JSON.
func (n *TreeNode) buildDict() map[string]interface{} {
	d := map[string]interface{}{"id": n.ID}
	for k, v := range n.Data {
		d[k] = v
	}
	if len(n.Children) > 0 {
		children := make([]interface{}, len(n.Children))
		for i, c := range n.Children {
			children[i] = c.buildDict()
		}
		d["children"] = children
	}
	return d
}

// Manifest is the repository tree model plus build and doc-info sections.
type Manifest struct {
	root      *TreeNode
	buildInfo map[string]BuildInfo
	docInfos  map[string]interface{}
	lookup    map[string]*TreeNode
}

// New constructs a manifest around a root node.
func New(root *TreeNode) *Manifest {
	m := &Manifest{
		root:      root,
		buildInfo: map[string]BuildInfo{},
		docInfos:  map[string]interface{}{},
		lookup:    map[string]*TreeNode{},
	}
	m.index(root)
	return m
}

func (m *Manifest) index(n *TreeNode) {
	m.lookup[n.ID] = n
	for _, c := range n.Children {
		m.index(c)
	}
}

// Root returns the root node.
func (m *Manifest) Root() *TreeNode {
	return m.root
}

// Get returns a node by id, or nil.
func (m *Manifest) Get(id string) *TreeNode {
	return m.lookup[id]
}

// AddNode records a node in the lookup.
func (m *Manifest) AddNode(n *TreeNode) {
	m.lookup[n.ID] = n
}

// SetBuildInfo records the build covering a libpath.
func (m *Manifest) SetBuildInfo(libpath string, info BuildInfo) {
	m.buildInfo[libpath] = info
}

// IsSingleBuild says whether this manifest represents just one build
// operation.
func (m *Manifest) IsSingleBuild() bool {
	return len(m.buildInfo) == 1
}

// AddDocInfo records a document descriptor.
func (m *Manifest) AddDocInfo(docID string, info interface{}) {
	m.docInfos[docID] = info
}

// ToJSON serializes the manifest.
func (m *Manifest) ToJSON() ([]byte, error) {
	d := map[string]interface{}{
		"tree_model": m.root.buildDict(),
		"doc_info":   m.docInfos,
	}
	if len(m.buildInfo) > 0 {
		d["build"] = m.buildInfo
	}
	return json.Marshal(d)
}

// FromJSON deserializes a manifest.
func FromJSON(data []byte) (*Manifest, error) {
	var d struct {
		TreeModel map[string]interface{}   `json:"tree_model"`
		Build     map[string]BuildInfo     `json:"build"`
		DocInfo   map[string]interface{}   `json:"doc_info"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, perr.Wrap(perr.MissingManifest, err, "malformed manifest")
	}
	root, err := treeFromDict(d.TreeModel)
	if err != nil {
		return nil, err
	}
	m := New(root)
	if d.Build != nil {
		m.buildInfo = d.Build
	}
	if d.DocInfo != nil {
		m.docInfos = d.DocInfo
	}
	return m, nil
}

func treeFromDict(d map[string]interface{}) (*TreeNode, error) {
	id, _ := d["id"].(string)
	if id == "" {
		return nil, perr.New(perr.MissingManifest, "manifest tree node missing id")
	}
	data := map[string]interface{}{}
	var childDicts []interface{}
	for k, v := range d {
		switch k {
		case "id":
		case "children":
			childDicts, _ = v.([]interface{})
		default:
			data[k] = v
		}
	}
	node := NewTreeNode(id, data)
	for _, cd := range childDicts {
		cm, ok := cd.(map[string]interface{})
		if !ok {
			return nil, perr.New(perr.MissingManifest, "malformed manifest child under %s", id)
		}
		child, err := treeFromDict(cm)
		if err != nil {
			return nil, err
		}
		node.AddChild(child)
	}
	return node, nil
}

// Merge merges another manifest, which must represent a single build
// operation, into this one: the freshly built subtree replaces or extends
// the corresponding part of this tree.
func (m *Manifest) Merge(other *Manifest) error {
	if other == nil || !other.IsSingleBuild() {
		return perr.New(perr.MissingManifest,
			"cannot merge: other must be a single-build manifest")
	}
	var builtLibpath string
	var info BuildInfo
	for k, v := range other.buildInfo {
		builtLibpath, info = k, v
	}

	// All builds are recursive, so drop any build entries covered by the
	// newly built subtree.
	for k := range m.buildInfo {
		if k == builtLibpath || strings.HasPrefix(k, builtLibpath+".") {
			delete(m.buildInfo, k)
		}
	}
	m.buildInfo[builtLibpath] = info

	for docID, di := range other.docInfos {
		m.docInfos[docID] = di
	}

	// Find the first ancestor of the built node (itself included) for which
	// this manifest has a node of the same id. The repo root is a common
	// ancestor when both manifests describe the same repo.
	var a, c *TreeNode
	b := other.Get(builtLibpath)
	for b != nil {
		if a = m.Get(b.ID); a != nil {
			break
		}
		c, b = b, b.Parent
	}
	if a == nil || b == nil {
		return perr.New(perr.MissingManifest,
			"cannot merge repo manifests; try rebuilding the repo recursively from its root")
	}
	if a.ID == builtLibpath {
		if a == m.root {
			m.root = b
		} else {
			a.Parent.Replace(a, b)
		}
	} else {
		a.AddChild(c)
	}
	for id, node := range other.lookup {
		m.lookup[id] = node
	}
	return nil
}
