package lang

import (
	"strings"

	"proofmesh/internal/lang/meson"
	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/libpath"
	"proofmesh/internal/perr"
)

// Node type keywords.
const (
	TypeAsrt = "asrt"
	TypeCite = "cite"
	TypeExis = "exis"
	TypeFlse = "flse"
	TypeIntr = "intr"
	TypeMthd = "mthd"
	TypeRels = "rels"
	TypeSupp = "supp"
	TypeUniv = "univ"
	TypeWith = "with"
	TypeGhost = "ghost"
	TypeQstn = "qstn"
	TypeUcon = "ucon"
)

// IsModalType reports whether nodes of this type are modal (introduced by
// modal keywords in Meson scripts).
func IsModalType(t string) bool {
	return t == TypeSupp || t == TypeIntr
}

// IsAssertoricType reports whether nodes of this type assert something.
func IsAssertoricType(t string) bool {
	switch t {
	case TypeAsrt, TypeExis, TypeFlse, TypeRels, TypeUniv, TypeWith:
		return true
	}
	return false
}

// IsCompoundWithIntro reports whether the type is a compound node carrying
// intro subnodes (quantifier-like nodes).
func IsCompoundWithIntro(t string) bool {
	switch t {
	case TypeExis, TypeRels, TypeUniv, TypeWith:
		return true
	}
	return false
}

// Deduction bundles a named proof step: its targets, running definitions,
// nodes, subdeductions, and internal edge graph. A subdeduction is itself a
// Deduction with Sub set, hybrid between deduction and node.
type Deduction struct {
	base
	Decl   *pfsc.DeducDecl
	Module *Module
	Sub    bool

	// TargetPaths and RdefPaths await resolution.
	TargetPaths []pfsc.PathRef
	RdefPaths   []pfsc.PathRef

	// Targets are the resolved target entities (usually nodes of another
	// deduction).
	Targets []Entity
	// TargetDeduc is the deduction containing the targets, when any.
	TargetDeduc *Deduction
	// TargetSubdeduc is set when the targets live in a subdeduction of the
	// target deduction.
	TargetSubdeduc libpath.Libpath
	// TargetVersion is the full version the targets are pinned at.
	TargetVersion string
	// Rdefs are the resolved running definitions.
	Rdefs []*Defn

	// items are nodes and subdeductions by local name, ordered.
	items     map[string]Entity
	itemOrder []string
	// Assignments: meson / arcs scripts, labels, and other metadata.
	Assignments map[string]*pfsc.Value

	// Graph is the compiled internal proof graph.
	Graph *meson.Graph
	// ghosts track ghost nodes by their dotted local names.
	ghosts map[string]*GhostNode
	// ghostOrder preserves creation order.
	ghostOrder []string
}

func newDeduction(m *Module, decl *pfsc.DeducDecl) (*Deduction, error) {
	d := &Deduction{
		Decl:        decl,
		Module:      m,
		Sub:         decl.SubDeduc,
		TargetPaths: decl.Targets,
		RdefPaths:   decl.Rdefs,
		items:       map[string]Entity{},
		Assignments: map[string]*pfsc.Value{},
		ghosts:      map[string]*GhostNode{},
	}
	d.base.name = decl.Name
	d.base.parent = m
	if err := d.addBodyItems(decl.Items, d); err != nil {
		return nil, err
	}
	return d, nil
}

// addBodyItems populates a deduction (or subdeduction) from its parse items.
func (d *Deduction) addBodyItems(items []pfsc.Item, parent Entity) error {
	for _, item := range items {
		switch decl := item.(type) {
		case *pfsc.Assignment:
			d.Assignments[decl.Name] = decl.Value
		case *pfsc.NodeDecl:
			n, err := newNode(d, parent, decl)
			if err != nil {
				return err
			}
			if err := d.addItem(decl.Name, n, decl.Pos); err != nil {
				return err
			}
		case *pfsc.DeducDecl:
			sub := &Deduction{
				Decl:        decl,
				Module:      d.Module,
				Sub:         true,
				items:       map[string]Entity{},
				Assignments: map[string]*pfsc.Value{},
				ghosts:      map[string]*GhostNode{},
			}
			sub.base.name = decl.Name
			sub.base.parent = parent
			if err := sub.addBodyItems(decl.Items, sub); err != nil {
				return err
			}
			if err := d.addItem(decl.Name, sub, decl.Pos); err != nil {
				return err
			}
		default:
			return perr.New(perr.ParsingError, "%v: unexpected item in deduction body",
				item.ItemPos())
		}
	}
	return nil
}

func (d *Deduction) addItem(name string, e Entity, pos pfsc.Pos) error {
	if _, exists := d.items[name]; exists {
		return perr.New(perr.ParsingError, "%v: name %q already defined in %s",
			pos, name, d.GetLibpath())
	}
	d.items[name] = e
	d.itemOrder = append(d.itemOrder, name)
	return nil
}

// GetLibpath implements Entity.
func (d *Deduction) GetLibpath() libpath.Libpath {
	return libpathUnder(d.parent, d.name)
}

// GetIndexType implements Entity.
func (d *Deduction) GetIndexType() IndexType { return IndexDeduc }

// Get returns a named item, or nil.
func (d *Deduction) Get(name string) Entity {
	return d.items[name]
}

// ItemNames returns item names in declaration order.
func (d *Deduction) ItemNames() []string {
	return d.itemOrder
}

// RecursiveItemVisit implements Entity.
func (d *Deduction) RecursiveItemVisit(visit func(Entity) bool) bool {
	if !visit(d) {
		return false
	}
	for _, name := range d.itemOrder {
		if !d.items[name].RecursiveItemVisit(visit) {
			return false
		}
	}
	for _, name := range d.ghostOrder {
		if !visit(d.ghosts[name]) {
			return false
		}
	}
	return true
}

// FriendlyName returns the human-readable name when one was assigned.
func (d *Deduction) FriendlyName() string {
	if v := d.Assignments["title"]; v != nil {
		return v.AsString()
	}
	if v := d.Assignments["en"]; v != nil {
		return v.AsString()
	}
	return ""
}

// GraphScript returns the deduction's graph script and whether it is a Meson
// script (true) or an arc listing (false).
func (d *Deduction) GraphScript() (string, bool, error) {
	mesonVal := d.Assignments["meson"]
	arcsVal := d.Assignments["arcs"]
	if mesonVal != nil && arcsVal != nil {
		return "", false, perr.New(perr.ParsingError,
			"deduction %s declares both meson and arcs", d.GetLibpath())
	}
	if mesonVal != nil {
		return mesonVal.AsString(), true, nil
	}
	if arcsVal != nil {
		return arcsVal.AsString(), false, nil
	}
	return "", false, nil
}

// LocalResolve finds an entity by a dotted name relative to this deduction:
// first among its own items (descending through subdeducs and compound
// nodes), then nil.
func (d *Deduction) LocalResolve(dotted string) Entity {
	segs := strings.Split(dotted, ".")
	var cur Entity = d
	for _, seg := range segs {
		switch owner := cur.(type) {
		case *Deduction:
			cur = owner.Get(seg)
		case *Node:
			cur = owner.Get(seg)
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// AllSuppNodes collects supp nodes in this deduction and every subdeduction,
// keyed by absolute libpath.
func (d *Deduction) AllSuppNodes(lookup map[string]*Node) {
	for _, name := range d.itemOrder {
		switch item := d.items[name].(type) {
		case *Node:
			item.collectSupp(lookup)
		case *Deduction:
			item.AllSuppNodes(lookup)
		}
	}
}

// Node is a proof node. Compound types own subnodes.
type Node struct {
	base
	Decl  *pfsc.NodeDecl
	Deduc *Deduction
	Type  string

	// subnodes by name, ordered.
	items     map[string]Entity
	itemOrder []string
	// Assignments: labels (language-keyed), sy, doc, cf, wolog, cloneOf.
	Assignments map[string]*pfsc.Value

	// VersusPaths / ContraPaths await resolution.
	VersusPaths []pfsc.PathRef
	ContraPaths []pfsc.PathRef

	// Alternates is the resolved, closure-completed set of alternate supp
	// nodes (supp only), excluding the node itself.
	Alternates []*Node
	// Contras are the resolved refuted supp nodes (flse only).
	Contras []*Node
	// Wolog marks a supp node as "without loss of generality".
	Wolog bool
	// Comparisons are resolved cf references.
	Comparisons []Entity
	// CloneOf is the versioned libpath of the original when this node is a
	// clone, "" otherwise.
	CloneOf string
	// cloneSource is the resolved original.
	cloneSource *Node
}

func newNode(d *Deduction, parent Entity, decl *pfsc.NodeDecl) (*Node, error) {
	nodeType := decl.Type
	name := decl.Name
	// '?' and '!' prefixes make question and unconfirmed nodes.
	if strings.HasPrefix(name, "?") {
		nodeType = TypeQstn
	} else if strings.HasPrefix(name, "!") {
		nodeType = TypeUcon
	}
	n := &Node{
		Decl:        decl,
		Deduc:       d,
		Type:        nodeType,
		items:       map[string]Entity{},
		Assignments: map[string]*pfsc.Value{},
		VersusPaths: decl.Versus,
		ContraPaths: decl.Contra,
	}
	n.base.name = name
	n.base.parent = parent
	for _, item := range decl.Items {
		switch sub := item.(type) {
		case *pfsc.Assignment:
			n.Assignments[sub.Name] = sub.Value
		case *pfsc.NodeDecl:
			if !IsCompoundWithIntro(nodeType) {
				return nil, perr.New(perr.ParsingError,
					"%v: node type %q cannot contain subnodes", sub.Pos, nodeType)
			}
			child, err := newNode(d, n, sub)
			if err != nil {
				return nil, err
			}
			if _, exists := n.items[sub.Name]; exists {
				return nil, perr.New(perr.ParsingError,
					"%v: name %q already defined in %s", sub.Pos, sub.Name, n.GetLibpath())
			}
			n.items[sub.Name] = child
			n.itemOrder = append(n.itemOrder, sub.Name)
		default:
			return nil, perr.New(perr.ParsingError, "%v: unexpected item in node body",
				item.ItemPos())
		}
	}
	if v := n.Assignments["wolog"]; v != nil && v.Kind == pfsc.BoolValue {
		n.Wolog = v.Bool
	}
	return n, nil
}

// GetLibpath implements Entity.
func (n *Node) GetLibpath() libpath.Libpath {
	return libpathUnder(n.parent, n.name)
}

// GetIndexType implements Entity.
func (n *Node) GetIndexType() IndexType {
	if n.Type == TypeQstn || n.Type == TypeUcon {
		return IndexSpecial
	}
	return IndexNode
}

// Get returns a subnode by name, or nil.
func (n *Node) Get(name string) Entity {
	return n.items[name]
}

// SubnodeNames returns subnode names in declaration order.
func (n *Node) SubnodeNames() []string {
	return n.itemOrder
}

// RecursiveItemVisit implements Entity.
func (n *Node) RecursiveItemVisit(visit func(Entity) bool) bool {
	if !visit(n) {
		return false
	}
	for _, name := range n.itemOrder {
		if !n.items[name].RecursiveItemVisit(visit) {
			return false
		}
	}
	return true
}

// IsModal reports whether the node is a supp or intr node.
func (n *Node) IsModal() bool {
	return IsModalType(n.Type)
}

func (n *Node) collectSupp(lookup map[string]*Node) {
	if n.Type == TypeSupp {
		lookup[n.GetLibpath().String()] = n
	}
	for _, name := range n.itemOrder {
		if child, ok := n.items[name].(*Node); ok {
			child.collectSupp(lookup)
		}
	}
}

// Label returns the node's label for a language key, falling back to the
// symbolic label.
func (n *Node) Label(langKey string) string {
	if v := n.Assignments[langKey]; v != nil {
		return v.AsString()
	}
	if v := n.Assignments["sy"]; v != nil {
		return v.AsString()
	}
	return ""
}

// GhostNode is an in-deduction proxy for an entity defined elsewhere. Its
// origin is the origin of the real object.
type GhostNode struct {
	base
	Deduc *Deduction
	// Real is the referent entity.
	Real Entity
	// localName is the dotted name inside the deduction's namespace.
	localName string
}

// GetLibpath implements Entity: the ghost mirrors the referent's name chain
// inside the deduction's namespace.
func (g *GhostNode) GetLibpath() libpath.Libpath {
	lp := g.Deduc.GetLibpath()
	for _, seg := range strings.Split(g.localName, ".") {
		lp = lp.Child(seg)
	}
	return lp
}

// GetIndexType implements Entity.
func (g *GhostNode) GetIndexType() IndexType { return IndexGhost }

// RealObj returns the referent.
func (g *GhostNode) RealObj() Entity { return g.Real }

// GhostOf returns the referent's libpath.
func (g *GhostNode) GhostOf() libpath.Libpath { return g.Real.GetLibpath() }

// GetOrigin returns the origin of the real object.
func (g *GhostNode) GetOrigin() string { return g.Real.GetOrigin() }

// RecursiveItemVisit implements Entity.
func (g *GhostNode) RecursiveItemVisit(visit func(Entity) bool) bool {
	return visit(g)
}

// GhostFor returns the deduction's ghost node for a referent, creating it on
// first reference and reusing it afterwards.
func (d *Deduction) GhostFor(localName string, real Entity) *GhostNode {
	if g, ok := d.ghosts[localName]; ok {
		return g
	}
	g := &GhostNode{Deduc: d, Real: real, localName: localName}
	g.base.name = localName[strings.LastIndex(localName, ".")+1:]
	g.base.parent = d
	d.ghosts[localName] = g
	d.ghostOrder = append(d.ghostOrder, localName)
	return g
}

// Ghosts returns the deduction's ghost nodes in creation order.
func (d *Deduction) Ghosts() []*GhostNode {
	out := make([]*GhostNode, 0, len(d.ghostOrder))
	for _, name := range d.ghostOrder {
		out = append(out, d.ghosts[name])
	}
	return out
}
