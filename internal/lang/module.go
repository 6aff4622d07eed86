package lang

import (
	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/libpath"
	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// Module is the compilation unit: one pfsc source file (or a directory's own
// __ module). It owns imports, top-level assignments, defns, deductions, and
// annotations.
type Module struct {
	base
	Libpath libpath.Libpath
	// Repopath is the three-segment repository prefix.
	Repopath libpath.Libpath
	// Version is the represented version: the build's version during a
	// release build, WIP otherwise.
	Version version.Version
	// Tree is the parse tree this module was built from.
	Tree *pfsc.ModuleTree
	// items maps local name to entity, in declaration order via itemOrder.
	items     map[string]Entity
	itemOrder []string
	// pendingImports are resolved by the resolver.
	pendingImports []*pfsc.ImportDecl
	// imported holds the resolved import bindings.
	imported map[string]Entity
	// Assignments by name, for module-level metadata lookups.
	Assignments map[string]*pfsc.Value
	// Resolved reports whether the resolver has finished with this module.
	Resolved bool
}

// NewModule builds a Module skeleton from a parse tree. Deductions and
// annotations get their entity structure here; all references remain
// unresolved until the resolver runs.
func NewModule(modpath libpath.Libpath, tree *pfsc.ModuleTree, ver version.Version) (*Module, error) {
	repopath, err := modpath.Repopath()
	if err != nil {
		return nil, err
	}
	m := &Module{
		Libpath:     modpath,
		Repopath:    repopath,
		Version:     ver,
		Tree:        tree,
		items:       map[string]Entity{},
		imported:    map[string]Entity{},
		Assignments: map[string]*pfsc.Value{},
	}
	m.base.name = modpath.LastSegment()
	for _, item := range tree.Items {
		switch decl := item.(type) {
		case *pfsc.ImportDecl:
			m.pendingImports = append(m.pendingImports, decl)
		case *pfsc.Assignment:
			m.Assignments[decl.Name] = decl.Value
		case *pfsc.DefnDecl:
			d := newDefn(m, decl)
			if err := m.addItem(decl.Name, d, decl.Pos); err != nil {
				return nil, err
			}
		case *pfsc.DeducDecl:
			d, err := newDeduction(m, decl)
			if err != nil {
				return nil, err
			}
			if err := m.addItem(decl.Name, d, decl.Pos); err != nil {
				return nil, err
			}
		case *pfsc.AnnoDecl:
			a, err := newAnnotation(m, decl)
			if err != nil {
				return nil, err
			}
			if err := m.addItem(decl.Name, a, decl.Pos); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Module) addItem(name string, e Entity, pos pfsc.Pos) error {
	if _, exists := m.items[name]; exists {
		return perr.New(perr.ParsingError, "%v: name %q already defined in module %s",
			pos, name, m.Libpath)
	}
	m.items[name] = e
	m.itemOrder = append(m.itemOrder, name)
	return nil
}

// GetLibpath implements Entity.
func (m *Module) GetLibpath() libpath.Libpath { return m.Libpath }

// GetParent implements Entity; modules have no parent entity.
func (m *Module) GetParent() Entity { return nil }

// GetIndexType implements Entity.
func (m *Module) GetIndexType() IndexType { return IndexModule }

// Get returns a named item, or nil.
func (m *Module) Get(name string) Entity {
	return m.items[name]
}

// ItemNames returns the item names in declaration order.
func (m *Module) ItemNames() []string {
	return m.itemOrder
}

// Deductions returns the module's deductions in declaration order.
func (m *Module) Deductions() []*Deduction {
	var out []*Deduction
	for _, name := range m.itemOrder {
		if d, ok := m.items[name].(*Deduction); ok {
			out = append(out, d)
		}
	}
	return out
}

// Annotations returns the module's annotations in declaration order.
func (m *Module) Annotations() []*Annotation {
	var out []*Annotation
	for _, name := range m.itemOrder {
		if a, ok := m.items[name].(*Annotation); ok {
			out = append(out, a)
		}
	}
	return out
}

// RecursiveItemVisit implements Entity.
func (m *Module) RecursiveItemVisit(visit func(Entity) bool) bool {
	if !visit(m) {
		return false
	}
	for _, name := range m.itemOrder {
		if !m.items[name].RecursiveItemVisit(visit) {
			return false
		}
	}
	return true
}

// HasContents reports whether the module declares anything at all.
func (m *Module) HasContents() bool {
	return len(m.itemOrder) > 0 || len(m.Assignments) > 0 || len(m.pendingImports) > 0
}

// Defn is a macro-like LHS/RHS binding.
type Defn struct {
	base
	module *Module
	LHS    string
	RHS    string
}

func newDefn(m *Module, decl *pfsc.DefnDecl) *Defn {
	d := &Defn{module: m, LHS: decl.LHS, RHS: decl.RHS}
	d.base.name = decl.Name
	d.base.parent = m
	return d
}

// GetLibpath implements Entity.
func (d *Defn) GetLibpath() libpath.Libpath {
	return libpathUnder(d.parent, d.name)
}

// GetIndexType implements Entity.
func (d *Defn) GetIndexType() IndexType { return IndexDefn }

// RecursiveItemVisit implements Entity.
func (d *Defn) RecursiveItemVisit(visit func(Entity) bool) bool {
	return visit(d)
}
