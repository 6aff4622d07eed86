// Package lang holds the entity model for pfsc content: modules, deductions,
// nodes, annotations, and widgets, together with the resolver that binds
// identifiers across them. Parsing lives in the pfsc and meson subpackages;
// this package turns parse trees into resolved entities and emits their
// presentation artifacts.
package lang

import (
	"proofmesh/internal/libpath"
	"proofmesh/internal/version"
)

// IndexType labels an entity kind for the module index.
type IndexType string

const (
	IndexModule IndexType = "MODULE"
	IndexDeduc  IndexType = "DEDUC"
	IndexNode   IndexType = "NODE"
	IndexGhost  IndexType = "GHOST"
	IndexSpecial IndexType = "SPECIAL"
	IndexAnno   IndexType = "ANNO"
	IndexWidget IndexType = "WIDGET"
	IndexDefn   IndexType = "DEFN"
	IndexAsgn   IndexType = "ASGN"
)

// Entity is the capability set shared by everything addressable by libpath.
type Entity interface {
	// GetLibpath returns the entity's absolute libpath.
	GetLibpath() libpath.Libpath
	// GetName returns the entity's final segment.
	GetName() string
	// GetParent returns the containing entity, or nil at a module root.
	GetParent() Entity
	// GetIndexType labels the entity for the module index.
	GetIndexType() IndexType
	// GetOrigin returns the entity's origin string "libpath@major", or ""
	// before origins are injected.
	GetOrigin() string
	// SetOrigin records the entity's origin.
	SetOrigin(origin string)
	// RecursiveItemVisit calls visit on this entity and every descendant
	// item, depth-first in document order. Returning false stops the walk.
	RecursiveItemVisit(visit func(Entity) bool) bool
}

// base carries the fields every entity shares.
type base struct {
	name   string
	parent Entity
	origin string
}

func (b *base) GetName() string   { return b.name }
func (b *base) GetParent() Entity { return b.parent }
func (b *base) GetOrigin() string { return b.origin }

func (b *base) SetOrigin(origin string) { b.origin = origin }

// libpathUnder computes a child libpath from the parent chain.
func libpathUnder(parent Entity, name string) libpath.Libpath {
	if parent == nil {
		return libpath.MustParse(name)
	}
	return parent.GetLibpath().Child(name)
}

// ModpathOf walks up the parent chain to the containing module.
func ModpathOf(e Entity) libpath.Libpath {
	for e != nil {
		if m, ok := e.(*Module); ok {
			return m.GetLibpath()
		}
		e = e.GetParent()
	}
	return libpath.Libpath{}
}

// DeducOf walks up the parent chain to the outermost containing deduction,
// or nil.
func DeducOf(e Entity) *Deduction {
	var last *Deduction
	for e != nil {
		if d, ok := e.(*Deduction); ok {
			last = d
		}
		e = e.GetParent()
	}
	return last
}

// FormatOrigin renders "libpath@major".
func FormatOrigin(lp libpath.Libpath, major string) string {
	return lp.String() + "@" + major
}

// VersionOf returns the full version an entity was compiled at, by walking up
// to its module.
func VersionOf(e Entity) version.Version {
	for e != nil {
		if m, ok := e.(*Module); ok {
			return m.Version
		}
		e = e.GetParent()
	}
	return version.WIP()
}
