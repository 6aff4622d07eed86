package index

import (
	"proofmesh/internal/lang"
	"proofmesh/internal/libpath"
	"proofmesh/internal/version"
)

// labelFor maps an entity's index type to a kNode label.
func labelFor(t lang.IndexType) Label {
	switch t {
	case lang.IndexModule:
		return LabelModule
	case lang.IndexDeduc:
		return LabelDeduc
	case lang.IndexNode:
		return LabelNode
	case lang.IndexGhost:
		return LabelGhost
	case lang.IndexSpecial:
		return LabelSpecial
	case lang.IndexAnno:
		return LabelAnno
	case lang.IndexWidget:
		return LabelWidget
	case lang.IndexDefn:
		return LabelDefn
	case lang.IndexAsgn:
		return LabelAsgn
	}
	return LabelNode
}

// ScanModule records a resolved module's entities and relationships into the
// index info: one kNode per entity, UNDER containment edges, TARGETS /
// EXPANDS enrichment edges, GHOSTOF, CF, and IMPLIES edges from each
// deduction's graph.
func ScanModule(mii *ModuleIndexInfo, m *lang.Module) {
	modpath := m.Libpath.String()
	repopath := m.Repopath.String()
	major := mii.Major()
	mii.NoteModule(modpath)

	mii.AddNode(&KNode{
		Label:    LabelModule,
		Libpath:  modpath,
		Major:    major,
		Modpath:  modpath,
		Repopath: repopath,
		Origin:   m.GetOrigin(),
	})
	// Containment under the parent module, when the module is not the repo
	// root.
	if parent := m.Libpath.Parent(); parent.NumSegments() >= libpath.RepoSegments {
		mii.AddReln(&KReln{
			Type:        RelnUnder,
			TailLibpath: modpath,
			HeadLibpath: parent.String(),
			TailMajor:   major,
			HeadMajor:   major,
			Major:       major,
			Modpath:     modpath,
			Repopath:    repopath,
			Segment:     m.Libpath.LastSegment(),
		})
	}

	m.RecursiveItemVisit(func(e lang.Entity) bool {
		if _, isModule := e.(*lang.Module); isModule {
			return true
		}
		scanEntity(mii, m, e)
		return true
	})

	for _, d := range m.Deductions() {
		scanDeduction(mii, m, d)
	}
	for _, a := range m.Annotations() {
		scanAnnotation(mii, m, a)
	}
}

func scanEntity(mii *ModuleIndexInfo, m *lang.Module, e lang.Entity) {
	major := mii.Major()
	lp := e.GetLibpath().String()
	mii.AddNode(&KNode{
		Label:    labelFor(e.GetIndexType()),
		Libpath:  lp,
		Major:    major,
		Modpath:  m.Libpath.String(),
		Repopath: m.Repopath.String(),
		Origin:   e.GetOrigin(),
	})
	parent := e.GetParent()
	if parent == nil {
		return
	}
	mii.AddReln(&KReln{
		Type:        RelnUnder,
		TailLibpath: lp,
		HeadLibpath: parent.GetLibpath().String(),
		TailMajor:   major,
		HeadMajor:   major,
		Major:       major,
		Modpath:     m.Libpath.String(),
		Repopath:    m.Repopath.String(),
		Segment:     e.GetName(),
	})
}

func scanDeduction(mii *ModuleIndexInfo, m *lang.Module, d *lang.Deduction) {
	major := mii.Major()
	modpath := m.Libpath.String()
	repopath := m.Repopath.String()
	deducLp := d.GetLibpath().String()

	targetMajor := major
	if d.TargetVersion != "" {
		if tv, err := version.Parse(d.TargetVersion); err == nil {
			targetMajor = tv.MajorString()
		}
	}
	for _, t := range d.Targets {
		mii.AddReln(&KReln{
			Type:        RelnTargets,
			TailLibpath: deducLp,
			HeadLibpath: t.GetLibpath().String(),
			TailMajor:   major,
			HeadMajor:   targetMajor,
			Major:       major,
			Modpath:     modpath,
			Repopath:    repopath,
		})
	}
	if d.TargetDeduc != nil {
		mii.AddReln(&KReln{
			Type:        RelnExpands,
			TailLibpath: deducLp,
			HeadLibpath: d.TargetDeduc.GetLibpath().String(),
			TailMajor:   major,
			HeadMajor:   targetMajor,
			Major:       major,
			Modpath:     modpath,
			Repopath:    repopath,
			TakenAt:     targetMajor,
		})
	}
	for _, g := range d.Ghosts() {
		mii.AddReln(&KReln{
			Type:        RelnGhostOf,
			TailLibpath: g.GetLibpath().String(),
			HeadLibpath: g.GhostOf().String(),
			TailMajor:   major,
			HeadMajor:   targetMajor,
			Major:       major,
			Modpath:     modpath,
			Repopath:    repopath,
		})
	}
	if d.Graph != nil {
		for _, rep := range d.Graph.BuildEdgeListForDashgraph(true) {
			mii.AddReln(&KReln{
				Type:        RelnImplies,
				TailLibpath: rep.Tail,
				HeadLibpath: rep.Head,
				TailMajor:   major,
				HeadMajor:   major,
				Major:       major,
				Modpath:     modpath,
				Repopath:    repopath,
			})
		}
	}
	// CF edges from nodes with comparisons.
	d.RecursiveItemVisit(func(e lang.Entity) bool {
		n, ok := e.(*lang.Node)
		if !ok {
			return true
		}
		for _, c := range n.Comparisons {
			mii.AddReln(&KReln{
				Type:        RelnCF,
				TailLibpath: n.GetLibpath().String(),
				HeadLibpath: c.GetLibpath().String(),
				TailMajor:   major,
				HeadMajor:   major,
				Major:       major,
				Modpath:     modpath,
				Repopath:    repopath,
			})
		}
		return true
	})
}

func scanAnnotation(mii *ModuleIndexInfo, m *lang.Module, a *lang.Annotation) {
	major := mii.Major()
	targetMajor := major
	if a.TargetVersion != "" {
		if tv, err := version.Parse(a.TargetVersion); err == nil {
			targetMajor = tv.MajorString()
		}
	}
	for _, t := range a.Targets {
		mii.AddReln(&KReln{
			Type:        RelnTargets,
			TailLibpath: a.GetLibpath().String(),
			HeadLibpath: t.GetLibpath().String(),
			TailMajor:   major,
			HeadMajor:   targetMajor,
			Major:       major,
			Modpath:     m.Libpath.String(),
			Repopath:    m.Repopath.String(),
		})
	}
}

// ComputeOrigins decides the origin for each of the given new libpaths: an
// entity keeps the origin it had at the previous major; a move destination
// inherits the origin of its source; a brand-new entity's origin is its own
// libpath at this major.
//
// prevOrigins maps libpaths at the previous major to origins; mmClosure maps
// moved sources to their destinations.
func ComputeOrigins(newLibpaths []string, prevOrigins, mmClosure map[string]string, major string) map[string]string {
	// Invert the closure: destination -> source.
	srcOf := map[string]string{}
	for src, dst := range mmClosure {
		if dst != "" {
			srcOf[dst] = src
		}
	}
	out := map[string]string{}
	for _, lp := range newLibpaths {
		if origin, ok := prevOrigins[lp]; ok {
			out[lp] = origin
			continue
		}
		if src, ok := srcOf[lp]; ok {
			if origin, ok := prevOrigins[src]; ok {
				out[lp] = origin
				continue
			}
		}
		out[lp] = lp + "@" + major
	}
	return out
}
