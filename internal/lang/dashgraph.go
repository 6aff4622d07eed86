package lang

import (
	"strings"

	"proofmesh/internal/lang/freestrings"
	"proofmesh/internal/lang/meson"
)

// Dashgraph is the layout-neutral JSON encoding of a deduction.
type Dashgraph map[string]interface{}

// BuildDashgraph emits the dashgraph for a deduction at a full version
// string. Origins must already be injected.
func BuildDashgraph(d *Deduction, fullVersion string) Dashgraph {
	dg := Dashgraph{
		"libpath":       d.GetLibpath().String(),
		"version":       fullVersion,
		"deduction":     d.GetName(),
		"friendly_name": d.FriendlyName(),
		"origin":        d.GetOrigin(),
	}
	if d.Decl != nil && d.Decl.EndPos.Line > 0 {
		dg["textRange"] = [2]int{d.Decl.Pos.Line, d.Decl.EndPos.Line}
	}
	if d.TargetDeduc != nil {
		dg["target_deduc"] = d.TargetDeduc.GetLibpath().String()
		dg["target_version"] = d.TargetVersion
	}
	if !d.TargetSubdeduc.IsZero() {
		dg["target_subdeduc"] = d.TargetSubdeduc.String()
	}
	var targets []string
	for _, t := range d.Targets {
		targets = append(targets, t.GetLibpath().String())
	}
	dg["targets"] = targets

	var runningDefs [][2]string
	for _, defn := range d.Rdefs {
		runningDefs = append(runningDefs, [2]string{defn.LHS, defn.RHS})
	}
	dg["runningDefs"] = runningDefs

	if d.Graph != nil {
		dg["edges"] = d.Graph.BuildEdgeListForDashgraph(false)
		var order []string
		for _, gn := range d.Graph.ListNodesInLogicalOrder() {
			if gn.Actual != nil {
				order = append(order, gn.Actual.Libpath())
			}
		}
		dg["nodeOrder"] = order
	} else {
		dg["edges"] = []meson.DashgraphRep{}
		dg["nodeOrder"] = []string{}
	}

	dg["children"] = buildChildren(d, d, fullVersion)
	if docInfo := collectDocInfo(d); len(docInfo) > 0 {
		dg["docInfo"] = docInfo
	}
	return dg
}

// buildChildren maps child libpath to child sub-dashgraph, covering nodes,
// subdeducs, ghost nodes, and special nodes.
func buildChildren(root, d *Deduction, fullVersion string) map[string]Dashgraph {
	children := map[string]Dashgraph{}
	for _, name := range d.itemOrder {
		switch item := d.items[name].(type) {
		case *Node:
			children[item.GetLibpath().String()] = buildNodeDashgraph(root, item, fullVersion)
		case *Deduction:
			sub := Dashgraph{
				"libpath":       item.GetLibpath().String(),
				"nodetype":      "subdeduc",
				"origin":        item.GetOrigin(),
				"intraDeducPath": intraDeducPath(root, item),
				"children":      buildChildren(root, item, fullVersion),
			}
			children[item.GetLibpath().String()] = sub
		}
	}
	if root == d {
		for _, ghost := range d.Ghosts() {
			children[ghost.GetLibpath().String()] = buildGhostDashgraph(root, ghost)
		}
	}
	return children
}

// intraDeducPath is the entity's path relative to the outermost deduction.
func intraDeducPath(root *Deduction, e Entity) string {
	rootLp := root.GetLibpath().String()
	lp := e.GetLibpath().String()
	return strings.TrimPrefix(strings.TrimPrefix(lp, rootLp), ".")
}

func buildNodeDashgraph(root *Deduction, n *Node, fullVersion string) Dashgraph {
	dg := Dashgraph{
		"libpath":        n.GetLibpath().String(),
		"nodetype":       n.Type,
		"origin":         n.GetOrigin(),
		"intraDeducPath": intraDeducPath(root, n),
		"labelHTML":      n.Label("en"),
	}
	if n.CloneOf != "" {
		dg["cloneOf"] = n.CloneOf
	}
	if v := n.Assignments["sy"]; v != nil {
		dg["sy"] = v.AsString()
	}
	if v := n.Assignments["doc"]; v != nil {
		dg["docRef"] = v.Plain()
	}
	if len(n.Comparisons) > 0 {
		var cf []string
		for _, c := range n.Comparisons {
			cf = append(cf, c.GetLibpath().String())
		}
		dg["cf_out"] = cf
	}
	switch n.Type {
	case TypeFlse:
		var contra []string
		for _, s := range n.Contras {
			contra = append(contra, s.GetLibpath().String())
		}
		dg["contra"] = contra
	case TypeSupp:
		var alts []string
		for _, alt := range n.Alternates {
			alts = append(alts, alt.GetLibpath().String())
		}
		dg["alternates"] = alts
		dg["wolog"] = n.Wolog
	}
	if IsCompoundWithIntro(n.Type) {
		var typenodes, propnodes []string
		for _, name := range n.itemOrder {
			child, ok := n.items[name].(*Node)
			if !ok {
				continue
			}
			if child.IsModal() || child.Type == TypeIntr {
				typenodes = append(typenodes, child.GetLibpath().String())
			} else {
				propnodes = append(propnodes, child.GetLibpath().String())
			}
		}
		dg["typenodeUIDs"] = typenodes
		dg["propnodeUIDs"] = propnodes
	}
	if len(n.itemOrder) > 0 {
		children := map[string]Dashgraph{}
		for _, name := range n.itemOrder {
			if child, ok := n.items[name].(*Node); ok {
				children[child.GetLibpath().String()] = buildNodeDashgraph(root, child, fullVersion)
			}
		}
		dg["children"] = children
	}
	return dg
}

func buildGhostDashgraph(root *Deduction, g *GhostNode) Dashgraph {
	real := g.RealObj()
	dg := Dashgraph{
		"libpath":        g.GetLibpath().String(),
		"nodetype":       TypeGhost,
		"origin":         g.GetOrigin(),
		"intraDeducPath": intraDeducPath(root, g),
		"ghostOf":        g.GhostOf().String(),
		"realObj":        real.GetLibpath().String(),
		"realOrigin":     real.GetOrigin(),
		"labelHTML":      ghostLabel(real),
	}
	// fwdRelPath: the referent's path below the deduction being targeted,
	// used when expanding the ghost in place.
	if realDeduc := DeducOf(real); realDeduc != nil {
		dg["fwdRelPath"] = intraDeducPath(realDeduc, real)
		dg["xpanSeq"] = []string{realDeduc.GetLibpath().String()}
	}
	return dg
}

func ghostLabel(real Entity) string {
	if n, ok := real.(*Node); ok {
		return n.Label("en")
	}
	if d, ok := real.(*Deduction); ok {
		return d.FriendlyName()
	}
	return ""
}

// collectDocInfo gathers the doc references declared across the deduction's
// nodes, keyed by node libpath.
func collectDocInfo(d *Deduction) map[string]interface{} {
	docs := map[string]interface{}{}
	d.RecursiveItemVisit(func(e Entity) bool {
		if n, ok := e.(*Node); ok {
			if v := n.Assignments["doc"]; v != nil {
				docs[n.GetLibpath().String()] = v.Plain()
			}
		}
		return true
	})
	return docs
}

// AnnoData is the data half of a built annotation.
type AnnoData map[string]interface{}

// BuildAnnotation renders an annotation to its (html, data) pair. Trust and
// approval flags are injected at read time, not here.
func BuildAnnotation(a *Annotation, fullVersion string, policy freestrings.LinkPolicy) (string, AnnoData, error) {
	html, err := freestrings.RenderAnno(a.Chunks, func(stub *freestrings.WidgetStub, label string) string {
		w := a.Widget(stub.Name)
		if w == nil {
			return ""
		}
		return w.WriteHTML(label, fullVersion)
	}, policy)
	if err != nil {
		return "", nil, err
	}

	widgets := map[string]interface{}{}
	for _, w := range a.Widgets() {
		wd := map[string]interface{}{
			"type":       string(w.Type),
			"name":       w.GetName(),
			"libpath":    w.GetLibpath().String(),
			"version":    fullVersion,
			"uid":        w.UID(fullVersion),
			"pane_group": w.PaneGroup(fullVersion),
			"origin":     w.GetOrigin(),
		}
		if w.Data != nil {
			wd["data"] = w.Data.Plain()
		}
		if len(w.ResolvedRefs) > 0 {
			refs := map[string]interface{}{}
			for k, v := range w.ResolvedRefs {
				refs[k] = v
			}
			wd["resolved"] = refs
		}
		widgets[w.UID(fullVersion)] = wd
	}

	data := AnnoData{
		"libpath": a.GetLibpath().String(),
		"version": fullVersion,
		"widgets": widgets,
	}
	if docInfo := annoDocInfo(a); len(docInfo) > 0 {
		data["docInfo"] = docInfo
	}
	return html, data, nil
}

// annoDocInfo gathers the document ids referenced by doc and pdf widgets.
func annoDocInfo(a *Annotation) map[string]interface{} {
	docs := map[string]interface{}{}
	for _, w := range a.Widgets() {
		if w.Type != freestrings.WidgetDoc && w.Type != freestrings.WidgetPdf {
			continue
		}
		if id := w.Data.Get("doc"); id != nil && id.AsString() != "" {
			docs[id.AsString()] = map[string]interface{}{}
		}
	}
	return docs
}
