package lang

import (
	"strings"

	"proofmesh/internal/lang/freestrings"
	"proofmesh/internal/lang/meson"
	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// Registry supplies modules by modpath during resolution.
type Registry interface {
	// GetModule returns the module with the given modpath, or nil.
	GetModule(modpath string) *Module
}

// Resolver binds identifiers across a set of modules. It is built once per
// build run.
type Resolver struct {
	reg Registry
	// deps pins cross-repo targets: repopath -> full version string.
	deps map[string]string
	// buildVersion is the version of the repo being built.
	buildVersion version.Version
	// repopath of the repo being built.
	repopath libpath.Libpath
	// visiting tracks the import-resolution stack for cycle detection.
	visiting map[string]bool
}

// NewResolver constructs a resolver for one build.
func NewResolver(reg Registry, repopath libpath.Libpath, buildVersion version.Version, deps map[string]string) *Resolver {
	return &Resolver{
		reg:          reg,
		deps:         deps,
		buildVersion: buildVersion,
		repopath:     repopath,
		visiting:     map[string]bool{},
	}
}

// ResolveModule resolves a module's imports and then every deduction and
// annotation it owns. Safe to call once per module per build.
func (r *Resolver) ResolveModule(m *Module) error {
	if m.Resolved {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryResolve, "ResolveModule")
	defer timer.Stop()

	modpath := m.Libpath.String()
	if r.visiting[modpath] {
		return perr.New(perr.CyclicImportError,
			"cyclic import detected at module %s", modpath)
	}
	r.visiting[modpath] = true
	defer delete(r.visiting, modpath)

	logging.ResolveDebug("Resolving module %s", modpath)

	if err := r.resolveImports(m); err != nil {
		return err
	}
	for _, d := range m.Deductions() {
		if err := r.resolveDeduction(m, d); err != nil {
			return err
		}
	}
	for _, a := range m.Annotations() {
		if err := r.resolveAnnotation(m, a); err != nil {
			return err
		}
	}
	m.Resolved = true
	return nil
}

// resolveImports applies a module's import declarations, binding names into
// the module's scope.
func (r *Resolver) resolveImports(m *Module) error {
	for _, decl := range m.pendingImports {
		if decl.PlainPath != "" {
			target, err := r.loadImportedModule(m, decl.PlainPath, decl.Pos)
			if err != nil {
				return err
			}
			name := decl.LocalName
			if name == "" {
				name = target.Libpath.LastSegment()
			}
			m.imported[name] = target
			continue
		}
		// from LP import A [as B], ...
		src, err := r.loadImportedModule(m, decl.FromPath, decl.Pos)
		if err != nil {
			return err
		}
		for _, in := range decl.Names {
			var bound Entity
			if item := src.Get(in.Name); item != nil {
				bound = item
			} else if sub := r.reg.GetModule(src.Libpath.Child(in.Name).String()); sub != nil {
				if err := r.ResolveModule(sub); err != nil {
					return err
				}
				bound = sub
			} else {
				return perr.New(perr.ModuleDoesNotContainObject,
					"%v: module %s does not contain %q", decl.Pos, src.Libpath, in.Name)
			}
			name := in.Alias
			if name == "" {
				name = in.Name
			}
			m.imported[name] = bound
		}
	}
	return nil
}

// loadImportedModule locates the module named by an import path, which may be
// relative ("."-prefixed), and resolves it first.
func (r *Resolver) loadImportedModule(m *Module, path string, pos pfsc.Pos) (*Module, error) {
	abs, err := r.absolutePath(m, path, pos)
	if err != nil {
		return nil, err
	}
	if abs == m.Libpath.String() {
		return nil, perr.New(perr.CyclicImportError,
			"%v: module %s imports itself", pos, abs)
	}
	target := r.reg.GetModule(abs)
	if target == nil {
		return nil, perr.New(perr.ModuleDoesNotContainObject,
			"%v: cannot find module %s", pos, abs)
	}
	if err := r.ResolveModule(target); err != nil {
		return nil, err
	}
	return target, nil
}

// absolutePath turns a possibly relative import path into an absolute
// modpath. One leading dot addresses the current module's parent; each
// further dot climbs one more level.
func (r *Resolver) absolutePath(m *Module, path string, pos pfsc.Pos) (string, error) {
	if !strings.HasPrefix(path, ".") {
		return path, nil
	}
	dots := 0
	for dots < len(path) && path[dots] == '.' {
		dots++
	}
	rest := path[dots:]
	base := m.Libpath
	for i := 0; i < dots; i++ {
		base = base.Parent()
		if base.IsZero() {
			return "", perr.New(perr.RelativeLibpathCannotBeResolved,
				"%v: relative path %q climbs above the library root", pos, path)
		}
	}
	if rest == "" {
		return base.String(), nil
	}
	return base.String() + "." + rest, nil
}

// resolveFromScope resolves a dotted name against a module's scope: its own
// items, its import bindings, or an absolute path into the registry.
func (r *Resolver) resolveFromScope(m *Module, dotted string, pos pfsc.Pos) (Entity, error) {
	segs := strings.Split(dotted, ".")
	var cur Entity
	if item := m.Get(segs[0]); item != nil {
		cur = item
	} else if bound, ok := m.imported[segs[0]]; ok {
		cur = bound
	}
	if cur != nil {
		for _, seg := range segs[1:] {
			next := childOf(cur, seg)
			if next == nil {
				return nil, perr.New(perr.ModuleDoesNotContainObject,
					"%v: %s has no member %q", pos, cur.GetLibpath(), seg)
			}
			cur = next
		}
		return cur, nil
	}
	// Try as an absolute libpath: find the longest module prefix.
	for i := len(segs); i >= libpath.RepoSegments; i-- {
		modpath := strings.Join(segs[:i], ".")
		if mod := r.reg.GetModule(modpath); mod != nil {
			if err := r.ResolveModule(mod); err != nil {
				return nil, err
			}
			var cur Entity = mod
			for _, seg := range segs[i:] {
				next := childOf(cur, seg)
				if next == nil {
					return nil, perr.New(perr.ModuleDoesNotContainObject,
						"%v: %s has no member %q", pos, cur.GetLibpath(), seg)
				}
				cur = next
			}
			return cur, nil
		}
	}
	return nil, perr.New(perr.RelativeLibpathCannotBeResolved,
		"%v: cannot resolve %q in module %s", pos, dotted, m.Libpath)
}

// childOf descends one segment into an entity.
func childOf(e Entity, seg string) Entity {
	switch owner := e.(type) {
	case *Module:
		return owner.Get(seg)
	case *Deduction:
		return owner.Get(seg)
	case *Node:
		return owner.Get(seg)
	}
	return nil
}

// resolveDeduction binds everything a deduction refers to, compiles its
// graph, and runs the semantic checks.
func (r *Resolver) resolveDeduction(m *Module, d *Deduction) error {
	logging.ResolveDebug("Resolving deduction %s", d.GetLibpath())

	// 1. Targets.
	for _, ref := range d.TargetPaths {
		target, err := r.resolveFromScope(m, ref.Path, ref.Pos)
		if err != nil {
			return err
		}
		switch target.(type) {
		case *Node, *Deduction:
		default:
			return perr.New(perr.TargetOfWrongType,
				"%v: target %s of deduction %s is not a node or deduction",
				ref.Pos, target.GetLibpath(), d.GetLibpath())
		}
		d.Targets = append(d.Targets, target)
	}
	if err := r.setTargetDeduc(d); err != nil {
		return err
	}

	// 2. Running definitions.
	for _, ref := range d.RdefPaths {
		e, err := r.resolveFromScope(m, ref.Path, ref.Pos)
		if err != nil {
			return err
		}
		defn, ok := e.(*Defn)
		if !ok {
			return perr.New(perr.TargetOfWrongType,
				"%v: %s is not a defn", ref.Pos, e.GetLibpath())
		}
		d.Rdefs = append(d.Rdefs, defn)
	}

	// 3. Per-node references: contra, versus, cf, doc, clones; recursively
	// through subdeducs.
	if err := r.resolveNodeRefs(m, d, d); err != nil {
		return err
	}

	// 4. Alternates closure across all supp nodes of the deduction.
	if !d.Sub {
		computeAlternateClosure(d)
	}

	// 5. The internal proof graphs: the deduction's own, and one for each
	// subdeduction that declares a script.
	if !d.Sub {
		if err := r.compileGraph(m, d); err != nil {
			return err
		}
		if err := r.compileSubGraphs(m, d); err != nil {
			return err
		}
	}
	return nil
}

// compileSubGraphs compiles the graphs of nested subdeductions.
func (r *Resolver) compileSubGraphs(m *Module, d *Deduction) error {
	for _, name := range d.itemOrder {
		if sub, ok := d.items[name].(*Deduction); ok {
			if err := r.compileGraph(m, sub); err != nil {
				return err
			}
			if err := r.compileSubGraphs(m, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// setTargetDeduc computes the deduction containing the resolved targets,
// and the version they are pinned at.
func (r *Resolver) setTargetDeduc(d *Deduction) error {
	for _, t := range d.Targets {
		td := DeducOf(t)
		if td == nil {
			if dd, ok := t.(*Deduction); ok {
				td = dd
			}
		}
		if td == nil {
			continue
		}
		if d.TargetDeduc != nil && d.TargetDeduc != td {
			return perr.New(perr.TargetOfWrongType,
				"targets of deduction %s lie in different deductions", d.GetLibpath())
		}
		d.TargetDeduc = td
		// Targets inside a subdeduction of the target deduc.
		for e := t.GetParent(); e != nil; e = e.GetParent() {
			if sd, ok := e.(*Deduction); ok && sd.Sub {
				d.TargetSubdeduc = sd.GetLibpath()
			}
		}
	}
	if d.TargetDeduc != nil {
		targetRepo := d.TargetDeduc.Module.Repopath
		if targetRepo.String() == r.repopath.String() {
			d.TargetVersion = r.buildVersion.String()
		} else if v, ok := r.deps[targetRepo.String()]; ok {
			d.TargetVersion = v
		} else {
			return perr.New(perr.RelativeLibpathCannotBeResolved,
				"no dependency version declared for repo %s (target of %s)",
				targetRepo, d.GetLibpath())
		}
	}
	return nil
}

// resolveNodeRefs walks the deduction's nodes resolving contra, versus, cf,
// doc, and clone references against ancestor scopes.
func (r *Resolver) resolveNodeRefs(m *Module, root *Deduction, d *Deduction) error {
	for _, name := range d.itemOrder {
		switch item := d.items[name].(type) {
		case *Node:
			if err := r.resolveOneNodeRefs(m, root, item); err != nil {
				return err
			}
		case *Deduction:
			if err := r.resolveNodeRefs(m, root, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolveOneNodeRefs(m *Module, root *Deduction, n *Node) error {
	// versus: alternate supp nodes.
	for _, ref := range n.VersusPaths {
		e := root.LocalResolve(ref.Path)
		if e == nil {
			return perr.New(perr.ModuleDoesNotContainObject,
				"%v: cannot resolve %q in deduction %s", ref.Pos, ref.Path, root.GetLibpath())
		}
		alt, ok := e.(*Node)
		if !ok || alt.Type != TypeSupp {
			return perr.New(perr.TargetOfWrongType,
				"%v: %s named as alternate for node %s is of wrong type.",
				ref.Pos, ref.Path, n.GetLibpath())
		}
		n.Alternates = append(n.Alternates, alt)
	}
	// contra: refuted supp nodes.
	for _, ref := range n.ContraPaths {
		e := root.LocalResolve(ref.Path)
		if e == nil {
			var err error
			e, err = r.resolveFromScope(m, ref.Path, ref.Pos)
			if err != nil {
				return err
			}
		}
		supp, ok := e.(*Node)
		if !ok || supp.Type != TypeSupp {
			return perr.New(perr.TargetOfWrongType,
				"%v: Node %s named as contra for node %s is of wrong type.",
				ref.Pos, ref.Path, n.GetLibpath())
		}
		n.Contras = append(n.Contras, supp)
	}
	// cf: comparisons.
	if v := n.Assignments["cf"]; v != nil {
		if v.Kind != pfsc.ListValue {
			return perr.New(perr.MalformedCF,
				"cf on node %s must be a list of libpaths", n.GetLibpath())
		}
		for _, item := range v.List {
			if item.Kind != pfsc.LibpathValue {
				return perr.New(perr.MalformedCF,
					"cf on node %s must be a list of libpaths", n.GetLibpath())
			}
			e := root.LocalResolve(item.Path)
			if e == nil {
				var err error
				e, err = r.resolveFromScope(m, item.Path, item.Pos)
				if err != nil {
					return err
				}
			}
			n.Comparisons = append(n.Comparisons, e)
		}
	}
	// doc: document reference.
	if v := n.Assignments["doc"]; v != nil {
		if err := checkDocReference(v, n.GetLibpath()); err != nil {
			return err
		}
	}
	// cloneOf: copy labels from the original.
	if v := n.Assignments["cloneOf"]; v != nil {
		if v.Kind != pfsc.LibpathValue {
			return perr.New(perr.CannotCloneNode,
				"cloneOf on node %s must be a libpath", n.GetLibpath())
		}
		src, err := r.resolveFromScope(m, v.Path, v.Pos)
		if err != nil {
			return err
		}
		orig, ok := src.(*Node)
		if !ok {
			return perr.New(perr.CannotCloneNode,
				"%s names %s which is not a node and cannot be cloned",
				n.GetLibpath(), v.Path)
		}
		if orig.Type == TypeGhost || orig.Type == TypeQstn || orig.Type == TypeUcon {
			return perr.New(perr.CannotCloneNode,
				"Nodes of type `%s` cannot be cloned. (Trying to clone `%s`.)",
				orig.Type, orig.GetLibpath())
		}
		n.cloneSource = orig
		origVersion := r.buildVersion.String()
		if orig.Deduc.Module.Repopath.String() != r.repopath.String() {
			origVersion = r.deps[orig.Deduc.Module.Repopath.String()]
		}
		n.CloneOf = orig.Deduc.Module.Repopath.String() + "@" + origVersion +
			"." + strings.Join(orig.GetLibpath().WithinRepo(), ".")
		// The clone shows the original's labels unless it overrides them.
		for key, val := range orig.Assignments {
			if _, has := n.Assignments[key]; !has {
				n.Assignments[key] = val
			}
		}
	}
	// Subnodes.
	for _, name := range n.itemOrder {
		if child, ok := n.items[name].(*Node); ok {
			if err := r.resolveOneNodeRefs(m, root, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeAlternateClosure computes connected components of the declared
// alternate relation over all supp nodes, and records on each node the
// members of its component other than itself.
func computeAlternateClosure(d *Deduction) {
	supps := map[string]*Node{}
	d.AllSuppNodes(supps)
	// Adjacency with symmetry.
	adj := map[string]map[string]bool{}
	link := func(a, b string) {
		if adj[a] == nil {
			adj[a] = map[string]bool{}
		}
		adj[a][b] = true
	}
	for lp, node := range supps {
		for _, alt := range node.Alternates {
			altLp := alt.GetLibpath().String()
			link(lp, altLp)
			link(altLp, lp)
		}
	}
	// Connected components via DFS; deterministic order not needed here
	// since each node just records its component minus itself.
	seen := map[string]bool{}
	for lp := range supps {
		if seen[lp] {
			continue
		}
		var comp []string
		stack := []string{lp}
		seen[lp] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, cur)
			for nbr := range adj[cur] {
				if !seen[nbr] {
					seen[nbr] = true
					stack = append(stack, nbr)
				}
			}
		}
		for _, member := range comp {
			node := supps[member]
			node.Alternates = node.Alternates[:0]
			for _, other := range comp {
				if other != member {
					node.Alternates = append(node.Alternates, supps[other])
				}
			}
		}
	}
}

// actualAdapter presents an Entity to the meson graph's semantic checks.
type actualAdapter struct {
	e Entity
}

func (a actualAdapter) Libpath() string {
	return a.e.GetLibpath().String()
}

func (a actualAdapter) IsModal() bool {
	n, ok := a.e.(*Node)
	return ok && n.IsModal()
}

func (a actualAdapter) IsSubDeduc() bool {
	d, ok := a.e.(*Deduction)
	return ok && d.Sub
}

func (a actualAdapter) GhostOf() string {
	if g, ok := a.e.(*GhostNode); ok {
		return g.GhostOf().String()
	}
	return ""
}

func (a actualAdapter) ParentName() string {
	if p := a.e.GetParent(); p != nil {
		return p.GetName()
	}
	return ""
}

// compileGraph parses the deduction's script, binds each dummy node to its
// actual entity (creating ghosts for exterior references), runs the semantic
// checks, and marks bridges.
func (r *Resolver) compileGraph(m *Module, d *Deduction) error {
	script, isMeson, err := d.GraphScript()
	if err != nil {
		return err
	}
	if script == "" {
		if len(d.Targets) > 0 {
			return perr.New(perr.MesonDidNotDeliver,
				"deduction %s declares targets but has no graph", d.GetLibpath())
		}
		return nil
	}

	var g *meson.Graph
	if isMeson {
		g, err = meson.BuildGraphFromMeson(script)
	} else {
		g, err = meson.BuildGraphFromArcs(script)
	}
	if err != nil {
		return err
	}

	// Bind dummy nodes.
	for _, name := range g.NodeNames() {
		dummy := g.GetNode(name)
		if local := d.LocalResolve(name); local != nil {
			dummy.Actual = actualAdapter{local}
			dummy.DeclaredLocally = true
			continue
		}
		// Exterior reference: resolve in module scope and make a ghost.
		real, err := r.resolveFromScope(m, name, d.Decl.Pos)
		if err != nil {
			return perr.Wrap(perr.MesonBadGhostNode, err,
				"deduction %s references %q, which cannot be resolved", d.GetLibpath(), name)
		}
		ghost := d.GhostFor(name, real)
		dummy.Actual = actualAdapter{ghost}
	}

	// Semantic checks need the targets' libpaths.
	var targetLps []string
	for _, t := range d.Targets {
		targetLps = append(targetLps, t.GetLibpath().String())
	}
	if err := g.SemanticCheck(targetLps); err != nil {
		return err
	}

	g.FindAndMarkBridges()
	g.MarkFlowLinkOutsAsBridges()
	d.Graph = g
	return nil
}

// resolveAnnotation binds an annotation's targets and widget references.
func (r *Resolver) resolveAnnotation(m *Module, a *Annotation) error {
	logging.ResolveDebug("Resolving annotation %s", a.GetLibpath())

	for _, ref := range a.TargetPaths {
		target, err := r.resolveFromScope(m, ref.Path, ref.Pos)
		if err != nil {
			return err
		}
		a.Targets = append(a.Targets, target)
	}
	// Pin a target version like deductions do.
	for _, t := range a.Targets {
		repo := ModpathOf(t)
		if repo.IsZero() {
			continue
		}
		targetRepo, err := repo.Repopath()
		if err != nil {
			return err
		}
		if targetRepo.String() == r.repopath.String() {
			a.TargetVersion = r.buildVersion.String()
		} else if v, ok := r.deps[targetRepo.String()]; ok {
			a.TargetVersion = v
		}
	}

	// Resolve widget libpath references, in dependency order.
	widgets, err := a.WidgetsInDependencyOrder()
	if err != nil {
		return err
	}
	for _, w := range widgets {
		if err := r.resolveWidgetRefs(m, a, w); err != nil {
			return err
		}
	}
	return nil
}

// widgetRefFields names the data fields that hold entity references, by
// widget type.
var widgetRefFields = map[freestrings.WidgetType][]string{
	freestrings.WidgetChart: {"view", "select", "color"},
	freestrings.WidgetGoal:  {"altpath"},
	freestrings.WidgetLink:  {"ref"},
	freestrings.WidgetDoc:   {"doc"},
	freestrings.WidgetPdf:   {"doc"},
	freestrings.WidgetDisp:  {"build"},
	freestrings.WidgetParam: {"import"},
}

// resolveWidgetRefs resolves every libpath value in a widget's data part to
// an absolute libpath.
func (r *Resolver) resolveWidgetRefs(m *Module, a *Annotation, w *Widget) error {
	var resolveVal func(field string, v *pfsc.Value) error
	resolveVal = func(field string, v *pfsc.Value) error {
		if v == nil {
			return nil
		}
		switch v.Kind {
		case pfsc.LibpathValue:
			// Sibling widgets may be referenced by bare name.
			if sib := a.Widget(v.Path); sib != nil {
				w.ResolvedRefs[field] = sib.GetLibpath().String()
				return nil
			}
			e, err := r.resolveFromScope(m, v.Path, v.Pos)
			if err != nil {
				return err
			}
			w.ResolvedRefs[field] = e.GetLibpath().String()
		case pfsc.ListValue:
			for _, item := range v.List {
				if err := resolveVal(field, item); err != nil {
					return err
				}
			}
		case pfsc.MapValue:
			for _, k := range v.Keys {
				if err := resolveVal(field+"."+k, v.Map[k]); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, field := range widgetRefFields[w.Type] {
		if err := resolveVal(field, w.Data.Get(field)); err != nil {
			return err
		}
	}
	return nil
}

// checkDocReference validates a doc reference value: either a doc id string
// "docType:docName", or a map with docId and combiner-code selection.
func checkDocReference(v *pfsc.Value, owner libpath.Libpath) error {
	switch v.Kind {
	case pfsc.StrValue:
		if !isValidDocID(v.Str) {
			return perr.New(perr.MalformedDocID,
				"malformed doc id on %s: %q", owner, v.Str)
		}
	case pfsc.MapValue:
		id := v.Get("docId")
		if id == nil || id.Kind != pfsc.StrValue || !isValidDocID(id.Str) {
			return perr.New(perr.MalformedDocID,
				"malformed doc reference on %s", owner)
		}
		if sel := v.Get("selection"); sel != nil {
			if sel.Kind != pfsc.StrValue || !isValidCombinerCode(sel.Str) {
				return perr.New(perr.MalformedCombinerCode,
					"malformed combiner code on %s", owner)
			}
		}
	default:
		return perr.New(perr.MalformedDocID,
			"doc reference on %s must be a string or object", owner)
	}
	return nil
}

// isValidDocID accepts "type:name" doc ids.
func isValidDocID(s string) bool {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return false
	}
	for _, c := range s {
		if c == ' ' || c == '\n' {
			return false
		}
	}
	return true
}

// isValidCombinerCode accepts version-2 combiner codes: "v2;" followed by
// semicolon-separated commands.
func isValidCombinerCode(s string) bool {
	if !strings.HasPrefix(s, "v2;") {
		return false
	}
	return len(s) > len("v2;")
}

// InjectOrigins records origins on entities. lookup maps absolute libpath to
// origin string. The index computes the lookup, consulting the move-mapping
// closure so moved entities keep the identity of their source.
func InjectOrigins(m *Module, lookup map[string]string) {
	m.RecursiveItemVisit(func(e Entity) bool {
		if _, isGhost := e.(*GhostNode); isGhost {
			// Ghosts take the origin of their referent.
			return true
		}
		if origin, ok := lookup[e.GetLibpath().String()]; ok {
			e.SetOrigin(origin)
		}
		return true
	})
}
