package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/lang/freestrings"
	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/libpath"
	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// mapRegistry is a Registry over an in-memory module set.
type mapRegistry map[string]*Module

func (r mapRegistry) GetModule(modpath string) *Module {
	return r[modpath]
}

// mustModule parses source and builds a module skeleton.
func mustModule(t *testing.T, modpath, src string) *Module {
	t.Helper()
	tree, err := pfsc.Parse(src)
	require.NoError(t, err)
	m, err := NewModule(libpath.MustParse(modpath), tree, version.WIP())
	require.NoError(t, err)
	return m
}

func newTestResolver(reg mapRegistry) *Resolver {
	return NewResolver(reg, libpath.MustParse("test.local.foo"), version.WIP(),
		map[string]string{"test.other.dep": "v1.2.3"})
}

func TestResolveSimpleDeduc(t *testing.T) {
	m := mustModule(t, "test.local.foo.main", `
deduc Foo {
    asrt A { sy = "A" }
    asrt B { sy = "B" }
    meson = "A so B."
}
`)
	reg := mapRegistry{"test.local.foo.main": m}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))

	d := m.Get("Foo").(*Deduction)
	require.NotNil(t, d.Graph)
	assert.Len(t, d.Graph.Edges(), 1)
	e := d.Graph.Edges()[0]
	assert.Equal(t, "A", e.Tail)
	assert.Equal(t, "B", e.Head)
}

func TestResolveTargetsAcrossModules(t *testing.T) {
	thmMod := mustModule(t, "test.local.foo.thm", `
deduc Thm {
    asrt C { sy = "C" }
    meson = "C."
}
`)
	pfMod := mustModule(t, "test.local.foo.pf", `
from test.local.foo.thm import Thm

deduc Pf of Thm.C {
    asrt A10 { sy = "A10" }
    meson = "A10, therefore Thm.C."
}
`)
	reg := mapRegistry{
		"test.local.foo.thm": thmMod,
		"test.local.foo.pf":  pfMod,
	}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(pfMod))

	d := pfMod.Get("Pf").(*Deduction)
	require.Len(t, d.Targets, 1)
	assert.Equal(t, "test.local.foo.thm.Thm.C", d.Targets[0].GetLibpath().String())
	require.NotNil(t, d.TargetDeduc)
	assert.Equal(t, "test.local.foo.thm.Thm", d.TargetDeduc.GetLibpath().String())
	assert.Equal(t, "WIP", d.TargetVersion)

	// The exterior reference became a ghost node.
	ghosts := d.Ghosts()
	require.Len(t, ghosts, 1)
	assert.Equal(t, "test.local.foo.pf.Pf.Thm.C", ghosts[0].GetLibpath().String())
	assert.Equal(t, "test.local.foo.thm.Thm.C", ghosts[0].GhostOf().String())
}

func TestResolveDidNotDeliver(t *testing.T) {
	thmMod := mustModule(t, "test.local.foo.thm", `
deduc Thm {
    asrt C { sy = "C" }
    meson = "C."
}
`)
	pfMod := mustModule(t, "test.local.foo.pf", `
from test.local.foo.thm import Thm

deduc Pf of Thm.C {
    asrt A10 { sy = "A10" }
    meson = "A10."
}
`)
	reg := mapRegistry{
		"test.local.foo.thm": thmMod,
		"test.local.foo.pf":  pfMod,
	}
	r := newTestResolver(reg)
	err := r.ResolveModule(pfMod)
	assert.True(t, perr.Is(err, perr.MesonDidNotDeliver), "got %v", err)
}

func TestSuppAlternateClosure(t *testing.T) {
	m := mustModule(t, "test.local.foo.main", `
deduc Pf {
    supp R versus S { en = "Case 1" }
    supp S versus T { en = "Case 2" }
    supp T { en = "Case 3" }
    asrt A { sy = "A" }
    meson = "Suppose R. Then A."
}
`)
	reg := mapRegistry{"test.local.foo.main": m}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))

	d := m.Get("Pf").(*Deduction)
	for _, name := range []string{"R", "S", "T"} {
		node := d.Get(name).(*Node)
		var alts []string
		for _, alt := range node.Alternates {
			alts = append(alts, alt.GetName())
		}
		assert.Len(t, alts, 2, "node %s", name)
		assert.NotContains(t, alts, name)
	}
}

func TestContraWrongType(t *testing.T) {
	m := mustModule(t, "test.local.foo.main", `
deduc Pf {
    asrt A { sy = "A" }
    flse F contra A { sy = "F" }
    meson = "A, so F."
}
`)
	reg := mapRegistry{"test.local.foo.main": m}
	r := newTestResolver(reg)
	err := r.ResolveModule(m)
	assert.True(t, perr.Is(err, perr.TargetOfWrongType), "got %v", err)
}

func TestContraResolved(t *testing.T) {
	m := mustModule(t, "test.local.foo.main", `
deduc Pf {
    supp S { en = "Suppose not" }
    flse F contra S { sy = "F" }
    meson = "Suppose S. Then F."
}
`)
	reg := mapRegistry{"test.local.foo.main": m}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))
	f := m.Get("Pf").(*Deduction).Get("F").(*Node)
	require.Len(t, f.Contras, 1)
	assert.Equal(t, "S", f.Contras[0].GetName())
}

func TestCyclicImport(t *testing.T) {
	a := mustModule(t, "test.local.foo.a", "import test.local.foo.b\n")
	b := mustModule(t, "test.local.foo.b", "import test.local.foo.a\n")
	reg := mapRegistry{
		"test.local.foo.a": a,
		"test.local.foo.b": b,
	}
	r := newTestResolver(reg)
	err := r.ResolveModule(a)
	assert.True(t, perr.Is(err, perr.CyclicImportError), "got %v", err)
}

func TestSelfImport(t *testing.T) {
	a := mustModule(t, "test.local.foo.a", "import test.local.foo.a\n")
	reg := mapRegistry{"test.local.foo.a": a}
	r := newTestResolver(reg)
	err := r.ResolveModule(a)
	assert.True(t, perr.Is(err, perr.CyclicImportError), "got %v", err)
}

func TestRelativeImport(t *testing.T) {
	helper := mustModule(t, "test.local.foo.helpers", `
deduc H {
    asrt X { sy = "X" }
    meson = "X."
}
`)
	m := mustModule(t, "test.local.foo.main", `
from .helpers import H
`)
	reg := mapRegistry{
		"test.local.foo.helpers": helper,
		"test.local.foo.main":    m,
	}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))
	assert.NotNil(t, m.imported["H"])
}

func TestCloneNode(t *testing.T) {
	src := mustModule(t, "test.local.foo.orig", `
deduc Pf {
    asrt A10 { en = "All men are mortal" sy = "A10" }
    meson = "A10."
}
`)
	m := mustModule(t, "test.local.foo.expand", `
from test.local.foo.orig import Pf

deduc X {
    asrt B { cloneOf = Pf.A10 }
    meson = "B."
}
`)
	reg := mapRegistry{
		"test.local.foo.orig":   src,
		"test.local.foo.expand": m,
	}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))

	b := m.Get("X").(*Deduction).Get("B").(*Node)
	assert.Equal(t, "test.local.foo@WIP.orig.Pf.A10", b.CloneOf)
	// Clone shows the original's label.
	assert.Equal(t, "All men are mortal", b.Label("en"))
}

func TestCannotCloneSpecialNode(t *testing.T) {
	src := mustModule(t, "test.local.foo.orig", `
deduc Pf {
    asrt ?Q { sy = "?" }
    meson = "?Q."
}
`)
	m := mustModule(t, "test.local.foo.expand", `
from test.local.foo.orig import Pf

deduc X {
    asrt B { cloneOf = Pf.?Q }
    meson = "B."
}
`)
	reg := mapRegistry{
		"test.local.foo.orig":   src,
		"test.local.foo.expand": m,
	}
	r := newTestResolver(reg)
	err := r.ResolveModule(m)
	assert.True(t, perr.Is(err, perr.CannotCloneNode), "got %v", err)
}

func TestAnnotationResolution(t *testing.T) {
	m := mustModule(t, "test.local.foo.main", `
deduc Pf {
    asrt A10 { sy = "A10" }
    meson = "A10."
}

anno Notes on Pf @@@
Click <chart:w1>[here]{"view": Pf.A10} to open.
@@@
`)
	reg := mapRegistry{"test.local.foo.main": m}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))

	a := m.Get("Notes").(*Annotation)
	require.Len(t, a.Targets, 1)
	w := a.Widget("w1")
	require.NotNil(t, w)
	assert.Equal(t, "test.local.foo.main.Pf.A10", w.ResolvedRefs["view"])
}

func TestBuildAnnotationEmitsHTMLAndData(t *testing.T) {
	m := mustModule(t, "test.local.foo.main", `
deduc Pf {
    asrt A10 { sy = "A10" }
    meson = "A10."
}

anno Notes @@@
# Notes

Open <chart:w1>[the chart]{"view": Pf.A10}.
@@@
`)
	reg := mapRegistry{"test.local.foo.main": m}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))

	a := m.Get("Notes").(*Annotation)
	html, data, err := BuildAnnotation(a, "WIP", freestrings.UntrustedPolicy)
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Notes</h1>")
	uid := "test-local-foo-main-Notes-w1_WIP"
	assert.Contains(t, html, uid)

	widgets := data["widgets"].(map[string]interface{})
	require.Contains(t, widgets, uid)
	wd := widgets[uid].(map[string]interface{})
	assert.Equal(t, "chart", wd["type"])
}

func TestBuildDashgraph(t *testing.T) {
	m := mustModule(t, "test.local.foo.main", `
deduc Pf {
    supp S { en = "Suppose the contrary" }
    asrt A { sy = "A" }
    flse F contra S { sy = "F" }
    meson = "Suppose S. Then A, so F."
}
`)
	reg := mapRegistry{"test.local.foo.main": m}
	r := newTestResolver(reg)
	require.NoError(t, r.ResolveModule(m))

	d := m.Get("Pf").(*Deduction)
	dg := BuildDashgraph(d, "WIP")
	assert.Equal(t, "test.local.foo.main.Pf", dg["libpath"])
	assert.Equal(t, "WIP", dg["version"])

	children := dg["children"].(map[string]Dashgraph)
	require.Len(t, children, 3)
	f := children["test.local.foo.main.Pf.F"]
	require.NotNil(t, f)
	assert.Equal(t, []string{"test.local.foo.main.Pf.S"}, f["contra"])
	s := children["test.local.foo.main.Pf.S"]
	assert.Equal(t, false, s["wolog"])

	order := dg["nodeOrder"].([]string)
	assert.Len(t, order, 3)
}
