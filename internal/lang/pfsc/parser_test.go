package pfsc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/perr"
)

func TestParseImports(t *testing.T) {
	src := `
import test.moo.spam as spam
from test.moo.bar.results import Thm, Pf as proof
from . import helpers
`
	tree, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, tree.Imports, 3)

	assert.Equal(t, "test.moo.spam", tree.Imports[0].PlainPath)
	assert.Equal(t, "spam", tree.Imports[0].LocalName)

	assert.Equal(t, "test.moo.bar.results", tree.Imports[1].FromPath)
	require.Len(t, tree.Imports[1].Names, 2)
	assert.Equal(t, "Thm", tree.Imports[1].Names[0].Name)
	assert.Equal(t, "proof", tree.Imports[1].Names[1].Alias)

	assert.Equal(t, ".", tree.Imports[2].FromPath)
	assert.Equal(t, "helpers", tree.Imports[2].Names[0].Name)
}

func TestParseDeduc(t *testing.T) {
	src := `
deduc Pf of Thm.C with results.Notation {

    supp S versus T {
        en = "Suppose the contrary"
    }

    asrt A10 {
        sy = "A10"
    }

    meson = "S, so A10, therefore Thm.C."
}
`
	tree, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, tree.Items, 1)
	d, ok := tree.Items[0].(*DeducDecl)
	require.True(t, ok)
	assert.Equal(t, "Pf", d.Name)
	require.Len(t, d.Targets, 1)
	assert.Equal(t, "Thm.C", d.Targets[0].Path)
	require.Len(t, d.Rdefs, 1)
	assert.Equal(t, "results.Notation", d.Rdefs[0].Path)
	require.Len(t, d.Items, 3)

	s := d.Items[0].(*NodeDecl)
	assert.Equal(t, "supp", s.Type)
	require.Len(t, s.Versus, 1)
	assert.Equal(t, "T", s.Versus[0].Path)

	a := d.Items[1].(*NodeDecl)
	assert.Equal(t, "asrt", a.Type)
	assert.Equal(t, "A10", a.Name)

	m := d.Items[2].(*Assignment)
	assert.Equal(t, "meson", m.Name)
	assert.Equal(t, StrValue, m.Value.Kind)
}

func TestParseNodePositionsSurvive(t *testing.T) {
	src := "deduc X {\n  asrt A {\n    sy = \"A\"\n  }\n}\n"
	tree, err := Parse(src)
	require.NoError(t, err)
	d := tree.Items[0].(*DeducDecl)
	n := d.Items[0].(*NodeDecl)
	assert.Equal(t, 2, n.Pos.Line)
	assert.Equal(t, 3, n.Pos.Col)
}

func TestParseJSONSublanguage(t *testing.T) {
	src := `
config = {
    title: "Widget config",
    "quoted": 'single',
    count: 3,
    ratio: 1.5,
    flag: true,
    missing: null,
    view: test.moo.bar.Pf.A10,
    items: [1, 2, 3,],
    text: """no \escapes here""",
}
`
	tree, err := Parse(src)
	require.NoError(t, err)
	a := tree.Items[0].(*Assignment)
	v := a.Value
	require.Equal(t, MapValue, v.Kind)

	assert.Equal(t, StrValue, v.Get("title").Kind)
	assert.Equal(t, "single", v.Get("quoted").Str)
	assert.Equal(t, int64(3), v.Get("count").Int)
	assert.Equal(t, 1.5, v.Get("ratio").Float)
	assert.True(t, v.Get("flag").Bool)
	assert.Equal(t, NullValue, v.Get("missing").Kind)

	lp := v.Get("view")
	require.Equal(t, LibpathValue, lp.Kind)
	assert.Equal(t, "test.moo.bar.Pf.A10", lp.Path)

	items := v.Get("items")
	require.Equal(t, ListValue, items.Kind)
	assert.Len(t, items.List, 3)

	assert.Equal(t, `no \escapes here`, v.Get("text").Str)

	// Document order of keys is preserved.
	assert.Equal(t, "title", v.Keys[0])
	assert.Equal(t, "text", v.Keys[len(v.Keys)-1])
}

func TestParseStringsAreEscaped(t *testing.T) {
	src := "label = \"a < b & $@pi$\"\n"
	tree, err := Parse(src)
	require.NoError(t, err)
	a := tree.Items[0].(*Assignment)
	assert.Equal(t, `a &lt; b &amp; $\pi$`, a.Value.Str)
}

func TestParseMultilineString(t *testing.T) {
	src := "text = \"line one\nline two\"\n"
	tree, err := Parse(src)
	require.NoError(t, err)
	a := tree.Items[0].(*Assignment)
	assert.Equal(t, "line one\nline two", a.Value.Str)
}

func TestParseAnno(t *testing.T) {
	src := `
anno Notes on Thm @@@
# Discussion

See <chart:w1>[the proof]{"view": Pf}.
@@@
`
	tree, err := Parse(src)
	require.NoError(t, err)
	a := tree.Items[0].(*AnnoDecl)
	assert.Equal(t, "Notes", a.Name)
	require.Len(t, a.Targets, 1)
	assert.Equal(t, "Thm", a.Targets[0].Path)
	assert.Contains(t, a.Text, "# Discussion")
	assert.Contains(t, a.Text, "<chart:w1>")
}

func TestParseDefn(t *testing.T) {
	src := `defn zeta "$@zeta(s)$" "the Riemann zeta function"`
	tree, err := Parse(src)
	require.NoError(t, err)
	d := tree.Items[0].(*DefnDecl)
	assert.Equal(t, "zeta", d.Name)
	assert.Equal(t, `$\zeta(s)$`, d.LHS)
}

func TestParseErrorsCarryPosition(t *testing.T) {
	_, err := Parse("deduc X {\n  asrt A {\n")
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.ParsingError))
	assert.Contains(t, err.Error(), "line 3")
}

func TestParseNodeTypeNameCanBeAssigned(t *testing.T) {
	// `with` is both a node type and a plausible assignment name.
	src := "deduc X {\n  with = [1]\n  with W {\n  }\n}\n"
	tree, err := Parse(src)
	require.NoError(t, err)
	d := tree.Items[0].(*DeducDecl)
	_, isAssign := d.Items[0].(*Assignment)
	assert.True(t, isAssign)
	n, isNode := d.Items[1].(*NodeDecl)
	require.True(t, isNode)
	assert.Equal(t, "with", n.Type)
	assert.Equal(t, "W", n.Name)
}
