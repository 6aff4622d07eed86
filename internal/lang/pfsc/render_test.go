package pfsc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

// stripPositions compares trees structurally, ignoring source positions.
var stripPositions = cmpopts.IgnoreTypes(Pos{})

func TestRenderReparseIsStructurallyEqual(t *testing.T) {
	src := `
import test.moo.spam as spam
from test.moo.bar.results import Thm, Pf as proof

defn zeta """$@zeta(s)$""" """the Riemann zeta function"""

vals = {
    title: """Config""",
    count: 3,
    ratio: 1.5,
    flag: true,
    missing: null,
    view: test.moo.bar.Pf.A10,
    items: [1, 2, 3],
}

deduc Pf of Thm.C with zeta {

    supp S versus T {
        en = """Suppose the contrary"""
    }
    supp T {
        en = """Other case"""
    }
    flse F contra S {
        sy = """F"""
    }

    subdeduc Inner {
        asrt A {
            sy = """A"""
        }
        meson = """A."""
    }

    meson = """Suppose S. Then F, so Thm.C."""
}

anno Notes on Pf @@@
Some *markdown* here.
@@@
`
	tree1, err := Parse(src)
	require.NoError(t, err)

	rendered := Render(tree1)
	tree2, err := Parse(rendered)
	require.NoError(t, err)

	// SourceText differs by construction; everything else must agree.
	tree1.SourceText = ""
	tree2.SourceText = ""
	if diff := cmp.Diff(tree1, tree2, stripPositions); diff != "" {
		t.Errorf("render/reparse mismatch (-first +second):\n%s", diff)
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	src := "deduc X {\n    asrt A {\n        sy = \"\"\"A\"\"\"\n    }\n    meson = \"\"\"A.\"\"\"\n}\n"
	tree, err := Parse(src)
	require.NoError(t, err)
	r1 := Render(tree)
	tree2, err := Parse(r1)
	require.NoError(t, err)
	r2 := Render(tree2)
	require.Equal(t, r1, r2)
}
