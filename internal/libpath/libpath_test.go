package libpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/perr"
)

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"test.moo.bar",
		"test.moo.bar.results.Pf",
		"a.b.c.d_1.E2",
	} {
		p, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, p.String())
	}
}

func TestParseRejects(t *testing.T) {
	cases := []string{
		"",
		"a..b",
		".a.b",
		"a.b.",
		"a.b.true",
		"a.b.null",
		"a.b._hidden",
		"a.b.1abc",
		"a.b.c-d",
	}
	for _, s := range cases {
		_, err := Parse(s)
		assert.True(t, perr.Is(err, perr.BadLibpath), "expected BadLibpath for %q, got %v", s, err)
	}
}

func TestParseTrustedAllowsUnderscore(t *testing.T) {
	p, err := ParseTrusted("test.moo.bar.__")
	require.NoError(t, err)
	assert.Equal(t, "__", p.LastSegment())
}

func TestDescendsFrom(t *testing.T) {
	p := MustParse("a.b.c.d")
	q := MustParse("a.b")
	assert.True(t, p.DescendsFrom(q))
	assert.False(t, q.DescendsFrom(p))
	assert.False(t, p.DescendsFrom(p))
	// Prefix must end at a segment boundary.
	assert.False(t, MustParse("a.bb.c").DescendsFrom(q))
}

func TestParentAndSegments(t *testing.T) {
	p := MustParse("test.moo.bar.results")
	assert.Equal(t, "test.moo.bar", p.Parent().String())
	assert.Equal(t, "results", p.LastSegment())
	assert.Equal(t, 4, p.NumSegments())

	repo, err := p.Repopath()
	require.NoError(t, err)
	assert.Equal(t, "test.moo.bar", repo.String())

	_, err = MustParse("a.b").Repopath()
	assert.Error(t, err)
}

func TestExpandMultipath(t *testing.T) {
	got, err := ExpandMultipath("a.b.{c,d.{e,f}}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b.c", "a.b.d.e", "a.b.d.f"}, got)

	got, err = ExpandMultipath("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b.c"}, got)

	for _, bad := range []string{"a.{b,c", "a.{}.d", "a.{,b}", "a{b,c}"} {
		_, err := ExpandMultipath(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseVersioned(t *testing.T) {
	vp, err := ParseVersioned("test.moo.bar@v2.0.0.results.Pf")
	require.NoError(t, err)
	assert.Equal(t, "test.moo.bar.results.Pf", vp.Path.String())
	assert.Equal(t, "v2.0.0", vp.Version.String())

	vp, err = ParseVersioned("test.moo.bar@WIP")
	require.NoError(t, err)
	assert.Equal(t, "test.moo.bar", vp.Path.String())
	assert.True(t, vp.Version.IsWIP)

	vp, err = ParseVersioned("test.moo.bar@WIP.results")
	require.NoError(t, err)
	assert.Equal(t, "test.moo.bar.results", vp.Path.String())

	// The '@' must sit inside the first three segments.
	_, err = ParseVersioned("test.moo.bar.results@v1.0.0")
	assert.True(t, perr.Is(err, perr.MalformedVersionedLibpath))

	_, err = ParseVersioned("test.moo.bar.results.Pf")
	assert.True(t, perr.Is(err, perr.MalformedVersionedLibpath))
}

func TestVersionedString(t *testing.T) {
	vp, err := ParseVersioned("test.moo.bar@v1.2.3.results")
	require.NoError(t, err)
	assert.Equal(t, "test.moo.bar@v1.2.3.results", vp.String())
}
