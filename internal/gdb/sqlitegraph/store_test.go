package sqlitegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/gdb"
	"proofmesh/internal/index"
	"proofmesh/internal/version"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// buildSimpleWip gathers the index info for scenario: WIP build of
// `deduc Foo { asrt A; asrt B; meson = "A so B." }` in module
// test.local.foo.main.
func buildSimpleWip() *index.ModuleIndexInfo {
	mii := index.NewModuleIndexInfo("test.local.foo", version.WIP(), true)
	mod := "test.local.foo.main"
	repo := "test.local.foo"
	major := mii.Major()
	mii.NoteModule(mod)
	add := func(label index.Label, lp string) {
		mii.AddNode(&index.KNode{
			Label: label, Libpath: lp, Major: major,
			Modpath: mod, Repopath: repo, Origin: lp + "@" + major,
		})
	}
	under := func(tail, head, seg string) {
		mii.AddReln(&index.KReln{
			Type: index.RelnUnder, TailLibpath: tail, HeadLibpath: head,
			TailMajor: major, HeadMajor: major, Major: major,
			Modpath: mod, Repopath: repo, Segment: seg,
		})
	}
	add(index.LabelModule, mod)
	add(index.LabelDeduc, mod+".Foo")
	add(index.LabelNode, mod+".Foo.A")
	add(index.LabelNode, mod+".Foo.B")
	under(mod+".Foo", mod, "Foo")
	under(mod+".Foo.A", mod+".Foo", "A")
	under(mod+".Foo.B", mod+".Foo", "B")
	mii.AddReln(&index.KReln{
		Type: index.RelnImplies, TailLibpath: mod + ".Foo.A", HeadLibpath: mod + ".Foo.B",
		TailMajor: major, HeadMajor: major, Major: major, Modpath: mod, Repopath: repo,
	})
	return mii
}

func TestIndexSimpleWipBuild(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexModule(buildSimpleWip()))

	nodes, relns, err := s.GetExistingObjects("test.local.foo.main", "WIP", false)
	require.NoError(t, err)

	var deducs, plain, implies, unders int
	for _, n := range nodes {
		switch n.Label {
		case index.LabelDeduc:
			deducs++
		case index.LabelNode:
			plain++
		}
	}
	for _, r := range relns {
		switch r.Type {
		case index.RelnImplies:
			implies++
		case index.RelnUnder:
			unders++
		}
	}
	assert.Equal(t, 1, deducs)
	assert.Equal(t, 2, plain)
	assert.Equal(t, 1, implies)
	assert.Equal(t, 3, unders)

	versions, err := s.GetVersionsIndexed("test.local.foo", true)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].Version.IsWIP)
}

func TestWipRebuildReplacesWholesale(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexModule(buildSimpleWip()))
	// A second WIP build replaces the first; no duplicates accumulate.
	require.NoError(t, s.IndexModule(buildSimpleWip()))

	nodes, _, err := s.GetExistingObjects("test.local.foo.main", "WIP", false)
	require.NoError(t, err)
	assert.Len(t, nodes, 4)
}

func TestAttemptedReleaseReindex(t *testing.T) {
	s := openTestStore(t)
	mii := index.NewModuleIndexInfo("test.moo.bar", version.New(1, 0, 0), true)
	require.NoError(t, s.IndexModule(mii))

	mii2 := index.NewModuleIndexInfo("test.moo.bar", version.New(1, 0, 0), true)
	err := s.IndexModule(mii2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been indexed")

	ok, err := s.VersionIsAlreadyIndexed("test.moo.bar", version.New(1, 0, 0))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.VersionIsAlreadyIndexed("test.moo.bar", version.New(2, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

// releaseV1 gathers a v1.0.0 release of repo test.moo.bar with deduc Pf
// containing nodes S and T.
func releaseV1() *index.ModuleIndexInfo {
	mii := index.NewModuleIndexInfo("test.moo.bar", version.New(1, 0, 0), true)
	mod := "test.moo.bar.results"
	repo := "test.moo.bar"
	mii.NoteModule(mod)
	add := func(label index.Label, lp string) {
		mii.AddNode(&index.KNode{
			Label: label, Libpath: lp, Major: "1",
			Modpath: mod, Repopath: repo, Origin: lp + "@1",
		})
	}
	add(index.LabelModule, mod)
	add(index.LabelDeduc, mod+".Pf")
	add(index.LabelNode, mod+".Pf.S")
	add(index.LabelNode, mod+".Pf.T")
	mii.AddReln(&index.KReln{
		Type: index.RelnUnder, TailLibpath: mod + ".Pf.S", HeadLibpath: mod + ".Pf",
		TailMajor: "1", HeadMajor: "1", Major: "1", Modpath: mod, Repopath: repo, Segment: "S",
	})
	return mii
}

// enrichmentRelease indexes v1.0.0 of repo test.moo.study whose deduc X
// targets test.moo.bar.results.Pf.S.
func enrichmentRelease() *index.ModuleIndexInfo {
	mii := index.NewModuleIndexInfo("test.moo.study", version.New(1, 0, 0), true)
	mod := "test.moo.study.expand"
	repo := "test.moo.study"
	mii.NoteModule(mod)
	mii.AddNode(&index.KNode{
		Label: index.LabelModule, Libpath: mod, Major: "1",
		Modpath: mod, Repopath: repo,
	})
	mii.AddNode(&index.KNode{
		Label: index.LabelDeduc, Libpath: mod + ".X", Major: "1",
		Modpath: mod, Repopath: repo, Origin: mod + ".X@1",
	})
	mii.AddReln(&index.KReln{
		Type: index.RelnTargets, TailLibpath: mod + ".X",
		HeadLibpath: "test.moo.bar.results.Pf.S",
		TailMajor: "1", HeadMajor: "1", Major: "1", Modpath: mod, Repopath: repo,
	})
	return mii
}

// releaseV2 moves Pf.S to Pf.U.
func releaseV2(t *testing.T, s *Store) *index.ModuleIndexInfo {
	t.Helper()
	mii := index.NewModuleIndexInfo("test.moo.bar", version.New(2, 0, 0), true)
	mod := "test.moo.bar.results"
	repo := "test.moo.bar"
	mii.NoteModule(mod)
	cl := &index.ChangeLog{Moved: map[string]string{}}
	require.NoError(t, mii.SetChangeLog(cl))
	mii.MoveMapping[mod+".Pf.S"] = mod + ".Pf.U"
	mii.ChangeLog.Moved[mod+".Pf.S"] = mod + ".Pf.U"

	prevPaths, err := s.AllLibpathsUnderRepo(repo, "1")
	require.NoError(t, err)
	mii.ComputeMoveClosure(prevPaths)

	add := func(label index.Label, lp, origin string) {
		mii.AddNode(&index.KNode{
			Label: label, Libpath: lp, Major: "2",
			Modpath: mod, Repopath: repo, Origin: origin,
		})
	}
	add(index.LabelModule, mod, "")
	add(index.LabelDeduc, mod+".Pf", mod+".Pf@1")
	// Pf.S is gone; Pf.U inherits its origin.
	add(index.LabelNode, mod+".Pf.U", mod+".Pf.S@1")
	add(index.LabelNode, mod+".Pf.T", mod+".Pf.T@1")
	mii.AddReln(&index.KReln{
		Type: index.RelnUnder, TailLibpath: mod + ".Pf.U", HeadLibpath: mod + ".Pf",
		TailMajor: "2", HeadMajor: "2", Major: "2", Modpath: mod, Repopath: repo, Segment: "U",
	})
	require.NoError(t, mii.ComputeDiff(s, "1"))
	return mii
}

func TestMoveAndRetarget(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexModule(releaseV1()))
	require.NoError(t, s.IndexModule(enrichmentRelease()))

	mii2 := releaseV2(t, s)
	require.NoError(t, s.IndexModule(mii2))

	mod := "test.moo.bar.results"
	enrDeduc := "test.moo.study.expand.X"

	// The diff cut Pf.S at major 2.
	nodesAt1, _, err := s.GetExistingObjects(mod, "1", false)
	require.NoError(t, err)
	foundS := false
	for _, n := range nodesAt1 {
		if n.Libpath == mod+".Pf.S" {
			foundS = true
			assert.Equal(t, "2", n.Cut)
		}
	}
	assert.True(t, foundS, "Pf.S should still be live at major 1")

	nodesAt2, _, err := s.GetExistingObjects(mod, "2", false)
	require.NoError(t, err)
	for _, n := range nodesAt2 {
		assert.NotEqual(t, mod+".Pf.S", n.Libpath, "Pf.S must not be live at major 2")
		if n.Libpath == mod+".Pf.U" {
			assert.Equal(t, mod+".Pf.S@1", n.Origin)
		}
	}

	// Move conjugate lookup: Pf.S at major 1 moved to Pf.U.
	mc, err := s.FindMoveConjugate(mod+".Pf.S", "1")
	require.NoError(t, err)
	require.NotNil(t, mc)
	assert.False(t, mc.Deleted)
	assert.Equal(t, mod+".Pf.U", mc.Libpath)
	assert.Equal(t, "2", mc.Major)

	// Nothing moved for Pf.T.
	mc, err = s.FindMoveConjugate(mod+".Pf.T", "1")
	require.NoError(t, err)
	assert.Nil(t, mc)

	// The enrichment on Pf.S retargets to Pf.U at major 2.
	enr, err := s.GetEnrichment(mod+".Pf", "2")
	require.NoError(t, err)
	onU, ok := enr[mod+".Pf.U"]
	require.True(t, ok, "expected enrichment under Pf.U, got %v", enr)
	require.Len(t, onU["Deduc"], 1)
	assert.Equal(t, enrDeduc, onU["Deduc"][0].Libpath)
	assert.True(t, onU["Deduc"][0].Retargeted)
	// Pf.S is no longer live at major 2, so nothing reports under it.
	_, hasS := enr[mod+".Pf.S"]
	assert.False(t, hasS)

	// At major 1 the enrichment still reports under Pf.S directly.
	enr1, err := s.GetEnrichment(mod+".Pf", "1")
	require.NoError(t, err)
	onS := enr1[mod+".Pf.S"]
	require.Len(t, onS["Deduc"], 1)
	assert.False(t, onS["Deduc"][0].Retargeted)
}

func TestAncestorMoveCoversDescendants(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexModule(releaseV1()))

	// v2 moves the whole deduction Pf to Pf2.
	mod := "test.moo.bar.results"
	mii := index.NewModuleIndexInfo("test.moo.bar", version.New(2, 0, 0), true)
	mii.NoteModule(mod)
	cl := &index.ChangeLog{Moved: map[string]string{mod + ".Pf": mod + ".Pf2"}}
	require.NoError(t, mii.SetChangeLog(cl))
	mii.MoveMapping[mod+".Pf"] = mod + ".Pf2"
	require.NoError(t, mii.ComputeDiff(s, "1"))
	require.NoError(t, s.IndexModule(mii))

	// A descendant resolves through the ancestor's MOVE edge: one MOVE
	// record covers the whole subtree.
	mc, err := s.FindMoveConjugate(mod+".Pf.S", "1")
	require.NoError(t, err)
	require.NotNil(t, mc)
	assert.Equal(t, mod+".Pf2.S", mc.Libpath)
}

func TestMoveToVoid(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexModule(releaseV1()))

	mod := "test.moo.bar.results"
	mii := index.NewModuleIndexInfo("test.moo.bar", version.New(2, 0, 0), true)
	mii.NoteModule(mod)
	cl := &index.ChangeLog{Moved: map[string]string{mod + ".Pf.S": ""}}
	require.NoError(t, mii.SetChangeLog(cl))
	mii.MoveMapping[mod+".Pf.S"] = ""
	require.NoError(t, mii.ComputeDiff(s, "1"))
	require.NoError(t, s.IndexModule(mii))

	mc, err := s.FindMoveConjugate(mod+".Pf.S", "1")
	require.NoError(t, err)
	require.NotNil(t, mc)
	assert.True(t, mc.Deleted)
}

func TestUserNotesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	user := "test.alice"
	_, err := s.AddUser(user, "USER", "alice@example.org", nil)
	require.NoError(t, err)

	origin := "test.moo.spam.Ch1.Sec7.Pf.A10@1"
	err = s.RecordUserNotes(user, gdb.UserNotes{
		Origin: origin,
		Goal:   "test.moo.spam.Ch1.Sec7.Pf.A10",
		State:  "checked",
		Notes:  "foo",
	})
	require.NoError(t, err)

	notes, err := s.LoadUserNotes(user, []string{origin})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "checked", notes[0].State)
	assert.Equal(t, "foo", notes[0].Notes)

	// Recording a blank notes string deletes the edge, whatever the state.
	err = s.RecordUserNotes(user, gdb.UserNotes{Origin: origin, State: "checked", Notes: ""})
	require.NoError(t, err)
	notes, err = s.LoadUserNotes(user, []string{origin})
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestDeleteUserRemovesNotes(t *testing.T) {
	s := openTestStore(t)
	user := "test.bob"
	_, err := s.AddUser(user, "USER", "bob@example.org", nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordUserNotes(user, gdb.UserNotes{
		Origin: "test.moo.bar.Pf.A@1", Goal: "test.moo.bar.Pf.A", State: "checked", Notes: "x",
	}))

	// Deleting without explicit intent is refused.
	_, err = s.DeleteUser(user, false)
	assert.Error(t, err)

	n, err := s.DeleteUser(user, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u, err := s.LoadUser(user)
	require.NoError(t, err)
	assert.Nil(t, u)
	notes, err := s.LoadUserNotes(user, nil)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestMergeUser(t *testing.T) {
	s := openTestStore(t)
	u, isNew, err := s.MergeUser("test.carol", "USER", "carol@example.org", nil)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "carol@example.org", u.Props["email"])

	u, isNew, err = s.MergeUser("test.carol", "USER", "carol@new.example.org", []string{"org1"})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "carol@new.example.org", u.Props["email"])
}

func TestNotesSurviveMovesViaOrigin(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexModule(releaseV1()))
	mii2 := releaseV2(t, s)
	require.NoError(t, s.IndexModule(mii2))

	user := "test.dana"
	_, err := s.AddUser(user, "USER", "dana@example.org", nil)
	require.NoError(t, err)

	mod := "test.moo.bar.results"
	// Notes recorded against Pf.S's origin while viewing v1.
	require.NoError(t, s.RecordUserNotes(user, gdb.UserNotes{
		Origin: mod + ".Pf.S@1", Goal: mod + ".Pf.S", State: "checked", Notes: "case basis",
	}))

	// Viewing v2, Pf.U carries origin Pf.S@1, so the notes surface there.
	notes, err := s.LoadUserNotesOnDeduc(user, mod+".Pf", "2")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, mod+".Pf.S@1", notes[0].Origin)
	assert.Equal(t, "case basis", notes[0].Notes)
}

func TestApprovals(t *testing.T) {
	s := openTestStore(t)
	w := "test.moo.bar.expl.Notes.w1"
	ok, err := s.CheckApproval(w, "v1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetApproval(w, "v1.0.0", true))
	ok, err = s.CheckApproval(w, "v1.0.0")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.SetApproval(w, "v1.0.0", false))
	ok, err = s.CheckApproval(w, "v1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArtifactRecords(t *testing.T) {
	s := openTestStore(t)
	dg := []byte(`{"libpath": "test.moo.bar.Pf"}`)
	require.NoError(t, s.RecordDashgraph("test.moo.bar.Pf", "v1.0.0", dg))
	got, err := s.LoadDashgraph("test.moo.bar.Pf", "v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, dg, got)

	_, err = s.LoadDashgraph("test.moo.bar.Nope", "v1.0.0")
	assert.Error(t, err)

	require.NoError(t, s.RecordAnnobuild("test.moo.bar.Notes", "WIP",
		[]byte("<p>hi</p>"), []byte(`{"widgets": {}}`)))
	html, data, err := s.LoadAnnotation("test.moo.bar.Notes", "WIP")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(html))
	assert.Contains(t, string(data), "widgets")

	require.NoError(t, s.RecordModuleSource("test.moo.bar", "WIP", []byte("deduc Pf {}")))
	src, err := s.LoadModuleSource("test.moo.bar", "WIP")
	require.NoError(t, err)
	assert.Contains(t, string(src), "deduc")

	require.NoError(t, s.DeleteBuildsUnderModule("test.moo.bar", "WIP"))
	_, err = s.LoadModuleSource("test.moo.bar", "WIP")
	assert.Error(t, err)
}

func TestCutInvariant(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IndexModule(releaseV1()))
	mii2 := releaseV2(t, s)
	require.NoError(t, s.IndexModule(mii2))

	rows, err := s.DB().Query(`SELECT major, COALESCE(cut, '') FROM knodes`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var major, cut string
		require.NoError(t, rows.Scan(&major, &cut))
		assert.True(t, index.CutIsValid(major, cut), "major=%s cut=%s", major, cut)
	}
}
