package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofmesh/internal/build"
	"proofmesh/internal/config"
	"proofmesh/internal/gdb/sqlitegraph"
	"proofmesh/internal/index"
	"proofmesh/internal/perr"
	"proofmesh/internal/shadow"
	"proofmesh/internal/version"
)

func testServer(t *testing.T) (*Server, *sqlitegraph.Store, *build.FS, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Library.Root = filepath.Join(dir, "lib")
	cfg.Library.BuildRoot = filepath.Join(dir, "build")
	cfg.Library.ShadowRoot = filepath.Join(dir, "shadow")
	cfg.Build.CacheDir = filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cfg.Library.Root, 0755))

	store, err := sqlitegraph.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	fs, err := build.NewFS(cfg.Library.BuildRoot, 16)
	require.NoError(t, err)
	keeper, err := shadow.NewKeeper(cfg.Library.ShadowRoot)
	require.NoError(t, err)
	builder := build.NewBuilder(cfg, store, fs)
	return NewServer(cfg, store, fs, builder, keeper), store, fs, cfg
}

func doJSON(t *testing.T, handler http.Handler, method, path, user, body string) map[string]interface{} {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-Proofmesh-User", user)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errLvl(out map[string]interface{}) int {
	lvl, _ := out["err_lvl"].(float64)
	return int(lvl)
}

func TestEnvelopeShape(t *testing.T) {
	srv, _, _, _ := testServer(t)
	router := srv.Router()

	out := doJSON(t, router, "GET", "/loadDashgraph?libpath=test.moo.bar.Pf&vers=WIP", "", "")
	assert.Equal(t, int(perr.MissingDashgraph), errLvl(out))
	assert.Equal(t, "/loadDashgraph?libpath=test.moo.bar.Pf&vers=WIP", out["orig_req"])

	// Missing inputs get their own code.
	out = doJSON(t, router, "GET", "/loadDashgraph?libpath=test.moo.bar.Pf", "", "")
	assert.Equal(t, int(perr.MissingInput), errLvl(out))
}

func TestLoadDashgraphHappyPath(t *testing.T) {
	srv, store, fs, _ := testServer(t)
	require.NoError(t, fs.RecordDashgraph("test.moo.bar.results.Pf", "WIP", []byte(`{"libpath": "test.moo.bar.results.Pf"}`)))
	_ = store

	out := doJSON(t, srv.Router(), "GET", "/loadDashgraph?libpath=test.moo.bar.results.Pf&vers=WIP", "", "")
	require.Equal(t, 0, errLvl(out))
	dg, ok := out["dashgraph"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "test.moo.bar.results.Pf", dg["libpath"])
}

func TestNotesEndpoints(t *testing.T) {
	srv, store, _, _ := testServer(t)
	router := srv.Router()

	// Index a goal node so the origin resolves.
	mii := index.NewModuleIndexInfo("test.moo.spam", version.New(1, 0, 0), true)
	mii.NoteModule("test.moo.spam.Ch1")
	mii.AddNode(&index.KNode{
		Label: index.LabelNode, Libpath: "test.moo.spam.Ch1.Pf.A10", Major: "1",
		Modpath: "test.moo.spam.Ch1", Repopath: "test.moo.spam",
		Origin: "test.moo.spam.Ch1.Pf.A10@1",
	})
	require.NoError(t, store.IndexModule(mii))

	// Not logged in.
	out := doJSON(t, router, "POST", "/recordNotes", "",
		`{"goal_id": "test.moo.spam@v1.0.0.Ch1.Pf.A10", "state": "checked", "notes": "foo"}`)
	assert.Equal(t, int(perr.UserNotLoggedIn), errLvl(out))

	// Record and load back.
	out = doJSON(t, router, "POST", "/recordNotes", "test.alice",
		`{"goal_id": "test.moo.spam@v1.0.0.Ch1.Pf.A10", "state": "checked", "notes": "foo"}`)
	require.Equal(t, 0, errLvl(out), out)

	out = doJSON(t, router, "POST", "/loadNotes", "test.alice",
		`{"goal_ids": ["test.moo.spam@v1.0.0.Ch1.Pf.A10"]}`)
	require.Equal(t, 0, errLvl(out))
	notes, ok := out["notes"].([]interface{})
	require.True(t, ok)
	require.Len(t, notes, 1)
	first := notes[0].(map[string]interface{})
	assert.Equal(t, "foo", first["Notes"])

	// Overwrite with blank deletes.
	out = doJSON(t, router, "POST", "/recordNotes", "test.alice",
		`{"goal_id": "test.moo.spam@v1.0.0.Ch1.Pf.A10", "state": "unchecked", "notes": ""}`)
	require.Equal(t, 0, errLvl(out))
	out = doJSON(t, router, "POST", "/loadNotes", "test.alice",
		`{"goal_ids": ["test.moo.spam@v1.0.0.Ch1.Pf.A10"]}`)
	require.Equal(t, 0, errLvl(out))
	assert.Nil(t, out["notes"])
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	srv, _, _, _ := testServer(t)
	router := srv.Router()

	out := doJSON(t, router, "POST", "/purgeNotes", "test.alice", `{"confirmation_phrase": "yes"}`)
	assert.Equal(t, int(perr.MissingInput), errLvl(out))

	out = doJSON(t, router, "POST", "/purgeNotes", "test.alice",
		`{"confirmation_phrase": "I understand this cannot be undone"}`)
	assert.Equal(t, 0, errLvl(out))
}

func TestLoadAnnotationInjectsApproval(t *testing.T) {
	srv, store, fs, cfg := testServer(t)
	data := `{"libpath": "test.moo.bar.Notes", "version": "WIP", "widgets": {"w-uid": {"type": "disp", "libpath": "test.moo.bar.Notes.w1"}}}`
	require.NoError(t, fs.RecordAnnobuild("test.moo.bar.Notes", "WIP", []byte("<p>x</p>"), []byte(data)))

	out := doJSON(t, srv.Router(), "POST", "/loadAnnotation?libpath=test.moo.bar.Notes&vers=WIP", "", "")
	require.Equal(t, 0, errLvl(out), out)
	dj := out["data_json"].(map[string]interface{})
	widgets := dj["widgets"].(map[string]interface{})
	wd := widgets["w-uid"].(map[string]interface{})
	assert.Equal(t, false, wd["approved"])

	// Approve the widget and reload.
	require.NoError(t, store.SetApproval("test.moo.bar.Notes.w1", "WIP", true))
	out = doJSON(t, srv.Router(), "POST", "/loadAnnotation?libpath=test.moo.bar.Notes&vers=WIP", "", "")
	dj = out["data_json"].(map[string]interface{})
	wd = dj["widgets"].(map[string]interface{})["w-uid"].(map[string]interface{})
	assert.Equal(t, true, wd["approved"])

	// A trusted libpath overrides approvals.
	cfg.Trust.Libpaths = []string{"test.moo"}
	require.NoError(t, store.SetApproval("test.moo.bar.Notes.w1", "WIP", false))
	out = doJSON(t, srv.Router(), "POST", "/loadAnnotation?libpath=test.moo.bar.Notes&vers=WIP", "", "")
	assert.Equal(t, true, out["trusted"])
	dj = out["data_json"].(map[string]interface{})
	wd = dj["widgets"].(map[string]interface{})["w-uid"].(map[string]interface{})
	assert.Equal(t, true, wd["approved"])
}

func TestGetTheoryMapValidatesType(t *testing.T) {
	srv, _, _, _ := testServer(t)
	out := doJSON(t, srv.Router(), "GET", "/getTheoryMap?deducpath=test.moo.bar.Pf&vers=WIP&type=sideways", "", "")
	assert.Equal(t, int(perr.InputWrongType), errLvl(out))
}
