package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"proofmesh/internal/build"
	"proofmesh/internal/config"
	"proofmesh/internal/gdb"
	"proofmesh/internal/index"
	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
	"proofmesh/internal/shadow"
	"proofmesh/internal/version"
)

// purgeConfirmationPhrase must accompany destructive account operations.
const purgeConfirmationPhrase = "I understand this cannot be undone"

// Server wires the HTTP surface to the builder, graph store, artifact store,
// and shadow keeper.
type Server struct {
	cfg       *config.Config
	graph     build.GraphStore
	artifacts build.ArtifactStore
	builder   *build.Builder
	shadow    *shadow.Keeper
	hub       *Hub
}

// NewServer constructs the server.
func NewServer(cfg *config.Config, graph build.GraphStore, artifacts build.ArtifactStore, builder *build.Builder, keeper *shadow.Keeper) *Server {
	return &Server{
		cfg:       cfg,
		graph:     graph,
		artifacts: artifacts,
		builder:   builder,
		shadow:    keeper,
		hub:       NewHub(),
	}
}

// Hub exposes the push channel.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the chi router with every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/loadRepoTree", s.handleLoadRepoTree)
	r.Get("/loadDashgraph", s.handleLoadDashgraph)
	r.Post("/loadAnnotation", s.handleLoadAnnotation)
	r.Get("/loadSource", s.handleLoadSource)
	r.Get("/getEnrichment", s.handleGetEnrichment)
	r.Get("/getTheoryMap", s.handleGetTheoryMap)
	r.Post("/recordNotes", s.handleRecordNotes)
	r.Post("/loadNotes", s.handleLoadNotes)
	r.Post("/purgeNotes", s.handlePurgeNotes)
	r.Post("/purgeUserAcct", s.handlePurgeUserAcct)
	r.Post("/requestBuild", s.handleRequestBuild)
	r.Put("/makeNewSubmodule", s.handleMakeNewSubmodule)
	r.Patch("/renameModule", s.handleRenameModule)
	r.Get("/ws", s.hub.ServeWS)
	return r
}

// username identifies the requesting user; authentication itself is an
// external collaborator, which hands us the identity in a trusted header.
func username(r *http.Request) (string, error) {
	u := r.Header.Get("X-Proofmesh-User")
	if u == "" {
		return "", perr.New(perr.UserNotLoggedIn, "no user logged in")
	}
	return u, nil
}

// parseVersionParam reads and validates a `vers` parameter.
func parseVersionParam(r *http.Request) (version.Version, error) {
	vs, err := requiredParam(r, "vers")
	if err != nil {
		return version.Version{}, err
	}
	return version.Parse(vs)
}

func parseLibpathParam(r *http.Request, name string) (libpath.Libpath, error) {
	v, err := requiredParam(r, name)
	if err != nil {
		return libpath.Libpath{}, err
	}
	if err := checkLength(name, v); err != nil {
		return libpath.Libpath{}, err
	}
	return libpath.ParseTrusted(v)
}

// handleLoadRepoTree serves the manifest and build status for a repo at a
// version.
func (s *Server) handleLoadRepoTree(w http.ResponseWriter, r *http.Request) {
	repopath, err := parseLibpathParam(r, "repopath")
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	ver, err := parseVersionParam(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	built, err := s.graph.VersionIsAlreadyIndexed(repopath.String(), ver)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	if !built && r.FormValue("doBuild") != "" {
		room := s.dispatchBuild(build.Request{
			Modpath:   repopath,
			Version:   ver,
			Recursive: true,
			Caching:   true,
		})
		writeEnvelope(w, r, envelope{"building": true, "room": room}, nil)
		return
	}
	if !built {
		writeEnvelope(w, r, nil, perr.New(perr.VersionNotBuiltYet,
			"version %s of %s is not built yet", ver, repopath))
		return
	}
	data, err := s.artifacts.LoadRepoManifest(repopath.String(), ver.String())
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	writeEnvelope(w, r, envelope{"model": json.RawMessage(data), "version": ver.String()}, nil)
}

// handleLoadDashgraph serves a dashgraph plus merged enrichments and user
// notes.
func (s *Server) handleLoadDashgraph(w http.ResponseWriter, r *http.Request) {
	lp, err := parseLibpathParam(r, "libpath")
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	ver, err := parseVersionParam(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	data, err := s.artifacts.LoadDashgraph(lp.String(), ver.String())
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	payload := envelope{"dashgraph": json.RawMessage(data)}

	enrichment, err := s.graph.GetEnrichment(lp.String(), ver.MajorString())
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	payload["enrichment"] = enrichment

	if user, err := username(r); err == nil {
		notes, err := s.graph.LoadUserNotesOnDeduc(user, lp.String(), ver.MajorString())
		if err != nil {
			writeEnvelope(w, r, nil, err)
			return
		}
		payload["user_notes"] = notes
	}
	writeEnvelope(w, r, payload, nil)
}

// handleLoadAnnotation serves a built annotation with trust and approval
// flags injected at read time.
func (s *Server) handleLoadAnnotation(w http.ResponseWriter, r *http.Request) {
	lp, err := parseLibpathParam(r, "libpath")
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	ver, err := parseVersionParam(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	html, data, err := s.artifacts.LoadAnnotation(lp.String(), ver.String())
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	trusted := s.cfg.IsTrusted(lp.String())
	dataJSON, err := s.injectApprovals(data, ver.String(), trusted)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	writeEnvelope(w, r, envelope{
		"html":      string(html),
		"data_json": json.RawMessage(dataJSON),
		"trusted":   trusted,
	}, nil)
}

// injectApprovals decorates each widget's data with its trust/approval
// state. A trusted libpath overrides per-widget approvals.
func (s *Server) injectApprovals(data []byte, fullVersion string, trusted bool) ([]byte, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, perr.Wrap(perr.MissingAnnotation, err, "stored annotation data is malformed")
	}
	widgets, _ := parsed["widgets"].(map[string]interface{})
	for _, w := range widgets {
		wd, ok := w.(map[string]interface{})
		if !ok {
			continue
		}
		approved := trusted
		if !approved {
			if wlp, ok := wd["libpath"].(string); ok {
				var err error
				approved, err = s.graph.CheckApproval(wlp, fullVersion)
				if err != nil {
					return nil, err
				}
			}
		}
		wd["approved"] = approved
	}
	return json.Marshal(parsed)
}

// handleLoadSource serves module source text, one entry per requested
// module.
func (s *Server) handleLoadSource(w http.ResponseWriter, r *http.Request) {
	libpaths, err := requiredParam(r, "libpaths")
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	versions, err := requiredParam(r, "versions")
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	lps := strings.Split(libpaths, ",")
	vers := strings.Split(versions, ",")
	if len(lps) != len(vers) {
		writeEnvelope(w, r, nil, perr.New(perr.InputWrongType,
			"libpaths and versions must have the same length"))
		return
	}
	source := map[string]string{}
	for i, lpStr := range lps {
		lp, err := libpath.ParseTrusted(lpStr)
		if err != nil {
			writeEnvelope(w, r, nil, err)
			return
		}
		v, err := version.Parse(vers[i])
		if err != nil {
			writeEnvelope(w, r, nil, err)
			return
		}
		text, err := s.artifacts.LoadModuleSource(lp.String(), v.String())
		if err != nil {
			writeEnvelope(w, r, nil, err)
			return
		}
		source[lp.String()] = string(text)
	}
	writeEnvelope(w, r, envelope{"source": source}, nil)
}

func (s *Server) handleGetEnrichment(w http.ResponseWriter, r *http.Request) {
	lp, err := parseLibpathParam(r, "libpath")
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	ver, err := parseVersionParam(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	enrichment, err := s.graph.GetEnrichment(lp.String(), ver.MajorString())
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	writeEnvelope(w, r, envelope{"enrichment": enrichment}, nil)
}

// handleGetTheoryMap serves the upper (relied upon) or lower (relying upon)
// theory graph around a deduction.
func (s *Server) handleGetTheoryMap(w http.ResponseWriter, r *http.Request) {
	dp, err := parseLibpathParam(r, "deducpath")
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	ver, err := parseVersionParam(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	mapType := r.FormValue("type")
	var results []string
	switch mapType {
	case "upper":
		results, err = s.graph.GetResultsReliedUponBy(dp.String(), ver.MajorString())
	case "lower":
		results, err = s.graph.GetResultsRelyingUpon(dp.String(), ver.MajorString())
	default:
		err = perr.New(perr.InputWrongType, "type must be upper or lower")
	}
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	writeEnvelope(w, r, envelope{"theory_map": results, "deducpath": dp.String()}, nil)
}

// notesPayload is the request body for notes endpoints.
type notesPayload struct {
	GoalID  string   `json:"goal_id"`
	State   string   `json:"state"`
	Notes   string   `json:"notes"`
	GoalIDs []string `json:"goal_ids"`
	LoadAll bool     `json:"load_all"`
	Confirm string   `json:"confirmation_phrase"`
}

func readBody(r *http.Request, into interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return perr.New(perr.MalformedJSON, "malformed request body")
	}
	return nil
}

// handleRecordNotes records a user's state and notes on a goal. The goal id
// is a versioned libpath; the notes key to its origin.
func (s *Server) handleRecordNotes(w http.ResponseWriter, r *http.Request) {
	user, err := username(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	var body notesPayload
	if err := readBody(r, &body); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	if body.GoalID == "" {
		writeEnvelope(w, r, nil, perr.New(perr.MissingInput, "missing goal_id"))
		return
	}
	if err := checkLength("notes", body.Notes); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	origin, goalLp, err := s.resolveGoalOrigin(body.GoalID)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	err = s.graph.RecordUserNotes(user, gdb.UserNotes{
		Origin: origin,
		Goal:   goalLp,
		State:  body.State,
		Notes:  body.Notes,
	})
	writeEnvelope(w, r, envelope{"recorded": err == nil}, err)
}

// resolveGoalOrigin turns a goal id "libpath@vers" into the goal's origin.
func (s *Server) resolveGoalOrigin(goalID string) (string, string, error) {
	vp, err := libpath.ParseVersioned(goalID)
	if err != nil {
		return "", "", err
	}
	major := vp.Version.MajorString()
	lp := vp.Path.String()
	origins, err := s.graph.GetOrigins(map[index.Label][]string{
		index.LabelNode:   {lp},
		index.LabelWidget: {lp},
		index.LabelDeduc:  {lp},
	}, major)
	if err != nil {
		return "", "", err
	}
	if origin, ok := origins[lp]; ok {
		return origin, lp, nil
	}
	// An unindexed goal keys by its own address.
	return lp + "@" + major, lp, nil
}

// handleLoadNotes loads notes on the given goals, or all of the user's
// notes.
func (s *Server) handleLoadNotes(w http.ResponseWriter, r *http.Request) {
	user, err := username(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	var body notesPayload
	if err := readBody(r, &body); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	var notes []gdb.UserNotes
	if body.LoadAll {
		notes, err = s.graph.LoadUserNotes(user, nil)
	} else {
		var origins []string
		for _, goalID := range body.GoalIDs {
			origin, _, rerr := s.resolveGoalOrigin(goalID)
			if rerr != nil {
				writeEnvelope(w, r, nil, rerr)
				return
			}
			origins = append(origins, origin)
		}
		notes, err = s.graph.LoadUserNotes(user, origins)
	}
	writeEnvelope(w, r, envelope{"notes": notes}, err)
}

// handlePurgeNotes deletes all of a user's notes; requires the fixed
// confirmation phrase.
func (s *Server) handlePurgeNotes(w http.ResponseWriter, r *http.Request) {
	user, err := username(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	var body notesPayload
	if err := readBody(r, &body); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	if body.Confirm != purgeConfirmationPhrase {
		writeEnvelope(w, r, nil, perr.New(perr.MissingInput,
			"confirmation phrase required"))
		return
	}
	err = s.graph.DeleteAllNotesOfOneUser(user, true)
	writeEnvelope(w, r, envelope{"purged": err == nil}, err)
}

// handlePurgeUserAcct deletes a user account entirely; requires the fixed
// confirmation phrase.
func (s *Server) handlePurgeUserAcct(w http.ResponseWriter, r *http.Request) {
	user, err := username(r)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	var body notesPayload
	if err := readBody(r, &body); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	if body.Confirm != purgeConfirmationPhrase {
		writeEnvelope(w, r, nil, perr.New(perr.MissingInput,
			"confirmation phrase required"))
		return
	}
	n, err := s.graph.DeleteUser(user, true)
	writeEnvelope(w, r, envelope{"deleted": n}, err)
}

// buildPayload is the request body for build dispatch.
type buildPayload struct {
	Modpath   string `json:"modpath"`
	Vers      string `json:"vers"`
	Recursive bool   `json:"recursive"`
}

// handleRequestBuild dispatches a build job and returns the push-channel
// room streaming its progress.
func (s *Server) handleRequestBuild(w http.ResponseWriter, r *http.Request) {
	var body buildPayload
	if err := readBody(r, &body); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	lp, err := libpath.ParseTrusted(body.Modpath)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	ver, err := version.Parse(body.Vers)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	room := s.dispatchBuild(build.Request{
		Modpath:   lp,
		Version:   ver,
		Recursive: body.Recursive,
		Caching:   true,
	})
	writeEnvelope(w, r, envelope{"room": room}, nil)
}

// dispatchBuild runs a build in the background, streaming progress to a
// fresh room. Failures are reported over the push channel, never lost.
func (s *Server) dispatchBuild(req build.Request) string {
	room := s.hub.NewRoom()
	req.Monitor = build.FuncMonitor(func(opCode, current, max int, message string) {
		s.hub.Publish(room, ProgressEvent{
			Type: "progress", OpCode: opCode, Current: current, Max: max, Message: message,
		})
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Build.Timeout)
		defer cancel()
		err := s.builder.Build(ctx, req)
		evt := CompletionEvent{Type: "complete"}
		if err != nil {
			logging.Get(logging.CategoryWeb).Error("background build failed: %v", err)
			evt.ErrLvl = int(perr.CodeOf(err))
			evt.ErrMsg = errMessage(err)
		}
		s.hub.Publish(room, evt)
	}()
	return room
}

// modulePayload is the request body for module edit endpoints.
type modulePayload struct {
	Parent  string `json:"parent"`
	Name    string `json:"name"`
	Modpath string `json:"modpath"`
	NewName string `json:"new_name"`
}

// handleMakeNewSubmodule creates a new empty module beneath an existing one
// and snapshots it into the shadow history.
func (s *Server) handleMakeNewSubmodule(w http.ResponseWriter, r *http.Request) {
	var body modulePayload
	if err := readBody(r, &body); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	parent, err := libpath.ParseTrusted(body.Parent)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	modpath, err := parent.Join(body.Name)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	fsPath, err := newModuleFile(s.cfg.Library.Root, modpath)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	if _, err := s.shadow.RecordSave(modpath, []byte{}); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	writeEnvelope(w, r, envelope{"modpath": modpath.String(), "fs_path": fsPath}, nil)
}

// handleRenameModule renames a module file on disk.
func (s *Server) handleRenameModule(w http.ResponseWriter, r *http.Request) {
	var body modulePayload
	if err := readBody(r, &body); err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	modpath, err := libpath.ParseTrusted(body.Modpath)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	newPath, err := renameModuleFile(s.cfg.Library.Root, modpath, body.NewName)
	if err != nil {
		writeEnvelope(w, r, nil, err)
		return
	}
	writeEnvelope(w, r, envelope{"modpath": newPath.String()}, nil)
}
