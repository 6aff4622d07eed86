package build

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"proofmesh/internal/config"
	"proofmesh/internal/gdb"
	"proofmesh/internal/index"
	"proofmesh/internal/lang"
	"proofmesh/internal/lang/freestrings"
	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/libpath"
	"proofmesh/internal/logging"
	"proofmesh/internal/manifest"
	"proofmesh/internal/perr"
	"proofmesh/internal/repo"
	"proofmesh/internal/version"
)

// GraphStore is the full graph store the builder writes to and reads from.
type GraphStore interface {
	gdb.Reader
	gdb.Writer
}

// Request describes one build job.
type Request struct {
	// Modpath is the module to build; a repopath for whole-repo builds.
	Modpath libpath.Libpath
	// Version to build at: WIP or a release.
	Version version.Version
	// Recursive builds the module's whole subtree.
	Recursive bool
	// Caching reuses persisted parse results.
	Caching bool
	// Monitor receives progress events; may be nil.
	Monitor Monitor
}

// Builder runs the Read -> Resolve -> Index -> Write pipeline. One build at
// a time per repository-version pair; the per-repo lock serializes them.
type Builder struct {
	cfg       *config.Config
	graph     GraphStore
	artifacts ArtifactStore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewBuilder constructs a Builder.
func NewBuilder(cfg *config.Config, graph GraphStore, artifacts ArtifactStore) *Builder {
	return &Builder{
		cfg:       cfg,
		graph:     graph,
		artifacts: artifacts,
		locks:     map[string]*sync.Mutex{},
	}
}

func (b *Builder) repoLock(repopath string) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()
	mu, ok := b.locks[repopath]
	if !ok {
		mu = &sync.Mutex{}
		b.locks[repopath] = mu
	}
	return mu
}

// registry is the per-build module registry.
type registry struct {
	mu      sync.Mutex
	modules map[string]*lang.Module
}

func (r *registry) GetModule(modpath string) *lang.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modules[modpath]
}

func (r *registry) put(m *lang.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Libpath.String()] = m
}

// Build runs a build job to completion. Cancellation is cooperative: the
// context is checked at phase boundaries, and no partial state is persisted
// on failure (the index write is transactional and the artifact phase is
// last).
func (b *Builder) Build(ctx context.Context, req Request) error {
	timer := logging.StartTimer(logging.CategoryBuild, "Build")
	defer timer.Stop()

	mon := WithLogging(req.Monitor)
	repopath, err := req.Modpath.Repopath()
	if err != nil {
		return err
	}

	// One build holds the working-tree lock on a repo at a time.
	lock := b.repoLock(repopath.String())
	lock.Lock()
	defer lock.Unlock()

	logging.Build("Building %s at %s (recursive=%v)", req.Modpath, req.Version, req.Recursive)

	// Phase 1: checkout.
	mon.Publish(OpCheckout, 0, 0, "checking out "+repopath.String())
	if !req.Version.IsWIP && req.Modpath.String() != repopath.String() {
		return perr.New(perr.AttemptedReleaseBuildOnSubRepo,
			"release builds may only target a whole repo; got %s", req.Modpath)
	}
	r, err := repo.Open(b.cfg.Library.Root, repopath)
	if err != nil {
		return err
	}
	if err := r.Checkout(req.Version); err != nil {
		return err
	}
	commitHash, err := r.CurrentHash()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return perr.Wrap(perr.BuildCancelled, err, "build cancelled after checkout")
	}

	// Phase 2: root declarations.
	mii := index.NewModuleIndexInfo(repopath.String(), req.Version, req.Recursive)
	mii.CommitHash = commitHash
	mii.Monitor = mon
	deps, err := b.checkRootDeclarations(r, mii)
	if err != nil {
		return err
	}
	// The dependency and scope rules are enforced before any dependency is
	// read; the change-log rule needs the previous version and is checked
	// again after reading.
	if err := mii.ReleaseGuards(nil, deps, ""); err != nil {
		return err
	}

	// Phase 3: reading.
	mon.Publish(OpReading, 0, 0, "reading modules")
	reg := &registry{modules: map[string]*lang.Module{}}
	cache := OpenModuleCache(b.cfg.Build.CacheDir, repopath.String(), req.Version.String(), req.Caching)
	touched, err := b.readingPhase(ctx, r, req, reg, cache, deps)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return perr.Wrap(perr.BuildCancelled, err, "build cancelled after reading")
	}

	// Phase 4: resolving and scanning.
	mon.Publish(OpResolve, 0, len(touched), "resolving modules")
	resolver := lang.NewResolver(reg, repopath, req.Version, deps)
	for i, modpath := range touched {
		m := reg.GetModule(modpath)
		if m == nil {
			return perr.New(perr.ModuleHasNoContents, "module %s was not read", modpath)
		}
		if err := resolver.ResolveModule(m); err != nil {
			return err
		}
		mon.Publish(OpResolve, i+1, len(touched), modpath)
	}

	prevMajor, prevVersion, err := b.previousVersion(repopath.String(), req.Version)
	if err != nil {
		return err
	}
	if err := mii.ReleaseGuards(prevVersion, deps, ""); err != nil {
		return err
	}

	// Move closure and origins against the previous state.
	prevOrigins := map[string]string{}
	if prevMajor != "" {
		prevPaths, err := b.graph.AllLibpathsUnderRepo(repopath.String(), prevMajor)
		if err != nil {
			return err
		}
		mii.ComputeMoveClosure(prevPaths)
		nodes, _, err := b.graph.GetExistingObjects(repopath.String(), prevMajor, true)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if n.Origin != "" {
				prevOrigins[n.Libpath] = n.Origin
			}
		}
	}
	b.injectOrigins(reg, touched, mii, prevOrigins)

	for _, modpath := range touched {
		index.ScanModule(mii, reg.GetModule(modpath))
	}
	if prevMajor != "" {
		if err := mii.ComputeDiff(b.graph, prevMajor); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return perr.Wrap(perr.BuildCancelled, err, "build cancelled after resolving")
	}

	// Phase 5: index write.
	mon.Publish(OpIndex, 0, 0, "writing index")
	if err := b.graph.IndexModule(mii); err != nil {
		return err
	}

	// Phase 6: artifact write. Parser and resolver errors have already
	// aborted the build by now, so no partial artifacts are ever written.
	mon.Publish(OpWrite, 0, len(touched), "writing artifacts")
	if err := b.writeArtifacts(req, reg, touched, commitHash); err != nil {
		return err
	}

	if err := cache.Persist(); err != nil {
		logging.Get(logging.CategoryBuild).Warn("failed to persist module cache: %v", err)
	}
	mon.Publish(OpDone, 0, 0, "build complete")
	logging.Build("Build of %s at %s complete", req.Modpath, req.Version)
	return nil
}

// checkRootDeclarations loads the repo root module and reads its deps and
// changelog declarations into the build.
func (b *Builder) checkRootDeclarations(r *repo.Repo, mii *index.ModuleIndexInfo) (map[string]string, error) {
	deps := map[string]string{}
	fsPath, ok := libpath.FSPathForModule(b.cfg.Library.Root, r.Libpath)
	if !ok {
		// A repo without a root module declares nothing.
		return deps, nil
	}
	text, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, perr.Wrap(perr.RepoError, err, "failed to read root module of %s", r.Libpath)
	}
	tree, err := pfsc.Parse(string(text))
	if err != nil {
		return nil, err
	}
	m, err := lang.NewModule(r.Libpath, tree, mii.Version)
	if err != nil {
		return nil, err
	}
	if v := m.Assignments["deps"]; v != nil {
		if v.Kind != pfsc.MapValue {
			return nil, perr.New(perr.MalformedJSON, "deps declaration of %s must be an object", r.Libpath)
		}
		for _, repoKey := range v.Keys {
			depVers := v.Map[repoKey]
			if depVers.Kind != pfsc.StrValue {
				return nil, perr.New(perr.MalformedJSON,
					"deps[%q] of %s must be a version string", repoKey, r.Libpath)
			}
			deps[repoKey] = depVers.Str
		}
	}
	if v := m.Assignments["changelog"]; v != nil {
		cl, err := index.ParseChangeLog(v)
		if err != nil {
			return nil, err
		}
		if err := mii.SetChangeLog(cl); err != nil {
			return nil, err
		}
	}
	return deps, nil
}

// readingPhase walks the repository (and its dependencies), parsing each
// module. Returns the modpaths touched by this build, sorted.
func (b *Builder) readingPhase(ctx context.Context, r *repo.Repo, req Request, reg *registry, cache *ModuleCache, deps map[string]string) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryBuild, "readingPhase")
	defer timer.Stop()

	if err := b.readRepo(ctx, r, req.Version, reg, cache); err != nil {
		return nil, err
	}

	// Dependencies are read at their pinned versions so imports resolve.
	depRepos := make([]string, 0, len(deps))
	for depRepo := range deps {
		depRepos = append(depRepos, depRepo)
	}
	sort.Strings(depRepos)
	for _, depRepo := range depRepos {
		depLp, err := libpath.Parse(depRepo)
		if err != nil {
			return nil, err
		}
		depVers, err := version.Parse(deps[depRepo])
		if err != nil {
			return nil, err
		}
		dr, err := repo.Open(b.cfg.Library.Root, depLp)
		if err != nil {
			return nil, err
		}
		if err := dr.Checkout(depVers); err != nil {
			return nil, err
		}
		depCache := OpenModuleCache(b.cfg.Build.CacheDir, depRepo, depVers.String(), req.Caching)
		if err := b.readRepo(ctx, dr, depVers, reg, depCache); err != nil {
			return nil, err
		}
	}

	// Touched modules: everything under the requested modpath (everything in
	// the repo for a whole-repo build), or just the one module.
	var touched []string
	reg.mu.Lock()
	for modpath, m := range reg.modules {
		if m.Repopath.String() != r.Libpath.String() {
			continue
		}
		lp := m.Libpath
		if req.Recursive {
			if lp.DescendsFromOrIs(req.Modpath) {
				touched = append(touched, modpath)
			}
		} else if modpath == req.Modpath.String() {
			touched = append(touched, modpath)
		}
	}
	reg.mu.Unlock()
	if len(touched) == 0 {
		return nil, perr.New(perr.ModuleHasNoContents, "no modules found under %s", req.Modpath)
	}
	sort.Strings(touched)
	return touched, nil
}

// readRepo parses every module of one repository into the registry, using a
// bounded worker pool.
func (b *Builder) readRepo(ctx context.Context, r *repo.Repo, ver version.Version, reg *registry, cache *ModuleCache) error {
	type job struct {
		modpath libpath.Libpath
		fsPath  string
	}
	var jobs []job
	err := r.WalkModules(b.cfg.Build.SkipNames, func(modpath libpath.Libpath, fsPath string) error {
		jobs = append(jobs, job{modpath, fsPath})
		return nil
	})
	if err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Build.Workers)
	var cacheMu sync.Mutex
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			text, err := os.ReadFile(j.fsPath)
			if err != nil {
				return perr.Wrap(perr.RepoError, err, "failed to read %s", j.fsPath)
			}
			cacheMu.Lock()
			tree := cache.Get(j.modpath.String(), text)
			cacheMu.Unlock()
			if tree == nil {
				tree, err = pfsc.Parse(string(text))
				if err != nil {
					return perr.Wrap(perr.ParsingError, err, "in module %s", j.modpath)
				}
				cacheMu.Lock()
				cache.Put(j.modpath.String(), text, tree)
				cacheMu.Unlock()
			}
			m, err := lang.NewModule(j.modpath, tree, ver)
			if err != nil {
				return err
			}
			reg.put(m)
			return nil
		})
	}
	return g.Wait()
}

// injectOrigins computes and records origins on every entity of the touched
// modules.
func (b *Builder) injectOrigins(reg *registry, touched []string, mii *index.ModuleIndexInfo, prevOrigins map[string]string) {
	var newPaths []string
	for _, modpath := range touched {
		reg.GetModule(modpath).RecursiveItemVisit(func(e lang.Entity) bool {
			switch e.(type) {
			case *lang.Module, *lang.GhostNode:
			default:
				newPaths = append(newPaths, e.GetLibpath().String())
			}
			return true
		})
	}
	origins := index.ComputeOrigins(newPaths, prevOrigins, mii.MMClosure, mii.Major())
	for _, modpath := range touched {
		lang.InjectOrigins(reg.GetModule(modpath), origins)
	}
}

// previousVersion finds the latest numbered release before the build, for
// diffing. Returns ("", nil, nil) when there is none.
func (b *Builder) previousVersion(repopath string, building version.Version) (string, *version.Version, error) {
	infos, err := b.graph.GetVersionsIndexed(repopath, false)
	if err != nil {
		return "", nil, err
	}
	var prev *version.Version
	for i := range infos {
		v := infos[i].Version
		if building.IsWIP || v.Compare(building) < 0 {
			prev = &v
		}
	}
	if prev == nil {
		return "", nil, nil
	}
	return prev.MajorString(), prev, nil
}

// writeArtifacts clears old build products for the touched modules, then
// writes module source, dashgraphs, notespages, and the manifest.
func (b *Builder) writeArtifacts(req Request, reg *registry, touched []string, commitHash string) error {
	fullVersion := req.Version.String()
	repopath := ""
	for _, modpath := range touched {
		m := reg.GetModule(modpath)
		repopath = m.Repopath.String()
		if err := b.artifacts.DeleteBuildsUnderModule(modpath, fullVersion); err != nil {
			return err
		}
		if err := b.artifacts.RecordModuleSource(modpath, fullVersion, []byte(m.Tree.SourceText)); err != nil {
			return err
		}
		trusted := b.cfg.IsTrusted(m.Repopath.String())
		policy := freestrings.UntrustedPolicy
		if trusted {
			policy = freestrings.TrustedPolicy
		}
		for _, d := range m.Deductions() {
			dg := lang.BuildDashgraph(d, fullVersion)
			data, err := json.Marshal(dg)
			if err != nil {
				return perr.Wrap(perr.RepoError, err, "failed to serialize dashgraph of %s", d.GetLibpath())
			}
			if err := b.artifacts.RecordDashgraph(d.GetLibpath().String(), fullVersion, data); err != nil {
				return err
			}
		}
		for _, a := range m.Annotations() {
			html, annoData, err := lang.BuildAnnotation(a, fullVersion, policy)
			if err != nil {
				return err
			}
			dataJSON, err := json.Marshal(annoData)
			if err != nil {
				return perr.Wrap(perr.RepoError, err, "failed to serialize annotation data of %s", a.GetLibpath())
			}
			if err := b.artifacts.RecordAnnobuild(a.GetLibpath().String(), fullVersion, []byte(html), dataJSON); err != nil {
				return err
			}
		}
	}
	return b.writeManifest(req, reg, touched, repopath, commitHash)
}

// writeManifest builds the manifest for this build's subtree and merges it
// into any existing manifest when the build was partial.
func (b *Builder) writeManifest(req Request, reg *registry, touched []string, repopath, commitHash string) error {
	fullVersion := req.Version.String()
	fresh := buildManifest(reg, touched, repopath)
	fresh.SetBuildInfo(req.Modpath.String(), manifestBuildInfo(fullVersion, commitHash))

	final := fresh
	if req.Modpath.String() != repopath {
		if existing, err := b.artifacts.LoadRepoManifest(repopath, fullVersion); err == nil {
			prior, err := manifest.FromJSON(existing)
			if err != nil {
				return err
			}
			if err := prior.Merge(fresh); err != nil {
				return err
			}
			final = prior
		}
	}
	data, err := final.ToJSON()
	if err != nil {
		return perr.Wrap(perr.RepoError, err, "failed to serialize manifest of %s", repopath)
	}
	return b.artifacts.RecordRepoManifest(repopath, fullVersion, data)
}

func manifestBuildInfo(fullVersion, commitHash string) manifest.BuildInfo {
	return manifest.BuildInfo{
		Version: fullVersion,
		Commit:  commitHash,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
}
