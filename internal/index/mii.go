package index

import (
	"sort"
	"strings"

	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// IndexingMode distinguishes the two write strategies.
type IndexingMode int

const (
	// Isolated mode drops all existing WIP entities under the touched
	// modules, then writes the new set. Used for every WIP build.
	Isolated IndexingMode = iota
	// Differential mode closes the live intervals of entities that vanished
	// and adds those that appeared, against the previous major. Used for
	// numbered releases.
	Differential
)

// ExistingReader is the slice of the graph reader the diff needs.
type ExistingReader interface {
	// GetExistingObjects returns the kNodes and kRelns under a modpath whose
	// live interval covers the given major.
	GetExistingObjects(modpath string, major string, recursive bool) ([]*KNode, []*KReln, error)
	// GetOrigins resolves origins for the given libpaths at a major.
	GetOrigins(libpathsByLabel map[Label][]string, major string) (map[string]string, error)
}

// ModuleIndexInfo gathers everything the graph writer needs to index one
// build.
type ModuleIndexInfo struct {
	Repopath   string
	Version    version.Version
	CommitHash string
	Recursive  bool
	ChangeLog  *ChangeLog

	// VAdd and EAdd are the entities to write at this build's major.
	VAdd []*KNode
	EAdd []*KReln
	// VCut and ECut are uids of existing entities whose live interval must
	// be closed at this major.
	VCut []string
	ECut []string

	// MoveMapping holds the explicit moves from the change log, ancestors
	// resolved against the previous version. Empty destination means VOID.
	MoveMapping map[string]string
	// MMClosure maps every moved libpath (descendants included) to its
	// destination, for origin inheritance.
	MMClosure map[string]string

	// modpaths of all modules touched by this build.
	modpaths map[string]bool

	// Monitor receives phase progress, when set.
	Monitor Monitor
}

// Monitor receives build progress events.
type Monitor interface {
	Publish(opCode int, current, max int, message string)
}

// NewModuleIndexInfo starts gathering index info for a build.
func NewModuleIndexInfo(repopath string, ver version.Version, recursive bool) *ModuleIndexInfo {
	return &ModuleIndexInfo{
		Repopath:    repopath,
		Version:     ver,
		Recursive:   recursive,
		MoveMapping: map[string]string{},
		MMClosure:   map[string]string{},
		modpaths:    map[string]bool{},
	}
}

// Mode returns the indexing mode for this build.
func (mii *ModuleIndexInfo) Mode() IndexingMode {
	if mii.Version.IsWIP {
		return Isolated
	}
	return Differential
}

// IsWIP reports whether this is a WIP build.
func (mii *ModuleIndexInfo) IsWIP() bool {
	return mii.Version.IsWIP
}

// Major returns the stored major for this build.
func (mii *ModuleIndexInfo) Major() string {
	return mii.Version.MajorString()
}

// NoteModule records that a module is touched by this build.
func (mii *ModuleIndexInfo) NoteModule(modpath string) {
	mii.modpaths[modpath] = true
}

// AllModpathsWithChanges returns the touched modpaths, sorted.
func (mii *ModuleIndexInfo) AllModpathsWithChanges() []string {
	out := make([]string, 0, len(mii.modpaths))
	for mp := range mii.modpaths {
		out = append(out, mp)
	}
	sort.Strings(out)
	return out
}

// AddNode queues a kNode for writing.
func (mii *ModuleIndexInfo) AddNode(n *KNode) {
	mii.VAdd = append(mii.VAdd, n)
}

// AddReln queues a kReln for writing.
func (mii *ModuleIndexInfo) AddReln(r *KReln) {
	mii.EAdd = append(mii.EAdd, r)
}

// Publish forwards a progress event to the monitor, when one is set.
func (mii *ModuleIndexInfo) Publish(opCode, current, max int, message string) {
	if mii.Monitor != nil {
		mii.Monitor.Publish(opCode, current, max, message)
	}
}

// SetChangeLog records the change log and copies its moves into the explicit
// move mapping. The descendant closure is filled in by ComputeMoveClosure.
func (mii *ModuleIndexInfo) SetChangeLog(cl *ChangeLog) error {
	if cl == nil {
		cl = &ChangeLog{Moved: map[string]string{}}
	}
	if err := cl.Validate(); err != nil {
		return err
	}
	mii.ChangeLog = cl
	for _, src := range cl.MovedPaths() {
		mii.MoveMapping[src] = cl.Moved[src]
	}
	return nil
}

// ComputeMoveClosure extends the move mapping to descendants: the
// move-conjugate of X.a.b where X moved to Y is Y.a.b, or VOID when X was
// deleted. previousPaths lists every libpath indexed at the previous major.
func (mii *ModuleIndexInfo) ComputeMoveClosure(previousPaths []string) {
	for src, dst := range mii.MoveMapping {
		mii.MMClosure[src] = dst
		for _, lp := range previousPaths {
			if descendsFromStr(lp, src) {
				if dst == "" {
					mii.MMClosure[lp] = ""
				} else {
					mii.MMClosure[lp] = dst + lp[len(src):]
				}
			}
		}
	}
}

// MoveConjugate returns the destination recorded in the closure for a
// libpath: (dst, true) when the path moved (dst=="" for deletion), or
// ("", false) when it did not move.
func (mii *ModuleIndexInfo) MoveConjugate(libpath string) (string, bool) {
	dst, ok := mii.MMClosure[libpath]
	return dst, ok
}

// ComputeDiff finalizes VAdd/EAdd/VCut/ECut against the previous state.
//
// In ISOLATED mode (WIP) there is nothing to compute: the writer drops all
// WIP entities under the touched modules and writes the gathered set.
//
// In DIFFERENTIAL mode (numbered releases), load all existing kNodes and
// kRelns under the touched modules at the previous major and compute the
// symmetric difference keyed by uid: present in old only -> cut at the new
// major; present in new only -> add at the new major; present in both -> no
// change.
func (mii *ModuleIndexInfo) ComputeDiff(reader ExistingReader, prevMajor string) error {
	if mii.Mode() == Isolated {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryIndex, "ComputeDiff")
	defer timer.Stop()

	oldNodes := map[string]*KNode{}
	oldRelns := map[string]*KReln{}
	// A recursive whole-repo release reads once from the repo root.
	roots := mii.AllModpathsWithChanges()
	if mii.Recursive {
		roots = []string{mii.Repopath}
	}
	for _, root := range roots {
		ns, rs, err := reader.GetExistingObjects(root, prevMajor, true)
		if err != nil {
			return err
		}
		for _, n := range ns {
			oldNodes[n.UID()] = n
		}
		for _, r := range rs {
			oldRelns[r.UID()] = r
		}
	}

	newMajor := mii.Major()
	var keepV []*KNode
	for _, n := range mii.VAdd {
		if _, ok := oldNodes[n.UID()]; ok {
			delete(oldNodes, n.UID())
			continue // present in both: no change
		}
		keepV = append(keepV, n)
	}
	mii.VAdd = keepV
	var keepE []*KReln
	for _, r := range mii.EAdd {
		if _, ok := oldRelns[r.UID()]; ok {
			delete(oldRelns, r.UID())
			continue
		}
		keepE = append(keepE, r)
	}
	mii.EAdd = keepE

	// Present in old only: close the live interval at the new major.
	for uid := range oldNodes {
		mii.VCut = append(mii.VCut, uid)
	}
	for uid := range oldRelns {
		mii.ECut = append(mii.ECut, uid)
	}
	sort.Strings(mii.VCut)
	sort.Strings(mii.ECut)

	logging.IndexDebug("Diff for %s@%s: +%dV +%dE -%dV -%dE",
		mii.Repopath, newMajor, len(mii.VAdd), len(mii.EAdd), len(mii.VCut), len(mii.ECut))
	return nil
}

// ReleaseGuards enforces the release-build preconditions that can be checked
// from the gathered info alone (the writer checks reindexing separately):
//
//   - a release build must cover the whole repo recursively;
//   - a major increment must carry a change log, unless coming from major 0;
//   - a release may not import any dependency at WIP;
//   - a stored commit hash must match the checked-out hash when present.
func (mii *ModuleIndexInfo) ReleaseGuards(prev *version.Version, deps map[string]string, expectedHash string) error {
	if mii.IsWIP() {
		return nil
	}
	if !mii.Recursive {
		return perr.New(perr.AttemptedReleaseBuildOnSubRepo,
			"release builds must target the whole repo %s recursively", mii.Repopath)
	}
	if prev != nil && !prev.IsWIP {
		inc := mii.Version.MajorIncrementFrom(*prev)
		if inc > 0 && !prev.IsMajorZero() && mii.ChangeLog == nil {
			return perr.New(perr.MissingRepoChangeLog,
				"major version increment from %s to %s requires a change log",
				prev, mii.Version)
		}
	}
	for repo, vers := range deps {
		if vers == version.WIPTag {
			return perr.New(perr.NoWipImportsInNumberedReleases,
				"release build of %s imports %s at WIP", mii.Repopath, repo)
		}
	}
	if expectedHash != "" && mii.CommitHash != "" &&
		!strings.HasPrefix(mii.CommitHash, expectedHash) && !strings.HasPrefix(expectedHash, mii.CommitHash) {
		return perr.New(perr.BadHash,
			"checked-out commit %s does not match expected %s", mii.CommitHash, expectedHash)
	}
	return nil
}
