// Package gdb defines the abstract graph store contract: the write-side
// protocol that transitions the index from pre-build to post-build state, and
// the read-side queries over the versioned property graph. The sqlitegraph
// subpackage provides the concrete binding.
package gdb

import (
	"proofmesh/internal/index"
	"proofmesh/internal/version"
)

// VersionInfo describes one indexed version of a repo.
type VersionInfo struct {
	Version    version.Version
	CommitHash string
}

// EnrichmentInfo describes one enrichment (deduction or annotation) found on
// a target.
type EnrichmentInfo struct {
	Libpath  string
	Repopath string
	// Versions lists the full versions at which the enrichment is indexed.
	Versions []string
	// Retargeted is set when the enrichment reaches this target via a
	// RETARGETS edge.
	Retargeted bool
}

// Enrichment maps target path -> kind ("Deduc" or "Anno") -> infos.
type Enrichment map[string]map[string][]EnrichmentInfo

// MoveConjugate is the result of a move lookup.
type MoveConjugate struct {
	// Deleted reports a move to VOID.
	Deleted bool
	// Libpath and Major identify the destination kNode when not deleted.
	Libpath string
	Major   string
}

// AncestorLink is one step of a deduction's ancestor chain.
type AncestorLink struct {
	Libpath string
	Major   string
	Cut     string
}

// UserNotes is a user's state and notes on one goal.
type UserNotes struct {
	// Origin identifies the goal invariantly under moves.
	Origin string
	// Goal is the libpath the notes were recorded against.
	Goal  string
	State string // "checked" or "unchecked"
	Notes string
}

// User is a (host.username) identity with its property bag.
type User struct {
	Username string
	Props    map[string]interface{}
}

// Reader is the query side of the graph store. All operations respect the
// live interval: a query for major M returns only entities with
// major <= M < cut.
type Reader interface {
	// GetVersionsIndexed returns the ordered indexed versions of a repo.
	GetVersionsIndexed(repopath string, includeWIP bool) ([]VersionInfo, error)
	// VersionIsAlreadyIndexed reports whether a version has been indexed.
	VersionIsAlreadyIndexed(repopath string, v version.Version) (bool, error)
	// GetExistingObjects returns the kNodes and kRelns under a modpath with
	// live interval covering the major. modpath filters exactly, or as a
	// prefix when recursive.
	GetExistingObjects(modpath string, major string, recursive bool) ([]*index.KNode, []*index.KReln, error)
	// AllLibpathsUnderRepo returns every libpath indexed under a repo at a
	// major.
	AllLibpathsUnderRepo(repopath string, major string) ([]string, error)
	// FindMoveConjugate walks UNDER edges up from a libpath, looks for an
	// outgoing MOVE recorded after the given major, and walks back down.
	// Returns nil when the entity did not move.
	FindMoveConjugate(libpath string, major string) (*MoveConjugate, error)
	// GetAncestorChain returns the chain of deductions from the root down
	// to the given deduction, following EXPANDS edges.
	GetAncestorChain(deducpath string, major string) ([]AncestorLink, error)
	// GetDeductiveNbrs returns the IMPLIES neighbours of the given nodes.
	GetDeductiveNbrs(libpaths []string, major string) ([]string, error)
	// GetDeductionClosure returns the given deductions together with every
	// ancestor reached along their EXPANDS chains.
	GetDeductionClosure(deducpaths []string, major string) ([]string, error)
	// IsDeduc / IsAnno classify a libpath at a major.
	IsDeduc(libpath string, major string) (bool, error)
	IsAnno(libpath string, major string) (bool, error)
	// GetResultsReliedUponBy returns the deducs the given deduction's proof
	// relies upon, following TARGETS edges outward.
	GetResultsReliedUponBy(deducpath string, major string) ([]string, error)
	// GetResultsRelyingUpon returns the deducs whose proofs target the given
	// deduction or its contents.
	GetResultsRelyingUpon(deducpath string, major string) ([]string, error)
	// GetEnrichment returns everything targeting the given libpath or its
	// descendants at a major.
	GetEnrichment(libpath string, major string) (Enrichment, error)
	// GetOrigins resolves origins for libpaths grouped by label.
	GetOrigins(libpathsByLabel map[index.Label][]string, major string) (map[string]string, error)

	// LoadUser returns a user, or nil.
	LoadUser(username string) (*User, error)
	// LoadUserNotes returns notes for the given goal origins; nil origins
	// loads all of the user's notes.
	LoadUserNotes(username string, origins []string) ([]UserNotes, error)
	// LoadUserNotesOnDeduc / OnAnno / OnModule load the notes a user has on
	// goals under the given entity at a major.
	LoadUserNotesOnDeduc(username, deducpath, major string) ([]UserNotes, error)
	LoadUserNotesOnAnno(username, annopath, major string) ([]UserNotes, error)
	LoadUserNotesOnModule(username, modpath, major string) ([]UserNotes, error)

	// CheckApproval reports a widget's display approval at a full version.
	CheckApproval(widgetpath, fullVersion string) (bool, error)

	// Artifact readback.
	LoadDashgraph(deducpath, fullVersion string) ([]byte, error)
	LoadAnnotation(annopath, fullVersion string) (html []byte, data []byte, err error)
	LoadModuleSource(modpath, fullVersion string) ([]byte, error)
	LoadRepoManifest(repopath, fullVersion string) ([]byte, error)
}

// Writer is the write side of the graph store. All operations are
// transactional: a failure leaves the index exactly as it was.
type Writer interface {
	// IndexModule performs the atomic pre-build to post-build transition:
	// phase ix0100 clears WIP indexing for WIP builds; ix0200 applies
	// V_cut/E_cut then V_add/E_add; ix0300 records moves and retargeting;
	// ix0400 records the Version node.
	IndexModule(mii *index.ModuleIndexInfo) error

	// DeleteFullWipBuild deletes everything for a repo at WIP.
	DeleteFullWipBuild(repopath string) error
	// DeleteEverythingUnderRepo deletes all nodes and edges under a repo at
	// all versions.
	DeleteEverythingUnderRepo(repopath string) error

	// Artifact persistence.
	RecordModuleSource(modpath, fullVersion string, text []byte) error
	RecordDashgraph(deducpath, fullVersion string, dgJSON []byte) error
	RecordAnnobuild(annopath, fullVersion string, html, dataJSON []byte) error
	RecordRepoManifest(repopath, fullVersion string, manifestJSON []byte) error
	DeleteBuildsUnderModule(modpath, fullVersion string) error

	// User operations.
	AddUser(username, usertype, email string, orgs []string) (*User, error)
	MergeUser(username, usertype, email string, orgs []string) (*User, bool, error)
	UpdateUser(user *User) error
	DeleteUser(username string, definitelyWantToDeleteThisUser bool) (int, error)
	RecordUserNotes(username string, notes UserNotes) error
	DeleteAllNotesOfOneUser(username string, definitelyWantToDeleteAllNotes bool) error
	SetApproval(widgetpath, fullVersion string, approved bool) error
}
