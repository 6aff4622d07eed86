// Package index defines the versioned property-graph data model and the
// write protocol that turns a build outcome into a consistent multi-version
// view: kNodes and kRelns, the ModuleIndexInfo gathered per build, the
// ISOLATED/DIFFERENTIAL diff, and the release guards.
package index

import (
	"fmt"

	"proofmesh/internal/version"
)

// Label labels a kNode.
type Label string

const (
	LabelDeduc      Label = "DEDUC"
	LabelNode       Label = "NODE"
	LabelGhost      Label = "GHOST"
	LabelSpecial    Label = "SPECIAL"
	LabelAnno       Label = "ANNO"
	LabelWidget     Label = "WIDGET"
	LabelDefn       Label = "DEFN"
	LabelAsgn       Label = "ASGN"
	LabelModule     Label = "MODULE"
	LabelVersion    Label = "VERSION"
	LabelUser       Label = "USER"
	LabelVoid       Label = "VOID"
	LabelModSrc     Label = "MOD_SRC"
	LabelDeducBuild Label = "DEDUC_BUILD"
	LabelAnnoBuild  Label = "ANNO_BUILD"
)

// RelnType labels a kReln.
type RelnType string

const (
	RelnUnder     RelnType = "UNDER"
	RelnExpands   RelnType = "EXPANDS"
	RelnImplies   RelnType = "IMPLIES"
	RelnTargets   RelnType = "TARGETS"
	RelnRetargets RelnType = "RETARGETS"
	RelnMove      RelnType = "MOVE"
	RelnGhostOf   RelnType = "GHOSTOF"
	RelnCF        RelnType = "CF"
	RelnBuild     RelnType = "BUILD"
	RelnNotes     RelnType = "NOTES"
)

// VoidLibpath is the libpath of the VOID singleton, the target of MOVE edges
// recording deletions.
const VoidLibpath = ".VOID"

// KNode is a labelled vertex identified by (libpath, major). The half-open
// interval [Major, Cut) gives the major-version range in which the entity is
// live; an empty Cut means "still live at infinity".
type KNode struct {
	Label    Label
	Libpath  string
	Major    string
	Cut      string
	Modpath  string
	Repopath string
	Origin   string
}

// UID identifies the node within one major version's view.
func (n *KNode) UID() string {
	return string(n.Label) + ":" + n.Libpath
}

func (n *KNode) String() string {
	return fmt.Sprintf("(%s %s@%s)", n.Label, n.Libpath, n.Major)
}

// KReln is a labelled edge. Its uid is (type, tail uid, head uid).
type KReln struct {
	Type RelnType
	// Tail and Head are the endpoint libpaths.
	TailLibpath string
	HeadLibpath string
	// TailMajor and HeadMajor pin the endpoints; usually both equal Major,
	// but MOVE edges join different majors.
	TailMajor string
	HeadMajor string
	Major     string
	Cut       string
	Modpath   string
	Repopath  string
	// Segment carries the child segment on UNDER edges.
	Segment string
	// TakenAt carries the major at which an EXPANDS edge was taken.
	TakenAt string
	// State and Notes carry the payload of NOTES edges.
	State string
	Notes string
}

// UID identifies the reln within one major version's view.
func (r *KReln) UID() string {
	return string(r.Type) + ":" + r.TailLibpath + ":" + r.HeadLibpath
}

func (r *KReln) String() string {
	return fmt.Sprintf("[%s %s -> %s @%s]", r.Type, r.TailLibpath, r.HeadLibpath, r.Major)
}

// CutIsValid checks the index invariant cut > major for a stored interval.
func CutIsValid(major, cut string) bool {
	if cut == "" {
		return true
	}
	m, err := version.MajorOf(major)
	if err != nil {
		return false
	}
	c, err := version.MajorOf(cut)
	if err != nil {
		return false
	}
	return c > m
}
