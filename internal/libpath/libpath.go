// Package libpath implements dotted hierarchical identifiers for proofmesh.
//
// A libpath is an ordered sequence of non-empty alphanumeric-underscore
// segments, dot-joined. The first three segments (host.user.repo) identify a
// repository; longer paths address modules, deductions, nodes, annotations,
// and widgets. Libpaths are case-sensitive.
package libpath

import (
	"fmt"
	"strings"

	"proofmesh/internal/perr"
)

const (
	// MaxLength is the maximum total length of a libpath.
	MaxLength = 192
	// MaxSegmentLength is the maximum length of a single segment.
	MaxSegmentLength = 48
	// RepoSegments is the number of leading segments identifying a repository.
	RepoSegments = 3
)

// reservedSegments may not be used as libpath segments, since they would
// collide with JSON literals when a libpath appears as a value.
var reservedSegments = map[string]bool{
	"true": true, "false": true, "null": true,
}

// Libpath is a validated dotted path.
type Libpath struct {
	s string
}

// Parse validates a dotted path. User-supplied segments may not begin with an
// underscore; internal callers that need underscore names (e.g. the "__"
// directory module) use ParseTrusted.
func Parse(s string) (Libpath, error) {
	return parse(s, false)
}

// ParseTrusted validates a dotted path, permitting underscore-prefixed
// segments such as the "__" directory-module name.
func ParseTrusted(s string) (Libpath, error) {
	return parse(s, true)
}

func parse(s string, trusted bool) (Libpath, error) {
	if s == "" {
		return Libpath{}, perr.New(perr.BadLibpath, "empty libpath")
	}
	if len(s) > MaxLength {
		return Libpath{}, perr.New(perr.BadLibpath, "libpath exceeds %d chars", MaxLength)
	}
	for _, seg := range strings.Split(s, ".") {
		if err := checkSegment(seg, trusted); err != nil {
			return Libpath{}, err
		}
	}
	return Libpath{s}, nil
}

func checkSegment(seg string, trusted bool) error {
	if seg == "" {
		return perr.New(perr.BadLibpath, "empty libpath segment")
	}
	if len(seg) > MaxSegmentLength {
		return perr.New(perr.BadLibpath, "libpath segment %q exceeds %d chars", seg, MaxSegmentLength)
	}
	if reservedSegments[seg] {
		return perr.New(perr.BadLibpath, "libpath segment %q is reserved", seg)
	}
	if !trusted && seg[0] == '_' {
		return perr.New(perr.BadLibpath, "libpath segment %q may not begin with underscore", seg)
	}
	for i, c := range seg {
		ok := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9')
		if !ok {
			return perr.New(perr.BadLibpath, "bad character %q in libpath segment %q", c, seg)
		}
	}
	return nil
}

// String returns the dotted form.
func (p Libpath) String() string {
	return p.s
}

// IsZero reports whether this is the zero Libpath.
func (p Libpath) IsZero() bool {
	return p.s == ""
}

// Segments returns the individual segments.
func (p Libpath) Segments() []string {
	if p.s == "" {
		return nil
	}
	return strings.Split(p.s, ".")
}

// NumSegments returns the segment count.
func (p Libpath) NumSegments() int {
	if p.s == "" {
		return 0
	}
	return strings.Count(p.s, ".") + 1
}

// Parent returns the libpath with the final segment removed. The parent of a
// single-segment path is the zero Libpath.
func (p Libpath) Parent() Libpath {
	i := strings.LastIndexByte(p.s, '.')
	if i < 0 {
		return Libpath{}
	}
	return Libpath{p.s[:i]}
}

// LastSegment returns the final segment.
func (p Libpath) LastSegment() string {
	i := strings.LastIndexByte(p.s, '.')
	return p.s[i+1:]
}

// Child returns this path extended by one segment. The segment is assumed
// already validated.
func (p Libpath) Child(seg string) Libpath {
	if p.s == "" {
		return Libpath{seg}
	}
	return Libpath{p.s + "." + seg}
}

// DescendsFrom reports whether q is a proper prefix of p at a segment
// boundary.
func (p Libpath) DescendsFrom(q Libpath) bool {
	if len(p.s) <= len(q.s) {
		return false
	}
	return strings.HasPrefix(p.s, q.s) && p.s[len(q.s)] == '.'
}

// DescendsFromOrIs reports DescendsFrom or equality.
func (p Libpath) DescendsFromOrIs(q Libpath) bool {
	return p.s == q.s || p.DescendsFrom(q)
}

// Repopath returns the three-segment repository prefix, or an error if the
// path is shorter than a repopath.
func (p Libpath) Repopath() (Libpath, error) {
	segs := p.Segments()
	if len(segs) < RepoSegments {
		return Libpath{}, perr.New(perr.BadLibpath, "libpath %q is shorter than a repopath", p.s)
	}
	return Libpath{strings.Join(segs[:RepoSegments], ".")}, nil
}

// WithinRepo returns the segments after the repopath.
func (p Libpath) WithinRepo() []string {
	segs := p.Segments()
	if len(segs) <= RepoSegments {
		return nil
	}
	return segs[RepoSegments:]
}

// IsRepo reports whether this is exactly a repopath.
func (p Libpath) IsRepo() bool {
	return p.NumSegments() == RepoSegments
}

// RelativeTo returns the segments of p below ancestor q. Error if p does not
// descend from q.
func (p Libpath) RelativeTo(q Libpath) ([]string, error) {
	if !p.DescendsFrom(q) {
		return nil, perr.New(perr.BadLibpath, "%q does not descend from %q", p.s, q.s)
	}
	return strings.Split(p.s[len(q.s)+1:], "."), nil
}

// Join appends further segments, validating each.
func (p Libpath) Join(segs ...string) (Libpath, error) {
	out := p
	for _, seg := range segs {
		if err := checkSegment(seg, true); err != nil {
			return Libpath{}, err
		}
		out = out.Child(seg)
	}
	return out, nil
}

// MustParse is for literals in tests and internal constants.
func MustParse(s string) Libpath {
	p, err := ParseTrusted(s)
	if err != nil {
		panic(fmt.Sprintf("libpath.MustParse(%q): %v", s, err))
	}
	return p
}
