package libpath

import (
	"strings"

	"proofmesh/internal/perr"
	"proofmesh/internal/version"
)

// Versioned is a libpath pinned at a full version, the parsed form of
// "host.user.repo@vers.remainder".
type Versioned struct {
	Path    Libpath
	Version version.Version
}

// ParseVersioned parses "host.user.repo@vers" or "host.user.repo@vers.rest".
// The '@' must sit exactly at the end of the third segment; a path with no
// '@' is an error here (callers that accept unversioned paths check first).
func ParseVersioned(s string) (Versioned, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return Versioned{}, perr.New(perr.MalformedVersionedLibpath, "no version tag in %q", s)
	}
	head := s[:at]
	if strings.Count(head, ".") != RepoSegments-1 {
		return Versioned{}, perr.New(perr.MalformedVersionedLibpath,
			"version tag must follow the repo part of the libpath in %q", s)
	}
	rest := s[at+1:]
	var vs, tail string
	if i := strings.IndexByte(rest, '.'); i >= 0 && !isVersionDot(rest, i) {
		vs, tail = rest[:i], rest[i+1:]
	} else {
		// The version itself contains dots (vM.m.p); split after the patch
		// component.
		vs, tail = splitVersionPrefix(rest)
	}
	v, err := version.Parse(vs)
	if err != nil {
		return Versioned{}, perr.Wrap(perr.MalformedVersionedLibpath, err, "bad version in %q", s)
	}
	full := head
	if tail != "" {
		full = head + "." + tail
	}
	p, err := Parse(full)
	if err != nil {
		return Versioned{}, err
	}
	return Versioned{Path: p, Version: v}, nil
}

// isVersionDot reports whether the dot at index i in rest belongs to a
// numbered version prefix rather than separating version from remainder.
func isVersionDot(rest string, i int) bool {
	if !strings.HasPrefix(rest, "v") {
		return false
	}
	// Within "vM.m.p" the first two dots are part of the version.
	dots := strings.Count(rest[:i+1], ".")
	return dots <= 2
}

// splitVersionPrefix splits "vM.m.p.rest" into ("vM.m.p", "rest"), or
// ("WIP", "") style inputs where the whole string is the version.
func splitVersionPrefix(rest string) (string, string) {
	if rest == version.WIPTag || !strings.HasPrefix(rest, "v") {
		return rest, ""
	}
	dots := 0
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			dots++
			if dots == 3 {
				return rest[:i], rest[i+1:]
			}
		}
	}
	return rest, ""
}

// String renders "repopart@vers.rest".
func (vp Versioned) String() string {
	segs := vp.Path.Segments()
	repo := strings.Join(segs[:min(len(segs), RepoSegments)], ".")
	out := repo + "@" + vp.Version.String()
	if len(segs) > RepoSegments {
		out += "." + strings.Join(segs[RepoSegments:], ".")
	}
	return out
}
