package libpath

import (
	"strings"

	"proofmesh/internal/perr"
)

// ExpandMultipath expands the compact brace notation "a.b.{c,d.{e,f}}" into
// the list of libpaths it denotes, in document order. A multipath with no
// braces expands to itself.
func ExpandMultipath(s string) ([]string, error) {
	if s == "" {
		return nil, perr.New(perr.BadLibpath, "empty multipath")
	}
	paths, rest, err := expand(s)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, perr.New(perr.BadLibpath, "unexpected %q after multipath", rest)
	}
	return paths, nil
}

// expand consumes one alternative (a dotted sequence of segments and brace
// groups) from the front of s, returning the expansions and the unconsumed
// remainder, which begins with ',' or '}' or is empty.
func expand(s string) ([]string, string, error) {
	prefixes := []string{""}
	for {
		if strings.HasPrefix(s, "{") {
			group, rest, err := expandGroup(s)
			if err != nil {
				return nil, "", err
			}
			prefixes = cross(prefixes, group)
			s = rest
		} else {
			i := strings.IndexAny(s, ".,{}")
			seg := s
			if i >= 0 {
				seg = s[:i]
			}
			if seg == "" {
				return nil, "", perr.New(perr.BadLibpath, "empty segment in multipath")
			}
			prefixes = cross(prefixes, []string{seg})
			if i < 0 {
				return prefixes, "", nil
			}
			s = s[i:]
		}
		switch {
		case s == "" || s[0] == ',' || s[0] == '}':
			return prefixes, s, nil
		case s[0] == '.':
			for i := range prefixes {
				prefixes[i] += "."
			}
			s = s[1:]
		case s[0] == '{':
			return nil, "", perr.New(perr.BadLibpath, "brace group must follow a dot in multipath")
		}
	}
}

// expandGroup consumes a "{alt,alt,...}" group.
func expandGroup(s string) ([]string, string, error) {
	s = s[1:] // consume '{'
	var out []string
	for {
		alts, rest, err := expand(s)
		if err != nil {
			return nil, "", err
		}
		out = append(out, alts...)
		if rest == "" {
			return nil, "", perr.New(perr.BadLibpath, "unterminated brace group in multipath")
		}
		switch rest[0] {
		case ',':
			s = rest[1:]
		case '}':
			return out, rest[1:], nil
		}
	}
}

func cross(prefixes, suffixes []string) []string {
	out := make([]string, 0, len(prefixes)*len(suffixes))
	for _, p := range prefixes {
		for _, s := range suffixes {
			out = append(out, p+s)
		}
	}
	return out
}
