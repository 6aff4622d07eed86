// Package version implements the version algebra for proofmesh repositories.
// A version is either the mutable work-in-progress head, spelled "WIP", or a
// numbered release "vM.m.p". Numbered components are zero-padded when stored
// in the index's version records so that lexicographic order agrees with
// numeric order.
package version

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"proofmesh/internal/perr"
)

// WIPTag is the sentinel spelling of the work-in-progress head.
const WIPTag = "WIP"

// WIPMajor is the value stored in a kNode/kReln major property for WIP
// entities. Numbered majors are stored there as plain decimal strings (see
// MajorString).
const WIPMajor = WIPTag

// padWidth is the fixed zero-pad width for each numbered component when a
// version is rendered for index storage.
const padWidth = 5

// Infinity is the sentinel cut value meaning "still live".
const Infinity = math.MaxInt32

// Version is either WIP or a (major, minor, patch) triple.
type Version struct {
	IsWIP bool
	Major int
	Minor int
	Patch int
}

// WIP returns the WIP version value.
func WIP() Version {
	return Version{IsWIP: true}
}

// New returns a numbered version.
func New(major, minor, patch int) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Parse reads "WIP" or "vM.m.p".
func Parse(s string) (Version, error) {
	if s == WIPTag {
		return WIP(), nil
	}
	if !strings.HasPrefix(s, "v") {
		return Version{}, perr.New(perr.BadVersion, "malformed version string %q", s)
	}
	parts := strings.Split(s[1:], ".")
	if len(parts) != 3 {
		return Version{}, perr.New(perr.BadVersion, "malformed version string %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || (len(p) > 1 && p[0] == '0') {
			return Version{}, perr.New(perr.BadVersion, "malformed version string %q", s)
		}
		nums[i] = n
	}
	return New(nums[0], nums[1], nums[2]), nil
}

// String renders "WIP" or "vM.m.p".
func (v Version) String() string {
	if v.IsWIP {
		return WIPTag
	}
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Padded renders the version with zero-padded components, for index storage,
// so that lexicographic order over numbered versions agrees with numeric
// order. WIP renders as the WIPTag itself and is ordered specially by readers.
func (v Version) Padded() string {
	if v.IsWIP {
		return WIPTag
	}
	return fmt.Sprintf("v%0*d.%0*d.%0*d", padWidth, v.Major, padWidth, v.Minor, padWidth, v.Patch)
}

// MajorString returns the major component as stored on index entries: the
// WIP tag for WIP, otherwise the decimal major.
func (v Version) MajorString() string {
	if v.IsWIP {
		return WIPMajor
	}
	return strconv.Itoa(v.Major)
}

// IsMajorZero reports whether this is a numbered version with major 0.
func (v Version) IsMajorZero() bool {
	return !v.IsWIP && v.Major == 0
}

// Compare orders versions. WIP sorts after every numbered version.
func (v Version) Compare(w Version) int {
	if v.IsWIP || w.IsWIP {
		switch {
		case v.IsWIP && w.IsWIP:
			return 0
		case v.IsWIP:
			return 1
		default:
			return -1
		}
	}
	for _, d := range [3]int{v.Major - w.Major, v.Minor - w.Minor, v.Patch - w.Patch} {
		if d != 0 {
			if d < 0 {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equals reports equality of versions.
func (v Version) Equals(w Version) bool {
	return v.Compare(w) == 0
}

// MajorIncrementFrom reports the change in major version from a previous
// release to this one. A WIP version never increments.
func (v Version) MajorIncrementFrom(prev Version) int {
	if v.IsWIP || prev.IsWIP {
		return 0
	}
	return v.Major - prev.Major
}

// ParsePadded reverses Padded.
func ParsePadded(s string) (Version, error) {
	if s == WIPTag {
		return WIP(), nil
	}
	if !strings.HasPrefix(s, "v") {
		return Version{}, perr.New(perr.BadVersion, "malformed padded version %q", s)
	}
	parts := strings.Split(s[1:], ".")
	if len(parts) != 3 {
		return Version{}, perr.New(perr.BadVersion, "malformed padded version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, perr.New(perr.BadVersion, "malformed padded version %q", s)
		}
		nums[i] = n
	}
	return New(nums[0], nums[1], nums[2]), nil
}

// MajorOf parses a stored major property ("WIP" or decimal) into an integer,
// mapping WIP to Infinity so that numeric comparisons put it last.
func MajorOf(s string) (int, error) {
	if s == WIPMajor {
		return Infinity, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, perr.New(perr.BadVersion, "malformed major %q", s)
	}
	return n, nil
}
