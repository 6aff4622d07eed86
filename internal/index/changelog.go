package index

import (
	"sort"

	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/perr"
)

// ChangeLog is the declaration attached to a repo's root module naming paths
// moved or removed since the previous major version.
type ChangeLog struct {
	// Moved maps old libpaths to new libpaths; an empty destination records
	// a deletion.
	Moved map[string]string
	// order preserves declaration order for deterministic processing.
	order []string
}

// MovedPaths returns the moved source paths in declaration order. A change
// log assembled programmatically (rather than parsed) falls back to sorted
// key order.
func (c *ChangeLog) MovedPaths() []string {
	if len(c.order) == len(c.Moved) {
		return c.order
	}
	keys := make([]string, 0, len(c.Moved))
	for k := range c.Moved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseChangeLog reads a change log from the root module's `changelog`
// assignment value:
//
//	changelog = {
//	    moved: {
//	        "old.path": "new.path",
//	        "gone.path": null,
//	    }
//	}
func ParseChangeLog(v *pfsc.Value) (*ChangeLog, error) {
	cl := &ChangeLog{Moved: map[string]string{}}
	if v == nil {
		return cl, nil
	}
	if v.Kind != pfsc.MapValue {
		return nil, perr.New(perr.InvalidMoveMapping, "changelog must be an object")
	}
	moved := v.Get("moved")
	if moved == nil {
		return cl, nil
	}
	if moved.Kind != pfsc.MapValue {
		return nil, perr.New(perr.InvalidMoveMapping, "changelog.moved must be an object")
	}
	for _, src := range moved.Keys {
		dstVal := moved.Map[src]
		switch dstVal.Kind {
		case pfsc.NullValue:
			cl.Moved[src] = ""
		case pfsc.StrValue:
			cl.Moved[src] = dstVal.Str
		case pfsc.LibpathValue:
			cl.Moved[src] = dstVal.Path
		default:
			return nil, perr.New(perr.InvalidMoveMapping,
				"changelog.moved[%q] must be a libpath or null", src)
		}
		cl.order = append(cl.order, src)
	}
	return cl, nil
}

// Validate checks the move mapping for overlaps: no source may be an
// ancestor of another source, since the closure would then be ambiguous.
func (c *ChangeLog) Validate() error {
	paths := c.MovedPaths()
	for _, a := range paths {
		for _, b := range paths {
			if a != b && descendsFromStr(a, b) {
				return perr.New(perr.InvalidMoveMapping,
					"moved path %q lies under moved path %q", a, b)
			}
		}
	}
	return nil
}

func descendsFromStr(p, q string) bool {
	return len(p) > len(q) && p[:len(q)] == q && p[len(q)] == '.'
}
