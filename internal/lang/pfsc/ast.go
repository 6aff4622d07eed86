package pfsc

// ModuleTree is the parse result for one module: a flat sequence of top-level
// items in document order. Nothing here is resolved.
type ModuleTree struct {
	Imports    []*ImportDecl
	Items      []Item
	SourceText string
}

// Item is a top-level or deduction-body item.
type Item interface {
	ItemPos() Pos
}

// ImportDecl covers both plain and from-imports.
//
//	import a.b.c [as x]        => FromPath="", PlainPath="a.b.c"
//	from a.b import X [as y]   => FromPath="a.b", Names=[{X,y}]
//	from . import X            => FromPath=".", relative
type ImportDecl struct {
	Pos Pos
	// PlainPath is set for `import LP [as N]`.
	PlainPath string
	// LocalName is the `as` name for a plain import.
	LocalName string
	// FromPath is set for `from LP import ...`; may be "."-relative.
	FromPath string
	// Names are the imported names with optional `as` aliases.
	Names []ImportedName
}

// ImportedName is one name in a from-import.
type ImportedName struct {
	Name  string
	Alias string
}

func (d *ImportDecl) ItemPos() Pos { return d.Pos }

// Assignment is `NAME = JSON`.
type Assignment struct {
	Pos   Pos
	Name  string
	Value *Value
}

func (a *Assignment) ItemPos() Pos { return a.Pos }

// DefnDecl is `defn NAME STR STR` (LHS/RHS macro-like binding).
type DefnDecl struct {
	Pos Pos
	Name string
	// LHS and RHS have been through the free-string pipeline.
	LHS string
	RHS string
}

func (d *DefnDecl) ItemPos() Pos { return d.Pos }

// DeducDecl is a deduction or subdeduction declaration.
type DeducDecl struct {
	Pos Pos
	// EndPos is the position of the closing brace.
	EndPos Pos
	Name   string
	// Targets are the `of` libpaths (unresolved).
	Targets []PathRef
	// Rdefs are the `with` (running definition) libpaths.
	Rdefs []PathRef
	// Items are nodes, subdeducs, and assignments, in document order.
	Items []Item
	// SubDeduc marks a `subdeduc` declaration inside another deduction.
	SubDeduc bool
}

func (d *DeducDecl) ItemPos() Pos { return d.Pos }

// NodeDecl is a node declaration inside a deduction.
type NodeDecl struct {
	Pos Pos
	// Type is the node type keyword: asrt, cite, exis, flse, intr, mthd,
	// rels, supp, univ, with.
	Type string
	// Name may begin with '?' (question) or '!' (unconfirmed).
	Name string
	// Versus lists alternate supp nodes (supp only).
	Versus []PathRef
	// Contra lists refuted supp nodes (flse only).
	Contra []PathRef
	// Items are assignments and subnodes.
	Items []Item
}

func (n *NodeDecl) ItemPos() Pos { return n.Pos }

// AnnoDecl is `anno NAME [on LP, ...] @@@ ... @@@`.
type AnnoDecl struct {
	Pos Pos
	Name string
	// Targets are the `on` libpaths.
	Targets []PathRef
	// Text is the raw annotation body (markdown with widget syntax).
	Text string
}

func (a *AnnoDecl) ItemPos() Pos { return a.Pos }

// PathRef is an unresolved libpath reference with its source position.
// A leading "." marks a relative path.
type PathRef struct {
	Pos  Pos
	Path string
}

// ValueKind discriminates the JSON sublanguage sum type.
type ValueKind int

const (
	NullValue ValueKind = iota
	BoolValue
	IntValue
	FloatValue
	StrValue
	ListValue
	MapValue
	// LibpathValue is a bare dotted name appearing where a value is
	// expected; it resolves to an entity later.
	LibpathValue
)

// Value is a JSON sublanguage value. Strings have been through the
// free-string pipeline already.
type Value struct {
	Pos   Pos
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	List  []*Value
	// Map preserves document order via Keys.
	Keys []string
	Map  map[string]*Value
	// Path holds a LibpathValue's dotted path.
	Path string
}

// AsString returns the string form of a Str value, or "" for other kinds.
func (v *Value) AsString() string {
	if v == nil || (v.Kind != StrValue) {
		return ""
	}
	return v.Str
}

// Get returns a map entry, or nil.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != MapValue {
		return nil
	}
	return v.Map[key]
}

// Plain converts the value into ordinary Go data for JSON serialization.
// Libpath values render as their dotted strings.
func (v *Value) Plain() interface{} {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case NullValue:
		return nil
	case BoolValue:
		return v.Bool
	case IntValue:
		return v.Int
	case FloatValue:
		return v.Float
	case StrValue:
		return v.Str
	case LibpathValue:
		return v.Path
	case ListValue:
		out := make([]interface{}, len(v.List))
		for i, item := range v.List {
			out[i] = item.Plain()
		}
		return out
	case MapValue:
		out := make(map[string]interface{}, len(v.Map))
		for _, k := range v.Keys {
			out[k] = v.Map[k].Plain()
		}
		return out
	}
	return nil
}
