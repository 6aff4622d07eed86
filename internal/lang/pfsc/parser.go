package pfsc

import (
	"strconv"
	"strings"

	"proofmesh/internal/lang/freestrings"
	"proofmesh/internal/perr"
)

// nodeTypeKeywords are the node declaration keywords.
var nodeTypeKeywords = map[string]bool{
	"asrt": true, "cite": true, "exis": true, "flse": true, "intr": true,
	"mthd": true, "rels": true, "supp": true, "univ": true, "with": true,
}

// parser is a recursive-descent parser over the token stream.
type parser struct {
	lx  *lexer
	tok Token
	// one token of lookahead
	peeked *Token
}

// ParseValue parses a standalone JSON-sublanguage value, e.g. a widget's
// data part.
func ParseValue(src string) (*Value, error) {
	p := &parser{lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != EOF {
		return nil, perr.New(perr.MalformedJSON,
			"line %d, col %d: unexpected %v after value", p.tok.Line, p.tok.Col, p.tok.Kind)
	}
	return v, nil
}

// Parse parses module source text into a ModuleTree.
func Parse(src string) (*ModuleTree, error) {
	p := &parser{lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	tree := &ModuleTree{SourceText: src}
	for p.tok.Kind != EOF {
		item, err := p.parseTopItem()
		if err != nil {
			return nil, err
		}
		if imp, ok := item.(*ImportDecl); ok {
			tree.Imports = append(tree.Imports, imp)
		}
		tree.Items = append(tree.Items, item)
	}
	return tree, nil
}

func (p *parser) advance() error {
	if p.peeked != nil {
		p.tok = *p.peeked
		p.peeked = nil
		return nil
	}
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) peek() (Token, error) {
	if p.peeked == nil {
		tok, err := p.lx.next()
		if err != nil {
			return Token{}, err
		}
		p.peeked = &tok
	}
	return *p.peeked, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return perr.New(perr.ParsingError, "line %d, col %d: "+format,
		append([]interface{}{p.tok.Line, p.tok.Col}, args...)...)
}

func (p *parser) expect(kind Kind) (Token, error) {
	if p.tok.Kind != kind {
		return Token{}, p.errorf("expected %v, found %v", kind, p.tok.Kind)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (p *parser) expectIdent(word string) error {
	if p.tok.Kind != IDENT || p.tok.Text != word {
		return p.errorf("expected %q", word)
	}
	return p.advance()
}

func (p *parser) atIdent(word string) bool {
	return p.tok.Kind == IDENT && p.tok.Text == word
}

// parseTopItem parses one top-level module item.
func (p *parser) parseTopItem() (Item, error) {
	if p.tok.Kind != IDENT {
		return nil, p.errorf("expected a declaration, found %v", p.tok.Kind)
	}
	switch p.tok.Text {
	case "import":
		return p.parsePlainImport()
	case "from":
		return p.parseFromImport()
	case "defn":
		return p.parseDefn()
	case "deduc":
		return p.parseDeduc(false)
	case "anno":
		return p.parseAnno()
	default:
		return p.parseAssignment()
	}
}

// parsePlainImport parses `import LP [as N]`.
func (p *parser) parsePlainImport() (Item, error) {
	pos := p.tok.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	path, err := p.parseDottedPath()
	if err != nil {
		return nil, err
	}
	imp := &ImportDecl{Pos: pos, PlainPath: path}
	if p.atIdent("as") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		imp.LocalName = name.Text
	}
	return imp, nil
}

// parseFromImport parses `from LP import N [as N] [, N [as N]]*`.
func (p *parser) parseFromImport() (Item, error) {
	pos := p.tok.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	path, err := p.parseDottedPath()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("import"); err != nil {
		return nil, err
	}
	imp := &ImportDecl{Pos: pos, FromPath: path}
	for {
		name, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		in := ImportedName{Name: name.Text}
		if p.atIdent("as") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			alias, err := p.expect(IDENT)
			if err != nil {
				return nil, err
			}
			in.Alias = alias.Text
		}
		imp.Names = append(imp.Names, in)
		if p.tok.Kind != COMMA {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return imp, nil
}

// parseDottedPath reads a (possibly relative) dotted path: [.]* IDENT (. IDENT)*.
// A bare run of leading dots (as in `from . import X`) is also accepted.
func (p *parser) parseDottedPath() (string, error) {
	var sb strings.Builder
	for p.tok.Kind == DOT {
		sb.WriteByte('.')
		if err := p.advance(); err != nil {
			return "", err
		}
	}
	// A bare run of dots (as in `from . import X`) ends at the `import`
	// keyword.
	if p.tok.Kind != IDENT || (sb.Len() > 0 && p.tok.Text == "import") {
		if sb.Len() > 0 {
			return sb.String(), nil
		}
		return "", p.errorf("expected a libpath")
	}
	sb.WriteString(p.tok.Text)
	if err := p.advance(); err != nil {
		return "", err
	}
	for p.tok.Kind == DOT {
		if err := p.advance(); err != nil {
			return "", err
		}
		seg, err := p.expect(IDENT)
		if err != nil {
			return "", err
		}
		sb.WriteByte('.')
		sb.WriteString(seg.Text)
	}
	return sb.String(), nil
}

// parsePathList reads a comma-separated list of dotted paths.
func (p *parser) parsePathList() ([]PathRef, error) {
	var out []PathRef
	for {
		pos := p.tok.pos()
		path, err := p.parseDottedPath()
		if err != nil {
			return nil, err
		}
		out = append(out, PathRef{Pos: pos, Path: path})
		if p.tok.Kind != COMMA {
			return out, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

// parseDefn parses `defn NAME STR STR`.
func (p *parser) parseDefn() (Item, error) {
	pos := p.tok.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	lhs, err := p.parseStringToken()
	if err != nil {
		return nil, err
	}
	rhs, err := p.parseStringToken()
	if err != nil {
		return nil, err
	}
	return &DefnDecl{Pos: pos, Name: name.Text, LHS: lhs, RHS: rhs}, nil
}

// parseStringToken consumes a string token and applies the free-string
// pipeline.
func (p *parser) parseStringToken() (string, error) {
	if p.tok.Kind != STRING && p.tok.Kind != TRIPLESTRING {
		return "", p.errorf("expected string, found %v", p.tok.Kind)
	}
	s := freestrings.VertexAndEscape(p.tok.Text)
	if err := p.advance(); err != nil {
		return "", err
	}
	return s, nil
}

// parseAssignment parses `NAME = JSON`.
func (p *parser) parseAssignment() (Item, error) {
	name := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(EQUALS); err != nil {
		return nil, err
	}
	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &Assignment{Pos: name.pos(), Name: name.Text, Value: val}, nil
}

// parseDeduc parses `deduc NAME [of LP,...] [with LP,...] { items }`,
// or `subdeduc NAME { items }` when sub is true.
func (p *parser) parseDeduc(sub bool) (Item, error) {
	pos := p.tok.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	d := &DeducDecl{Pos: pos, Name: name.Text, SubDeduc: sub}
	if !sub {
		if p.atIdent("of") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if d.Targets, err = p.parsePathList(); err != nil {
				return nil, err
			}
		}
		if p.atIdent("with") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if d.Rdefs, err = p.parsePathList(); err != nil {
				return nil, err
			}
		}
	}
	endPos := Pos{}
	if d.Items, err = p.parseBodyEnd(&endPos); err != nil {
		return nil, err
	}
	d.EndPos = endPos
	return d, nil
}

// parseBody parses a brace-delimited sequence of deduction/node body items.
func (p *parser) parseBody() ([]Item, error) {
	return p.parseBodyEnd(nil)
}

// parseBodyEnd parses a body, optionally reporting the closing brace's
// position.
func (p *parser) parseBodyEnd(end *Pos) ([]Item, error) {
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	var items []Item
	for p.tok.Kind != RBRACE {
		if p.tok.Kind == EOF {
			return nil, p.errorf("unterminated body")
		}
		item, err := p.parseBodyItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if end != nil {
		*end = p.tok.pos()
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return items, nil
}

// parseBodyItem parses one item inside a deduction or compound node body.
func (p *parser) parseBodyItem() (Item, error) {
	if p.tok.Kind != IDENT {
		return nil, p.errorf("expected a declaration, found %v", p.tok.Kind)
	}
	word := p.tok.Text
	if word == "subdeduc" {
		return p.parseDeduc(true)
	}
	if nodeTypeKeywords[word] {
		// Distinguish a node declaration from an assignment to a name that
		// happens to equal a node-type keyword (e.g. `with = ...`).
		nxt, err := p.peek()
		if err != nil {
			return nil, err
		}
		if nxt.Kind != EQUALS {
			return p.parseNode()
		}
	}
	return p.parseAssignment()
}

// parseNode parses `TYPE NAME [versus LP,...] [contra LP,...] { items }`.
func (p *parser) parseNode() (Item, error) {
	pos := p.tok.pos()
	nodeType := p.tok.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	n := &NodeDecl{Pos: pos, Type: nodeType, Name: name.Text}
	if p.atIdent("versus") {
		if nodeType != "supp" {
			return nil, p.errorf("only supp nodes may declare alternates")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if n.Versus, err = p.parsePathList(); err != nil {
			return nil, err
		}
	}
	if p.atIdent("contra") {
		if nodeType != "flse" {
			return nil, p.errorf("only flse nodes may declare contras")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if n.Contra, err = p.parsePathList(); err != nil {
			return nil, err
		}
	}
	if n.Items, err = p.parseBody(); err != nil {
		return nil, err
	}
	return n, nil
}

// parseAnno parses `anno NAME [on LP,...] @@@ ... @@@`.
func (p *parser) parseAnno() (Item, error) {
	pos := p.tok.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(IDENT)
	if err != nil {
		return nil, err
	}
	a := &AnnoDecl{Pos: pos, Name: name.Text}
	if p.atIdent("on") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if a.Targets, err = p.parsePathList(); err != nil {
			return nil, err
		}
	}
	body, err := p.expect(ANNOBODY)
	if err != nil {
		return nil, err
	}
	a.Text = body.Text
	return a, nil
}

// parseValue parses a JSON sublanguage value.
func (p *parser) parseValue() (*Value, error) {
	pos := p.tok.pos()
	switch p.tok.Kind {
	case STRING, TRIPLESTRING:
		s := freestrings.VertexAndEscape(p.tok.Text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Value{Pos: pos, Kind: StrValue, Str: s}, nil
	case NUMBER:
		text := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !strings.ContainsAny(text, ".eE") {
			n, err := strconv.ParseInt(text, 10, 64)
			if err != nil {
				return nil, perr.New(perr.MalformedJSON, "%v: malformed number %q", pos, text)
			}
			return &Value{Pos: pos, Kind: IntValue, Int: n}, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, perr.New(perr.MalformedJSON, "%v: malformed number %q", pos, text)
		}
		return &Value{Pos: pos, Kind: FloatValue, Float: f}, nil
	case LBRACKET:
		return p.parseList(pos)
	case LBRACE:
		return p.parseMap(pos)
	case IDENT:
		return p.parseIdentValue(pos)
	}
	return nil, perr.New(perr.MalformedJSON, "%v: expected a value, found %v", pos, p.tok.Kind)
}

func (p *parser) parseList(pos Pos) (*Value, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	v := &Value{Pos: pos, Kind: ListValue}
	for p.tok.Kind != RBRACKET {
		item, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		v.List = append(v.List, item)
		if p.tok.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(RBRACKET); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *parser) parseMap(pos Pos) (*Value, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	v := &Value{Pos: pos, Kind: MapValue, Map: map[string]*Value{}}
	for p.tok.Kind != RBRACE {
		var key string
		switch p.tok.Kind {
		case IDENT:
			key = p.tok.Text
		case STRING:
			key = p.tok.Text
		default:
			return nil, perr.New(perr.MalformedJSON,
				"%v: expected object key, found %v", p.tok.pos(), p.tok.Kind)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Kind != COLON && p.tok.Kind != EQUALS {
			return nil, perr.New(perr.MalformedJSON,
				"%v: expected ':' after object key", p.tok.pos())
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if _, exists := v.Map[key]; !exists {
			v.Keys = append(v.Keys, key)
		}
		v.Map[key] = val
		if p.tok.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	return v, nil
}

// parseIdentValue handles constants and bare libpaths. Both Python and
// Javascript constant spellings are accepted.
func (p *parser) parseIdentValue(pos Pos) (*Value, error) {
	first := p.tok.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	switch first {
	case "null", "None":
		return &Value{Pos: pos, Kind: NullValue}, nil
	case "true", "True":
		return &Value{Pos: pos, Kind: BoolValue, Bool: true}, nil
	case "false", "False":
		return &Value{Pos: pos, Kind: BoolValue, Bool: false}, nil
	}
	// A bare name, possibly dotted: a libpath value.
	path := first
	for p.tok.Kind == DOT {
		if err := p.advance(); err != nil {
			return nil, err
		}
		seg, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		path += "." + seg.Text
	}
	return &Value{Pos: pos, Kind: LibpathValue, Path: path}, nil
}
