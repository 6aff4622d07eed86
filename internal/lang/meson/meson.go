package meson

import (
	"strings"

	"proofmesh/internal/perr"
)

// Flow arrows for sentences without prefix. As libraries grow this must be
// viewed as a fixed rule, not a setting.
const mesonFlowUnprefixed = true

// prefixKind classifies the keyword opening a phrase.
type prefixKind int

const (
	prefixNone prefixKind = iota
	prefixRoam
	prefixFlow
	prefixInf
)

// tokClass classifies Meson tokens.
type tokClass int

const (
	tokName tokClass = iota
	tokInf
	tokSup
	tokFlow
	tokRoam
	tokHow
	tokModal
	tokConj
)

var mesonKeywords = map[string]tokClass{
	"so": tokInf, "then": tokInf, "therefore": tokInf, "hence": tokInf,
	"thus": tokInf, "get": tokInf, "infer": tokInf, "find": tokInf,
	"implies": tokInf, "whence": tokInf, "whereupon": tokInf,
	"by": tokSup, "since": tokSup, "using": tokSup, "because": tokSup, "for": tokSup,
	"now": tokFlow, "next": tokFlow, "claim": tokFlow,
	"but": tokRoam, "meanwhile": tokRoam, "note": tokRoam, "have": tokRoam,
	"from": tokRoam, "observe": tokRoam, "consider": tokRoam,
	"applying": tokHow, "via": tokHow,
	"let": tokModal, "suppose": tokModal,
	"and": tokConj, "plus": tokConj,
}

type mesonTok struct {
	class tokClass
	text  string
}

// lexMeson tokenizes a Meson script. Commas, semicolons, and sentence-ending
// periods are ignored; dots inside a name are part of the name. Keywords
// match case-insensitively and cannot be node names.
func lexMeson(script string) ([]mesonTok, error) {
	var toks []mesonTok
	i := 0
	n := len(script)
	for i < n {
		c := script[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ',' || c == ';':
			i++
		case c == '-':
			if strings.HasPrefix(script[i:], "-->") {
				toks = append(toks, mesonTok{tokInf, "-->"})
				i += 3
			} else {
				return nil, perr.New(perr.MesonError, "Meson parsing error: unexpected '-' at offset %d", i)
			}
		case c == '<':
			if strings.HasPrefix(script[i:], "<--") {
				toks = append(toks, mesonTok{tokSup, "<--"})
				i += 3
			} else {
				return nil, perr.New(perr.MesonError, "Meson parsing error: unexpected '<' at offset %d", i)
			}
		case c == '.':
			if strings.HasPrefix(script[i:], "..>") {
				toks = append(toks, mesonTok{tokFlow, "..>"})
				i += 3
			} else {
				i++ // sentence punctuation
			}
		case isMesonNameStart(c):
			j := i + 1
			for j < n && isMesonNameChar(script[j]) {
				j++
			}
			word := script[i:j]
			i = j
			// Trailing dots are sentence punctuation, not name characters.
			trimmed := strings.TrimRight(word, ".")
			if trimmed == "" {
				continue
			}
			if class, ok := mesonKeywords[strings.ToLower(trimmed)]; ok {
				toks = append(toks, mesonTok{class, strings.ToLower(trimmed)})
			} else {
				toks = append(toks, mesonTok{tokName, trimmed})
			}
		default:
			return nil, perr.New(perr.MesonError, "Meson parsing error: unexpected %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isMesonNameStart(c byte) bool {
	return c == '?' || c == '!' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isMesonNameChar(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// phrase is one sentence of a Meson script, reduced to what inter-phrase
// edge formation needs.
type phrase struct {
	prefix prefixKind
	// first and last node names, for inter-phrase edges.
	first []string
	last  []string
	// conclusion-only: the method node and the factorable edges of the
	// assertion's first reason clause.
	isConclusion bool
	method       string
	factorable   []*Edge
}

// mesonParser consumes the token stream and builds the Graph as it goes.
type mesonParser struct {
	toks  []mesonTok
	i     int
	graph *Graph
	seen  map[string]bool
}

// BuildGraphFromMeson takes a Meson script and returns a Graph for it.
func BuildGraphFromMeson(script string) (*Graph, error) {
	toks, err := lexMeson(script)
	if err != nil {
		return nil, err
	}
	p := &mesonParser{toks: toks, graph: NewGraph(FromMeson), seen: map[string]bool{}}
	if err := p.parseScript(); err != nil {
		return nil, err
	}
	return p.graph, nil
}

func (p *mesonParser) atEnd() bool {
	return p.i >= len(p.toks)
}

func (p *mesonParser) peek() (mesonTok, bool) {
	if p.atEnd() {
		return mesonTok{}, false
	}
	return p.toks[p.i], true
}

// parseScript parses the phrase sequence and makes the inter-phrase edges.
func (p *mesonParser) parseScript() error {
	if p.atEnd() {
		return nil
	}
	// An optional leading roaming keyword is skipped.
	if tok, _ := p.peek(); tok.class == tokRoam {
		p.i++
	}
	var phrases []*phrase
	first, err := p.parseInitialPhrase(prefixNone, false)
	if err != nil {
		return err
	}
	phrases = append(phrases, first)
	for !p.atEnd() {
		ph, err := p.parsePhrase()
		if err != nil {
			return err
		}
		phrases = append(phrases, ph)
	}
	// Inter-phrase edges, scanning with a sliding window of width two. The
	// kind of edge depends on the prefix of the second phrase.
	for i := 1; i < len(phrases); i++ {
		P, Q := phrases[i-1], phrases[i]
		kind, makeEdges := edgeTypeByPrefix(Q.prefix)
		if !makeEdges {
			continue
		}
		sources := P.last
		targets := Q.first
		// We never flow from more than the last of the previous phrase's
		// final names, nor to more than the first of this phrase's.
		if kind == Flow {
			sources = sources[len(sources)-1:]
			targets = targets[:1]
		}
		var edges []*Edge
		for _, src := range sources {
			for _, tgt := range targets {
				edges = append(edges, p.graph.CreateEdge(src, tgt, kind))
			}
		}
		if Q.isConclusion && Q.method != "" {
			edges = append(edges, Q.factorable...)
			p.graph.FactorEdgesThroughMethod(edges, Q.method)
		}
	}
	return nil
}

// parsePhrase parses a conclusion, or an optionally prefixed supposition or
// assertion.
func (p *mesonParser) parsePhrase() (*phrase, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, perr.New(perr.MesonError, "Meson parsing error: unexpected end of script")
	}
	switch tok.class {
	case tokInf:
		p.i++
		return p.parseConclusion()
	case tokRoam:
		p.i++
		return p.parseInitialPhrase(prefixRoam, true)
	case tokFlow:
		p.i++
		return p.parseInitialPhrase(prefixFlow, true)
	default:
		return p.parseInitialPhrase(prefixNone, true)
	}
}

// parseInitialPhrase parses a supposition or assertion with the given
// prefix. chainFlows is false for the script's very first phrase, which never
// gets internal flow chaining.
func (p *mesonParser) parseInitialPhrase(prefix prefixKind, chainFlows bool) (*phrase, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, perr.New(perr.MesonError, "Meson parsing error: unexpected end of script")
	}
	if tok.class == tokModal {
		p.i++
		return p.parseSupposition(prefix, chainFlows)
	}
	return p.parseAssertion(prefix)
}

// parseSupposition parses the nodes after a modal keyword, marking first
// occurrences and chaining flow arrows when the phrase flows.
func (p *mesonParser) parseSupposition(prefix prefixKind, chainFlows bool) (*phrase, error) {
	occs, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	names := occNames(occs)
	for _, occ := range occs {
		if occ.first {
			p.graph.GetNode(occ.name).FirstOccursInSupposition = true
		} else {
			// A second or later mention of a node inside a supposition is
			// never okay.
			return nil, perr.New(perr.MesonExcessModal,
				"Only the first mention of a node may occur after a modal keyword, but node %q breaks this rule.", occ.name)
		}
	}
	ph := &phrase{prefix: prefix, first: names, last: names}
	if chainFlows && (prefix == prefixFlow || (prefix == prefixNone && mesonFlowUnprefixed)) {
		// Chain the nodes together with flow arrows, and expose just the
		// first and last for inter-phrase edges.
		ph.first = names[:1]
		ph.last = names[len(names)-1:]
		for k := 0; k+1 < len(names); k++ {
			p.graph.CreateEdge(names[k], names[k+1], Flow)
		}
	}
	return ph, nil
}

// parseAssertion parses `nodes reason*`, making deductive arrows from each
// reason clause to the clause it supports. Only the first reason clause's
// edges are factorable through a method.
func (p *mesonParser) parseAssertion(prefix prefixKind) (*phrase, error) {
	occs, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	targets := occNames(occs)
	ph := &phrase{prefix: prefix, first: targets, last: targets}
	firstReasonSet := true
	current := targets
	for {
		tok, ok := p.peek()
		if !ok || tok.class != tokSup {
			break
		}
		p.i++
		srcOccs, err := p.parseNodes()
		if err != nil {
			return nil, err
		}
		sources := occNames(srcOccs)
		for _, src := range sources {
			for _, tgt := range current {
				e := p.graph.CreateEdge(src, tgt, Ded)
				if firstReasonSet {
					ph.factorable = append(ph.factorable, e)
				}
			}
		}
		current = sources
		firstReasonSet = false
	}
	return ph, nil
}

// parseConclusion parses `assertion method?` after an inferential keyword.
func (p *mesonParser) parseConclusion() (*phrase, error) {
	ph, err := p.parseAssertion(prefixInf)
	if err != nil {
		return nil, err
	}
	ph.prefix = prefixInf
	ph.isConclusion = true
	if tok, ok := p.peek(); ok && tok.class == tokHow {
		p.i++
		occ, err := p.parseNodeName()
		if err != nil {
			return nil, err
		}
		ph.method = occ.name
	}
	return ph, nil
}

// occurrence is one mention of a node name, noting whether it is the name's
// very first mention in the script.
type occurrence struct {
	name  string
	first bool
}

func occNames(occs []occurrence) []string {
	names := make([]string, len(occs))
	for i, occ := range occs {
		names[i] = occ.name
	}
	return names
}

// parseNodes parses `node (CONJ node)*`.
func (p *mesonParser) parseNodes() ([]occurrence, error) {
	var occs []occurrence
	occ, err := p.parseNodeName()
	if err != nil {
		return nil, err
	}
	occs = append(occs, occ)
	for {
		tok, ok := p.peek()
		if !ok || tok.class != tokConj {
			return occs, nil
		}
		p.i++
		occ, err := p.parseNodeName()
		if err != nil {
			return nil, err
		}
		occs = append(occs, occ)
	}
}

// parseNodeName consumes a name token, creating the graph node on the name's
// first occurrence.
func (p *mesonParser) parseNodeName() (occurrence, error) {
	tok, ok := p.peek()
	if !ok || tok.class != tokName {
		return occurrence{}, perr.New(perr.MesonError, "Meson parsing error: expected a node name")
	}
	p.i++
	name := tok.text
	first := !p.seen[name]
	if first {
		p.seen[name] = true
		if p.graph.GetNode(name) == nil {
			p.graph.CreateNode(name)
		}
	}
	return occurrence{name: name, first: first}, nil
}

func edgeTypeByPrefix(k prefixKind) (EdgeType, bool) {
	switch k {
	case prefixNone:
		if mesonFlowUnprefixed {
			return Flow, true
		}
		return "", false
	case prefixRoam:
		return "", false
	case prefixFlow:
		return Flow, true
	case prefixInf:
		return Ded, true
	}
	return "", false
}
