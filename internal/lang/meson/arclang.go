package meson

import (
	"strings"

	"proofmesh/internal/perr"
)

// BuildGraphFromArcs takes a listing in the arc language and returns a Graph
// for it. The listing is a sequence of chains `name ARROW name [ARROW name]*`
// where ARROW is one of -->, <--, ..>. No modal or supposition semantics
// apply.
func BuildGraphFromArcs(listing string) (*Graph, error) {
	toks, err := lexArcs(listing)
	if err != nil {
		return nil, err
	}
	g := NewGraph(FromArcs)
	i := 0
	for i < len(toks) {
		// A chain starts with a name and has at least one ARROW name pair.
		if toks[i].class != tokName {
			return nil, perr.New(perr.ArclangError,
				"Arclang parsing error: expected a node name, found %q", toks[i].text)
		}
		prev := toks[i].text
		i++
		pairs := 0
		for i+1 < len(toks) && isArrow(toks[i]) && toks[i+1].class == tokName {
			arrow := toks[i].text
			next := toks[i+1].text
			i += 2
			pairs++
			tail, head := prev, next
			kind := Ded
			if arrow == "..>" {
				kind = Flow
			}
			if arrow == "<--" {
				tail, head = head, tail
			}
			g.CreateEdge(tail, head, kind)
			prev = next
		}
		if pairs == 0 {
			return nil, perr.New(perr.ArclangError,
				"Arclang parsing error: chain for %q has no arrows", prev)
		}
	}
	return g, nil
}

func isArrow(t mesonTok) bool {
	return t.text == "-->" || t.text == "<--" || t.text == "..>"
}

// lexArcs tokenizes an arc listing: names and arrows, whitespace-separated.
func lexArcs(listing string) ([]mesonTok, error) {
	var toks []mesonTok
	i := 0
	n := len(listing)
	for i < n {
		c := listing[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case strings.HasPrefix(listing[i:], "-->"):
			toks = append(toks, mesonTok{tokInf, "-->"})
			i += 3
		case strings.HasPrefix(listing[i:], "<--"):
			toks = append(toks, mesonTok{tokSup, "<--"})
			i += 3
		case strings.HasPrefix(listing[i:], "..>"):
			toks = append(toks, mesonTok{tokFlow, "..>"})
			i += 3
		case isMesonNameStart(c):
			j := i + 1
			for j < n && isMesonNameChar(listing[j]) {
				j++
			}
			name := strings.TrimRight(listing[i:j], ".")
			i = j
			if name != "" {
				toks = append(toks, mesonTok{tokName, name})
			}
		default:
			return nil, perr.New(perr.ArclangError,
				"Arclang parsing error: unexpected %q at offset %d", c, i)
		}
	}
	return toks, nil
}
