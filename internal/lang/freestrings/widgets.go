package freestrings

import (
	"fmt"
	"strconv"
	"strings"

	"proofmesh/internal/perr"
)

// WidgetType enumerates the widget kinds an annotation may embed.
type WidgetType string

const (
	WidgetChart WidgetType = "chart"
	WidgetLink  WidgetType = "link"
	WidgetGoal  WidgetType = "goal"
	WidgetDoc   WidgetType = "doc"
	WidgetPdf   WidgetType = "pdf"
	WidgetParam WidgetType = "param"
	WidgetDisp  WidgetType = "disp"
	WidgetCtl   WidgetType = "ctl"
)

var knownWidgetTypes = map[string]WidgetType{
	"chart": WidgetChart, "link": WidgetLink, "goal": WidgetGoal,
	"doc": WidgetDoc, "pdf": WidgetPdf, "param": WidgetParam,
	"disp": WidgetDisp, "ctl": WidgetCtl,
}

// WidgetStub is one `<type:name>[label]{data}` occurrence in annotation text.
type WidgetStub struct {
	Type  WidgetType
	Name  string
	Label string
	// RawData is the unparsed JSON-sublanguage data part, braces included.
	RawData string
	// Line is the 1-based line of the stub within the annotation text.
	Line int
}

// Chunk is a run of ordinary markdown text or a single widget stub.
type Chunk struct {
	Text   string
	Widget *WidgetStub
}

// SplitOnWidgets splits annotation text into text chunks and widget stubs.
// Widgets written without a name get generated names w1, w2, ..., skipping
// any numbers already taken by author-written wN names (case-insensitive on
// the leading w).
func SplitOnWidgets(text string) ([]Chunk, error) {
	var chunks []Chunk
	usedNums := map[int]bool{}
	var unnamed []*WidgetStub
	line := 1
	start := 0
	i := 0
	for i < len(text) {
		c := text[i]
		if c == '\n' {
			line++
			i++
			continue
		}
		if c != '<' {
			i++
			continue
		}
		stub, end, ok, err := scanWidget(text, i, line)
		if err != nil {
			return nil, err
		}
		if !ok {
			i++
			continue
		}
		if i > start {
			chunks = append(chunks, Chunk{Text: text[start:i]})
		}
		chunks = append(chunks, Chunk{Widget: stub})
		if stub.Name == "" {
			unnamed = append(unnamed, stub)
		} else if num, ok := wNumber(stub.Name); ok {
			usedNums[num] = true
		}
		line += strings.Count(text[i:end], "\n")
		i = end
		start = end
	}
	if start < len(text) {
		chunks = append(chunks, Chunk{Text: text[start:]})
	}
	// Supply missing names.
	n := 1
	for _, stub := range unnamed {
		for usedNums[n] {
			n++
		}
		stub.Name = fmt.Sprintf("w%d", n)
		usedNums[n] = true
		n++
	}
	return chunks, nil
}

// wNumber extracts the number of a wN-form name, case-insensitive on the
// leading w. A leading zero after the w disqualifies the name.
func wNumber(name string) (int, bool) {
	if len(name) < 2 || (name[0] != 'w' && name[0] != 'W') || name[1] == '0' {
		return 0, false
	}
	num, err := strconv.Atoi(name[1:])
	if err != nil {
		return 0, false
	}
	return num, true
}

// scanWidget attempts to read a widget stub starting at the '<' at position i.
// Returns ok=false when the text at i is not a widget opening; returns an
// error when it is a widget opening whose body is malformed.
func scanWidget(text string, i, line int) (*WidgetStub, int, bool, error) {
	j := i + 1
	for j < len(text) && isWordChar(text[j]) {
		j++
	}
	if j == i+1 || j >= len(text) || text[j] != ':' {
		return nil, 0, false, nil
	}
	typeName := text[i+1 : j]
	wt, known := knownWidgetTypes[typeName]
	if !known {
		return nil, 0, false, nil
	}
	j++ // consume ':'
	nameStart := j
	for j < len(text) && (isWordChar(text[j]) || text[j] == '_' || (text[j] >= '0' && text[j] <= '9')) {
		j++
	}
	if j >= len(text) || text[j] != '>' {
		return nil, 0, false, nil
	}
	stub := &WidgetStub{Type: wt, Name: text[nameStart:j], Line: line}
	j++ // consume '>'
	j = skipSpace(text, j)
	if j >= len(text) || text[j] != '[' {
		return nil, 0, false, perr.New(perr.ParsingError,
			"widget stub at line %d: expected [label] after <%s:%s>", line, typeName, stub.Name)
	}
	labelEnd := strings.IndexByte(text[j:], ']')
	if labelEnd < 0 {
		return nil, 0, false, perr.New(perr.ParsingError,
			"widget stub at line %d: unterminated label", line)
	}
	stub.Label = text[j+1 : j+labelEnd]
	j += labelEnd + 1
	j = skipSpace(text, j)
	if j >= len(text) || text[j] != '{' {
		return nil, 0, false, perr.New(perr.ParsingError,
			"widget stub at line %d: expected {data} after label", line)
	}
	dataEnd, err := scanBalancedBraces(text, j)
	if err != nil {
		return nil, 0, false, perr.New(perr.ParsingError,
			"widget stub at line %d: %v", line, err)
	}
	stub.RawData = text[j:dataEnd]
	return stub, dataEnd, true, nil
}

func skipSpace(text string, i int) int {
	for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
		i++
	}
	return i
}

// scanBalancedBraces finds the end of a brace-balanced region starting at the
// '{' at position i, respecting single- and double-quoted strings.
func scanBalancedBraces(text string, i int) (int, error) {
	depth := 0
	var quote byte
	for j := i; j < len(text); j++ {
		c := text[j]
		if quote != 0 {
			if c == '\\' {
				j++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated data part")
}
