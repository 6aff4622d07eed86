package pfsc

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Render serializes a module tree back to pfsc text. Free strings were
// HTML-escaped at parse time, so reparsing the rendered text escapes them
// again; Render therefore undoes that escaping when it emits a string, and
// round-tripping is structural: Parse(Render(Parse(t))) equals Parse(t) up
// to positions.
func Render(tree *ModuleTree) string {
	var sb strings.Builder
	for _, item := range tree.Items {
		renderItem(&sb, item, 0)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func indent(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("    ", depth))
}

func renderItem(sb *strings.Builder, item Item, depth int) {
	switch decl := item.(type) {
	case *ImportDecl:
		indent(sb, depth)
		if decl.PlainPath != "" {
			sb.WriteString("import " + decl.PlainPath)
			if decl.LocalName != "" {
				sb.WriteString(" as " + decl.LocalName)
			}
		} else {
			sb.WriteString("from " + decl.FromPath + " import ")
			for i, in := range decl.Names {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(in.Name)
				if in.Alias != "" {
					sb.WriteString(" as " + in.Alias)
				}
			}
		}
		sb.WriteByte('\n')
	case *Assignment:
		indent(sb, depth)
		sb.WriteString(decl.Name + " = ")
		renderValue(sb, decl.Value, depth)
		sb.WriteByte('\n')
	case *DefnDecl:
		indent(sb, depth)
		fmt.Fprintf(sb, "defn %s %s %s\n", decl.Name,
			renderString(decl.LHS), renderString(decl.RHS))
	case *DeducDecl:
		indent(sb, depth)
		if decl.SubDeduc {
			sb.WriteString("subdeduc " + decl.Name)
		} else {
			sb.WriteString("deduc " + decl.Name)
			renderPathClause(sb, "of", decl.Targets)
			renderPathClause(sb, "with", decl.Rdefs)
		}
		sb.WriteString(" {\n")
		for _, sub := range decl.Items {
			renderItem(sb, sub, depth+1)
		}
		indent(sb, depth)
		sb.WriteString("}\n")
	case *NodeDecl:
		indent(sb, depth)
		sb.WriteString(decl.Type + " " + decl.Name)
		renderPathClause(sb, "versus", decl.Versus)
		renderPathClause(sb, "contra", decl.Contra)
		sb.WriteString(" {\n")
		for _, sub := range decl.Items {
			renderItem(sb, sub, depth+1)
		}
		indent(sb, depth)
		sb.WriteString("}\n")
	case *AnnoDecl:
		indent(sb, depth)
		sb.WriteString("anno " + decl.Name)
		renderPathClause(sb, "on", decl.Targets)
		sb.WriteString(" @@@")
		sb.WriteString(decl.Text)
		sb.WriteString("@@@\n")
	}
}

func renderPathClause(sb *strings.Builder, keyword string, refs []PathRef) {
	if len(refs) == 0 {
		return
	}
	sb.WriteString(" " + keyword + " ")
	for i, ref := range refs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(ref.Path)
	}
}

// renderString undoes the parse-time HTML escaping and emits a triple-quoted
// string, which processes no escapes. Text that fits neither triple-quote
// form falls back to a double-quoted string with only its quotes escaped,
// the one escape the lexer reads.
func renderString(s string) string {
	s = html.UnescapeString(s)
	if !strings.Contains(s, `"""`) && !strings.HasSuffix(s, `"`) {
		return `"""` + s + `"""`
	}
	if !strings.Contains(s, `'''`) && !strings.HasSuffix(s, `'`) {
		return `'''` + s + `'''`
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func renderValue(sb *strings.Builder, v *Value, depth int) {
	switch v.Kind {
	case NullValue:
		sb.WriteString("null")
	case BoolValue:
		sb.WriteString(strconv.FormatBool(v.Bool))
	case IntValue:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case FloatValue:
		sb.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case StrValue:
		sb.WriteString(renderString(v.Str))
	case LibpathValue:
		sb.WriteString(v.Path)
	case ListValue:
		sb.WriteString("[")
		for i, item := range v.List {
			if i > 0 {
				sb.WriteString(", ")
			}
			renderValue(sb, item, depth)
		}
		sb.WriteString("]")
	case MapValue:
		sb.WriteString("{\n")
		for _, k := range v.Keys {
			indent(sb, depth+1)
			sb.WriteString(renderKey(k) + ": ")
			renderValue(sb, v.Map[k], depth+1)
			sb.WriteString(",\n")
		}
		indent(sb, depth)
		sb.WriteString("}")
	}
}

// renderKey emits an object key bare when it is a valid identifier.
func renderKey(k string) string {
	ok := k != ""
	for i, c := range k {
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9')) {
			ok = false
			break
		}
	}
	if ok {
		return k
	}
	return `"` + k + `"`
}
