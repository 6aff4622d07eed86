// Package freestrings is the single pipeline for author-supplied strings.
// Every free string appearing in pfsc syntax passes through VertexAndEscape
// exactly once, at parse time; all later consumers treat strings as already
// escaped. Annotation markdown is rendered here too, so that widget stubs,
// link policy, and escaping stay in one place.
package freestrings

import (
	"html"
	"strings"
)

// KeyChar is the VerTeX escape character. Inside math-mode segments,
// KeyChar-prefixed words translate to LaTeX control sequences.
const KeyChar = '@'

// vertexWords maps VerTeX shorthand words to LaTeX control sequences.
// Greek letters plus the common symbols authors reach for in labels.
var vertexWords = map[string]string{
	// Lowercase Greek.
	"alpha": `\alpha`, "beta": `\beta`, "gamma": `\gamma`, "delta": `\delta`,
	"epsilon": `\epsilon`, "zeta": `\zeta`, "eta": `\eta`, "theta": `\theta`,
	"iota": `\iota`, "kappa": `\kappa`, "lambda": `\lambda`, "mu": `\mu`,
	"nu": `\nu`, "xi": `\xi`, "pi": `\pi`, "rho": `\rho`, "sigma": `\sigma`,
	"tau": `\tau`, "upsilon": `\upsilon`, "phi": `\phi`, "chi": `\chi`,
	"psi": `\psi`, "omega": `\omega`, "vare": `\varepsilon`, "varp": `\varphi`,
	// Uppercase Greek.
	"Gamma": `\Gamma`, "Delta": `\Delta`, "Theta": `\Theta`, "Lambda": `\Lambda`,
	"Xi": `\Xi`, "Pi": `\Pi`, "Sigma": `\Sigma`, "Upsilon": `\Upsilon`,
	"Phi": `\Phi`, "Psi": `\Psi`, "Omega": `\Omega`,
	// Common symbols.
	"infty": `\infty`, "times": `\times`, "cdot": `\cdot`, "pm": `\pm`,
	"leq": `\leq`, "geq": `\geq`, "neq": `\neq`, "equiv": `\equiv`,
	"in": `\in`, "notin": `\notin`, "subset": `\subset`, "subseteq": `\subseteq`,
	"cup": `\cup`, "cap": `\cap`, "mid": `\mid`, "nmid": `\nmid`,
	"sum": `\sum`, "prod": `\prod`, "int": `\int`, "sqrt": `\sqrt`,
	"frac": `\frac`, "ell": `\ell`, "partial": `\partial`,
	"rightarrow": `\rightarrow`, "Rightarrow": `\Rightarrow`,
	"mapsto": `\mapsto`, "to": `\to`, "cong": `\cong`, "approx": `\approx`,
}

// TranslateDocument applies VerTeX translation to every math-mode segment of
// the document, delimited by unescaped dollar signs. Text outside math mode
// passes through unchanged.
func TranslateDocument(s string) string {
	var out strings.Builder
	inMath := false
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && (i == 0 || s[i-1] != '\\') {
			seg := s[start:i]
			if inMath {
				out.WriteString(TranslateSnippet(seg))
			} else {
				out.WriteString(seg)
			}
			out.WriteByte('$')
			inMath = !inMath
			start = i + 1
		}
	}
	// Unterminated math mode is passed through untranslated.
	out.WriteString(s[start:])
	return out.String()
}

// TranslateSnippet applies VerTeX translation to a snippet assumed to be
// entirely in math mode.
func TranslateSnippet(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); {
		if s[i] != KeyChar {
			out.WriteByte(s[i])
			i++
			continue
		}
		// A doubled keychar is a literal keychar.
		if i+1 < len(s) && s[i+1] == KeyChar {
			out.WriteByte(KeyChar)
			i += 2
			continue
		}
		j := i + 1
		for j < len(s) && isWordChar(s[j]) {
			j++
		}
		word := s[i+1 : j]
		if tex, ok := vertexWords[word]; ok {
			out.WriteString(tex)
		} else {
			// Unknown words keep their keychar so the author can see what
			// failed to translate.
			out.WriteByte(KeyChar)
			out.WriteString(word)
		}
		i = j
	}
	return out.String()
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// VertexAndEscape is the standard pipeline for free strings: VerTeX
// translation of math segments, then HTML escaping.
func VertexAndEscape(s string) string {
	return html.EscapeString(TranslateDocument(s))
}
