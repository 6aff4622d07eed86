package freestrings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateSnippet(t *testing.T) {
	assert.Equal(t, `\alpha + \beta`, TranslateSnippet(`@alpha + @beta`))
	assert.Equal(t, `\zeta(s)`, TranslateSnippet(`@zeta(s)`))
	// Doubled keychar is a literal.
	assert.Equal(t, `a@b`, TranslateSnippet(`a@@b`))
	// Unknown words keep the keychar.
	assert.Equal(t, `@nosuchword`, TranslateSnippet(`@nosuchword`))
}

func TestTranslateDocument(t *testing.T) {
	// Translation applies only inside math mode.
	assert.Equal(t, `see $\pi$ here, @pi there`, TranslateDocument(`see $@pi$ here, @pi there`))
	// Unterminated math mode passes through.
	assert.Equal(t, `broken $@pi`, TranslateDocument(`broken $@pi`))
}

func TestVertexAndEscape(t *testing.T) {
	out := VertexAndEscape(`let $@eps > 0$ & x <y>`)
	assert.NotContains(t, out, "<y>")
	assert.Contains(t, out, "&amp;")
	assert.Contains(t, out, "&lt;y&gt;")
}

func TestSplitOnWidgets(t *testing.T) {
	text := "Intro text.\n<chart:w1>[open the proof]{\"view\": \"test.moo.bar.Pf\"}\nOutro."
	chunks, err := SplitOnWidgets(text)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Intro text.\n", chunks[0].Text)
	w := chunks[1].Widget
	require.NotNil(t, w)
	assert.Equal(t, WidgetChart, w.Type)
	assert.Equal(t, "w1", w.Name)
	assert.Equal(t, "open the proof", w.Label)
	assert.Equal(t, `{"view": "test.moo.bar.Pf"}`, w.RawData)
	assert.Equal(t, 2, w.Line)
}

func TestSplitOnWidgetsSuppliesNames(t *testing.T) {
	text := "<goal:>[g]{} and <goal:w1>[h]{} and <goal:>[i]{}"
	chunks, err := SplitOnWidgets(text)
	require.NoError(t, err)
	var names []string
	for _, ch := range chunks {
		if ch.Widget != nil {
			names = append(names, ch.Widget.Name)
		}
	}
	// Generated names skip w1, which the author took.
	assert.Equal(t, []string{"w2", "w1", "w3"}, names)
}

func TestSplitOnWidgetsNameSkipIsCaseInsensitive(t *testing.T) {
	// An author-named W1 blocks w1 from being auto-assigned.
	text := "<goal:W1>[g]{} and <goal:>[h]{}"
	chunks, err := SplitOnWidgets(text)
	require.NoError(t, err)
	var names []string
	for _, ch := range chunks {
		if ch.Widget != nil {
			names = append(names, ch.Widget.Name)
		}
	}
	assert.Equal(t, []string{"W1", "w2"}, names)
}

func TestSplitOnWidgetsNestedBraces(t *testing.T) {
	text := `<param:p>[x]{"a": {"b": "}"}, "c": 1}`
	chunks, err := SplitOnWidgets(text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, `{"a": {"b": "}"}, "c": 1}`, chunks[0].Widget.RawData)
}

func TestSplitOnWidgetsIgnoresNonWidgets(t *testing.T) {
	text := "inequality a<b and <em>html</em> stay text"
	chunks, err := SplitOnWidgets(text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Widget)
}

func TestSplitOnWidgetsMalformed(t *testing.T) {
	_, err := SplitOnWidgets("<chart:x>[label with no data")
	assert.Error(t, err)
	_, err = SplitOnWidgets(`<chart:x>[l]{"unterminated": "`)
	assert.Error(t, err)
}

func TestRenderMarkdownEscapesRawHTML(t *testing.T) {
	out, err := RenderMarkdown("hello <script>alert(1)</script> world", UntrustedPolicy)
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderMarkdownLinkPolicy(t *testing.T) {
	md := "[site](https://example.org)"

	out, err := RenderMarkdown(md, UntrustedPolicy)
	require.NoError(t, err)
	assert.NotContains(t, out, "<a ")

	out, err = RenderMarkdown(md, TrustedPolicy)
	require.NoError(t, err)
	assert.Contains(t, out, `target="_blank"`)
	assert.Contains(t, out, `class="external"`)

	// Non-http schemes never render as links, even when trusted.
	out, err = RenderMarkdown("[x](javascript:alert(1))", TrustedPolicy)
	require.NoError(t, err)
	assert.NotContains(t, out, "<a ")
}

func TestRenderAnnoSubstitutesWidgets(t *testing.T) {
	chunks, err := SplitOnWidgets("# Title\n\nClick <chart:c1>[*here*]{}.")
	require.NoError(t, err)
	out, err := RenderAnno(chunks, func(stub *WidgetStub, label string) string {
		return `<a class="widget chartWidget" id="` + stub.Name + `">` + label + `</a>`
	}, UntrustedPolicy)
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, `id="c1"`)
	// The label itself is markdown-rendered.
	assert.Contains(t, out, "<em>here</em>")
	assert.False(t, strings.Contains(out, "pfscwidgetstub"), "placeholder leaked: %s", out)
}
