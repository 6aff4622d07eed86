package freestrings

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// LinkPolicy controls how markdown links and images are treated. Unapproved
// links are escaped rather than rendered.
type LinkPolicy struct {
	AllowLinks  bool
	AllowImages bool
}

// TrustedPolicy is the policy applied to repos at or under a trusted libpath.
var TrustedPolicy = LinkPolicy{AllowLinks: true, AllowImages: true}

// UntrustedPolicy is the default policy.
var UntrustedPolicy = LinkPolicy{}

// WidgetHTMLFunc produces the HTML replacing a widget stub. The label
// argument is the stub's label, already markdown-rendered inline.
type WidgetHTMLFunc func(stub *WidgetStub, label string) string

// placeholder returns the inert token substituted for widget k during
// markdown rendering. It must survive the renderer untouched, so it is a
// plain alphanumeric word.
func placeholder(k int) string {
	return fmt.Sprintf("pfscwidgetstub%dbuts", k)
}

// RenderAnno renders annotation text to HTML. Widget regions are replaced
// with placeholders, the remainder is run through the markdown renderer, and
// placeholders are then replaced by each widget's generated HTML.
//
// The input chunks are expected to hold raw author text; VerTeX translation
// and HTML escaping happen here, in the single sanctioned place.
func RenderAnno(chunks []Chunk, widgetHTML WidgetHTMLFunc, policy LinkPolicy) (string, error) {
	var md strings.Builder
	var stubs []*WidgetStub
	for _, ch := range chunks {
		if ch.Widget != nil {
			md.WriteString(placeholder(len(stubs)))
			stubs = append(stubs, ch.Widget)
			continue
		}
		md.WriteString(ch.Text)
	}

	rendered, err := RenderMarkdown(md.String(), policy)
	if err != nil {
		return "", err
	}

	for k, stub := range stubs {
		label, err := renderInline(stub.Label, policy)
		if err != nil {
			return "", err
		}
		var widgetOut string
		if widgetHTML != nil {
			widgetOut = widgetHTML(stub, label)
		} else {
			widgetOut = fmt.Sprintf("MISSING_WIDGET:[...]{%s}", html.EscapeString(stub.Name))
		}
		rendered = strings.Replace(rendered, placeholder(k), widgetOut, 1)
	}
	return rendered, nil
}

// RenderMarkdown renders plain markdown (no widget stubs) under the given
// policy. Raw author HTML is never passed through.
func RenderMarkdown(text string, policy LinkPolicy) (string, error) {
	ve := TranslateDocument(text)
	gm := goldmark.New(
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(
				util.Prioritized(&policyRenderer{policy: policy}, 100),
			),
		),
	)
	var buf bytes.Buffer
	if err := gm.Convert([]byte(ve), &buf); err != nil {
		return "", fmt.Errorf("markdown rendering failed: %w", err)
	}
	return buf.String(), nil
}

// renderInline renders a one-line label, stripping the wrapping paragraph.
func renderInline(text string, policy LinkPolicy) (string, error) {
	out, err := RenderMarkdown(text, policy)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "<p>")
	out = strings.TrimSuffix(out, "</p>")
	return out, nil
}

// policyRenderer overrides link, image, and raw-HTML rendering to enforce the
// trust policy: external links open in new tabs and carry class "external";
// disallowed links and images render as escaped text; raw HTML is always
// escaped.
type policyRenderer struct {
	policy LinkPolicy
}

func (r *policyRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
	reg.Register(ast.KindImage, r.renderImage)
	reg.Register(ast.KindHTMLBlock, r.renderRawHTML)
	reg.Register(ast.KindRawHTML, r.renderRawHTML)
}

// urlIsOkay accepts only http and https schemes.
func urlIsOkay(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (r *policyRenderer) renderLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	dest := string(n.Destination)
	if !r.policy.AllowLinks || !urlIsOkay(dest) {
		if entering {
			_, _ = w.WriteString(html.EscapeString(fmt.Sprintf(`<a href="%s">`, dest)))
		} else {
			_, _ = w.WriteString(html.EscapeString("</a>"))
		}
		return ast.WalkContinue, nil
	}
	if entering {
		_, _ = w.WriteString(`<a target="_blank" class="external" href="`)
		_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.Destination, true)))
		_, _ = w.WriteString(`">`)
	} else {
		_, _ = w.WriteString("</a>")
	}
	return ast.WalkContinue, nil
}

func (r *policyRenderer) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.AutoLink)
	dest := string(n.URL(source))
	if !r.policy.AllowLinks || !urlIsOkay(dest) {
		_, _ = w.WriteString(html.EscapeString(dest))
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<a target="_blank" class="external" href="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape([]byte(dest), false)))
	_, _ = w.WriteString(`">`)
	_, _ = w.Write(util.EscapeHTML([]byte(dest)))
	_, _ = w.WriteString("</a>")
	return ast.WalkSkipChildren, nil
}

func (r *policyRenderer) renderImage(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Image)
	dest := string(n.Destination)
	if !r.policy.AllowImages || !urlIsOkay(dest) {
		_, _ = w.WriteString(html.EscapeString(fmt.Sprintf(`<img src="%s" alt="%s">`,
			dest, string(n.Text(source)))))
		return ast.WalkSkipChildren, nil
	}
	_, _ = w.WriteString(`<img src="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.Destination, true)))
	_, _ = w.WriteString(`" alt="`)
	_, _ = w.Write(util.EscapeHTML(n.Text(source)))
	_, _ = w.WriteString(`">`)
	return ast.WalkSkipChildren, nil
}

func (r *policyRenderer) renderRawHTML(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	switch n := node.(type) {
	case *ast.HTMLBlock:
		for i := 0; i < n.Lines().Len(); i++ {
			line := n.Lines().At(i)
			_, _ = w.WriteString(html.EscapeString(string(line.Value(source))))
		}
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			_, _ = w.WriteString(html.EscapeString(string(seg.Value(source))))
		}
	}
	return ast.WalkSkipChildren, nil
}
