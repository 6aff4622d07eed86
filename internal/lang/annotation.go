package lang

import (
	"strings"

	"proofmesh/internal/lang/freestrings"
	"proofmesh/internal/lang/pfsc"
	"proofmesh/internal/libpath"
	"proofmesh/internal/perr"
)

// Annotation is a markdown document embedding widgets.
type Annotation struct {
	base
	Decl   *pfsc.AnnoDecl
	Module *Module

	// TargetPaths await resolution.
	TargetPaths []pfsc.PathRef
	// Targets are the resolved entities this annotation enriches.
	Targets []Entity
	// TargetVersion is the full version the targets are pinned at.
	TargetVersion string

	// Chunks is the annotation text split into text runs and widget stubs.
	Chunks []freestrings.Chunk
	// widgets by name, ordered by document position.
	widgets     map[string]*Widget
	widgetOrder []string
}

func newAnnotation(m *Module, decl *pfsc.AnnoDecl) (*Annotation, error) {
	a := &Annotation{
		Decl:        decl,
		Module:      m,
		TargetPaths: decl.Targets,
		widgets:     map[string]*Widget{},
	}
	a.base.name = decl.Name
	a.base.parent = m
	chunks, err := freestrings.SplitOnWidgets(decl.Text)
	if err != nil {
		return nil, perr.Wrap(perr.ParsingError, err, "in annotation %s", a.GetLibpath())
	}
	a.Chunks = chunks
	for _, ch := range chunks {
		if ch.Widget == nil {
			continue
		}
		w, err := newWidget(a, ch.Widget)
		if err != nil {
			return nil, err
		}
		if _, exists := a.widgets[w.GetName()]; exists {
			return nil, perr.New(perr.ParsingError,
				"widget name %q used twice in annotation %s", w.GetName(), a.GetLibpath())
		}
		a.widgets[w.GetName()] = w
		a.widgetOrder = append(a.widgetOrder, w.GetName())
	}
	return a, nil
}

// GetLibpath implements Entity.
func (a *Annotation) GetLibpath() libpath.Libpath {
	return libpathUnder(a.parent, a.name)
}

// GetIndexType implements Entity.
func (a *Annotation) GetIndexType() IndexType { return IndexAnno }

// Widget returns a widget by name, or nil.
func (a *Annotation) Widget(name string) *Widget {
	return a.widgets[name]
}

// Widgets returns the annotation's widgets in document order.
func (a *Annotation) Widgets() []*Widget {
	out := make([]*Widget, 0, len(a.widgetOrder))
	for _, name := range a.widgetOrder {
		out = append(out, a.widgets[name])
	}
	return out
}

// RecursiveItemVisit implements Entity.
func (a *Annotation) RecursiveItemVisit(visit func(Entity) bool) bool {
	if !visit(a) {
		return false
	}
	for _, name := range a.widgetOrder {
		if !visit(a.widgets[name]) {
			return false
		}
	}
	return true
}

// WidgetsInDependencyOrder returns the widgets topologically sorted so that
// every widget follows the widgets it depends on (e.g. disp on param).
func (a *Annotation) WidgetsInDependencyOrder() ([]*Widget, error) {
	type state int
	const (
		unvisited state = iota
		visiting
		done
	)
	states := map[string]state{}
	var out []*Widget
	var visit func(w *Widget) error
	visit = func(w *Widget) error {
		switch states[w.GetName()] {
		case done:
			return nil
		case visiting:
			return perr.New(perr.ParsingError,
				"widget dependency cycle involving %s", w.GetLibpath())
		}
		states[w.GetName()] = visiting
		for _, dep := range w.dependencyNames() {
			if d := a.widgets[dep]; d != nil {
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		states[w.GetName()] = done
		out = append(out, w)
		return nil
	}
	for _, name := range a.widgetOrder {
		if err := visit(a.widgets[name]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Widget is a stateful, structured reference embedded in an annotation.
type Widget struct {
	base
	Anno *Annotation
	Type freestrings.WidgetType
	// Label is the raw label text from the stub.
	Label string
	// Data is the parsed data part.
	Data *pfsc.Value
	// ResolvedRefs maps data fields that were libpath values to their
	// resolved absolute libpaths.
	ResolvedRefs map[string]string
}

func newWidget(a *Annotation, stub *freestrings.WidgetStub) (*Widget, error) {
	w := &Widget{
		Anno:         a,
		Type:         stub.Type,
		Label:        stub.Label,
		ResolvedRefs: map[string]string{},
	}
	w.base.name = stub.Name
	w.base.parent = a
	if strings.TrimSpace(stub.RawData) != "" {
		data, err := pfsc.ParseValue(stub.RawData)
		if err != nil {
			return nil, perr.Wrap(perr.MalformedJSON, err,
				"bad data for widget %s (line %d)", w.GetLibpath(), stub.Line)
		}
		w.Data = data
	}
	return w, nil
}

// GetLibpath implements Entity.
func (w *Widget) GetLibpath() libpath.Libpath {
	return libpathUnder(w.parent, w.name)
}

// GetIndexType implements Entity.
func (w *Widget) GetIndexType() IndexType { return IndexWidget }

// RecursiveItemVisit implements Entity.
func (w *Widget) RecursiveItemVisit(visit func(Entity) bool) bool {
	return visit(w)
}

// UID returns the widget's generated unique id for a full version string.
func (w *Widget) UID(fullVersion string) string {
	pathPart := strings.ReplaceAll(w.GetLibpath().String(), ".", "-")
	versPart := strings.ReplaceAll(fullVersion, ".", "_")
	return pathPart + "_" + versPart
}

// PaneGroup returns the widget's pane-group identifier: widgets sharing a
// group name within an annotation drive the same pane.
func (w *Widget) PaneGroup(fullVersion string) string {
	group := ""
	if v := w.Data.Get("group"); v != nil {
		group = v.AsString()
	}
	return w.Anno.Module.Repopath.String() + "@" + fullVersion + ":" +
		w.Anno.GetLibpath().String() + ":" + group
}

// IsNavWidget reports whether the widget navigates a pane (chart, doc, pdf).
func (w *Widget) IsNavWidget() bool {
	switch w.Type {
	case freestrings.WidgetChart, freestrings.WidgetDoc, freestrings.WidgetPdf:
		return true
	}
	return false
}

// dependencyNames lists names of sibling widgets this widget depends on,
// drawn from libpath values in its data that resolve within the annotation.
func (w *Widget) dependencyNames() []string {
	var deps []string
	annoPath := w.Anno.GetLibpath().String()
	var scan func(v *pfsc.Value)
	scan = func(v *pfsc.Value) {
		if v == nil {
			return
		}
		switch v.Kind {
		case pfsc.LibpathValue:
			// A bare sibling-widget name, or a path through the annotation.
			if _, ok := w.Anno.widgets[v.Path]; ok && v.Path != w.GetName() {
				deps = append(deps, v.Path)
			} else if strings.HasPrefix(v.Path, annoPath+".") {
				name := strings.TrimPrefix(v.Path, annoPath+".")
				if _, ok := w.Anno.widgets[name]; ok && name != w.GetName() {
					deps = append(deps, name)
				}
			}
		case pfsc.ListValue:
			for _, item := range v.List {
				scan(item)
			}
		case pfsc.MapValue:
			for _, k := range v.Keys {
				scan(v.Map[k])
			}
		}
	}
	scan(w.Data)
	return deps
}

// WriteHTML renders the widget's stub replacement.
func (w *Widget) WriteHTML(label, fullVersion string) string {
	if w.Type == freestrings.WidgetCtl {
		// Control widgets configure the rendering and emit nothing.
		return ""
	}
	uid := w.UID(fullVersion)
	class := string(w.Type) + "Widget"
	return `<a class="widget ` + class + `" href="#" id="` + uid + `">` + label + `</a>`
}
