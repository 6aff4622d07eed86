// Package meson parses the two small languages giving a deduction's internal
// proof graph: Meson prose scripts and structural arc listings. Both produce
// a Graph of named dummy nodes and ded/flow edges; semantic checks run after
// each dummy node has been bound to the actual entity it names.
package meson

import (
	"fmt"
	"sort"
	"strings"

	"proofmesh/internal/perr"
)

// EdgeType distinguishes deductive from flow edges.
type EdgeType string

const (
	Ded  EdgeType = "ded"
	Flow EdgeType = "flow"
)

// Source says which script type gave rise to a Graph.
type Source int

const (
	FromMeson Source = iota
	FromArcs
)

// Actual is the interface a bound (Proofscape) entity presents to the graph's
// semantic checks.
type Actual interface {
	Libpath() string
	IsModal() bool
	IsSubDeduc() bool
	// GhostOf returns the libpath of the real object when the entity is a
	// ghost node, else "".
	GhostOf() string
	// ParentName returns the local name of the entity's parent, for
	// containment adjacency.
	ParentName() string
}

// Node is a dummy node named in a script.
type Node struct {
	Name   string
	SeqNum int
	Actual Actual
	// FirstOccursInSupposition records whether the first mention followed a
	// modal keyword.
	FirstOccursInSupposition bool
	// DeclaredLocally is set when the node is bound to an entity declared in
	// the deduction itself (not a ghost).
	DeclaredLocally bool
	// nbrNames preserves insertion order for determinism; nbrSet and
	// targetNames are unordered lookups.
	nbrNames    []string
	nbrSet      map[string]bool
	targetNames map[string]bool
	inflowEdge  *Edge
	outflowEdge *Edge
}

func newNode(name string) *Node {
	return &Node{
		Name:        name,
		nbrSet:      map[string]bool{},
		targetNames: map[string]bool{},
	}
}

func (n *Node) addNbr(name string) {
	if !n.nbrSet[name] {
		n.nbrSet[name] = true
		n.nbrNames = append(n.nbrNames, name)
	}
}

func (n *Node) addEdge(e *Edge) {
	if e.Tail == n.Name {
		n.addNbr(e.Head)
		n.targetNames[e.Head] = true
		if e.Type == Flow {
			n.outflowEdge = e
		}
	} else {
		n.addNbr(e.Tail)
		if e.Type == Flow {
			n.inflowEdge = e
		}
	}
}

// isFlowLink reports whether this is a degree-2 node both of whose incident
// edges are flow edges, one incoming, one outgoing.
func (n *Node) isFlowLink() bool {
	return len(n.nbrNames) == 2 && n.inflowEdge != nil && n.outflowEdge != nil
}

// less orders nodes for the outline view: a node at the tail of an arrow
// (deductive or flow) comes before its head; otherwise order of first mention
// wins.
func (n *Node) less(m *Node) bool {
	if n.targetNames[m.Name] {
		return true
	}
	if m.targetNames[n.Name] {
		return false
	}
	return n.SeqNum < m.SeqNum
}

// Edge joins two named nodes.
type Edge struct {
	Tail   string
	Head   string
	Type   EdgeType
	Bridge bool
}

func (e *Edge) String() string {
	arrow := "-->"
	if e.Type == Flow {
		arrow = "..>"
	}
	return fmt.Sprintf("%s %s %s", e.Tail, arrow, e.Head)
}

// DashgraphRep is the serialized form of an edge for the dashgraph.
type DashgraphRep struct {
	Tail   string `json:"tail"`
	Head   string `json:"head"`
	Style  string `json:"style"`
	Bridge bool   `json:"bridge"`
}

// Graph is the node/edge set compiled from a script.
type Graph struct {
	Src   Source
	nodes map[string]*Node
	// nodeOrder preserves creation order.
	nodeOrder []string
	// edges preserves creation order; edgeByDesc and edgesByEndpts are
	// lookups into the same Edge values.
	edges         []*Edge
	edgeByDesc    map[string]*Edge
	edgesByEndpts map[string]map[string]*Edge
	nodeSeqNum    int
}

// NewGraph constructs an empty graph for the given script source.
func NewGraph(src Source) *Graph {
	return &Graph{
		Src:           src,
		nodes:         map[string]*Node{},
		edgeByDesc:    map[string]*Edge{},
		edgesByEndpts: map[string]map[string]*Edge{},
	}
}

// GetNode returns a node by name, or nil.
func (g *Graph) GetNode(name string) *Node {
	return g.nodes[name]
}

// Nodes returns the node map.
func (g *Graph) Nodes() map[string]*Node {
	return g.nodes
}

// NodeNames returns node names in order of first occurrence.
func (g *Graph) NodeNames() []string {
	return g.nodeOrder
}

// Edges returns the edges in creation order.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// CreateNode creates a node, assigning the next sequence number.
func (g *Graph) CreateNode(name string) *Node {
	node := newNode(name)
	node.SeqNum = g.nodeSeqNum
	g.nodeSeqNum++
	g.nodes[name] = node
	g.nodeOrder = append(g.nodeOrder, name)
	return node
}

// CreateEdge creates an edge from tail to head, creating the nodes too if
// they do not already exist.
func (g *Graph) CreateEdge(tail, head string, kind EdgeType) *Edge {
	if g.GetNode(tail) == nil {
		g.CreateNode(tail)
	}
	if g.GetNode(head) == nil {
		g.CreateNode(head)
	}
	e := &Edge{Tail: tail, Head: head, Type: kind}
	g.nodes[tail].addEdge(e)
	g.nodes[head].addEdge(e)
	g.edges = append(g.edges, e)
	g.edgeByDesc[e.String()] = e
	if g.edgesByEndpts[tail] == nil {
		g.edgesByEndpts[tail] = map[string]*Edge{}
	}
	if g.edgesByEndpts[head] == nil {
		g.edgesByEndpts[head] = map[string]*Edge{}
	}
	g.edgesByEndpts[tail][head] = e
	g.edgesByEndpts[head][tail] = e
	return e
}

// DeleteEdge removes an edge from the graph. Fails silently if the edge is
// not found.
func (g *Graph) DeleteEdge(e *Edge) {
	desc := e.String()
	if _, ok := g.edgeByDesc[desc]; !ok {
		return
	}
	delete(g.edgeByDesc, desc)
	for i, other := range g.edges {
		if other == e {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			break
		}
	}
	delete(g.edgesByEndpts[e.Tail], e.Head)
	delete(g.edgesByEndpts[e.Head], e.Tail)
}

// FactorEdgesThroughMethod inserts a method node M for all the given edges:
// the edges are deleted, and if S and T are the sets of their tails and
// heads, the edges (s, M) and (M, t) are formed instead.
func (g *Graph) FactorEdgesThroughMethod(edges []*Edge, methodName string) {
	if g.GetNode(methodName) == nil {
		g.CreateNode(methodName)
	}
	// Ordered sets keep the output deterministic.
	var tails, heads []string
	tailSeen, headSeen := map[string]bool{}, map[string]bool{}
	for _, e := range edges {
		if !tailSeen[e.Tail] {
			tailSeen[e.Tail] = true
			tails = append(tails, e.Tail)
		}
		if !headSeen[e.Head] {
			headSeen[e.Head] = true
			heads = append(heads, e.Head)
		}
		g.DeleteEdge(e)
	}
	for _, s := range tails {
		g.CreateEdge(s, methodName, Ded)
	}
	for _, t := range heads {
		g.CreateEdge(methodName, t, Ded)
	}
}

// String lists the node names in order of first occurrence, then the edges in
// creation order, one per line.
func (g *Graph) String() string {
	var sb strings.Builder
	for _, name := range g.nodeOrder {
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	sb.WriteString(g.ListEdges())
	return sb.String()
}

// ListEdges renders all edges, one per line, in creation order.
func (g *Graph) ListEdges() string {
	var sb strings.Builder
	for _, e := range g.edges {
		sb.WriteString(e.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ListNodesInLogicalOrder orders nodes for the outline view.
func (g *Graph) ListNodesInLogicalOrder() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, name := range g.nodeOrder {
		out = append(out, g.nodes[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].less(out[j])
	})
	return out
}

// BuildEdgeListForDashgraph renders the edges for the dashgraph, by actual
// libpath.
func (g *Graph) BuildEdgeListForDashgraph(suppressFlow bool) []DashgraphRep {
	var out []DashgraphRep
	for _, e := range g.edges {
		if suppressFlow && e.Type == Flow {
			continue
		}
		out = append(out, DashgraphRep{
			Tail:   g.nodes[e.Tail].Actual.Libpath(),
			Head:   g.nodes[e.Head].Actual.Libpath(),
			Style:  string(e.Type),
			Bridge: e.Bridge,
		})
	}
	return out
}

// SemanticCheck performs the checks that become possible only after each
// dummy node has been bound to an actual entity:
//
//	(N1) In Meson scripts, modal nodes declared locally must first occur
//	     after a modal keyword.
//	(N2) Non-modal nodes never occur after modal keywords.
//	(E1) A deductive arrow may not terminate at a subdeduction or a modal node.
//	(E2) At most one outgoing and one incoming flow arrow per node.
//	(E3) At most one arrow between any two nodes.
//	(E4) A target of the deduction may not lie at the tail of an arrow whose
//	     head is inside the deduction.
//	(E5) Every declared target lies at the head of at least one arrow.
//
// targetLibpaths are the libpaths of the deduction's declared targets.
func (g *Graph) SemanticCheck(targetLibpaths []string) error {
	// (I) Node checks.
	for _, name := range g.nodeOrder {
		node := g.nodes[name]
		modal := node.Actual.IsModal()
		if g.Src == FromMeson && modal && node.DeclaredLocally && !node.FirstOccursInSupposition {
			return perr.New(perr.MesonModalWordMissing,
				"Modal nodes must first occur after a modal keyword, but node %q breaks this rule.", name)
		}
		if node.FirstOccursInSupposition && !modal {
			return perr.New(perr.MesonModalMismatch,
				"Only modal nodes may occur after modal keywords, but node %q breaks this rule.", name)
		}
	}

	// (II) Edge checks.
	undeduced := map[string]bool{}
	for _, lp := range targetLibpaths {
		undeduced[lp] = true
	}
	endpairs := map[string]bool{}
	outflow := map[string]bool{}
	inflow := map[string]bool{}
	for _, e := range g.edges {
		head := g.nodes[e.Head].Actual
		tail := g.nodes[e.Tail].Actual
		// (E1)
		if e.Type == Ded && (head.IsSubDeduc() || head.IsModal()) {
			return perr.New(perr.MesonDeducArrowBadTarget,
				"Deduction arrows may not terminate at subdeductions or modal nodes.\nDeduction arrow terminates at %s.\n%s",
				e.Head, g.ListEdges())
		}
		// (E2)
		if e.Type == Flow {
			if outflow[e.Tail] || inflow[e.Head] {
				prob := e.Tail
				if !outflow[e.Tail] {
					prob = e.Head
				}
				return perr.New(perr.MesonExcessFlow,
					"No node may have more than one incoming or outgoing flow arrow.\nNode %s appears to violate this.\n%s",
					prob, g.ListEdges())
			}
			outflow[e.Tail] = true
			inflow[e.Head] = true
		}
		// (E3)
		a, b := e.Tail, e.Head
		if b < a {
			a, b = b, a
		}
		pair := a + "," + b
		if endpairs[pair] {
			return perr.New(perr.MesonExcessArrow,
				"There may be at most one arrow between any two nodes.\nThere appear to be two arrows between the nodes %s and %s.\n%s",
				e.Tail, e.Head, g.ListEdges())
		}
		endpairs[pair] = true
		// (E4) A problem only when the tail lies outside the deduction (a
		// ghost) for one of this deduction's targets, while the head is in
		// the deduction.
		if tail.GhostOf() != "" && head.GhostOf() == "" && contains(targetLibpaths, tail.GhostOf()) {
			return perr.New(perr.MesonDownwardFlowError,
				"A node which is a target of a deduction may not lie at the tail of any arrow with head in that deduction.\nNode %s appears to violate this.\n%s",
				e.Tail, g.ListEdges())
		}
		// Prepare for (E5).
		headLp := head.GhostOf()
		if headLp == "" {
			headLp = head.Libpath()
		}
		delete(undeduced, headLp)
	}
	// (E5)
	if len(undeduced) > 0 {
		var missing []string
		for _, lp := range targetLibpaths {
			if undeduced[lp] {
				missing = append(missing, lp)
			}
		}
		return perr.New(perr.MesonDidNotDeliver,
			"Deduction declared\n    %s\nas targets, but not deduced.", strings.Join(missing, "\n    "))
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, t := range ss {
		if t == s {
			return true
		}
	}
	return false
}

// computeContainmentNbrs computes adjacency with respect to imaginary
// "containment edges" between a node and its parent, when both are named in
// the graph. Only valid after actual nodes have been bound.
func (g *Graph) computeContainmentNbrs() map[string][]string {
	nbrs := map[string][]string{}
	add := func(a, b string) {
		nbrs[a] = append(nbrs[a], b)
	}
	for _, name := range g.nodeOrder {
		node := g.nodes[name]
		parentName := node.Actual.ParentName()
		if _, ok := g.nodes[parentName]; ok && parentName != name {
			add(name, parentName)
			add(parentName, name)
		}
	}
	return nbrs
}

// FindAndMarkBridges locates all bridges in the graph (edges whose deletion
// would disconnect it), treating containment neighbours as additional edges,
// and marks them on each Edge. A DFS computes the depth of first encounter
// and the minimum depth reachable from each vertex without retraversing the
// entry edge; an edge (b, c) is a bridge iff minReach[c] == firstEnc[c].
func (g *Graph) FindAndMarkBridges() []*Edge {
	var bridges []*Edge
	cNbrs := g.computeContainmentNbrs()
	unvisited := map[string]bool{}
	minReach := map[string]int{}
	firstEnc := map[string]int{}
	for _, name := range g.nodeOrder {
		unvisited[name] = true
		minReach[name] = -1
		firstEnc[name] = -1
	}

	var search func(a, b string, depth int)
	search = func(a, b string, depth int) {
		depth++
		minReach[b] = depth
		firstEnc[b] = depth
		// Union of edge neighbours and containment neighbours, deduped.
		nbrs := append([]string{}, g.nodes[b].nbrNames...)
		seen := map[string]bool{}
		for _, c := range nbrs {
			seen[c] = true
		}
		for _, c := range cNbrs[b] {
			if !seen[c] {
				seen[c] = true
				nbrs = append(nbrs, c)
			}
		}
		for _, c := range nbrs {
			if firstEnc[c] < 0 {
				delete(unvisited, c)
				search(b, c, depth)
				if minReach[c] < minReach[b] {
					minReach[b] = minReach[c]
				}
				if minReach[c] == firstEnc[c] {
					if e := g.edgesByEndpts[b][c]; e != nil {
						e.Bridge = true
						bridges = append(bridges, e)
					}
				}
			} else if a != c {
				if firstEnc[c] < minReach[b] {
					minReach[b] = firstEnc[c]
				}
			}
		}
	}

	for _, name := range g.nodeOrder {
		if unvisited[name] {
			delete(unvisited, name)
			search(name, name, 0)
		}
	}
	return bridges
}

// MarkFlowLinkOutsAsBridges marks the outgoing flow edge of every flow-link
// node as a bridge, keeping such edges from being suppressed in layout.
func (g *Graph) MarkFlowLinkOutsAsBridges() []*Edge {
	var marked []*Edge
	for _, name := range g.nodeOrder {
		node := g.nodes[name]
		if node.isFlowLink() {
			node.outflowEdge.Bridge = true
			marked = append(marked, node.outflowEdge)
		}
	}
	return marked
}
