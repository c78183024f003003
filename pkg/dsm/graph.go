// Package dsm is the DSM Metric Engine (C4, spec.md §4.2): per-node and
// matrix-wide metrics over an IncludeGraph — fan-in/out, stability, layering,
// SCCs, minimum feedback arc sets, PageRank, and betweenness centrality.
//
// Graph wraps gonum.org/v1/gonum/graph/simple.DirectedGraph, grounded on the
// gonum usage pattern in the vanderheijden86-beadwork dependency analyzer
// retrieved alongside this repo: a simple.DirectedGraph plus a string<->ID
// map (here internal/pathindex) bridging domain identity to gonum's integer
// node IDs.
package dsm

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/dsmforge/dsm/internal/pathindex"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// Graph is a directed header/source include graph whose nodes are
// pathnorm.Path values, backed by a gonum simple.DirectedGraph so gonum's
// topo.TarjanSCC and network.Betweenness operate on it directly.
type Graph struct {
	g     *simple.DirectedGraph
	index *pathindex.Index
	paths map[int64]pathnorm.Path
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		g:     simple.NewDirectedGraph(),
		index: pathindex.New(),
		paths: make(map[int64]pathnorm.Path),
	}
}

// Underlying returns the gonum graph backing g, for algorithms in this
// package and tests that need direct gonum API access.
func (g *Graph) Underlying() *simple.DirectedGraph { return g.g }

// Index returns the path<->ID interner backing g.
func (g *Graph) Index() *pathindex.Index { return g.index }

// AddNode ensures p has a node in the graph, returning its gonum node ID.
// Idempotent: re-adding the same path is a no-op beyond returning its ID.
func (g *Graph) AddNode(p pathnorm.Path) int64 {
	id := g.index.Intern(p.Canonical)

	if _, ok := g.paths[id]; !ok {
		g.paths[id] = p
		g.g.AddNode(simple.Node(id))
	}

	return id
}

// AddEdge adds a directed edge from->to, first ensuring both endpoints are
// nodes. Self-loops are rejected (IncludeGraph invariant, spec.md §3);
// parallel edges collapse automatically since gonum's SetEdge replaces any
// existing edge between the same ordered pair.
func (g *Graph) AddEdge(from, to pathnorm.Path) {
	u := g.AddNode(from)
	v := g.AddNode(to)

	if u == v {
		return
	}

	g.g.SetEdge(g.g.NewEdge(simple.Node(u), simple.Node(v)))
}

// HasEdge reports whether an edge from->to exists.
func (g *Graph) HasEdge(from, to pathnorm.Path) bool {
	u, ok1 := g.index.Lookup(from.Canonical)
	v, ok2 := g.index.Lookup(to.Canonical)

	if !ok1 || !ok2 {
		return false
	}

	return g.g.HasEdgeFromTo(u, v)
}

// Path returns the Path for a gonum node ID.
func (g *Graph) Path(id int64) (pathnorm.Path, bool) {
	p, ok := g.paths[id]

	return p, ok
}

// NodeCount returns |V|.
func (g *Graph) NodeCount() int { return g.g.Nodes().Len() }

// EdgeCount returns |E|.
func (g *Graph) EdgeCount() int { return g.g.Edges().Len() }

// SortedNodeIDs returns every node ID in the graph, ordered by canonical
// path (spec.md §4.2 determinism: "all iteration orders are defined by
// sorted canonical paths").
func (g *Graph) SortedNodeIDs() []int64 {
	ids := make([]int64, 0, len(g.paths))
	for id := range g.paths {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return g.paths[ids[i]].Canonical < g.paths[ids[j]].Canonical
	})

	return ids
}

// FanIn returns |{u : (u,v) in E}| for the node with id v.
func (g *Graph) FanIn(v int64) int {
	return g.g.To(v).Len()
}

// FanOut returns |{w : (v,w) in E}| for the node with id v.
func (g *Graph) FanOut(v int64) int {
	return g.g.From(v).Len()
}
