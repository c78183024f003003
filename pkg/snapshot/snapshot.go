// Package snapshot is the Snapshot Serializer (C7, spec.md §3 "Snapshot",
// §4.8). A Snapshot is the versioned, immutable aggregate produced by one
// analysis run: the include graph, the source-to-deps closure and its
// inverse, the DSM metrics, and enough identity/filter metadata to validate
// a later diff or reload against it.
package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// BuildDirIdentity identifies the Ninja build directory a Snapshot was
// created from: its path plus a 64-bit hash of build.ninja's canonical
// contents (spec.md §4.8), so Load can detect a stale cache or baseline
// pointed at a different build tree.
type BuildDirIdentity struct {
	Path      string
	NinjaHash uint64
}

// Diagnostics carries the non-fatal counters spec.md §4.11 requires every
// snapshot to report rather than abort on: skipped scanner rules, dropped
// paths, and centrality quality flags.
type Diagnostics struct {
	ParseErrors         int
	PathErrors          int
	CentralityConverged bool
	BetweennessSampled  bool
}

// Edge is a serializable directed edge between two canonical paths.
type Edge struct {
	From string
	To   string
}

// Snapshot is the full result of one analysis run (spec.md §3). It is
// immutable once constructed; multiple readers may share one without
// locking (spec.md §5, "Shared-resource policy").
type Snapshot struct {
	FormatVersion    int
	ToolVersion      string
	CreatedAt        time.Time
	ProjectRootAtSave string
	BuildDir         BuildDirIdentity
	Filter           pathnorm.FilterSpec
	Precise          bool

	// Nodes and Edges are the serializable form of the include graph; Graph
	// lazily rebuilds a *dsm.Graph from them and caches it, since dsm.Graph
	// itself holds unexported gonum/pathindex state gob cannot walk.
	Nodes []pathnorm.Path
	Edges []Edge

	// SourceClosure maps a TU's canonical path to its full inclusion set;
	// InverseIndex is its inverse (header -> TUs that include it), the
	// index C5's rebuild impact engine reads directly.
	SourceClosure map[string][]pathnorm.Path
	InverseIndex  map[string][]pathnorm.Path
	TUs           []pathnorm.Path

	Metrics *dsm.Metrics

	Diagnostics Diagnostics

	graph     *dsm.Graph
	graphOnce sync.Once
}

// Graph rebuilds (and caches) the *dsm.Graph backing this snapshot from its
// serializable Nodes/Edges. Safe to call repeatedly; the graph is built
// once per in-memory Snapshot value.
func (s *Snapshot) Graph() *dsm.Graph {
	s.graphOnce.Do(func() {
		if s.graph != nil {
			return
		}

		g := dsm.NewGraph()

		for _, n := range s.Nodes {
			g.AddNode(n)
		}

		for _, e := range s.Edges {
			g.AddEdge(pathnorm.Path{Canonical: e.From}, pathnorm.Path{Canonical: e.To})
		}

		s.graph = g
	})

	return s.graph
}

// IncludeGraph satisfies pkg/rebuild.Snapshot.
func (s *Snapshot) IncludeGraph() *dsm.Graph { return s.Graph() }

// InverseIndexOf satisfies pkg/rebuild.Snapshot.
func (s *Snapshot) InverseIndexOf(header string) []pathnorm.Path { return s.InverseIndex[header] }

// SourceClosureOf satisfies pkg/rebuild.Snapshot.
func (s *Snapshot) SourceClosureOf(source string) []pathnorm.Path { return s.SourceClosure[source] }

// Sources satisfies pkg/rebuild.Snapshot: the full TU universe.
func (s *Snapshot) Sources() []pathnorm.Path { return s.TUs }

// BuildInput is everything New needs to assemble a Snapshot from the
// upstream components (C2/C3/C4).
type BuildInput struct {
	ProjectRoot   string
	BuildDir      BuildDirIdentity
	Filter        pathnorm.FilterSpec
	Precise       bool
	Graph         *dsm.Graph
	SourceClosure map[string][]pathnorm.Path
	InverseIndex  map[string][]pathnorm.Path
	TUs           []pathnorm.Path
	Metrics       *dsm.Metrics
	Diagnostics   Diagnostics
	ToolVersion   string
	CreatedAt     time.Time
}

// New assembles a Snapshot from the outputs of C2-C4.
func New(in BuildInput) *Snapshot {
	ids := in.Graph.SortedNodeIDs()

	nodes := make([]pathnorm.Path, 0, len(ids))
	for _, id := range ids {
		p, ok := in.Graph.Path(id)
		if ok {
			nodes = append(nodes, p)
		}
	}

	var edges []Edge

	it := in.Graph.Underlying().Edges()
	for it.Next() {
		e := it.Edge()

		from, okFrom := in.Graph.Path(e.From().ID())
		to, okTo := in.Graph.Path(e.To().ID())

		if okFrom && okTo {
			edges = append(edges, Edge{From: from.Canonical, To: to.Canonical})
		}
	}

	sortEdges(edges)

	return &Snapshot{
		FormatVersion:     CurrentFormatVersion,
		ToolVersion:       in.ToolVersion,
		CreatedAt:         in.CreatedAt,
		ProjectRootAtSave: in.ProjectRoot,
		BuildDir:          in.BuildDir,
		Filter:            in.Filter,
		Precise:           in.Precise,
		Nodes:             nodes,
		Edges:             edges,
		SourceClosure:     in.SourceClosure,
		InverseIndex:      in.InverseIndex,
		TUs:               pathnorm.SortPaths(append([]pathnorm.Path(nil), in.TUs...)),
		Metrics:           in.Metrics,
		Diagnostics:       in.Diagnostics,
		graph:             in.Graph,
	}
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}

		return edges[i].To < edges[j].To
	})
}
