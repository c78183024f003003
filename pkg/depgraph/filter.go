package depgraph

import (
	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// FilterSystemHeaders rebuilds g without any node classified ClassSystem,
// unless includeSystem is true. Filtering runs after closures are computed
// (Result.SourceClosure/InverseIndex are untouched) so that transitive paths
// threading through system headers remain visible on the source-TU side —
// only the header->header IncludeGraph used for DSM metrics is pruned
// (spec.md §4.3 invariant).
func FilterSystemHeaders(g *dsm.Graph, includeSystem bool) *dsm.Graph {
	if includeSystem {
		return g
	}

	out := dsm.NewGraph()

	for _, id := range g.SortedNodeIDs() {
		p, _ := g.Path(id)
		if p.Class != pathnorm.ClassSystem {
			out.AddNode(p)
		}
	}

	for _, id := range g.SortedNodeIDs() {
		from, _ := g.Path(id)
		if from.Class == pathnorm.ClassSystem {
			continue
		}

		toNodes := g.Underlying().From(id)
		for toNodes.Next() {
			to, ok := g.Path(toNodes.Node().ID())
			if ok && to.Class != pathnorm.ClassSystem {
				out.AddEdge(from, to)
			}
		}
	}

	return out
}
