// Package export renders a Snapshot (C7) into the on-disk formats spec.md
// §6 names: CSV (the metrics table plus the binary dependency matrix),
// GraphML and GEXF (node-attributed graphs for external graph tools), DOT
// (SCC-clustered for Graphviz), and JSON (the full snapshot). Every writer
// iterates canonical-path-sorted keys so output is byte-identical across
// runs regardless of goroutine or map-iteration order, satisfying spec.md
// §8's round-trip/idempotence laws.
package export

import (
	"sort"

	"github.com/dsmforge/dsm/pkg/snapshot"
)

// adjacency builds a from->to membership set from a sorted edge list, for
// O(1) matrix-cell lookups during CSV rendering.
func adjacency(edges []snapshot.Edge) map[string]map[string]struct{} {
	adj := make(map[string]map[string]struct{}, len(edges))

	for _, e := range edges {
		row, ok := adj[e.From]
		if !ok {
			row = make(map[string]struct{})
			adj[e.From] = row
		}

		row[e.To] = struct{}{}
	}

	return adj
}

// sortedNodePaths returns snap's node canonical paths, already sorted by
// snapshot.New but re-sorted defensively so every exporter's determinism
// does not depend on that upstream invariant holding.
func sortedNodePaths(snap *snapshot.Snapshot) []string {
	paths := make([]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		paths[i] = n.Canonical
	}

	sort.Strings(paths)

	return paths
}
