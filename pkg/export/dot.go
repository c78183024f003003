package export

import (
	"fmt"
	"io"

	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/snapshot"
)

// WriteDOT writes snap as a Graphviz DOT digraph. Every nontrivial SCC
// (snap.Metrics.Cycles) becomes its own "cluster_<id>" subgraph so cycles
// are visually grouped; all other nodes and every edge are emitted at the
// top level (spec.md §6, "optional SCC-cluster subgraphs").
func WriteDOT(w io.Writer, snap *snapshot.Snapshot) error {
	paths := sortedNodePaths(snap)

	clustered := make(map[string]int, len(paths))
	for _, c := range snap.Metrics.Cycles {
		for _, m := range c.Members {
			clustered[m.Canonical] = c.SCCID
		}
	}

	if _, err := fmt.Fprintln(w, "digraph dsm {"); err != nil {
		return errs.Wrap(errs.AnalysisError, err, "write DOT header")
	}

	for _, c := range snap.Metrics.Cycles {
		if len(c.Members) < 2 {
			continue
		}

		if _, err := fmt.Fprintf(w, "  subgraph cluster_%d {\n", c.SCCID); err != nil {
			return errs.Wrap(errs.AnalysisError, err, "write DOT cluster header")
		}

		for _, m := range c.Members {
			if _, err := fmt.Fprintf(w, "    %q;\n", m.Canonical); err != nil {
				return errs.Wrap(errs.AnalysisError, err, "write DOT cluster member")
			}
		}

		if _, err := fmt.Fprintln(w, "  }"); err != nil {
			return errs.Wrap(errs.AnalysisError, err, "write DOT cluster footer")
		}
	}

	for _, p := range paths {
		if _, ok := clustered[p]; ok {
			continue
		}

		if _, err := fmt.Fprintf(w, "  %q;\n", p); err != nil {
			return errs.Wrap(errs.AnalysisError, err, "write DOT node")
		}
	}

	for _, e := range snap.Edges {
		if _, err := fmt.Fprintf(w, "  %q -> %q;\n", e.From, e.To); err != nil {
			return errs.Wrap(errs.AnalysisError, err, "write DOT edge")
		}
	}

	if _, err := fmt.Fprintln(w, "}"); err != nil {
		return errs.Wrap(errs.AnalysisError, err, "write DOT footer")
	}

	return nil
}
