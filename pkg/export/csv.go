package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/snapshot"
)

// WriteCSV writes snap as path,fan_out,fan_in,coupling,stability followed by
// the n columns of the binary dependency matrix (row i, column j = 1 iff an
// edge exists from node i to node j), rows and columns in the same sorted
// canonical-path order (spec.md §6).
func WriteCSV(w io.Writer, snap *snapshot.Snapshot) error {
	paths := sortedNodePaths(snap)
	adj := adjacency(snap.Edges)

	cw := csv.NewWriter(w)

	header := make([]string, 0, len(paths)+5)
	header = append(header, "path", "fan_out", "fan_in", "coupling", "stability")
	header = append(header, paths...)

	if err := cw.Write(header); err != nil {
		return errs.Wrap(errs.AnalysisError, err, "write CSV header")
	}

	for _, p := range paths {
		m := snap.Metrics.Nodes[p]

		row := make([]string, 0, len(paths)+5)
		row = append(row,
			p,
			strconv.Itoa(m.FanOut),
			strconv.Itoa(m.FanIn),
			strconv.Itoa(m.Coupling),
			strconv.FormatFloat(m.Stability, 'f', -1, 64),
		)

		for _, col := range paths {
			if _, ok := adj[p][col]; ok {
				row = append(row, "1")
			} else {
				row = append(row, "0")
			}
		}

		if err := cw.Write(row); err != nil {
			return errs.Wrap(errs.AnalysisError, err, "write CSV row for %q", p)
		}
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return errs.Wrap(errs.AnalysisError, err, "flush CSV writer")
	}

	return nil
}
