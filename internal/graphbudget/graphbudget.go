// Package graphbudget estimates the memory footprint of a prospective
// include graph and its source closures before it is built (spec.md §5:
// "O(|V|+|E|+Σ|S(T)|)"), and enforces the configured hard ceiling.
//
// Grounded on pkg/budget/model.go's BaseOverhead-plus-linear-scaling
// EstimateMemoryUsage formula and pkg/streaming/detector.go's
// estimatePeakMemory/ShouldStream pair (fixed overhead + per-unit growth,
// checked against a safety-factored budget), both retargeted from git
// history/blob analysis to graph node/edge/closure counts.
package graphbudget

import (
	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/units"
)

// Per-unit size estimates, empirically reasonable for the data this core
// actually holds per unit (a pathnorm.Path plus a gonum node/edge plus one
// dsm.NodeMetrics record per node; one pathnorm.Path per closure entry).
const (
	// BaseOverhead is the fixed Go runtime overhead independent of graph size.
	BaseOverhead = 50 * units.MiB

	// PerNodeBytes covers one gonum graph.Node, one pathindex entry, one
	// pathnorm.Path, and one dsm.NodeMetrics record.
	PerNodeBytes = 512

	// PerEdgeBytes covers one gonum simple.Edge plus its adjacency-map entries
	// in both the forward and reverse direction.
	PerEdgeBytes = 96

	// PerClosureEntryBytes covers one pathnorm.Path value stored once per
	// (TU, included-path) pair across every SourceClosure/InverseIndex entry.
	PerClosureEntryBytes = 64

	// LargeGraphNodeThreshold is the |V| above which Estimate sets
	// LargeGraphWarning (spec.md §5: "|V| > 50,000" is flagged, not fatal).
	LargeGraphNodeThreshold = 50_000
)

// Estimate is the projected memory footprint of a graph plus its closures
// (spec.md §5's O(|V|+|E|+Σ|S(T)|) formula), broken down by contributing
// term so a caller can log which dimension dominates.
type Estimate struct {
	NodeCount      int
	EdgeCount      int
	ClosureEntries int

	Bytes int64

	// LargeGraphWarning is set when NodeCount exceeds LargeGraphNodeThreshold;
	// this never blocks construction (spec.md §5: a warning, not a failure).
	LargeGraphWarning bool
}

// Compute projects the memory footprint of a graph with the given node/edge
// counts and total closure-entry count (Σ over every TU of |S(T)|, the size
// of its source closure).
func Compute(nodeCount, edgeCount, closureEntries int) Estimate {
	bytes := int64(BaseOverhead) +
		int64(nodeCount)*PerNodeBytes +
		int64(edgeCount)*PerEdgeBytes +
		int64(closureEntries)*PerClosureEntryBytes

	return Estimate{
		NodeCount:         nodeCount,
		EdgeCount:         edgeCount,
		ClosureEntries:    closureEntries,
		Bytes:             bytes,
		LargeGraphWarning: nodeCount > LargeGraphNodeThreshold,
	}
}

// Check enforces maxBytes (spec.md §5 / Config.Analysis.MaxGraphMemory). A
// non-positive maxBytes means "no ceiling configured" and always passes.
func Check(est Estimate, maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}

	if est.Bytes > maxBytes {
		return errs.New(errs.ResourceLimit,
			"estimated graph memory %d bytes (nodes=%d edges=%d closure_entries=%d) exceeds configured ceiling %d bytes",
			est.Bytes, est.NodeCount, est.EdgeCount, est.ClosureEntries, maxBytes)
	}

	return nil
}
