// Package progress is the optional phase/percent progress observer spec.md
// §9 describes: "the core emits progress only at well-defined phase
// boundaries so observers are trivial." There is no mid-phase streaming;
// pkg/engine reports once per component, when it completes or is skipped.
package progress

// Phase identifies a pipeline stage pkg/engine reports progress for, in
// the order pkg/engine.Pipeline.Run executes them, except PhaseSnapshot,
// which Run reports right after PhaseMetrics.
type Phase int

// The closed set of phases, C2 through C11 plus the cache lookup that
// precedes them.
const (
	PhaseCacheLookup Phase = iota
	PhaseIngest
	PhaseDependencyGraph
	PhaseMetrics
	PhaseRebuildImpact
	PhaseLibraryBoundary
	PhaseSnapshot
	PhaseDiff
	PhaseAdvisor
	PhaseCachePut
	PhaseExport
)

// String names a Phase for logging; unknown phases render as "unknown".
func (p Phase) String() string {
	names := [...]string{
		"cache_lookup", "ingest", "dependency_graph", "metrics",
		"rebuild_impact", "library_boundary", "snapshot", "diff",
		"advisor", "cache_put", "export",
	}

	if int(p) < 0 || int(p) >= len(names) {
		return "unknown"
	}

	return names[p]
}

// Func is the observer callback: phase identifies the pipeline stage, and
// percent is that phase's completion in [0, 100]. pkg/engine reports every
// phase, ingest included, once with percent 100; no phase is reported
// incrementally.
type Func func(phase Phase, percent int)

// Reporter wraps an optional Func so callers never nil-check it themselves.
type Reporter struct {
	fn Func
}

// New wraps fn in a Reporter. A nil fn is valid: Report becomes a no-op.
func New(fn Func) Reporter {
	return Reporter{fn: fn}
}

// Report invokes the wrapped callback, clamping percent to [0, 100].
// A zero-value Reporter (no callback registered) is a safe no-op.
func (r Reporter) Report(phase Phase, percent int) {
	if r.fn == nil {
		return
	}

	if percent < 0 {
		percent = 0
	}

	if percent > 100 {
		percent = 100
	}

	r.fn(phase, percent)
}
