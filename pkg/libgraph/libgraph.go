package libgraph

import (
	"io"
	"path"
	"strings"

	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// versionSuffixMarker is the point after which a shared-library filename's
// trailing ".N.N.N" SONAME version is stripped (e.g. "libfoo.so.1.2.3" ->
// "libfoo.so").
const versionSuffixMarker = ".so"

// Graph is the parsed library/executable link-graph: nodes are logical
// library or executable names, edges are order-only link dependencies
// (spec.md §4.7: "extracting order-only dependencies as edges"). It reuses
// dsm.Graph (and, via Analyze, the whole dsm.Compute engine) rather than a
// second graph representation, since a library graph is structurally the
// same thing as an include graph: a set of named nodes with directed
// dependency edges.
type Graph struct {
	DSM   *dsm.Graph
	Kinds map[string]Kind // logical name -> Kind
}

// ParseNinja scans r for build statements matching one of rules' rule names
// and returns the resulting library/executable dependency Graph.
func ParseNinja(r io.Reader, rules RuleNames) (*Graph, error) {
	statements, err := scanBuildStatements(r)
	if err != nil {
		return nil, err
	}

	kindOfTarget := make(map[string]Kind)
	logicalOfTarget := make(map[string]string)

	var entries []buildStatement

	for _, st := range statements {
		kind, ok := rules.kindOf(st.rule)
		if !ok {
			continue
		}

		for _, out := range st.outputs {
			kindOfTarget[out] = kind
			logicalOfTarget[out] = inferLibraryName(out, kind)
		}

		entries = append(entries, st)
	}

	g := dsm.NewGraph()
	kinds := make(map[string]Kind, len(logicalOfTarget))

	for _, st := range entries {
		for _, out := range st.outputs {
			kind := kindOfTarget[out]
			name := logicalOfTarget[out]

			kinds[name] = kind
			g.AddNode(pathnorm.Path{Canonical: name, Class: pathnorm.ClassProject})

			for _, dep := range st.orderOnly {
				depKind, known := kindOfTarget[dep]
				if !known {
					// Order-only deps that aren't themselves a link-rule output
					// (a generated header, a codegen stamp file) don't denote a
					// library dependency — spec.md §4.7 scopes edges to
					// library->library and executable->library only.
					continue
				}

				depName := logicalOfTarget[dep]
				kinds[depName] = depKind

				g.AddEdge(
					pathnorm.Path{Canonical: name, Class: pathnorm.ClassProject},
					pathnorm.Path{Canonical: depName, Class: pathnorm.ClassProject},
				)
			}
		}
	}

	return &Graph{DSM: g, Kinds: kinds}, nil
}

// inferLibraryName strips a target filename down to its logical library
// name: drop the directory, strip a trailing SONAME version, strip the
// "lib" prefix and ".a"/".so" extension. Executable targets keep their base
// filename as-is (spec.md §4.7: "inference of a library's logical name from
// the target filename by stripping prefix/suffix according to a fixed
// list" — executables have nothing in that list to strip).
func inferLibraryName(target string, kind Kind) string {
	base := path.Base(filepathToSlash(target))

	if kind == KindExecutable {
		return base
	}

	base = stripSONAMEVersion(base)

	for _, suf := range []string{".a", ".so"} {
		if idx := strings.Index(base, suf); idx >= 0 {
			base = base[:idx]
			break
		}
	}

	return strings.TrimPrefix(base, "lib")
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func stripSONAMEVersion(name string) string {
	idx := strings.Index(name, versionSuffixMarker)
	if idx < 0 {
		return name
	}

	end := idx + len(versionSuffixMarker)
	if end >= len(name) || name[end] != '.' {
		return name
	}

	return name[:end]
}

// Report is the per-library/executable analysis record spec.md §4.7 asks
// for: fan-in, fan-out, depth (longest path to a sink), cycle membership,
// and transitive dependents.
type Report struct {
	Name                 string
	Kind                 Kind
	FanIn                int
	FanOut               int
	Depth                int
	SCCID                int
	InCycle              bool
	TransitiveDependents []pathnorm.Path
}

// Analyze runs dsm.Compute over g.DSM and assembles the per-library Report
// list. Depth reuses dsm.NodeMetrics.Layer directly: a library with no
// further link dependencies sits at layer/depth 0, and everything that
// depends on it stacks up above it — exactly "longest path to a sink"
// (spec.md §4.7), the same semantics C4 already computes for header layers.
// Cycle detection reuses dsm.Compute's SCC pass rather than a second
// Tarjan's-algorithm implementation.
func Analyze(g *Graph, cfg dsm.AnalysisConfig) ([]Report, []dsm.Cycle, error) {
	metrics, err := dsm.Compute(g.DSM, cfg)
	if err != nil {
		return nil, nil, err
	}

	inCycle := make(map[string]bool)

	for _, c := range metrics.Cycles {
		for _, m := range c.Members {
			inCycle[m.Canonical] = true
		}
	}

	ids := g.DSM.SortedNodeIDs()
	reports := make([]Report, 0, len(ids))

	for _, id := range ids {
		p, _ := g.DSM.Path(id)
		nm := metrics.Nodes[p.Canonical]

		reports = append(reports, Report{
			Name:                 p.Canonical,
			Kind:                 g.Kinds[p.Canonical],
			FanIn:                nm.FanIn,
			FanOut:               nm.FanOut,
			Depth:                nm.Layer,
			SCCID:                nm.SCCID,
			InCycle:              inCycle[p.Canonical],
			TransitiveDependents: TransitiveDependents(g.DSM, p.Canonical),
		})
	}

	return reports, metrics.Cycles, nil
}

// TransitiveDependents returns every node that transitively depends on name
// (a BFS over predecessor edges: an edge u->v means "u depends on v", so the
// nodes that transitively depend on v are v's ancestors).
func TransitiveDependents(g *dsm.Graph, name string) []pathnorm.Path {
	id, ok := g.Index().Lookup(name)
	if !ok {
		return nil
	}

	visited := map[int64]bool{id: true}
	queue := []int64{id}

	var out []pathnorm.Path

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		preds := g.Underlying().To(cur)
		for preds.Next() {
			pred := preds.Node().ID()
			if visited[pred] {
				continue
			}

			visited[pred] = true
			queue = append(queue, pred)

			if p, ok := g.Path(pred); ok {
				out = append(out, p)
			}
		}
	}

	return pathnorm.SortPaths(out)
}
