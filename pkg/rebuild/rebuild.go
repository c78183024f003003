// Package rebuild is the Rebuild Impact Engine (C5, spec.md §4.4): given a
// set of changed files and a snapshot, computes the exact set of
// translation units that must recompile.
package rebuild

import (
	"context"
	"sync"

	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// Snapshot is the minimal view of an analysis snapshot rebuild.Impact needs:
// the include graph and the header->TUs inverse index. pkg/snapshot.Snapshot
// satisfies this.
type Snapshot interface {
	IncludeGraph() *dsm.Graph
	InverseIndexOf(header string) []pathnorm.Path
	SourceClosureOf(source string) []pathnorm.Path
	Sources() []pathnorm.Path
}

// Result is the output of Impact.
type Result struct {
	// Direct is the step-4 rebuild set: TUs whose inclusion set directly
	// contains a changed header, plus any changed source TUs themselves.
	Direct []pathnorm.Path
	// Closure is the step-6 rebuild set: Direct re-expanded through the
	// header->header transitive-ancestor closure. Always a superset of
	// Direct.
	Closure []pathnorm.Path
	// DirectPercent = |Direct| / |TU universe|.
	DirectPercent float64
	// ClosurePercent = |Closure| / |TU universe|.
	ClosurePercent float64
}

// Impact computes the rebuild impact of changed files against snap
// (spec.md §4.4). Per-changed-header lookups run concurrently (spec.md §5
// region 4); the final result is a sorted set-union reduction.
func Impact(ctx context.Context, changed []pathnorm.Path, snap Snapshot) (*Result, error) {
	universe := snap.Sources()

	sourceSet := make(map[string]bool, len(universe))
	for _, s := range universe {
		sourceSet[s.Canonical] = true
	}

	var changedSources, changedHeaders []pathnorm.Path

	for _, c := range changed {
		if sourceSet[c.Canonical] {
			changedSources = append(changedSources, c)
		} else {
			changedHeaders = append(changedHeaders, c)
		}
	}

	directSet := make(map[string]pathnorm.Path, len(changedSources))
	for _, s := range changedSources {
		directSet[s.Canonical] = s
	}

	directPerHeader := parallelLookup(ctx, changedHeaders, snap.InverseIndexOf)

	for _, tus := range directPerHeader {
		for _, tu := range tus {
			directSet[tu.Canonical] = tu
		}
	}

	direct := setToSortedSlice(directSet)

	closureHeaders := expandAncestorClosure(snap.IncludeGraph(), changedHeaders)

	closureSet := make(map[string]pathnorm.Path, len(directSet))
	for k, v := range directSet {
		closureSet[k] = v
	}

	closurePerHeader := parallelLookup(ctx, closureHeaders, snap.InverseIndexOf)

	for _, tus := range closurePerHeader {
		for _, tu := range tus {
			closureSet[tu.Canonical] = tu
		}
	}

	closure := setToSortedSlice(closureSet)

	universeSize := len(universe)

	return &Result{
		Direct:         direct,
		Closure:        closure,
		DirectPercent:  percentOf(len(direct), universeSize),
		ClosurePercent: percentOf(len(closure), universeSize),
	}, nil
}

func percentOf(count, universe int) float64 {
	if universe == 0 {
		return 0
	}

	return float64(count) / float64(universe)
}

func setToSortedSlice(set map[string]pathnorm.Path) []pathnorm.Path {
	out := make([]pathnorm.Path, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}

	return pathnorm.SortPaths(out)
}

// parallelLookup runs lookup(h) concurrently for every header in headers and
// collects results into a slice ordered by header canonical path
// (spec.md §5 region 4: "per-changed-header lookup is independent").
func parallelLookup(_ context.Context, headers []pathnorm.Path, lookup func(string) []pathnorm.Path) [][]pathnorm.Path {
	out := make([][]pathnorm.Path, len(headers))

	var wg sync.WaitGroup

	wg.Add(len(headers))

	for i, h := range headers {
		go func(i int, h pathnorm.Path) {
			defer wg.Done()

			out[i] = lookup(h.Canonical)
		}(i, h)
	}

	wg.Wait()

	return out
}

// expandAncestorClosure computes, for each changed header H, {H} union the
// set of headers that transitively include H (spec.md §4.4 step 6: "H'
// reaches H in the include graph"). Since an edge u->v means "u includes v",
// H' reaches H via a forward path H'->...->H, so the closure is H's ancestor
// set — found by walking predecessor edges (g.Underlying().To) from H.
func expandAncestorClosure(g *dsm.Graph, headers []pathnorm.Path) []pathnorm.Path {
	seen := make(map[string]pathnorm.Path)

	for _, h := range headers {
		seen[h.Canonical] = h

		id, ok := g.Index().Lookup(h.Canonical)
		if !ok {
			continue
		}

		visited := map[int64]bool{id: true}
		queue := []int64{id}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			predNodes := g.Underlying().To(cur)
			for predNodes.Next() {
				pred := predNodes.Node().ID()
				if visited[pred] {
					continue
				}

				visited[pred] = true
				queue = append(queue, pred)

				if p, ok := g.Path(pred); ok {
					seen[p.Canonical] = p
				}
			}
		}
	}

	return setToSortedSlice(seen)
}
