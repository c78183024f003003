// Package depgraph is the Dependency Graph Builder (C3, spec.md §4.3): it
// turns per-TU inclusion sets into the header->header IncludeGraph, a
// source-to-closure index, and its inverse (used by C5's rebuild impact).
package depgraph

import (
	"sort"

	"github.com/dsmforge/dsm/pkg/alg/cms"
	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// Result is the output of Build.
type Result struct {
	Include       *dsm.Graph
	Precise       bool
	SourceClosure map[string][]pathnorm.Path
	InverseIndex  map[string][]pathnorm.Path
}

// Config tunes the co-occurrence proxy's memory/time tradeoff.
type Config struct {
	// CMSProxyThreshold is the inclusion-set size above which the exact
	// O(|S|^2) pairwise tally is replaced by a count-min sketch (spec.md
	// SPEC_FULL §5 default: 2000).
	CMSProxyThreshold int
	// CMSMinObservedCount is the minimum CMS-estimated co-occurrence count
	// required to retain an edge when the sketch path is used.
	CMSMinObservedCount int64
	// CMSEpsilon/CMSDelta size the sketch (standard error-bound params).
	CMSEpsilon, CMSDelta float64
}

// DefaultConfig returns SPEC_FULL.md's defaults.
func DefaultConfig() Config {
	return Config{
		CMSProxyThreshold:   2000,
		CMSMinObservedCount: 1,
		CMSEpsilon:          0.001,
		CMSDelta:            0.01,
	}
}

// DirectDeps optionally supplies scanner-reported directness: TU -> the
// headers it directly includes (as opposed to its full transitive set).
// When non-nil, Build takes these as precise edges rather than running the
// co-occurrence proxy (spec.md §4.3).
type DirectDeps map[string][]pathnorm.Path

// Build constructs a Result from sourceToDeps (TU -> full inclusion set, as
// produced by pkg/scanin). direct, if non-nil, supplies precise
// TU-directly-includes-header edges; absent that, the co-occurrence proxy is
// used and Result.Precise is false.
func Build(sourceToDeps map[pathnorm.Path][]pathnorm.Path, direct DirectDeps, cfg Config) *Result {
	g := dsm.NewGraph()

	sources := sortedKeys(sourceToDeps)

	sourceClosure := make(map[string][]pathnorm.Path, len(sources))
	inverse := make(map[string][]pathnorm.Path)

	for _, src := range sources {
		deps := sourceToDeps[src]
		sourceClosure[src.Canonical] = deps

		for _, h := range deps {
			inverse[h.Canonical] = append(inverse[h.Canonical], src)
		}
	}

	for h, srcs := range inverse {
		pathnorm.SortPaths(srcs)
		inverse[h] = srcs
	}

	precise := direct != nil

	if precise {
		buildPreciseGraph(g, direct)
	} else {
		buildCoOccurrenceGraph(g, sources, sourceToDeps, cfg)
	}

	return &Result{
		Include:       g,
		Precise:       precise,
		SourceClosure: sourceClosure,
		InverseIndex:  inverse,
	}
}

func buildPreciseGraph(g *dsm.Graph, direct DirectDeps) {
	targets := make([]string, 0, len(direct))
	for t := range direct {
		targets = append(targets, t)
	}

	sort.Strings(targets)

	for _, t := range targets {
		from := pathnorm.Path{Canonical: t}

		deps := append([]pathnorm.Path(nil), direct[t]...)
		pathnorm.SortPaths(deps)

		for _, to := range deps {
			g.AddEdge(from, to)
		}
	}
}

// buildCoOccurrenceGraph implements spec.md §4.3's heuristic: for each TU's
// inclusion set S, every ordered pair (u,v) with u,v in S, u!=v, is recorded
// as a co-occurrence and becomes a header->header edge. This is not a
// substitute for precise includes — the result is always reported with
// Precise=false and exported text calls it "co-occurrence-derived".
func buildCoOccurrenceGraph(g *dsm.Graph, sources []pathnorm.Path, sourceToDeps map[pathnorm.Path][]pathnorm.Path, cfg Config) {
	small, large := partitionBySize(sources, sourceToDeps, cfg.CMSProxyThreshold)

	for _, src := range small {
		deps := sourceToDeps[src]
		for _, u := range deps {
			for _, v := range deps {
				if u.Canonical != v.Canonical {
					g.AddEdge(u, v)
				}
			}
		}
	}

	if len(large) == 0 {
		return
	}

	buildCoOccurrenceGraphApprox(g, large, sourceToDeps, cfg)
}

func partitionBySize(sources []pathnorm.Path, sourceToDeps map[pathnorm.Path][]pathnorm.Path, threshold int) (small, large []pathnorm.Path) {
	for _, src := range sources {
		if len(sourceToDeps[src]) > threshold {
			large = append(large, src)
		} else {
			small = append(small, src)
		}
	}

	return small, large
}

// buildCoOccurrenceGraphApprox bounds the pairwise-tally memory for TUs with
// very large inclusion sets by tallying co-occurrence counts in a count-min
// sketch first, then only materializing edges whose estimated count clears
// cfg.CMSMinObservedCount. This is an approximation, documented on the
// caller's diagnostics, never presented as exact.
func buildCoOccurrenceGraphApprox(g *dsm.Graph, large []pathnorm.Path, sourceToDeps map[pathnorm.Path][]pathnorm.Path, cfg Config) {
	sketch, err := cms.New(cfg.CMSEpsilon, cfg.CMSDelta)
	if err != nil {
		return
	}

	for _, src := range large {
		deps := sourceToDeps[src]
		for _, u := range deps {
			for _, v := range deps {
				if u.Canonical != v.Canonical {
					sketch.Add(pairKey(u.Canonical, v.Canonical), 1)
				}
			}
		}
	}

	for _, src := range large {
		deps := sourceToDeps[src]
		for _, u := range deps {
			for _, v := range deps {
				if u.Canonical == v.Canonical {
					continue
				}

				if sketch.Count(pairKey(u.Canonical, v.Canonical)) >= cfg.CMSMinObservedCount {
					g.AddEdge(u, v)
				}
			}
		}
	}
}

func pairKey(u, v string) []byte {
	return []byte(u + "\x00" + v)
}

func sortedKeys(m map[pathnorm.Path][]pathnorm.Path) []pathnorm.Path {
	keys := make([]pathnorm.Path, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	return pathnorm.SortPaths(keys)
}
