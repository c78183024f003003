// Package diff is the Differential Analyzer (C8, spec.md §4.5): it diffs two
// snapshots of the same project into a typed Delta, augmented with
// statistical coupling commentary and severity-tagged recommendations.
package diff

import (
	"context"
	"fmt"
	"sort"

	"github.com/dsmforge/dsm/pkg/alg/mapx"
	"github.com/dsmforge/dsm/pkg/alg/stats"
	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/pathnorm"
	"github.com/dsmforge/dsm/pkg/rebuild"
	"github.com/dsmforge/dsm/pkg/snapshot"
)

// Snapshot is the concrete type Compute diffs: two snapshots of the same
// project (spec.md §4.5 "Inputs").
type Snapshot = snapshot.Snapshot

// Severity is the closed set of recommendation severities spec.md §6 names.
type Severity string

const (
	SeverityQuickWin Severity = "quick_win"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// DiffConfig tunes the thresholds spec.md §4.5 fixes as configurable
// defaults.
type DiffConfig struct {
	// CouplingChangeThreshold is the minimum |Δcoupling| to report a node in
	// CouplingChanged (spec.md default: 5).
	CouplingChangeThreshold int
	// StabilityThreshold is the crossing point for StabilityCrossings
	// (spec.md default: 0.5).
	StabilityThreshold float64
	// OutlierZ is the z-score threshold for the coupling-outlier count in
	// the statistical commentary (spec.md default: μ+2σ, i.e. z=2.0).
	OutlierZ float64
}

// DefaultDiffConfig returns the constants fixed by spec.md §4.5.
func DefaultDiffConfig() DiffConfig {
	return DiffConfig{
		CouplingChangeThreshold: 5,
		StabilityThreshold:      0.5,
		OutlierZ:                2.0,
	}
}

// CouplingChange is one entry of Delta.CouplingChanged.
type CouplingChange struct {
	Path     pathnorm.Path
	Baseline int
	Current  int
	Delta    int
}

// StabilityCrossing is one entry of Delta.StabilityCrossings.
type StabilityCrossing struct {
	Path     pathnorm.Path
	Baseline float64
	Current  float64
}

// LayerMovement is one entry of Delta.LayerMovements.
type LayerMovement struct {
	Path     pathnorm.Path
	Baseline int
	Current  int
}

// RippleImpact is the estimated rebuild impact of a single node changing,
// computed against the current snapshot with a pseudo-changed set of
// {that node} (spec.md §4.5 "ripple_impact").
type RippleImpact struct {
	Path           pathnorm.Path
	Direct         int
	Closure        int
	DirectPercent  float64
	ClosurePercent float64
}

// Recommendation is one severity-tagged, human-readable finding (spec.md
// §4.5 "recommendations").
type Recommendation struct {
	Severity Severity
	Message  string
}

// StatSummary is mean/median/95th-percentile/outlier-count over one
// snapshot's coupling distribution (spec.md §4.5 "Statistical commentary").
type StatSummary struct {
	Mean         float64
	Median       float64
	P95          float64
	OutlierCount int
}

// StatsComparison pairs a StatSummary for each snapshot with the percentage
// change in mean coupling between them.
type StatsComparison struct {
	Baseline      StatSummary
	Current       StatSummary
	MeanPctChange float64
}

// Delta is the full diff result (spec.md §4.5 "Outputs").
type Delta struct {
	NodesAdded   []pathnorm.Path
	NodesRemoved []pathnorm.Path

	EdgesAdded   []dsm.Edge
	EdgesRemoved []dsm.Edge

	CouplingChanged    []CouplingChange
	StabilityCrossings []StabilityCrossing
	CyclesAdded        []dsm.Cycle
	CyclesResolved     []dsm.Cycle
	LayerMovements     []LayerMovement
	RippleImpact       []RippleImpact
	QualityDelta       float64
	Recommendations    []Recommendation
	Stats              StatsComparison
}

// Compute diffs baseline against current (spec.md §4.5). Both snapshots must
// have been produced under the same filter configuration; if they were not,
// the caller is expected to have re-applied the active filter to both before
// calling Compute (spec.md §4.5 "Inputs") — Compute itself only checks this
// invariant defensively and returns errs.InvalidInput if the filter specs
// visibly differ.
func Compute(ctx context.Context, baseline, current *Snapshot, cfg DiffConfig) (*Delta, error) {
	if !sameFilter(baseline.Filter, current.Filter) {
		return nil, errs.New(errs.InvalidInput, "baseline and current snapshots were filtered differently")
	}

	mb, mc := baseline.Metrics, current.Metrics

	delta := &Delta{
		QualityDelta: mc.ArchitectureQuality - mb.ArchitectureQuality,
	}

	nodesAdded, nodesRemoved, common := diffNodes(mb, mc)
	delta.NodesAdded = nodesAdded
	delta.NodesRemoved = nodesRemoved

	delta.EdgesAdded, delta.EdgesRemoved = diffEdges(baseline, current)

	delta.CouplingChanged = diffCoupling(mb, mc, common, cfg.CouplingChangeThreshold)
	delta.StabilityCrossings = diffStability(mb, mc, common, cfg.StabilityThreshold)
	delta.LayerMovements = diffLayers(mb, mc, common)
	delta.CyclesAdded, delta.CyclesResolved = diffCycles(mb.Cycles, mc.Cycles)

	rippleTargets := rippleImpactTargets(nodesAdded, delta.CouplingChanged)

	ripple, err := computeRipple(ctx, current, rippleTargets)
	if err != nil {
		return nil, err
	}

	delta.RippleImpact = ripple

	delta.Stats = statsComparison(mb, mc, cfg.OutlierZ)
	delta.Recommendations = buildRecommendations(delta)

	return delta, nil
}

func sameFilter(a, b pathnorm.FilterSpec) bool {
	if len(a.Include) != len(b.Include) || len(a.Exclude) != len(b.Exclude) {
		return false
	}

	for i := range a.Include {
		if a.Include[i] != b.Include[i] {
			return false
		}
	}

	for i := range a.Exclude {
		if a.Exclude[i] != b.Exclude[i] {
			return false
		}
	}

	return true
}

// diffNodes returns nodes_added (V_C \ V_B), nodes_removed (V_B \ V_C), and
// the common canonical-path set both snapshots share.
func diffNodes(mb, mc *dsm.Metrics) (added, removed []pathnorm.Path, common []string) {
	commonSet := make(map[string]struct{})

	for k, nm := range mc.Nodes {
		if _, ok := mb.Nodes[k]; !ok {
			added = append(added, nm.Path)
		} else {
			commonSet[k] = struct{}{}
		}
	}

	for k, nm := range mb.Nodes {
		if _, ok := mc.Nodes[k]; !ok {
			removed = append(removed, nm.Path)
		}
	}

	pathnorm.SortPaths(added)
	pathnorm.SortPaths(removed)

	return added, removed, mapx.SortedKeys(commonSet)
}

func diffEdges(baseline, current *Snapshot) (added, removed []dsm.Edge) {
	bEdges := edgeSet(baseline.IncludeGraph())
	cEdges := edgeSet(current.IncludeGraph())

	for k, e := range cEdges {
		if _, ok := bEdges[k]; !ok {
			added = append(added, e)
		}
	}

	for k, e := range bEdges {
		if _, ok := cEdges[k]; !ok {
			removed = append(removed, e)
		}
	}

	sortEdges(added)
	sortEdges(removed)

	return added, removed
}

func edgeSet(g *dsm.Graph) map[string]dsm.Edge {
	set := make(map[string]dsm.Edge)

	it := g.Underlying().Edges()
	for it.Next() {
		e := it.Edge()

		from, okFrom := g.Path(e.From().ID())
		to, okTo := g.Path(e.To().ID())

		if okFrom && okTo {
			set[from.Canonical+"->"+to.Canonical] = dsm.Edge{From: from, To: to}
		}
	}

	return set
}

func sortEdges(edges []dsm.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From.Canonical != edges[j].From.Canonical {
			return edges[i].From.Canonical < edges[j].From.Canonical
		}

		return edges[i].To.Canonical < edges[j].To.Canonical
	})
}

func diffCoupling(mb, mc *dsm.Metrics, common []string, threshold int) []CouplingChange {
	var out []CouplingChange

	for _, k := range common {
		b, c := mb.Nodes[k], mc.Nodes[k]

		d := c.Coupling - b.Coupling
		if abs(d) >= threshold {
			out = append(out, CouplingChange{Path: c.Path, Baseline: b.Coupling, Current: c.Coupling, Delta: d})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path.Canonical < out[j].Path.Canonical })

	return out
}

func diffStability(mb, mc *dsm.Metrics, common []string, threshold float64) []StabilityCrossing {
	var out []StabilityCrossing

	for _, k := range common {
		b, c := mb.Nodes[k], mc.Nodes[k]

		if (b.Stability <= threshold) != (c.Stability <= threshold) {
			out = append(out, StabilityCrossing{Path: c.Path, Baseline: b.Stability, Current: c.Stability})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path.Canonical < out[j].Path.Canonical })

	return out
}

func diffLayers(mb, mc *dsm.Metrics, common []string) []LayerMovement {
	var out []LayerMovement

	for _, k := range common {
		b, c := mb.Nodes[k], mc.Nodes[k]

		if b.Layer != c.Layer {
			out = append(out, LayerMovement{Path: c.Path, Baseline: b.Layer, Current: c.Layer})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path.Canonical < out[j].Path.Canonical })

	return out
}

// diffCycles compares cycle membership by canonical set-of-paths (spec.md
// §4.5): two cycles are "the same" iff their sorted member canonical paths
// are identical, regardless of SCCID numbering (which is not stable across
// runs).
func diffCycles(baseline, current []dsm.Cycle) (added, resolved []dsm.Cycle) {
	bSet := make(map[string]dsm.Cycle, len(baseline))
	for _, c := range baseline {
		bSet[cycleKey(c)] = c
	}

	cSet := make(map[string]dsm.Cycle, len(current))
	for _, c := range current {
		cSet[cycleKey(c)] = c
	}

	for k, c := range cSet {
		if _, ok := bSet[k]; !ok {
			added = append(added, c)
		}
	}

	for k, c := range bSet {
		if _, ok := cSet[k]; !ok {
			resolved = append(resolved, c)
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].Members[0].Canonical < added[j].Members[0].Canonical })
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].Members[0].Canonical < resolved[j].Members[0].Canonical })

	return added, resolved
}

func cycleKey(c dsm.Cycle) string {
	key := ""
	for _, m := range c.Members {
		key += m.Canonical + "\x00"
	}

	return key
}

// rippleImpactTargets is nodes_added ∪ the changed-coupling set (spec.md
// §4.5 "ripple_impact"), deduplicated and sorted.
func rippleImpactTargets(added []pathnorm.Path, changed []CouplingChange) []pathnorm.Path {
	seen := make(map[string]pathnorm.Path, len(added)+len(changed))

	for _, p := range added {
		seen[p.Canonical] = p
	}

	for _, c := range changed {
		seen[c.Path.Canonical] = c.Path
	}

	out := make([]pathnorm.Path, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}

	pathnorm.SortPaths(out)

	return out
}

func computeRipple(ctx context.Context, current *Snapshot, targets []pathnorm.Path) ([]RippleImpact, error) {
	out := make([]RippleImpact, 0, len(targets))

	for _, t := range targets {
		res, err := rebuild.Impact(ctx, []pathnorm.Path{t}, current)
		if err != nil {
			return nil, errs.Wrap(errs.AnalysisError, err, "compute ripple impact for %q", t.Canonical)
		}

		out = append(out, RippleImpact{
			Path:           t,
			Direct:         len(res.Direct),
			Closure:        len(res.Closure),
			DirectPercent:  res.DirectPercent,
			ClosurePercent: res.ClosurePercent,
		})
	}

	return out, nil
}

func statsComparison(mb, mc *dsm.Metrics, outlierZ float64) StatsComparison {
	bSummary := summarize(mb, outlierZ)
	cSummary := summarize(mc, outlierZ)

	var pctChange float64
	if bSummary.Mean != 0 {
		pctChange = 100 * (cSummary.Mean - bSummary.Mean) / bSummary.Mean
	}

	return StatsComparison{Baseline: bSummary, Current: cSummary, MeanPctChange: pctChange}
}

func summarize(m *dsm.Metrics, outlierZ float64) StatSummary {
	couplings := make([]float64, 0, len(m.Nodes))
	for _, nm := range m.Nodes {
		couplings = append(couplings, float64(nm.Coupling))
	}

	mean, std := stats.MeanStdDev(couplings)
	ceiling := mean + outlierZ*std

	outliers := 0

	for _, c := range couplings {
		if c > ceiling {
			outliers++
		}
	}

	return StatSummary{
		Mean:         mean,
		Median:       stats.Median(couplings),
		P95:          stats.Percentile(couplings, stats.PercentileP95),
		OutlierCount: outliers,
	}
}

// buildRecommendations turns the raw delta into severity-tagged, human
// readable strings (spec.md §4.5 "recommendations"). A newly introduced
// cycle is always critical (spec.md §8 scenario 5); large coupling swings
// and an overall quality regression are moderate; everything else that
// improved the picture (a resolved cycle, a positive quality_delta) is
// reported as a quick_win so the recommendation list doubles as a summary
// of what got better, not only what got worse.
func buildRecommendations(d *Delta) []Recommendation {
	var recs []Recommendation

	for _, c := range d.CyclesAdded {
		feedback := "no single minimum feedback edge identified"
		if len(c.FeedbackEdges) > 0 {
			e := c.FeedbackEdges[0]
			feedback = fmt.Sprintf("breaking %s -> %s removes it", e.From.Canonical, e.To.Canonical)
		}

		recs = append(recs, Recommendation{
			Severity: SeverityCritical,
			Message: fmt.Sprintf("new cycle introduced among %s: %s",
				memberList(c.Members), feedback),
		})
	}

	for _, c := range d.CyclesResolved {
		recs = append(recs, Recommendation{
			Severity: SeverityQuickWin,
			Message:  fmt.Sprintf("cycle among %s was resolved", memberList(c.Members)),
		})
	}

	for _, cc := range d.CouplingChanged {
		if cc.Delta > 0 {
			recs = append(recs, Recommendation{
				Severity: SeverityModerate,
				Message: fmt.Sprintf("%s coupling increased from %d to %d (+%d)",
					cc.Path.Canonical, cc.Baseline, cc.Current, cc.Delta),
			})
		}
	}

	if d.QualityDelta < 0 {
		recs = append(recs, Recommendation{
			Severity: SeverityModerate,
			Message:  fmt.Sprintf("architecture_quality regressed by %.2f", -d.QualityDelta),
		})
	} else if d.QualityDelta > 0 {
		recs = append(recs, Recommendation{
			Severity: SeverityQuickWin,
			Message:  fmt.Sprintf("architecture_quality improved by %.2f", d.QualityDelta),
		})
	}

	return recs
}

func memberList(members []pathnorm.Path) string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Canonical
	}

	out := ""

	for i, n := range names {
		if i > 0 {
			out += ", "
		}

		out += n
	}

	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}
