// Package advisor is the Improvement Advisor (C9, spec.md §4.6): five fixed
// anti-pattern detectors over dsm.NodeMetrics, a weighted ROI score, a
// break-even estimate in commits, and a severity-ranked, human-readable
// action plan per candidate.
package advisor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dsmforge/dsm/pkg/alg/stats"
	"github.com/dsmforge/dsm/pkg/dsm"
	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/pathnorm"
	"github.com/dsmforge/dsm/pkg/rebuild"
	"github.com/dsmforge/dsm/pkg/snapshot"
)

// Tag is one of the five fixed anti-pattern labels spec.md §4.6 defines.
// The set is closed: detectors never register dynamically (spec.md §9).
type Tag string

const (
	TagGodObject         Tag = "god_object"
	TagCycleParticipant  Tag = "cycle_participant"
	TagCouplingOutlier   Tag = "coupling_outlier"
	TagUnstableInterface Tag = "unstable_interface"
	TagHubNode           Tag = "hub_node"
)

// tagOrder fixes the order tags are evaluated and rendered in, so two runs
// over the same metrics always produce identical Candidate.Tags slices and
// action plans.
var tagOrder = []Tag{TagGodObject, TagCycleParticipant, TagCouplingOutlier, TagUnstableInterface, TagHubNode}

// Effort is the coarse remediation-cost bucket spec.md §4.6 derives from
// fan-out.
type Effort string

const (
	EffortHigh   Effort = "high"
	EffortMedium Effort = "medium"
	EffortLow    Effort = "low"
)

// Severity is the closed set of candidate severities spec.md §4.6 names.
type Severity string

const (
	SeverityQuickWin Severity = "quick_win"
	SeverityCritical Severity = "critical"
	SeverityModerate Severity = "moderate"
)

// severityPriority orders Severity for Ranking (spec.md §4.6: "critical=0,
// quick_win=1, moderate=2").
var severityPriority = map[Severity]int{
	SeverityCritical: 0,
	SeverityQuickWin: 1,
	SeverityModerate: 2,
}

// Candidate is one node with at least one anti-pattern tag, plus its scored
// ROI/effort/break-even/severity (spec.md §4.6).
type Candidate struct {
	Path      pathnorm.Path
	Tags      []Tag
	FanIn     int
	FanOut    int
	Coupling  int
	Stability float64

	ROI                     float64
	Effort                  Effort
	BreakEvenCommits         int
	Severity                Severity
	RebuildReductionPercent float64
}

// AdvisorConfig tunes the thresholds spec.md §4.6 fixes as configurable
// defaults.
type AdvisorConfig struct {
	GodObjectFanOutThreshold            int
	CouplingOutlierZ                    float64
	UnstableInterfaceStabilityThreshold float64
	UnstableInterfaceFanInThreshold     int
	HubNodeTopFraction                  float64

	EffortHighFanOutThreshold   int
	EffortMediumFanOutThreshold int

	AverageCommitsAffected float64

	QuickWinROIThreshold      float64
	QuickWinBreakEvenMaxCommits int
	CriticalROIThreshold      float64
}

// DefaultAdvisorConfig returns the constants fixed by spec.md §4.6.
func DefaultAdvisorConfig() AdvisorConfig {
	return AdvisorConfig{
		GodObjectFanOutThreshold:            50,
		CouplingOutlierZ:                    2.5,
		UnstableInterfaceStabilityThreshold: 0.5,
		UnstableInterfaceFanInThreshold:     10,
		HubNodeTopFraction:                  0.01,

		EffortHighFanOutThreshold:   50,
		EffortMediumFanOutThreshold: 20,

		AverageCommitsAffected: 10,

		QuickWinROIThreshold:       60,
		QuickWinBreakEvenMaxCommits: 5,
		CriticalROIThreshold:       40,
	}
}

// effortCostCommits and effortInverseScore implement spec.md §4.6's fixed
// tables: "effort_cost_commits is 40, 20, 5 for high/medium/low" and
// "effort-inverse: ... fixed 5 for high, 50 for medium, 100 for low".
var effortCostCommits = map[Effort]int{
	EffortHigh:   40,
	EffortMedium: 20,
	EffortLow:    5,
}

var effortInverseScore = map[Effort]float64{
	EffortHigh:   5,
	EffortMedium: 50,
	EffortLow:    100,
}

// Advise runs the five detectors over m, scores every tagged node, and
// returns the ranked Candidate list (spec.md §4.6).
func Advise(ctx context.Context, m *dsm.Metrics, snap *snapshot.Snapshot, cfg AdvisorConfig) ([]Candidate, error) {
	cycleMembers := cycleMemberSet(m.Cycles)

	couplings := make([]float64, 0, len(m.Nodes))
	for _, nm := range m.Nodes {
		couplings = append(couplings, float64(nm.Coupling))
	}

	meanCoupling, stdCoupling := stats.MeanStdDev(couplings)

	betweennessCutoff := topFractionCutoff(m, cfg.HubNodeTopFraction)

	keys := make([]string, 0, len(m.Nodes))
	for k := range m.Nodes {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var candidates []Candidate

	for _, k := range keys {
		nm := m.Nodes[k]

		tags := detectTags(nm, cycleMembers, meanCoupling, stdCoupling, betweennessCutoff, cfg)
		if len(tags) == 0 {
			continue
		}

		effort := deriveEffort(nm.FanOut, cfg)

		rebuildReduction, err := estimateRebuildReduction(ctx, nm.Path, snap, cfg)
		if err != nil {
			return nil, err
		}

		inCycle := cycleMembers[k]

		roi := computeROI(inCycle, rebuildReduction, nm.Coupling, meanCoupling, effort)
		breakEven := computeBreakEven(effort, rebuildReduction, cfg.AverageCommitsAffected)
		severity := computeSeverity(inCycle, roi, breakEven, cfg)

		candidates = append(candidates, Candidate{
			Path:                    nm.Path,
			Tags:                    tags,
			FanIn:                   nm.FanIn,
			FanOut:                  nm.FanOut,
			Coupling:                nm.Coupling,
			Stability:               nm.Stability,
			ROI:                     roi,
			Effort:                  effort,
			BreakEvenCommits:        breakEven,
			Severity:                severity,
			RebuildReductionPercent: rebuildReduction,
		})
	}

	rank(candidates)

	return candidates, nil
}

func cycleMemberSet(cycles []dsm.Cycle) map[string]bool {
	set := make(map[string]bool)

	for _, c := range cycles {
		for _, m := range c.Members {
			set[m.Canonical] = true
		}
	}

	return set
}

// topFractionCutoff returns the minimum betweenness value a node needs to be
// in the top fraction (spec.md §4.6 default 1%) of all nodes.
func topFractionCutoff(m *dsm.Metrics, fraction float64) float64 {
	if len(m.Nodes) == 0 {
		return math.MaxFloat64
	}

	scores := make([]float64, 0, len(m.Nodes))
	for _, nm := range m.Nodes {
		scores = append(scores, nm.Betweenness)
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	count := int(math.Ceil(fraction * float64(len(scores))))
	if count < 1 {
		count = 1
	}

	if count > len(scores) {
		count = len(scores)
	}

	return scores[count-1]
}

func detectTags(nm dsm.NodeMetrics, cycleMembers map[string]bool, meanCoupling, stdCoupling float64, betweennessCutoff float64, cfg AdvisorConfig) []Tag {
	var tags []Tag

	if nm.FanOut >= cfg.GodObjectFanOutThreshold {
		tags = append(tags, TagGodObject)
	}

	if cycleMembers[nm.Path.Canonical] {
		tags = append(tags, TagCycleParticipant)
	}

	if stdCoupling > 0 && float64(nm.Coupling) > meanCoupling+cfg.CouplingOutlierZ*stdCoupling {
		tags = append(tags, TagCouplingOutlier)
	}

	if nm.Stability > cfg.UnstableInterfaceStabilityThreshold && nm.FanIn >= cfg.UnstableInterfaceFanInThreshold {
		tags = append(tags, TagUnstableInterface)
	}

	if nm.Betweenness >= betweennessCutoff && nm.Betweenness > 0 {
		tags = append(tags, TagHubNode)
	}

	return tags
}

func deriveEffort(fanOut int, cfg AdvisorConfig) Effort {
	switch {
	case fanOut >= cfg.EffortHighFanOutThreshold:
		return EffortHigh
	case fanOut >= cfg.EffortMediumFanOutThreshold:
		return EffortMedium
	default:
		return EffortLow
	}
}

// estimateRebuildReduction implements spec.md §4.6's "rebuild-reduction"
// component: the estimated percentage reduction in TUs rippled by changes
// to v's most-used out-neighbors (the targets with the highest fan-in,
// i.e. the ones most worth decoupling v from) if half of v's out-edges to
// them were removed. Computed via pkg/rebuild.Impact on both the real
// graph and a hypothetical graph missing those edges, per target, then
// averaged — see DESIGN.md for why this direction (the effect on v's
// targets' ancestor closures, not on v's own ancestor closure) is the one
// that actually changes when v's fan-out shrinks.
func estimateRebuildReduction(ctx context.Context, v pathnorm.Path, snap *snapshot.Snapshot, cfg AdvisorConfig) (float64, error) {
	g := snap.IncludeGraph()

	id, ok := g.Index().Lookup(v.Canonical)
	if !ok {
		return 0, nil
	}

	fanOut := g.FanOut(id)
	if fanOut == 0 {
		return 0, nil
	}

	removed := mostUsedTargets(g, id, fanOut)
	if len(removed) == 0 {
		return 0, nil
	}

	hypoGraph := graphWithoutEdges(g, v, removed)

	var totalReduction float64

	considered := 0

	for _, t := range removed {
		baselineRes, err := rebuild.Impact(ctx, []pathnorm.Path{t}, snap)
		if err != nil {
			return 0, errs.Wrap(errs.AnalysisError, err, "baseline impact for %q", t.Canonical)
		}

		if baselineRes.ClosurePercent == 0 {
			continue
		}

		hypoSnap := &hypotheticalSnapshot{graph: hypoGraph, base: snap}

		hypoRes, err := rebuild.Impact(ctx, []pathnorm.Path{t}, hypoSnap)
		if err != nil {
			return 0, errs.Wrap(errs.AnalysisError, err, "hypothetical impact for %q", t.Canonical)
		}

		reduction := 100 * (baselineRes.ClosurePercent - hypoRes.ClosurePercent) / baselineRes.ClosurePercent
		totalReduction += math.Max(0, reduction)
		considered++
	}

	if considered == 0 {
		return 0, nil
	}

	pct := totalReduction / float64(considered)

	return math.Min(100, math.Max(0, pct)), nil
}

// mostUsedTargets returns ceil(fanOut/2) of v's out-neighbors, the ones
// with the highest fan-in ("most-used", spec.md §4.6), sorted by fan-in
// descending then canonical path for determinism.
func mostUsedTargets(g *dsm.Graph, v int64, fanOut int) []pathnorm.Path {
	type scored struct {
		path  pathnorm.Path
		fanIn int
	}

	var targets []scored

	it := g.Underlying().From(v)
	for it.Next() {
		succ := it.Node().ID()

		p, ok := g.Path(succ)
		if !ok {
			continue
		}

		targets = append(targets, scored{path: p, fanIn: g.FanIn(succ)})
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].fanIn != targets[j].fanIn {
			return targets[i].fanIn > targets[j].fanIn
		}

		return targets[i].path.Canonical < targets[j].path.Canonical
	})

	count := int(math.Ceil(float64(fanOut) / 2))
	if count > len(targets) {
		count = len(targets)
	}

	out := make([]pathnorm.Path, count)
	for i := 0; i < count; i++ {
		out[i] = targets[i].path
	}

	return out
}

// graphWithoutEdges rebuilds a copy of g with every (v, t) edge for t in
// removedTargets dropped.
func graphWithoutEdges(g *dsm.Graph, v pathnorm.Path, removedTargets []pathnorm.Path) *dsm.Graph {
	removed := make(map[string]bool, len(removedTargets))
	for _, t := range removedTargets {
		removed[t.Canonical] = true
	}

	hypo := dsm.NewGraph()

	it := g.Underlying().Edges()
	for it.Next() {
		e := it.Edge()

		from, okFrom := g.Path(e.From().ID())
		to, okTo := g.Path(e.To().ID())

		if !okFrom || !okTo {
			continue
		}

		if from.Canonical == v.Canonical && removed[to.Canonical] {
			continue
		}

		hypo.AddEdge(from, to)
	}

	return hypo
}

// hypotheticalSnapshot reuses base's inverse index, source closures, and TU
// universe (none of which depend on v's own out-edges) but substitutes a
// modified include graph, so pkg/rebuild.Impact sees the hypothetical edge
// set without needing a full re-scan.
type hypotheticalSnapshot struct {
	graph *dsm.Graph
	base  *snapshot.Snapshot
}

func (h *hypotheticalSnapshot) IncludeGraph() *dsm.Graph { return h.graph }
func (h *hypotheticalSnapshot) InverseIndexOf(header string) []pathnorm.Path {
	return h.base.InverseIndexOf(header)
}
func (h *hypotheticalSnapshot) SourceClosureOf(source string) []pathnorm.Path {
	return h.base.SourceClosureOf(source)
}
func (h *hypotheticalSnapshot) Sources() []pathnorm.Path { return h.base.Sources() }

func computeROI(inCycle bool, rebuildReduction float64, coupling int, meanCoupling float64, effort Effort) float64 {
	cycleComponent := 0.0
	if inCycle {
		cycleComponent = 100
	}

	couplingReduction := 0.0
	if meanCoupling > 0 {
		couplingReduction = math.Min(100, math.Max(0, 100*(float64(coupling)-meanCoupling)/meanCoupling))
	}

	effortInverse := effortInverseScore[effort]

	return 0.40*cycleComponent + 0.30*rebuildReduction + 0.20*couplingReduction + 0.10*effortInverse
}

func computeBreakEven(effort Effort, rebuildReduction, averageCommitsAffected float64) int {
	perCommitSavings := rebuildReduction / 100 * averageCommitsAffected
	if perCommitSavings <= 0 {
		return 999
	}

	cost := float64(effortCostCommits[effort])

	breakEven := int(math.Ceil(cost / perCommitSavings))

	return clampInt(breakEven, 1, 999)
}

func computeSeverity(inCycle bool, roi float64, breakEven int, cfg AdvisorConfig) Severity {
	switch {
	case roi >= cfg.QuickWinROIThreshold && breakEven <= cfg.QuickWinBreakEvenMaxCommits:
		return SeverityQuickWin
	case inCycle || roi >= cfg.CriticalROIThreshold:
		return SeverityCritical
	default:
		return SeverityModerate
	}
}

// rank sorts candidates in place by (severity priority, ROI descending,
// canonical path), spec.md §4.6's fixed ranking.
func rank(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := severityPriority[candidates[i].Severity], severityPriority[candidates[j].Severity]
		if pi != pj {
			return pi < pj
		}

		if candidates[i].ROI != candidates[j].ROI {
			return candidates[i].ROI > candidates[j].ROI
		}

		return candidates[i].Path.Canonical < candidates[j].Path.Canonical
	})
}

// RenderActionPlan renders c's multi-line action plan using the exact
// template of spec.md §6.
func RenderActionPlan(c Candidate, rank int) string {
	tagNames := make([]string, len(c.Tags))
	for i, t := range c.Tags {
		tagNames[i] = string(t)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "#%d. %s\n", rank, c.Path.Canonical)
	fmt.Fprintf(&b, "Anti-Pattern: %s\n", strings.Join(tagNames, ", "))
	fmt.Fprintf(&b, "Metrics: fan-in=%d, fan-out=%d, coupling=%d, stability=%.2f\n",
		c.FanIn, c.FanOut, c.Coupling, c.Stability)
	fmt.Fprintf(&b, "ROI: %.0f/100   Effort: %s   Break-Even: %d commits\n",
		c.ROI, c.Effort, c.BreakEvenCommits)
	fmt.Fprintf(&b, "Rebuild reduction: %.0f%%\n", c.RebuildReductionPercent)
	b.WriteString("Steps:\n")

	for _, step := range actionSteps(c.Tags) {
		fmt.Fprintf(&b, "  - %s\n", step)
	}

	return b.String()
}

// actionSteps maps each tag to its fixed remediation template (spec.md
// §4.6 "Actionable steps are generated from tags by a fixed template").
func actionSteps(tags []Tag) []string {
	has := make(map[Tag]bool, len(tags))
	for _, t := range tags {
		has[t] = true
	}

	var steps []string

	for _, t := range tagOrder {
		if !has[t] {
			continue
		}

		switch t {
		case TagGodObject:
			steps = append(steps, "Split this file into smaller, focused modules; reduce fan-out below the god-object threshold.")
		case TagCycleParticipant:
			steps = append(steps, "Break the cycle: introduce a forward declaration or extract a shared interface to remove the minimum feedback edge.")
		case TagCouplingOutlier:
			steps = append(steps, "Introduce a narrower interface or facade to reduce direct coupling to this file.")
		case TagUnstableInterface:
			steps = append(steps, "Stabilize this interface: reduce its own outgoing dependencies or freeze its public surface.")
		case TagHubNode:
			steps = append(steps, "This is a structural hub; changes here ripple widely — add regression tests before modifying it.")
		}
	}

	return steps
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
