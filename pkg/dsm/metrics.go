package dsm

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/dsmforge/dsm/pkg/alg/stats"
	"github.com/dsmforge/dsm/pkg/errs"
	"github.com/dsmforge/dsm/pkg/pathnorm"
)

// NodeMetrics is the per-node metric record of spec.md §3 DsmMetrics.
type NodeMetrics struct {
	Path        pathnorm.Path
	FanIn       int
	FanOut      int
	Coupling    int
	Stability   float64
	Layer       int
	SCCID       int
	PageRank    float64
	Betweenness float64
}

// Cycle is one nontrivial strongly connected component, with its minimum
// feedback arc set.
type Cycle struct {
	SCCID         int
	Members       []pathnorm.Path
	FeedbackEdges []Edge
}

// Edge is a directed edge between two canonical paths, used for reporting
// feedback arc sets and other edge-level results outside the gonum graph.
type Edge struct {
	From pathnorm.Path
	To   pathnorm.Path
}

// Metrics is the full result of Compute: per-node records plus matrix-wide
// aggregates (spec.md §3, §4.2).
type Metrics struct {
	Nodes map[string]NodeMetrics // keyed by canonical path

	NodeCount           int
	EdgeCount           int
	Sparsity            float64
	Cycles              []Cycle
	CycleCount          int
	CycleMemberCount    int
	ADPScore            float64
	InterfaceRatio      float64
	ArchitectureQuality float64

	CentralityConverged bool
	BetweennessSampled  bool
}

// AnalysisConfig tunes thresholds used by Compute that spec.md fixes as
// defaults but allows a caller to override (e.g. in tests).
type AnalysisConfig struct {
	// BetweennessSampleThreshold is the |V| above which betweenness is
	// approximated via sampled Brandes instead of exact computation.
	BetweennessSampleThreshold int
	// BetweennessSampleSize is the number of sampled source vertices.
	BetweennessSampleSize int
	// ExactFeedbackSetMaxSize is the SCC size above which the exact bitmask
	// DP minimum feedback arc set search is replaced by the greedy
	// approximation.
	ExactFeedbackSetMaxSize int
	// CouplingOutlierZ is the number of standard deviations above the mean
	// coupling beyond which a node counts against the coupling-outlier term
	// of architecture_quality (spec.md §4.2 default: μ+2σ).
	CouplingOutlierZ float64
	// StableInterfaceFanInThreshold is the minimum fan-in for a stable node
	// to count toward interface_ratio (spec.md §4.2 default: 10).
	StableInterfaceFanInThreshold int
	// StableInterfaceStabilityMax is the maximum stability for a node to
	// count as a stable interface (spec.md §4.2 default: 0.5).
	StableInterfaceStabilityMax float64
}

// DefaultAnalysisConfig returns the constants fixed by spec.md §4.2.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		BetweennessSampleThreshold:    5000,
		BetweennessSampleSize:         500,
		ExactFeedbackSetMaxSize:       8,
		CouplingOutlierZ:              2.0,
		StableInterfaceFanInThreshold: 10,
		StableInterfaceStabilityMax:   0.5,
	}
}

// Compute computes every metric of spec.md §4.2 over g.
func Compute(g *Graph, cfg AnalysisConfig) (*Metrics, error) {
	n := g.NodeCount()

	m := &Metrics{
		Nodes:               make(map[string]NodeMetrics, n),
		NodeCount:           n,
		EdgeCount:           g.EdgeCount(),
		CentralityConverged: true,
	}

	ids := g.SortedNodeIDs()

	sccByNode, cycles, err := computeCycles(g, ids, cfg)
	if err != nil {
		return nil, err
	}

	m.Cycles = cycles

	for _, c := range cycles {
		m.CycleMemberCount += len(c.Members)
	}

	m.CycleCount = len(cycles)

	layers, err := computeLayers(g, ids, sccByNode)
	if err != nil {
		return nil, err
	}

	pr, converged := pageRank(g, ids, 0.85, 1e-6, 100)
	m.CentralityConverged = converged

	bet, sampled := betweenness(g, ids, cfg)
	m.BetweennessSampled = sampled

	couplings := make([]float64, 0, len(ids))

	for _, id := range ids {
		p, _ := g.Path(id)
		fanIn := g.FanIn(id)
		fanOut := g.FanOut(id)
		coupling := fanIn + fanOut

		var stability float64
		if coupling > 0 {
			stability = float64(fanOut) / float64(coupling)
		}

		couplings = append(couplings, float64(coupling))

		m.Nodes[p.Canonical] = NodeMetrics{
			Path:        p,
			FanIn:       fanIn,
			FanOut:      fanOut,
			Coupling:    coupling,
			Stability:   stability,
			Layer:       layers[id],
			SCCID:       sccByNode[id],
			PageRank:    pr[id],
			Betweenness: bet[id],
		}
	}

	if n >= 2 {
		m.Sparsity = 1 - float64(m.EdgeCount)/float64(n*(n-1))
	}

	m.ADPScore = adpScore(n, m.CycleMemberCount)

	meanCoupling, stdCoupling := stats.MeanStdDev(couplings)
	outlierCeiling := meanCoupling + cfg.CouplingOutlierZ*stdCoupling

	nonOutliers := 0
	stableInterfaces := 0

	for _, nm := range m.Nodes {
		if float64(nm.Coupling) <= outlierCeiling {
			nonOutliers++
		}

		if nm.Stability <= cfg.StableInterfaceStabilityMax && nm.FanIn >= cfg.StableInterfaceFanInThreshold {
			stableInterfaces++
		}
	}

	couplingOutlierFree := ratio(nonOutliers, n)
	m.InterfaceRatio = ratio(stableInterfaces, n)

	cycleFreeness := m.ADPScore

	m.ArchitectureQuality = 0.40*pct(m.Sparsity) + 0.30*cycleFreeness +
		0.20*100*couplingOutlierFree + 0.10*100*m.InterfaceRatio

	return m, nil
}

func ratio(count, total int) float64 {
	if total == 0 {
		return 0
	}

	return float64(count) / float64(total)
}

// pct maps a [0,1] sparsity fraction to a [0,100] scale for the weighted sum.
func pct(fraction float64) float64 { return 100 * fraction }

func adpScore(n, cycleMembers int) float64 {
	if cycleMembers == 0 {
		return 100
	}

	if n == 0 {
		return 100
	}

	return 100 * (1 - float64(cycleMembers)/float64(n))
}

// computeCycles runs Tarjan's SCC algorithm and builds the nontrivial-SCC
// Cycle list with its feedback arc set, plus a node->SCC-index map used by
// layering.
//
// topo.TarjanSCC's SCC ordering and each SCC's member ordering both follow
// the underlying gonum graph's node iteration, which is map-order and so
// varies run to run even for an identical graph. SCCID is part of the
// serialized snapshot (and NodeMetrics.SCCID/Cycle.SCCID are emitted
// verbatim by the JSON exporter), so an id that merely echoes Tarjan's
// output index would make exports non-reproducible (spec.md §8). Instead,
// every SCC's members are sorted canonically first, then SCCs themselves
// are ranked by their sorted-minimum member's canonical path; the resulting
// rank is a pure function of the graph and is used as SCCID everywhere.
func computeCycles(g *Graph, ids []int64, cfg AnalysisConfig) (map[int64]int, []Cycle, error) {
	sccs := topo.TarjanSCC(g.Underlying())

	memberIDs := make([][]int64, len(sccs))
	minCanonical := make([]string, len(sccs))

	for i, members := range sccs {
		nodeIDs := make([]int64, 0, len(members))
		for _, nd := range members {
			nodeIDs = append(nodeIDs, nd.ID())
		}

		sort.Slice(nodeIDs, func(a, b int) bool {
			pa, _ := g.Path(nodeIDs[a])
			pb, _ := g.Path(nodeIDs[b])

			return pa.Canonical < pb.Canonical
		})

		memberIDs[i] = nodeIDs

		minPath, _ := g.Path(nodeIDs[0])
		minCanonical[i] = minPath.Canonical
	}

	rank := make([]int, len(sccs))
	for i := range rank {
		rank[i] = i
	}

	sort.Slice(rank, func(i, j int) bool { return minCanonical[rank[i]] < minCanonical[rank[j]] })

	sccByNode := make(map[int64]int, len(ids))

	for sccID, origIdx := range rank {
		for _, id := range memberIDs[origIdx] {
			sccByNode[id] = sccID
		}
	}

	var cycles []Cycle

	for sccID, origIdx := range rank {
		members := memberIDs[origIdx]

		if len(members) < 2 {
			if len(members) != 1 || !g.Underlying().HasEdgeFromTo(members[0], members[0]) {
				// A self-loop singleton is still a cycle (spec.md §4.2 only
				// excludes singleton SCCs *without* a self-loop); anything
				// else with fewer than two members is not.
				continue
			}
		}

		paths := make([]pathnorm.Path, 0, len(members))
		for _, id := range members {
			p, _ := g.Path(id)
			paths = append(paths, p)
		}

		feedback := minFeedbackArcSet(g, members, cfg)

		cycles = append(cycles, Cycle{
			SCCID:         sccID,
			Members:       paths,
			FeedbackEdges: feedback,
		})
	}

	return sccByNode, cycles, nil
}

// computeLayers runs Kahn's algorithm (via topo.Sort) over the SCC-contracted
// DAG, then derives layer(v) = 1 + max layer of the nodes v depends on (its
// out-neighbors in the include graph), or 0 if it has none. An edge u->v
// means "u includes v", so a leaf header with no further includes sits at
// layer 0 and the nodes that depend on it stack up above (spec.md §8's
// chain-of-five scenario: h5, the innermost header, is layer 0; h1, the
// outermost source, is layer 4).
//
// topo.Sort orders nodes so that every edge u->v has u before v; processing
// that order in reverse guarantees every out-neighbor of a node is already
// assigned a layer by the time the node itself is reached.
func computeLayers(g *Graph, ids []int64, sccByNode map[int64]int) (map[int64]int, error) {
	contracted := newContractedGraph(g, sccByNode)

	order, err := topo.Sort(contracted)
	if err != nil {
		return nil, errs.Wrap(errs.AnalysisError, err, "SCC-contracted graph is not acyclic")
	}

	sccLayer := make(map[int64]int, len(order))

	for i := len(order) - 1; i >= 0; i-- {
		sccID := order[i].ID()

		maxSucc := -1

		succNodes := contracted.From(sccID)
		for succNodes.Next() {
			succ := succNodes.Node().ID()
			if l, ok := sccLayer[succ]; ok && l > maxSucc {
				maxSucc = l
			}
		}

		sccLayer[sccID] = maxSucc + 1
	}

	layers := make(map[int64]int, len(ids))
	for _, id := range ids {
		layers[id] = sccLayer[int64(sccByNode[id])]
	}

	return layers, nil
}

// contractedNode is a gonum graph.Node whose ID is an SCC index.
type contractedNode int64

func (n contractedNode) ID() int64 { return int64(n) }

// contractedGraph is a read-only gonum graph.Directed view of g with every
// SCC collapsed to a single node, built once per Compute call.
type contractedGraph struct {
	nodes map[int64]graph.Node
	out   map[int64]map[int64]graph.Node
	in    map[int64]map[int64]graph.Node
}

func newContractedGraph(g *Graph, sccByNode map[int64]int) *contractedGraph {
	cg := &contractedGraph{
		nodes: make(map[int64]graph.Node),
		out:   make(map[int64]map[int64]graph.Node),
		in:    make(map[int64]map[int64]graph.Node),
	}

	for _, scc := range sccByNode {
		id := int64(scc)
		if _, ok := cg.nodes[id]; !ok {
			cg.nodes[id] = contractedNode(id)
			cg.out[id] = make(map[int64]graph.Node)
			cg.in[id] = make(map[int64]graph.Node)
		}
	}

	edges := g.Underlying().Edges()
	for edges.Next() {
		e := edges.Edge()

		uSCC := int64(sccByNode[e.From().ID()])
		vSCC := int64(sccByNode[e.To().ID()])

		if uSCC == vSCC {
			continue
		}

		cg.out[uSCC][vSCC] = cg.nodes[vSCC]
		cg.in[vSCC][uSCC] = cg.nodes[uSCC]
	}

	return cg
}

func (cg *contractedGraph) Node(id int64) graph.Node { return cg.nodes[id] }

func (cg *contractedGraph) Nodes() graph.Nodes {
	nodes := make([]graph.Node, 0, len(cg.nodes))
	for _, nd := range cg.nodes {
		nodes = append(nodes, nd)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })

	return iterator.NewOrderedNodes(nodes)
}

func (cg *contractedGraph) From(id int64) graph.Nodes {
	return mapNodes(cg.out[id])
}

func (cg *contractedGraph) To(id int64) graph.Nodes {
	return mapNodes(cg.in[id])
}

func (cg *contractedGraph) HasEdgeBetween(xid, yid int64) bool {
	if _, ok := cg.out[xid][yid]; ok {
		return true
	}

	_, ok := cg.out[yid][xid]

	return ok
}

func (cg *contractedGraph) Edge(uid, vid int64) graph.Edge {
	if _, ok := cg.out[uid][vid]; ok {
		return simpleEdge{f: cg.nodes[uid], t: cg.nodes[vid]}
	}

	return nil
}

func (cg *contractedGraph) HasEdgeFromTo(uid, vid int64) bool {
	_, ok := cg.out[uid][vid]

	return ok
}

type simpleEdge struct{ f, t graph.Node }

func (e simpleEdge) From() graph.Node         { return e.f }
func (e simpleEdge) To() graph.Node           { return e.t }
func (e simpleEdge) ReversedEdge() graph.Edge { return simpleEdge{f: e.t, t: e.f} }

func mapNodes(m map[int64]graph.Node) graph.Nodes {
	nodes := make([]graph.Node, 0, len(m))
	for _, nd := range m {
		nodes = append(nodes, nd)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })

	return iterator.NewOrderedNodes(nodes)
}
