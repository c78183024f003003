package dsm

import "sort"

// minFeedbackArcSet returns a minimal set of edges whose removal makes the
// subgraph induced by nodeIDs acyclic (spec.md §4.2). Exact for |S|<=8 via
// bitmask DP over all subsets (minimum feedback arc set on a small digraph);
// for larger SCCs, a greedy approximation repeatedly removes the edge with
// the highest product of endpoint betweenness until acyclic, then attempts
// one pass of local swaps.
func minFeedbackArcSet(g *Graph, nodeIDs []int64, cfg AnalysisConfig) []Edge {
	edges := inducedEdges(g, nodeIDs)

	if len(nodeIDs) <= cfg.ExactFeedbackSetMaxSize {
		return exactFeedbackArcSet(nodeIDs, edges, g)
	}

	return greedyFeedbackArcSet(nodeIDs, edges, g, cfg)
}

type inducedEdge struct {
	u, v int64
}

func inducedEdges(g *Graph, nodeIDs []int64) []inducedEdge {
	set := make(map[int64]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		set[id] = true
	}

	var edges []inducedEdge

	for _, u := range nodeIDs {
		toNodes := g.Underlying().From(u)
		for toNodes.Next() {
			v := toNodes.Node().ID()
			if set[v] {
				edges = append(edges, inducedEdge{u: u, v: v})
			}
		}
	}

	return edges
}

func toEdges(g *Graph, induced []inducedEdge) []Edge {
	out := make([]Edge, 0, len(induced))

	for _, e := range induced {
		from, _ := g.Path(e.u)
		to, _ := g.Path(e.v)
		out = append(out, Edge{From: from, To: to})
	}

	sortEdges(out)

	return out
}

// sortEdges orders edges canonically by (From, To) so that any set built by
// iterating a map (or a run-to-run-unstable graph traversal) is recorded
// deterministically (spec.md §8: byte-identical exports across runs).
func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From.Canonical != edges[j].From.Canonical {
			return edges[i].From.Canonical < edges[j].From.Canonical
		}

		return edges[i].To.Canonical < edges[j].To.Canonical
	})
}

// sortInducedEdges orders induced edges canonically by (From, To), the same
// way sortEdges does for the public Edge type, so greedyFeedbackArcSet's
// candidate scan visits edges in a fixed order regardless of map iteration.
func sortInducedEdges(g *Graph, edges []inducedEdge) {
	canon := func(id int64) string {
		p, _ := g.Path(id)

		return p.Canonical
	}

	sort.Slice(edges, func(i, j int) bool {
		fi, fj := canon(edges[i].u), canon(edges[j].u)
		if fi != fj {
			return fi < fj
		}

		return canon(edges[i].v) < canon(edges[j].v)
	})
}

// exactFeedbackArcSet finds the minimum feedback arc set by searching over
// every linear ordering of nodeIDs via bitmask DP (Held-Karp style): for a
// fixed ordering, the feedback edges are exactly the "backward" edges (edges
// going from a later position to an earlier one). The optimal ordering
// minimizes the number of backward edges; DP over subsets tracks the best
// ordering ending with each possible last node.
func exactFeedbackArcSet(nodeIDs []int64, edges []inducedEdge, g *Graph) []Edge {
	n := len(nodeIDs)
	idxOf := make(map[int64]int, n)

	for i, id := range nodeIDs {
		idxOf[id] = i
	}

	// adj[u][v] is true if edge u->v exists (u,v by local index).
	adj := make([][]bool, n)
	for i := range adj {
		adj[i] = make([]bool, n)
	}

	for _, e := range edges {
		adj[idxOf[e.u]][idxOf[e.v]] = true
	}

	full := 1 << n

	const inf = 1 << 30

	dp := make([][]int, full)
	parent := make([][]int, full)

	for mask := range dp {
		dp[mask] = make([]int, n)
		parent[mask] = make([]int, n)

		for i := range dp[mask] {
			dp[mask][i] = inf
			parent[mask][i] = -1
		}
	}

	for i := 0; i < n; i++ {
		dp[1<<i][i] = 0
	}

	for mask := 1; mask < full; mask++ {
		for last := 0; last < n; last++ {
			if dp[mask][last] == inf || mask&(1<<last) == 0 {
				continue
			}

			for next := 0; next < n; next++ {
				if mask&(1<<next) != 0 {
					continue
				}

				// Adding `next` after `last`: every already-placed node j that
				// has an edge next->j becomes a backward edge.
				backward := 0

				for j := 0; j < n; j++ {
					if mask&(1<<j) != 0 && adj[next][j] {
						backward++
					}
				}

				nm := mask | (1 << next)
				cost := dp[mask][last] + backward

				if cost < dp[nm][next] {
					dp[nm][next] = cost
					parent[nm][next] = last
				}
			}
		}
	}

	bestLast, bestCost := 0, inf

	for last := 0; last < n; last++ {
		if dp[full-1][last] < bestCost {
			bestCost = dp[full-1][last]
			bestLast = last
		}
	}

	order := make([]int, n)
	mask := full - 1
	last := bestLast

	for i := n - 1; i >= 0; i-- {
		order[i] = last

		p := parent[mask][last]
		mask &^= 1 << last
		last = p
	}

	pos := make([]int, n)
	for i, idx := range order {
		pos[idx] = i
	}

	var feedback []inducedEdge

	for _, e := range edges {
		if pos[idxOf[e.u]] > pos[idxOf[e.v]] {
			feedback = append(feedback, e)
		}
	}

	return toEdges(g, feedback)
}

// greedyFeedbackArcSet repeatedly removes the edge with the highest product
// of endpoint betweenness (computed over the whole graph) until the
// remaining edge set is acyclic, then makes one pass over the removed edges,
// putting back each one whose return does not reintroduce a cycle. No other
// edge is removed in its place.
//
// Candidates are scanned in a fixed canonical (From, To) order rather than
// map iteration order: in the co-occurrence proxy every nontrivial SCC is a
// clique, so every edge's endpoints share the same betweenness and the
// score ties across the whole candidate set. Breaking that tie by canonical
// order (first max wins, scanning ascending) keeps the chosen edge, and
// therefore the recorded feedback arc set, the same across runs.
func greedyFeedbackArcSet(nodeIDs []int64, edges []inducedEdge, g *Graph, cfg AnalysisConfig) []Edge {
	bet, _ := betweenness(g, nodeIDs, cfg)

	sorted := make([]inducedEdge, len(edges))
	copy(sorted, edges)
	sortInducedEdges(g, sorted)

	remaining := make(map[inducedEdge]bool, len(edges))
	for _, e := range edges {
		remaining[e] = true
	}

	var removed []inducedEdge

	for hasCycleInduced(nodeIDs, remaining) {
		var worst inducedEdge

		worstScore := -1.0
		found := false

		for _, e := range sorted {
			if !remaining[e] {
				continue
			}

			score := bet[e.u] * bet[e.v]
			if score > worstScore {
				worstScore = score
				worst = e
				found = true
			}
		}

		if !found {
			break
		}

		delete(remaining, worst)
		removed = append(removed, worst)
	}

	// One pass of local swaps: try reinstating each removed edge; if the
	// graph stays acyclic, keep it reinstated (it was removed out of
	// caution by the greedy pass but wasn't actually load-bearing for
	// acyclicity).
	for i := 0; i < len(removed); i++ {
		candidate := removed[i]
		remaining[candidate] = true

		if hasCycleInduced(nodeIDs, remaining) {
			delete(remaining, candidate)
		} else {
			removed = append(removed[:i], removed[i+1:]...)
			i--
		}
	}

	return toEdges(g, removed)
}

func hasCycleInduced(nodeIDs []int64, edgeSet map[inducedEdge]bool) bool {
	adj := make(map[int64][]int64, len(nodeIDs))
	indegree := make(map[int64]int, len(nodeIDs))

	for _, id := range nodeIDs {
		indegree[id] = 0
	}

	for e := range edgeSet {
		adj[e.u] = append(adj[e.u], e.v)
		indegree[e.v]++
	}

	var queue []int64

	for _, id := range nodeIDs {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		visited++

		for _, v := range adj[u] {
			indegree[v]--
			if indegree[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	return visited != len(nodeIDs)
}
