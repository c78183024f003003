package dsm

import (
	"math/rand"

	"gonum.org/v1/gonum/graph/network"
)

// betweennessSeed is the fixed seed for sampled betweenness (spec.md §4.2:
// "a fixed seed"). Recorded in DESIGN.md's Open Question decisions.
const betweennessSeed = 0x44534D66306726 // ASCII "DSMf0g&" packed into an int64.

// betweenness computes unnormalized Brandes betweenness centrality. Below
// cfg.BetweennessSampleThreshold nodes it uses gonum's exact
// network.Betweenness; above it, a sampled Brandes pass over
// cfg.BetweennessSampleSize uniformly-random source vertices (fixed seed) is
// scaled by |V|/sampleSize, matching spec.md §4.2.
func betweenness(g *Graph, ids []int64, cfg AnalysisConfig) (scores map[int64]float64, sampled bool) {
	n := len(ids)

	if n <= cfg.BetweennessSampleThreshold {
		return network.Betweenness(g.Underlying()), false
	}

	sampleSize := cfg.BetweennessSampleSize
	if sampleSize > n {
		sampleSize = n
	}

	rng := rand.New(rand.NewSource(betweennessSeed))
	perm := rng.Perm(n)

	sources := make([]int64, sampleSize)
	for i := 0; i < sampleSize; i++ {
		sources[i] = ids[perm[i]]
	}

	raw := brandesFrom(g, ids, sources)

	scale := float64(n) / float64(sampleSize)

	scores = make(map[int64]float64, n)
	for id, v := range raw {
		scores[id] = v * scale
	}

	return scores, true
}

// brandesFrom runs Brandes' algorithm restricted to the given source set,
// on an unweighted directed graph.
func brandesFrom(g *Graph, ids []int64, sources []int64) map[int64]float64 {
	cb := make(map[int64]float64, len(ids))
	for _, id := range ids {
		cb[id] = 0
	}

	for _, s := range sources {
		stack := make([]int64, 0, len(ids))
		pred := make(map[int64][]int64, len(ids))
		sigma := make(map[int64]float64, len(ids))
		dist := make(map[int64]int, len(ids))

		for _, id := range ids {
			sigma[id] = 0
			dist[id] = -1
		}

		sigma[s] = 1
		dist[s] = 0

		queue := []int64{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)

			toNodes := g.Underlying().From(v)
			for toNodes.Next() {
				w := toNodes.Node().ID()

				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}

				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make(map[int64]float64, len(ids))

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]

			for _, v := range pred[w] {
				if sigma[w] != 0 {
					delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
				}
			}

			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	return cb
}
