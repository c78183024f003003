package dsm

// pageRank computes standard damped-random-walk PageRank with a fixed
// uniform initial vector, iterating until the L1-norm delta falls below tol
// or maxIter is reached (spec.md §4.2).
//
// gonum.org/v1/gonum/graph/network.PageRank implements the same damping/
// convergence model but does not expose a maximum-iteration knob (see
// DESIGN.md, "PageRank iteration cap with gonum"), so the power iteration is
// reimplemented directly here with the same constants; network.PageRank is
// not called.
func pageRank(g *Graph, ids []int64, damping, tol float64, maxIter int) (scores map[int64]float64, converged bool) {
	n := len(ids)
	scores = make(map[int64]float64, n)

	if n == 0 {
		return scores, true
	}

	initial := 1.0 / float64(n)
	for _, id := range ids {
		scores[id] = initial
	}

	danglingMass := func(cur map[int64]float64) float64 {
		var mass float64

		for _, id := range ids {
			if g.FanOut(id) == 0 {
				mass += cur[id]
			}
		}

		return mass
	}

	converged = false

	for iter := 0; iter < maxIter; iter++ {
		next := make(map[int64]float64, n)
		base := (1 - damping) / float64(n)

		dangling := damping * danglingMass(scores) / float64(n)

		for _, id := range ids {
			next[id] = base + dangling
		}

		for _, u := range ids {
			fanOut := g.FanOut(u)
			if fanOut == 0 {
				continue
			}

			share := damping * scores[u] / float64(fanOut)

			toNodes := g.Underlying().From(u)
			for toNodes.Next() {
				v := toNodes.Node().ID()
				next[v] += share
			}
		}

		delta := 0.0
		for _, id := range ids {
			d := next[id] - scores[id]
			if d < 0 {
				d = -d
			}

			delta += d
		}

		scores = next

		if delta < tol {
			converged = true

			break
		}
	}

	return scores, converged
}
