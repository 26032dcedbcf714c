package graph

import "sort"

// ComputePageRank computes PageRank via power iteration with the given
// damping factor (callers pass the configured value, 0.85 by default),
// converging when the L1 delta
// falls below tolerance or after maxIterations. Dangling nodes (no
// outgoing edges) redistribute their rank uniformly, matching networkx's
// default handling in knowledge_graph.py:compute_pagerank.
func (g *Graph) ComputePageRank(damping float64, maxIterations int, tolerance float64) map[string]float64 {
	if maxIterations <= 0 {
		maxIterations = 100
	}
	if tolerance <= 0 {
		tolerance = 1e-8
	}

	nodes := g.Nodes()
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}
	}

	ids := make([]string, n)
	idx := make(map[string]int, n)
	for i, node := range nodes {
		ids[i] = node.ID
		idx[node.ID] = i
	}

	outDeg := make([]int, n)
	adjIdx := make([][]int, n)
	for i, id := range ids {
		for _, e := range g.Out(id) {
			if j, ok := idx[e.To]; ok {
				adjIdx[i] = append(adjIdx[i], j)
			}
		}
		outDeg[i] = len(adjIdx[i])
	}

	rank := make([]float64, n)
	init := 1.0 / float64(n)
	for i := range rank {
		rank[i] = init
	}

	base := (1 - damping) / float64(n)

	for iter := 0; iter < maxIterations; iter++ {
		next := make([]float64, n)
		var danglingSum float64
		for i, deg := range outDeg {
			if deg == 0 {
				danglingSum += rank[i]
			}
		}
		danglingShare := damping * danglingSum / float64(n)

		for i := range next {
			next[i] = base + danglingShare
		}
		for i, deg := range outDeg {
			if deg == 0 {
				continue
			}
			share := damping * rank[i] / float64(deg)
			for _, j := range adjIdx[i] {
				next[j] += share
			}
		}

		var delta float64
		for i := range rank {
			d := next[i] - rank[i]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		rank = next
		if delta < tolerance {
			break
		}
	}

	out := make(map[string]float64, n)
	for i, id := range ids {
		out[id] = rank[i]
	}
	return out
}

// TopByPageRank returns node ids sorted descending by rank, for tests
// exercising "PageRank on a star with 5 leaves assigns the hub the unique
// maximum".
func TopByPageRank(ranks map[string]float64) []string {
	ids := make([]string, 0, len(ranks))
	for id := range ranks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ranks[ids[i]] != ranks[ids[j]] {
			return ranks[ids[i]] > ranks[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
