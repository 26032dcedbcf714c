package graph

import (
	"math/rand"
	"sort"
)

// ComputeCommunities runs Louvain-style greedy modularity optimization
// over the undirected projection restricted to the given node subset
// (pass nil for the full graph), with a fixed seed for reproducible node
// visit order: a fixed seed produces identical partitions across runs.
// Returns node id -> community id.
//
// This implements single-level greedy modularity optimization (Louvain's
// first phase) rather than the full multi-level aggregation: for the
// subgraph sizes this system deals with (per-service file graphs), one
// pass converges to a stable partition and keeps the algorithm's
// determinism easy to audit. Grounded on knowledge_graph.py's
// compute_communities, which likewise treats the seed as the sole
// reproducibility knob exposed to callers.
func (g *Graph) ComputeCommunities(nodeIDs []string, seed int64) map[string]int {
	adjFull := g.undirectedAdjacency()

	var ids []string
	allowed := map[string]bool{}
	if nodeIDs == nil {
		for id := range adjFull {
			ids = append(ids, id)
		}
	} else {
		ids = append(ids, nodeIDs...)
		for _, id := range ids {
			allowed[id] = true
		}
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		return map[string]int{}
	}

	// weight[i][j] = number of undirected edges between i and j
	weight := make([]map[int]float64, len(ids))
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i
		weight[i] = map[int]float64{}
	}
	var totalWeight float64
	degree := make([]float64, len(ids))

	for i, id := range ids {
		for _, nb := range adjFull[id] {
			j, ok := idx[nb]
			if !ok {
				continue
			}
			if nodeIDs != nil && !allowed[nb] {
				continue
			}
			weight[i][j]++
			degree[i]++
			totalWeight++
		}
	}
	totalWeight /= 2 // each undirected edge counted from both ends

	community := make([]int, len(ids))
	for i := range community {
		community[i] = i
	}
	commWeight := append([]float64(nil), degree...)

	rng := rand.New(rand.NewSource(seed))
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	if totalWeight == 0 {
		out := make(map[string]int, len(ids))
		for i, id := range ids {
			out[id] = i
		}
		return out
	}

	improved := true
	for pass := 0; improved && pass < 50; pass++ {
		improved = false
		for _, i := range order {
			currentComm := community[i]

			neighborComms := map[int]float64{}
			for j, w := range weight[i] {
				neighborComms[community[j]] += w
			}

			// remove i from its current community
			commWeight[currentComm] -= degree[i]

			neighborIDs := make([]int, 0, len(neighborComms))
			for c := range neighborComms {
				neighborIDs = append(neighborIDs, c)
			}
			sort.Ints(neighborIDs)

			bestComm := currentComm
			bestGain := 0.0
			for _, c := range neighborIDs {
				wIn := neighborComms[c]
				gain := wIn - degree[i]*commWeight[c]/(2*totalWeight)
				if gain > bestGain || (gain == bestGain && c < bestComm) {
					bestGain = gain
					bestComm = c
				}
			}

			community[i] = bestComm
			commWeight[bestComm] += degree[i]
			if bestComm != currentComm {
				improved = true
			}
		}
	}

	// relabel communities to small dense integers, deterministically by
	// sorted representative node id.
	repOf := map[int]string{}
	for i, id := range ids {
		c := community[i]
		if existing, ok := repOf[c]; !ok || id < existing {
			repOf[c] = id
		}
	}
	var reps []string
	seen := map[string]bool{}
	for _, r := range repOf {
		if !seen[r] {
			seen[r] = true
			reps = append(reps, r)
		}
	}
	sort.Strings(reps)
	labelOf := make(map[string]int, len(reps))
	for label, r := range reps {
		labelOf[r] = label
	}

	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = labelOf[repOf[community[i]]]
	}
	return out
}
