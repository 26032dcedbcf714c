package graph

import "sort"

// EgoSubgraph is the result of a radius-bounded neighborhood extraction
// Returns a directed subgraph even when the traversal itself used the
// undirected projection. Grounded on knowledge_graph.py:get_ego_subgraph.
type EgoSubgraph struct {
	Center    string
	Nodes     []*Node
	Edges     []*Edge
	Distances map[string]int
	Total     int
	Truncated bool
}

// GetEgoSubgraph computes the radius-bounded ego subgraph of center.
// If undirected, the radius-bounding BFS follows the undirected
// projection; otherwise it follows outgoing edges only. The returned
// subgraph is always directed (i.e. built from the real out/in edges
// among the selected node set), never the undirected projection itself.
func (g *Graph) GetEgoSubgraph(center string, radius int) *EgoSubgraph {
	return g.getEgoSubgraph(center, radius, false)
}

// GetEgoSubgraphUndirected is GetEgoSubgraph using the undirected
// projection for distance computation.
func (g *Graph) GetEgoSubgraphUndirected(center string, radius int) *EgoSubgraph {
	return g.getEgoSubgraph(center, radius, true)
}

func (g *Graph) getEgoSubgraph(center string, radius int, undirected bool) *EgoSubgraph {
	if radius < 1 {
		radius = 1
	}
	distances := map[string]int{center: 0}
	order := []string{center}

	if undirected {
		adj := g.undirectedAdjacency()
		frontier := []string{center}
		for d := 1; d <= radius; d++ {
			var next []string
			for _, n := range frontier {
				for _, nb := range adj[n] {
					if _, seen := distances[nb]; !seen {
						distances[nb] = d
						next = append(next, nb)
						order = append(order, nb)
					}
				}
			}
			if len(next) == 0 {
				break
			}
			frontier = next
		}
	} else {
		g.mu.RLock()
		frontier := []string{center}
		for d := 1; d <= radius; d++ {
			var next []string
			for _, n := range frontier {
				for _, e := range g.out[n] {
					if _, seen := distances[e.To]; !seen {
						distances[e.To] = d
						next = append(next, e.To)
						order = append(order, e.To)
					}
				}
			}
			if len(next) == 0 {
				break
			}
			frontier = next
		}
		g.mu.RUnlock()
	}

	nodes := make([]*Node, 0, len(order))
	nodeSet := map[string]bool{}
	for _, id := range order {
		if n := g.Node(id); n != nil {
			nodes = append(nodes, n)
			nodeSet[id] = true
		}
	}

	var edges []*Edge
	for _, e := range g.Edges() {
		if nodeSet[e.From] && nodeSet[e.To] {
			edges = append(edges, e)
		}
	}

	return &EgoSubgraph{Center: center, Nodes: nodes, Edges: edges, Distances: distances, Total: len(nodes)}
}

// GetDescendants returns nodes reachable via outgoing edges within cutoff
// hops (BFS), excluding the start node.
func (g *Graph) GetDescendants(start string, cutoff int) []string {
	return g.bfsDirected(start, cutoff, true)
}

// GetAncestors returns nodes that can reach start via outgoing edges
// within cutoff hops (BFS over incoming edges), excluding the start node.
func (g *Graph) GetAncestors(start string, cutoff int) []string {
	return g.bfsDirected(start, cutoff, false)
}

func (g *Graph) bfsDirected(start string, cutoff int, forward bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	visited := map[string]bool{start: true}
	frontier := []string{start}
	var result []string
	for d := 0; cutoff <= 0 || d < cutoff; d++ {
		var next []string
		for _, n := range frontier {
			var edges []*Edge
			if forward {
				edges = g.out[n]
			} else {
				edges = g.in[n]
			}
			for _, e := range edges {
				target := e.To
				if !forward {
					target = e.From
				}
				if !visited[target] {
					visited[target] = true
					next = append(next, target)
					result = append(result, target)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	sort.Strings(result)
	return result
}

// GetShortestPath returns the shortest node-id path from start to end
// over the undirected projection (unweighted BFS), or nil if unreachable.
func (g *Graph) GetShortestPath(start, end string) []string {
	if start == end {
		return []string{start}
	}
	adj := g.undirectedAdjacency()
	prev := map[string]string{}
	visited := map[string]bool{start: true}
	frontier := []string{start}
	for len(frontier) > 0 {
		var next []string
		for _, n := range frontier {
			for _, nb := range adj[n] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				prev[nb] = n
				if nb == end {
					return reconstructPath(prev, start, end)
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil
}

// reconstructPath walks the prev chain from end back to start.
func reconstructPath(prev map[string]string, start, end string) []string {
	path := []string{end}
	n := end
	for n != start {
		p, ok := prev[n]
		if !ok {
			return nil
		}
		path = append([]string{p}, path...)
		n = p
	}
	return path
}
