package graph

import (
	"fmt"
	"sort"
	"sync"

	"forge/internal/logging"
)

// Graph is a directed, labeled, node-indexed multigraph. Representation:
// node-indexed adjacency keyed by edge type (node id strings are the
// ownership story, never
// pointer-owned edges).
type Graph struct {
	mu sync.RWMutex

	nodes map[string]*Node
	out   map[string][]*Edge // outgoing edges keyed by source node id
	in    map[string][]*Edge // incoming edges keyed by target node id

	// undirectedCache holds the lazily-built undirected adjacency
	// projection used by hybrid search and ego extraction. Invalidated
	// (set to nil) after any mutation; rebuilt on next access. Expensive
	// to rebuild, so it is only ever invalidated, never patched in place.
	undirectedCache map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: map[string]*Node{},
		out:   map[string][]*Edge{},
		in:    map[string][]*Edge{},
	}
}

// Clear removes all nodes and edges — the indexer does this at the start
// of every build.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = map[string]*Node{}
	g.out = map[string][]*Edge{}
	g.in = map[string][]*Edge{}
	g.undirectedCache = nil
}

// AddNode inserts or replaces a node. Attributes are merged into any
// existing node with the same id (matching networkx's add_node semantics
// in knowledge_graph.py, where repeated add_node calls update attributes).
func (g *Graph) AddNode(id string, typ NodeType, attrs map[string]interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.nodes[id]; ok {
		if existing.Attributes == nil {
			existing.Attributes = map[string]interface{}{}
		}
		for k, v := range attrs {
			existing.Attributes[k] = v
		}
		return
	}
	a := map[string]interface{}{}
	for k, v := range attrs {
		a[k] = v
	}
	g.nodes[id] = &Node{ID: id, Type: typ, Attributes: a}
	g.undirectedCache = nil
}

// AddEdge appends a new labeled edge. Multigraph: multiple edges with the
// same (from, relation, to) are permitted and are all retained.
func (g *Graph) AddEdge(from, relation, to string, attrs map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("AddEdge: source node %q does not exist", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("AddEdge: target node %q does not exist", to)
	}
	a := map[string]interface{}{"relation": relation}
	for k, v := range attrs {
		a[k] = v
	}
	e := &Edge{From: from, To: to, Relation: relation, Key: fmt.Sprintf("%s->%s:%s:%d", from, to, relation, len(g.out[from])), Attributes: a}
	g.out[from] = append(g.out[from], e)
	g.in[to] = append(g.in[to], e)
	g.undirectedCache = nil
	return nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, es := range g.out {
		n += len(es)
	}
	return n
}

// Nodes returns all nodes, sorted by id for deterministic iteration.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Edge
	ids := make([]string, 0, len(g.out))
	for id := range g.out {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, g.out[id]...)
	}
	return out
}

// Out returns the outgoing edges of id, optionally filtered to relations.
func (g *Graph) Out(id string, relations ...string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterEdges(g.out[id], relations)
}

// In returns the incoming edges of id, optionally filtered to relations.
func (g *Graph) In(id string, relations ...string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterEdges(g.in[id], relations)
}

func filterEdges(edges []*Edge, relations []string) []*Edge {
	if len(relations) == 0 {
		return append([]*Edge(nil), edges...)
	}
	allowed := map[string]bool{}
	for _, r := range relations {
		allowed[r] = true
	}
	var out []*Edge
	for _, e := range edges {
		if allowed[e.Relation] {
			out = append(out, e)
		}
	}
	return out
}

// RefreshUndirectedCache forces a rebuild of the undirected projection.
// Consumers MUST call this after any indexer run, before the undirected
// projection is queried again.
func (g *Graph) RefreshUndirectedCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buildUndirectedLocked()
}

func (g *Graph) buildUndirectedLocked() {
	adj := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		adj[id] = nil
	}
	for from, edges := range g.out {
		for _, e := range edges {
			adj[from] = append(adj[from], e.To)
			adj[e.To] = append(adj[e.To], from)
		}
	}
	g.undirectedCache = adj
	logging.Get(logging.CategoryGraph).Debug("undirected projection rebuilt: %d nodes", len(adj))
}

// undirectedAdjacency returns the (lazily built) undirected adjacency map.
// Caller must not mutate the returned map.
func (g *Graph) undirectedAdjacency() map[string][]string {
	g.mu.RLock()
	if g.undirectedCache != nil {
		defer g.mu.RUnlock()
		return g.undirectedCache
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.undirectedCache == nil {
		g.buildUndirectedLocked()
	}
	return g.undirectedCache
}

// UndirectedAdjacency exposes the lazily built undirected projection for
// read-path consumers (graphrag.Engine's BFS-based tools). Callers must
// not mutate the returned map.
func (g *Graph) UndirectedAdjacency() map[string][]string {
	return g.undirectedAdjacency()
}

// UndirectedAdjacencyFor returns the undirected projection restricted to
// the given node subset, keeping only neighbors that are themselves in
// the subset. Used by boundary validation to find isolated files within
// just the file subgraph.
func (g *Graph) UndirectedAdjacencyFor(subset []string) map[string][]string {
	full := g.undirectedAdjacency()
	allowed := make(map[string]bool, len(subset))
	for _, id := range subset {
		allowed[id] = true
	}
	restricted := make(map[string][]string, len(subset))
	for _, id := range subset {
		for _, nb := range full[id] {
			if allowed[nb] {
				restricted[id] = append(restricted[id], nb)
			}
		}
	}
	return restricted
}
