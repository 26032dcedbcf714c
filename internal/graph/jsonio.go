package graph

import (
	"encoding/json"
	"fmt"
)

// nodeLinkDoc mirrors networkx's node_link_data(..., edges="edges") output
// shape: {"directed": true, "multigraph": true, "graph": {}, "nodes": [...], "edges": [...]}.
type nodeLinkDoc struct {
	Directed   bool              `json:"directed"`
	Multigraph bool              `json:"multigraph"`
	Graph      map[string]interface{} `json:"graph"`
	Nodes      []nodeLinkNode    `json:"nodes"`
	Edges      []nodeLinkEdge    `json:"edges"`
}

type nodeLinkNode struct {
	ID    string                 `json:"id"`
	Attrs map[string]interface{} `json:"-"`
}

type nodeLinkEdge struct {
	Source string                 `json:"source"`
	Target string                 `json:"target"`
	Key    string                 `json:"key"`
	Attrs  map[string]interface{} `json:"-"`
}

// MarshalJSON flattens node attributes alongside id, matching networkx's
// flat per-node attribute dict plus "id" key.
func (n nodeLinkNode) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{"id": n.ID}
	for k, v := range n.Attrs {
		m[k] = v
	}
	return json.Marshal(m)
}

func (n *nodeLinkNode) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	id, ok := m["id"].(string)
	if !ok {
		return fmt.Errorf("node-link node missing string id")
	}
	delete(m, "id")
	n.ID = id
	n.Attrs = m
	return nil
}

func (e nodeLinkEdge) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{"source": e.Source, "target": e.Target, "key": e.Key}
	for k, v := range e.Attrs {
		m[k] = v
	}
	return json.Marshal(m)
}

func (e *nodeLinkEdge) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	src, _ := m["source"].(string)
	tgt, _ := m["target"].(string)
	key, _ := m["key"].(string)
	delete(m, "source")
	delete(m, "target")
	delete(m, "key")
	e.Source = src
	e.Target = tgt
	e.Key = key
	e.Attrs = m
	return nil
}

// ToJSON serializes the graph in node-link format (directed=true,
// multigraph=true, edges key named "edges"). Round-tripping through
// ToJSON/FromJSON preserves node count, edge count, and all attributes
// exactly.
func (g *Graph) ToJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := nodeLinkDoc{Directed: true, Multigraph: true, Graph: map[string]interface{}{}}
	for _, n := range g.sortedNodesLocked() {
		attrs := map[string]interface{}{"node_type": string(n.Type)}
		for k, v := range n.Attributes {
			attrs[k] = v
		}
		doc.Nodes = append(doc.Nodes, nodeLinkNode{ID: n.ID, Attrs: attrs})
	}
	ids := make([]string, 0, len(g.out))
	for id := range g.out {
		ids = append(ids, id)
	}
	for _, id := range sortedStrings(ids) {
		for _, e := range g.out[id] {
			attrs := map[string]interface{}{}
			for k, v := range e.Attributes {
				attrs[k] = v
			}
			doc.Edges = append(doc.Edges, nodeLinkEdge{Source: e.From, Target: e.To, Key: e.Key, Attrs: attrs})
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FromJSON builds a new graph from the node-link document encoded in
// data. Unknown top-level keys are ignored.
func FromJSON(data []byte) (*Graph, error) {
	var doc nodeLinkDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing node-link graph: %w", err)
	}
	g := New()
	for _, n := range doc.Nodes {
		typ, _ := n.Attrs["node_type"].(string)
		attrs := map[string]interface{}{}
		for k, v := range n.Attrs {
			if k == "node_type" {
				continue
			}
			attrs[k] = v
		}
		g.AddNode(n.ID, NodeType(typ), attrs)
	}
	for _, e := range doc.Edges {
		relation, _ := e.Attrs["relation"].(string)
		attrs := map[string]interface{}{}
		for k, v := range e.Attrs {
			if k == "relation" {
				continue
			}
			attrs[k] = v
		}
		if err := g.AddEdge(e.Source, relation, e.Target, attrs); err != nil {
			return nil, fmt.Errorf("restoring edge %s->%s: %w", e.Source, e.Target, err)
		}
	}
	return g, nil
}

func (g *Graph) sortedNodesLocked() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func sortedStrings(ss []string) []string {
	out := append([]string(nil), ss...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
