package graph

import "fmt"

// ValidateInvariants checks the graph-level invariants: every edge's
// relation is a valid vocabulary entry,
// and every endpoint node has at least one incoming EXPOSES_ENDPOINT
// edge. Run after every indexer build as a belt-and-suspenders check.
func (g *Graph) ValidateInvariants() []error {
	var errs []error

	for _, e := range g.Edges() {
		if !ValidEdgeTypes[EdgeType(e.Relation)] {
			errs = append(errs, fmt.Errorf("edge %s->%s has invalid relation %q", e.From, e.To, e.Relation))
		}
	}

	for _, n := range g.Nodes() {
		if n.Type != NodeEndpoint {
			continue
		}
		incoming := g.In(n.ID, string(ExposesEndpoint))
		if len(incoming) == 0 {
			errs = append(errs, fmt.Errorf("endpoint node %q has no incoming EXPOSES_ENDPOINT edge", n.ID))
		}
	}

	return errs
}
