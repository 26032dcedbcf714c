package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func starGraph() *Graph {
	g := New()
	g.AddNode("hub", NodeService, nil)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("leaf%d", i)
		g.AddNode(id, NodeFile, nil)
		_ = g.AddEdge(id, string(ServiceCalls), "hub", map[string]interface{}{"via_endpoint": ""})
	}
	return g
}

func TestPageRankStarHubIsUniqueMaximum(t *testing.T) {
	g := starGraph()
	ranks := g.ComputePageRank(0.85, 100, 1e-10)
	top := TopByPageRank(ranks)
	require.Equal(t, "hub", top[0])
	for _, leaf := range top[1:] {
		assert.Less(t, ranks[leaf], ranks["hub"])
	}
}

func TestGraphRoundTripPreservesNodesAndEdges(t *testing.T) {
	g := New()
	g.AddNode("service::auth", NodeService, map[string]interface{}{"domain": "identity"})
	g.AddNode("service::orders", NodeService, map[string]interface{}{"domain": "commerce"})
	require.NoError(t, g.AddEdge("service::auth", string(ServiceCalls), "service::orders", map[string]interface{}{"via_endpoint": "/orders"}))

	data, err := g.ToJSON()
	require.NoError(t, err)

	g2, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, g.NodeCount(), g2.NodeCount())
	assert.Equal(t, g.EdgeCount(), g2.EdgeCount())
	n := g2.Node("service::auth")
	require.NotNil(t, n)
	assert.Equal(t, "identity", n.Attributes["domain"])
}

func TestValidateInvariantsCatchesBadRelation(t *testing.T) {
	g := New()
	g.AddNode("endpoint::svc::GET::/x", NodeEndpoint, nil)
	g.AddNode("contract::svc", NodeContract, nil)
	require.NoError(t, g.AddEdge("contract::svc", "NOT_A_REAL_RELATION", "endpoint::svc::GET::/x", nil))

	errs := g.ValidateInvariants()
	require.NotEmpty(t, errs)
}

func TestEgoSubgraphRespectsRadius(t *testing.T) {
	g := New()
	g.AddNode("a", NodeFile, nil)
	g.AddNode("b", NodeFile, nil)
	g.AddNode("c", NodeFile, nil)
	require.NoError(t, g.AddEdge("a", string(Imports), "b", nil))
	require.NoError(t, g.AddEdge("b", string(Imports), "c", nil))

	ego := g.GetEgoSubgraph("a", 1)
	assert.Len(t, ego.Nodes, 2) // a, b
	ego2 := g.GetEgoSubgraph("a", 2)
	assert.Len(t, ego2.Nodes, 3) // a, b, c
}
