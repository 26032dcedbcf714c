package graphrag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/graph"
	"forge/internal/vectorstore"
)

func newTestEngine(t *testing.T) (*Engine, *graph.Graph) {
	t.Helper()
	g := graph.New()
	store, err := vectorstore.Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	asm := NewContextAssembler(2000, 4)
	return NewEngine(g, store, asm, NewHashEmbedder(32), 42), g
}

// one event with a publisher and no consumer,
// one event with both. Expect match_rate == 0.5.
func TestCheckCrossServiceEventsReconciliation(t *testing.T) {
	e, g := newTestEngine(t)

	g.AddNode("service::auth-service", graph.NodeService, map[string]interface{}{"service_name": "auth-service"})
	g.AddNode("service::order-service", graph.NodeService, map[string]interface{}{"service_name": "order-service"})
	g.AddNode("service::billing-service", graph.NodeService, map[string]interface{}{"service_name": "billing-service"})

	g.AddNode("event::user.registered", graph.NodeEvent, map[string]interface{}{"event_name": "user.registered", "channel": "user.registered"})
	g.AddNode("event::order.created", graph.NodeEvent, map[string]interface{}{"event_name": "order.created", "channel": "order.created"})

	require.NoError(t, g.AddEdge("service::auth-service", string(graph.PublishesEvent), "event::user.registered", nil))

	require.NoError(t, g.AddEdge("service::order-service", string(graph.PublishesEvent), "event::order.created", nil))
	require.NoError(t, g.AddEdge("service::billing-service", string(graph.ConsumesEvent), "event::order.created", nil))

	result := e.CheckCrossServiceEvents("")

	require.Len(t, result.OrphanedEvents, 1)
	assert.Equal(t, "user.registered", result.OrphanedEvents[0].EventName)

	require.Len(t, result.MatchedEvents, 1)
	assert.Equal(t, "order.created", result.MatchedEvents[0].EventName)

	assert.Empty(t, result.UnmatchedConsumers)
	assert.Equal(t, 2, result.TotalEvents)
	assert.Equal(t, 0.5, result.MatchRate)
}

// a four-file clique declared auth-service, plus
// one file declared order-service but densely connected into the clique.
// Expect alignment_score < 1.0 and the misplaced file attributed to the
// auth-service community.
func TestValidateServiceBoundariesDetectsMisplacedFile(t *testing.T) {
	e, g := newTestEngine(t)

	authFiles := []string{"file::a1.go", "file::a2.go", "file::a3.go", "file::a4.go"}
	for _, f := range authFiles {
		g.AddNode(f, graph.NodeFile, map[string]interface{}{"file_path": f, "service_name": "auth-service"})
	}
	misplaced := "file::stray.go"
	g.AddNode(misplaced, graph.NodeFile, map[string]interface{}{"file_path": misplaced, "service_name": "order-service"})

	for i, f := range authFiles {
		for j, other := range authFiles {
			if i != j {
				require.NoError(t, g.AddEdge(f, string(graph.Calls), other, nil))
			}
		}
	}
	for _, f := range authFiles {
		require.NoError(t, g.AddEdge(misplaced, string(graph.Calls), f, nil))
		require.NoError(t, g.AddEdge(f, string(graph.Calls), misplaced, nil))
	}

	g.RefreshUndirectedCache()
	result := e.ValidateServiceBoundaries(1.0)

	assert.Less(t, result.AlignmentScore, 1.0)
	require.NotEmpty(t, result.MisplacedFiles)

	found := false
	for _, mf := range result.MisplacedFiles {
		if mf.File == misplaced {
			found = true
			assert.Equal(t, "order-service", mf.DeclaredService)
			assert.Equal(t, "auth-service", mf.CommunityService)
		}
	}
	assert.True(t, found, "expected %s to be reported as misplaced", misplaced)
}

func TestGetServiceContextReportsMissingService(t *testing.T) {
	e, _ := newTestEngine(t)
	result := e.GetServiceContext("ghost-service")
	assert.Equal(t, "Service not found in knowledge graph", result.Error)
}

func TestGetServiceContextAssemblesDependenciesAndAPIs(t *testing.T) {
	e, g := newTestEngine(t)

	g.AddNode("service::auth-service", graph.NodeService, map[string]interface{}{"service_name": "auth-service", "domain": "identity"})
	g.AddNode("service::order-service", graph.NodeService, map[string]interface{}{"service_name": "order-service", "domain": "commerce"})
	g.AddNode("contract::auth-openapi", graph.NodeContract, map[string]interface{}{"contract_id": "auth-openapi"})
	g.AddNode("endpoint::auth-service::POST::/login", graph.NodeEndpoint, map[string]interface{}{"method": "POST", "path": "/login"})

	require.NoError(t, g.AddEdge("service::auth-service", string(graph.ProvidesContract), "contract::auth-openapi", nil))
	require.NoError(t, g.AddEdge("contract::auth-openapi", string(graph.ExposesEndpoint), "endpoint::auth-service::POST::/login", nil))
	require.NoError(t, g.AddEdge("service::order-service", string(graph.ServiceCalls), "service::auth-service", nil))

	result := e.GetServiceContext("auth-service")
	assert.Equal(t, "auth-service", result.ServiceName)
	require.Len(t, result.ProvidedEndpoints, 1)
	assert.Equal(t, "POST", result.ProvidedEndpoints[0]["method"])
	assert.Equal(t, []string{"order-service"}, result.DependedOnBy)
	assert.Contains(t, result.ContextText, "Graph RAG Context: auth-service")
}

func TestHybridSearchBlendsSemanticAndGraphScore(t *testing.T) {
	e, g := newTestEngine(t)
	g.AddNode("file::a.go", graph.NodeFile, map[string]interface{}{"file_path": "a.go", "service_name": "auth-service"})
	g.AddNode("file::b.go", graph.NodeFile, map[string]interface{}{"file_path": "b.go", "service_name": "auth-service"})

	ctx := context.Background()
	err := e.store.UpsertNodes(ctx, []vectorstore.Record{
		{ID: "file::a.go", Embedding: e.embedder.Embed("login handler authentication"), Content: "login handler", Metadata: map[string]interface{}{"node_type": "file"}},
		{ID: "file::b.go", Embedding: e.embedder.Embed("unrelated billing invoice"), Content: "billing", Metadata: map[string]interface{}{"node_type": "file"}},
	})
	require.NoError(t, err)

	result, err := e.HybridSearch(ctx, "login handler authentication", 5, "", nil, "", 1.0, 0.0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Results)
	assert.Equal(t, "file::a.go", result.Results[0].NodeID)
}
