package mcp

import (
	"context"

	"forge/internal/logging"
)

// GraphRAGClient wraps the seven knowledge-graph MCP tools. Every method
// returns a safe zero-shaped default on any transport or tool error
// instead of propagating it, so phase executors can always fall through
// to their non-graph-RAG path without exception handling — ported
// field-for-field from GraphRAGClient in graph_rag/mcp_client.py.
type GraphRAGClient struct {
	client *StdioClient
}

// NewGraphRAGClient wraps an already-connected StdioClient.
func NewGraphRAGClient(client *StdioClient) *GraphRAGClient {
	return &GraphRAGClient{client: client}
}

func (g *GraphRAGClient) warn(tool string, err error) {
	logging.Get(logging.CategoryMCP).Warn("%s failed: %v", tool, err)
}

// BuildKnowledgeGraph rebuilds the knowledge graph from all existing data
// stores.
func (g *GraphRAGClient) BuildKnowledgeGraph(ctx context.Context, projectName string, forceRebuild bool, serviceInterfacesJSON string) map[string]interface{} {
	var out map[string]interface{}
	err := g.client.CallTool(ctx, "build_knowledge_graph", map[string]interface{}{
		"project_name":             projectName,
		"force_rebuild":            forceRebuild,
		"service_interfaces_json":  serviceInterfacesJSON,
	}, &out)
	if err != nil {
		g.warn("build_knowledge_graph", err)
		return map[string]interface{}{"success": false, "error": err.Error()}
	}
	return out
}

// GetServiceContext retrieves a structured context block for one service.
func (g *GraphRAGClient) GetServiceContext(ctx context.Context, serviceName string, options map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{"service_name": serviceName}
	for k, v := range options {
		params[k] = v
	}
	var out map[string]interface{}
	if err := g.client.CallTool(ctx, "get_service_context", params, &out); err != nil {
		g.warn("get_service_context", err)
		return map[string]interface{}{"service_name": serviceName, "error": err.Error()}
	}
	return out
}

// QueryGraphNeighborhood extracts the N-hop neighborhood around a node.
func (g *GraphRAGClient) QueryGraphNeighborhood(ctx context.Context, nodeID string, options map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{"node_id": nodeID}
	for k, v := range options {
		params[k] = v
	}
	var out map[string]interface{}
	if err := g.client.CallTool(ctx, "query_graph_neighborhood", params, &out); err != nil {
		g.warn("query_graph_neighborhood", err)
		return map[string]interface{}{
			"center_node": map[string]interface{}{}, "nodes": []interface{}{}, "edges": []interface{}{},
			"total_nodes_in_neighborhood": 0, "truncated": false, "error": err.Error(),
		}
	}
	return out
}

// HybridSearch combines semantic vector search with graph-structural
// re-ranking.
func (g *GraphRAGClient) HybridSearch(ctx context.Context, query string, options map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{"query": query}
	for k, v := range options {
		params[k] = v
	}
	var out map[string]interface{}
	if err := g.client.CallTool(ctx, "hybrid_search", params, &out); err != nil {
		g.warn("hybrid_search", err)
		return map[string]interface{}{"results": []interface{}{}, "query": query, "error": err.Error()}
	}
	return out
}

// FindCrossServiceImpact finds all cross-service entities impacted by a
// change at nodeID.
func (g *GraphRAGClient) FindCrossServiceImpact(ctx context.Context, nodeID string, maxDepth int) map[string]interface{} {
	var out map[string]interface{}
	err := g.client.CallTool(ctx, "find_cross_service_impact", map[string]interface{}{
		"node_id": nodeID, "max_depth": maxDepth,
	}, &out)
	if err != nil {
		g.warn("find_cross_service_impact", err)
		return map[string]interface{}{
			"source_node": nodeID, "source_service": "", "impacted_services": []interface{}{},
			"impacted_contracts": []interface{}{}, "impacted_entities": []interface{}{},
			"total_impacted_nodes": 0, "error": err.Error(),
		}
	}
	return out
}

// ValidateServiceBoundaries validates service boundaries via Louvain
// community detection.
func (g *GraphRAGClient) ValidateServiceBoundaries(ctx context.Context, resolution float64) map[string]interface{} {
	var out map[string]interface{}
	if err := g.client.CallTool(ctx, "validate_service_boundaries", map[string]interface{}{"resolution": resolution}, &out); err != nil {
		g.warn("validate_service_boundaries", err)
		return map[string]interface{}{
			"communities_detected": 0, "services_declared": 0, "alignment_score": 0.0,
			"misplaced_files": []interface{}{}, "isolated_files": []interface{}{},
			"service_coupling": []interface{}{}, "error": err.Error(),
		}
	}
	return out
}

// CheckCrossServiceEvents validates cross-service event publisher/consumer
// matching.
func (g *GraphRAGClient) CheckCrossServiceEvents(ctx context.Context, serviceName string) map[string]interface{} {
	params := map[string]interface{}{}
	if serviceName != "" {
		params["service_name"] = serviceName
	}
	var out map[string]interface{}
	if err := g.client.CallTool(ctx, "check_cross_service_events", params, &out); err != nil {
		g.warn("check_cross_service_events", err)
		return map[string]interface{}{
			"orphaned_events": []interface{}{}, "unmatched_consumers": []interface{}{},
			"matched_events": []interface{}{}, "total_events": 0, "match_rate": 0.0, "error": err.Error(),
		}
	}
	return out
}
