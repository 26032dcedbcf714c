// Package graphrag implements the GraphRAGIndexer and GraphRAGEngine:
// the five-phase knowledge-graph build pipeline and the seven read-only
// query tools it backs. Grounded on
// graph_rag/graph_rag_indexer.py, graph_rag/graph_rag_engine.py, and
// graph_rag/context_assembler.py.
package graphrag

// ServiceContext is the structured result of Tool 2 (get_service_context),
// field-for-field from shared/models/graph_rag.py's ServiceContext.
type ServiceContext struct {
	ServiceName         string              `json:"service_name"`
	ProvidedEndpoints   []map[string]string `json:"provided_endpoints"`
	ConsumedEndpoints   []map[string]string `json:"consumed_endpoints"`
	EventsPublished     []map[string]string `json:"events_published"`
	EventsConsumed      []map[string]string `json:"events_consumed"`
	OwnedEntities       []EntityRef         `json:"owned_entities"`
	ReferencedEntities  []EntityRef         `json:"referenced_entities"`
	DependsOn           []string            `json:"depends_on"`
	DependedOnBy        []string            `json:"depended_on_by"`
	ContextText         string              `json:"context_text"`
	Error               string              `json:"error,omitempty"`
}

// EntityRef is a domain entity reference with its field list (owned or
// referenced), matching the dict shape context_assembler.py expects.
type EntityRef struct {
	Name          string                   `json:"name"`
	OwningService string                   `json:"owning_service,omitempty"`
	Fields        []map[string]interface{} `json:"fields"`
}

// NeighborhoodResult is Tool 3's result (query_graph_neighborhood).
type NeighborhoodResult struct {
	CenterNode            map[string]interface{}   `json:"center_node"`
	Nodes                 []map[string]interface{} `json:"nodes"`
	Edges                 []map[string]interface{} `json:"edges"`
	TotalNodesInNeighborhood int                    `json:"total_nodes_in_neighborhood"`
	Truncated             bool                     `json:"truncated"`
}

// SearchResult is one hybrid_search hit (Tool 4).
type SearchResult struct {
	NodeID        string                 `json:"node_id"`
	NodeType      string                 `json:"node_type"`
	SemanticScore float64                `json:"semantic_score"`
	GraphScore    float64                `json:"graph_score"`
	Score         float64                `json:"score"`
	Distance      int                    `json:"distance"`
	Document      string                 `json:"document"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// HybridSearchResult is Tool 4's top-level response.
type HybridSearchResult struct {
	Results      []SearchResult `json:"results"`
	Query        string         `json:"query"`
	AnchorNodeID string         `json:"anchor_node_id"`
}

// CrossServiceImpact is Tool 5's result.
type CrossServiceImpact struct {
	SourceNode          string                   `json:"source_node"`
	SourceService       string                   `json:"source_service"`
	ImpactedServices    []ImpactedService        `json:"impacted_services"`
	ImpactedContracts   []map[string]interface{} `json:"impacted_contracts"`
	ImpactedEntities    []map[string]interface{} `json:"impacted_entities"`
	TotalImpactedNodes  int                      `json:"total_impacted_nodes"`
}

// ImpactedService is one entry in CrossServiceImpact.ImpactedServices.
type ImpactedService struct {
	ServiceName string     `json:"service_name"`
	ImpactCount int        `json:"impact_count"`
	ImpactPaths [][]string `json:"impact_paths"`
}

// ServiceBoundaryValidation is Tool 6's result.
type ServiceBoundaryValidation struct {
	CommunitiesDetected int                      `json:"communities_detected"`
	ServicesDeclared    int                      `json:"services_declared"`
	AlignmentScore      float64                  `json:"alignment_score"`
	MisplacedFiles      []MisplacedFile          `json:"misplaced_files"`
	IsolatedFiles       []string                 `json:"isolated_files"`
	ServiceCoupling     []ServiceCoupling        `json:"service_coupling"`
}

// MisplacedFile is one boundary-violation entry.
type MisplacedFile struct {
	File             string  `json:"file"`
	DeclaredService  string  `json:"declared_service"`
	CommunityService string  `json:"community_service"`
	Confidence       float64 `json:"confidence"`
}

// ServiceCoupling is one cross-service edge-count pair.
type ServiceCoupling struct {
	ServiceA   string `json:"service_a"`
	ServiceB   string `json:"service_b"`
	CrossEdges int    `json:"cross_edges"`
}

// EventValidationResult is Tool 7's result.
type EventValidationResult struct {
	OrphanedEvents      []EventEntry `json:"orphaned_events"`
	UnmatchedConsumers  []EventEntry `json:"unmatched_consumers"`
	MatchedEvents       []EventEntry `json:"matched_events"`
	TotalEvents         int          `json:"total_events"`
	MatchRate           float64      `json:"match_rate"`
}

// EventEntry is one event's publisher/consumer reconciliation record.
type EventEntry struct {
	EventName string   `json:"event_name"`
	Channel   string   `json:"channel"`
	Publishers []string `json:"publishers"`
	Consumers  []string `json:"consumers"`
}

// BuildResult summarizes one indexer run (GraphRAGBuildResult).
type BuildResult struct {
	Success          bool           `json:"success"`
	NodeCount        int            `json:"node_count"`
	EdgeCount        int            `json:"edge_count"`
	NodeTypes        map[string]int `json:"node_types"`
	EdgeTypes        map[string]int `json:"edge_types"`
	CommunityCount   int            `json:"community_count"`
	BuildTimeMillis  int64          `json:"build_time_ms"`
	ServicesIndexed  []string       `json:"services_indexed"`
	Errors           []string       `json:"errors"`
}
