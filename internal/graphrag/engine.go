package graphrag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"forge/internal/graph"
	"forge/internal/vectorstore"
)

// Engine is the synchronous query layer backing the seven MCP tools
// Grounded on graph_rag/graph_rag_engine.py.
type Engine struct {
	g         *graph.Graph
	store     *vectorstore.Store
	assembler *ContextAssembler
	embedder  Embedder

	louvainSeed int64
}

// NewEngine binds an engine to a populated graph and vector store.
func NewEngine(g *graph.Graph, store *vectorstore.Store, assembler *ContextAssembler, embedder Embedder, louvainSeed int64) *Engine {
	if assembler == nil {
		assembler = NewContextAssembler(2000, 4)
	}
	if embedder == nil {
		embedder = NewHashEmbedder(64)
	}
	return &Engine{g: g, store: store, assembler: assembler, embedder: embedder, louvainSeed: louvainSeed}
}

// RefreshUndirectedCache must be called after any indexer run, before
// the next query that depends on undirected adjacency.
func (e *Engine) RefreshUndirectedCache() {
	e.g.RefreshUndirectedCache()
}

func nodeDict(n *graph.Node) map[string]interface{} {
	m := map[string]interface{}{"id": n.ID, "node_type": string(n.Type)}
	for k, v := range n.Attributes {
		m[k] = v
	}
	return m
}

// parseFieldsJSON decodes a domain entity's fields_json attribute (stored
// as a JSON array string by the indexer, mirroring graph_rag_engine.py's
// fields_json handling) into field dicts for the context assembler.
func parseFieldsJSON(raw string) []map[string]interface{} {
	if raw == "" {
		return nil
	}
	var fields []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil
	}
	return fields
}

func attrString(n *graph.Node, key string) string {
	if n == nil || n.Attributes == nil {
		return ""
	}
	s, _ := n.Attributes[key].(string)
	return s
}

// --- Tool 2: get_service_context ---------------------------------------

// GetServiceContext traverses outgoing edges of service::{name} to
// collect provided/consumed APIs, events, entities, and dependency
// topology, then renders a prioritized markdown block.
func (e *Engine) GetServiceContext(serviceName string) ServiceContext {
	serviceNodeID := "service::" + serviceName
	if e.g.Node(serviceNodeID) == nil {
		return ServiceContext{ServiceName: serviceName, Error: "Service not found in knowledge graph"}
	}

	var provided []map[string]string
	for _, contractEdge := range e.g.Out(serviceNodeID, string(graph.ProvidesContract)) {
		contractNode := contractEdge.To
		for _, epEdge := range e.g.Out(contractNode, string(graph.ExposesEndpoint)) {
			ep := e.g.Node(epEdge.To)
			provided = append(provided, map[string]string{
				"method":      attrString(ep, "method"),
				"path":        attrString(ep, "path"),
				"handler":     attrString(ep, "handler_symbol"),
				"contract_id": attrString(e.g.Node(contractNode), "contract_id"),
			})
		}
	}

	var consumed []map[string]string
	for _, callEdge := range e.g.Out(serviceNodeID, string(graph.ServiceCalls)) {
		viaEndpoint, _ := callEdge.Attributes["via_endpoint"].(string)
		if viaEndpoint == "" {
			continue
		}
		ep := e.g.Node(viaEndpoint)
		if ep == nil {
			continue
		}
		target := e.g.Node(callEdge.To)
		consumed = append(consumed, map[string]string{
			"method":           attrString(ep, "method"),
			"path":             attrString(ep, "path"),
			"provider_service": attrString(target, "service_name"),
		})
	}

	var eventsPublished []map[string]string
	for _, pubEdge := range e.g.Out(serviceNodeID, string(graph.PublishesEvent)) {
		ev := e.g.Node(pubEdge.To)
		eventsPublished = append(eventsPublished, map[string]string{
			"event_name": attrString(ev, "event_name"),
			"channel":    attrString(ev, "channel"),
		})
	}

	var eventsConsumed []map[string]string
	for _, conEdge := range e.g.Out(serviceNodeID, string(graph.ConsumesEvent)) {
		ev := e.g.Node(conEdge.To)
		publisherName := ""
		for _, pubEdge := range e.g.In(conEdge.To, string(graph.PublishesEvent)) {
			publisherName = attrString(e.g.Node(pubEdge.From), "service_name")
			break
		}
		eventsConsumed = append(eventsConsumed, map[string]string{
			"event_name":        attrString(ev, "event_name"),
			"publisher_service": publisherName,
		})
	}

	owned := e.entityRefs(serviceNodeID, graph.OwnsEntity, false)
	referenced := e.entityRefs(serviceNodeID, graph.ReferencesEntity, true)

	var dependsOn, dependedOnBy []string
	seenDeps := map[string]bool{}
	for _, edge := range e.g.Out(serviceNodeID, string(graph.ServiceCalls)) {
		target := e.g.Node(edge.To)
		if target != nil && target.Type == graph.NodeService {
			if svc := attrString(target, "service_name"); svc != "" && !seenDeps[svc] {
				seenDeps[svc] = true
				dependsOn = append(dependsOn, svc)
			}
		}
	}
	seenDependents := map[string]bool{}
	for _, edge := range e.g.In(serviceNodeID, string(graph.ServiceCalls)) {
		source := e.g.Node(edge.From)
		if source != nil && source.Type == graph.NodeService {
			if svc := attrString(source, "service_name"); svc != "" && !seenDependents[svc] {
				seenDependents[svc] = true
				dependedOnBy = append(dependedOnBy, svc)
			}
		}
	}

	contextText := e.assembler.AssembleServiceContext(serviceName, provided, consumed, eventsPublished, eventsConsumed, owned, referenced, dependsOn, dependedOnBy)

	return ServiceContext{
		ServiceName:        serviceName,
		ProvidedEndpoints:  provided,
		ConsumedEndpoints:  consumed,
		EventsPublished:    eventsPublished,
		EventsConsumed:     eventsConsumed,
		OwnedEntities:      owned,
		ReferencedEntities: referenced,
		DependsOn:          dependsOn,
		DependedOnBy:       dependedOnBy,
		ContextText:        contextText,
	}
}

func (e *Engine) entityRefs(serviceNodeID string, relation graph.EdgeType, includeOwner bool) []EntityRef {
	var out []EntityRef
	for _, edge := range e.g.Out(serviceNodeID, string(relation)) {
		ent := e.g.Node(edge.To)
		ref := EntityRef{Name: attrString(ent, "entity_name"), Fields: parseFieldsJSON(attrString(ent, "fields_json"))}
		if includeOwner {
			ref.OwningService = attrString(ent, "owning_service")
		}
		out = append(out, ref)
	}
	return out
}

// --- Tool 3: query_graph_neighborhood -----------------------------------

// QueryGraphNeighborhood extracts the radius-bounded ego subgraph around
// nodeID, applies type/relation filters, ranks by (distance, -pagerank),
// and truncates to maxNodes.
func (e *Engine) QueryGraphNeighborhood(nodeID string, radius int, undirected bool, filterNodeTypes, filterEdgeTypes []string, maxNodes int, pagerank map[string]float64) NeighborhoodResult {
	center := e.g.Node(nodeID)
	if center == nil {
		return NeighborhoodResult{CenterNode: map[string]interface{}{}, TotalNodesInNeighborhood: 0}
	}

	var ego *graph.EgoSubgraph
	if undirected {
		ego = e.g.GetEgoSubgraphUndirected(nodeID, radius)
	} else {
		ego = e.g.GetEgoSubgraph(nodeID, radius)
	}

	nodeSet := map[string]*graph.Node{}
	for _, n := range ego.Nodes {
		nodeSet[n.ID] = n
	}
	if len(filterNodeTypes) > 0 {
		allowed := toSet(filterNodeTypes)
		for id, n := range nodeSet {
			if id == nodeID {
				continue
			}
			if !allowed[string(n.Type)] {
				delete(nodeSet, id)
			}
		}
	}

	var edges []*graph.Edge
	allowedEdges := toSet(filterEdgeTypes)
	for _, edge := range ego.Edges {
		if _, ok := nodeSet[edge.From]; !ok {
			continue
		}
		if _, ok := nodeSet[edge.To]; !ok {
			continue
		}
		if len(filterEdgeTypes) > 0 && !allowedEdges[edge.Relation] {
			continue
		}
		edges = append(edges, edge)
	}

	ids := make([]string, 0, len(nodeSet))
	for id := range nodeSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		di, dj := ego.Distances[ids[i]], ego.Distances[ids[j]]
		if di != dj {
			return di < dj
		}
		pi, pj := pagerank[ids[i]], pagerank[ids[j]]
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})

	total := len(ids)
	truncated := maxNodes > 0 && total > maxNodes
	if maxNodes > 0 && total > maxNodes {
		ids = ids[:maxNodes]
	}
	finalSet := toSet(ids)

	var nodes []map[string]interface{}
	for _, id := range ids {
		nodes = append(nodes, nodeDict(nodeSet[id]))
	}
	var edgeDicts []map[string]interface{}
	for _, edge := range edges {
		if !finalSet[edge.From] || !finalSet[edge.To] {
			continue
		}
		ed := map[string]interface{}{"source": edge.From, "target": edge.To, "relation": edge.Relation}
		for k, v := range edge.Attributes {
			ed[k] = v
		}
		edgeDicts = append(edgeDicts, ed)
	}

	return NeighborhoodResult{
		CenterNode:               nodeDict(center),
		Nodes:                    nodes,
		Edges:                    edgeDicts,
		TotalNodesInNeighborhood: total,
		Truncated:                truncated,
	}
}

func toSet(items []string) map[string]bool {
	m := map[string]bool{}
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it != "" {
			m[it] = true
		}
	}
	return m
}

// --- Tool 4: hybrid_search -----------------------------------------------

// HybridSearch combines semantic vector search with graph-structural
// re-ranking: cosine similarity on the nodes collection, blended with
// either shortest-path-to-anchor or global PageRank.
func (e *Engine) HybridSearch(ctx context.Context, query string, nResults int, anchorNodeID string, nodeTypes []string, serviceName string, semanticWeight, graphWeight float64, pagerank map[string]float64) (HybridSearchResult, error) {
	if nResults <= 0 {
		nResults = 10
	}
	queryVec := e.embedder.Embed(query)

	var filters []vectorstore.Filter
	if serviceName != "" {
		filters = append(filters, vectorstore.Filter{Key: "service_name", Value: serviceName})
	}

	matches, err := e.store.QueryNodes(ctx, queryVec, nResults*3, filters...)
	if err != nil {
		return HybridSearchResult{}, fmt.Errorf("hybrid search query: %w", err)
	}
	if len(nodeTypes) > 0 {
		allowed := toSet(nodeTypes)
		filtered := matches[:0]
		for _, m := range matches {
			nt, _ := m.Metadata["node_type"].(string)
			if allowed[nt] {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}

	if len(matches) == 0 {
		return HybridSearchResult{Results: nil, Query: query, AnchorNodeID: anchorNodeID}, nil
	}

	type candidate struct {
		SearchResult
	}
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		score := m.Score
		if score < 0 {
			score = 0
		}
		candidates = append(candidates, candidate{SearchResult{
			NodeID:        m.ID,
			SemanticScore: score,
			Document:      m.Content,
			Metadata:      m.Metadata,
		}})
	}

	if anchorNodeID != "" && e.g.Node(anchorNodeID) != nil {
		distances := e.singleSourceDistances(anchorNodeID)
		maxDistance := 1
		for _, d := range distances {
			if d > maxDistance {
				maxDistance = d
			}
		}
		for i := range candidates {
			dist, ok := distances[candidates[i].NodeID]
			if !ok {
				dist = maxDistance + 1
			}
			candidates[i].Distance = dist
			candidates[i].GraphScore = 1.0 - float64(dist)/float64(maxDistance+1)
		}
	} else {
		maxPR := 0.0
		for _, pr := range pagerank {
			if pr > maxPR {
				maxPR = pr
			}
		}
		if maxPR == 0 {
			maxPR = 1.0
		}
		for i := range candidates {
			candidates[i].GraphScore = pagerank[candidates[i].NodeID] / maxPR
			candidates[i].Distance = -1
		}
	}

	for i := range candidates {
		candidates[i].Score = semanticWeight*candidates[i].SemanticScore + graphWeight*candidates[i].GraphScore
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > nResults {
		candidates = candidates[:nResults]
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		r := c.SearchResult
		if n := e.g.Node(r.NodeID); n != nil {
			r.NodeType = string(n.Type)
		}
		results = append(results, r)
	}

	return HybridSearchResult{Results: results, Query: query, AnchorNodeID: anchorNodeID}, nil
}

func (e *Engine) singleSourceDistances(start string) map[string]int {
	adj := e.g.UndirectedAdjacency()
	distances := map[string]int{start: 0}
	frontier := []string{start}
	for len(frontier) > 0 {
		var next []string
		for _, n := range frontier {
			for _, nb := range adj[n] {
				if _, seen := distances[nb]; !seen {
					distances[nb] = distances[n] + 1
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}
	return distances
}

// --- Tool 5: find_cross_service_impact ------------------------------------

// FindCrossServiceImpact performs bidirectional BFS from nodeID up to
// maxDepth hops, groups impacted nodes by service, and computes one
// representative shortest path to each impacted service.
func (e *Engine) FindCrossServiceImpact(nodeID string, maxDepth int) CrossServiceImpact {
	source := e.g.Node(nodeID)
	if source == nil {
		return CrossServiceImpact{SourceNode: nodeID}
	}

	descendants := e.bfsWithDepth(nodeID, maxDepth, true)
	predecessors := e.bfsWithDepth(nodeID, maxDepth, false)

	allImpacted := map[string]bool{}
	for id := range descendants {
		allImpacted[id] = true
	}
	for id := range predecessors {
		allImpacted[id] = true
	}

	sourceService := attrString(source, "service_name")
	impactedByService := map[string][]string{}
	for id := range allImpacted {
		n := e.g.Node(id)
		svc := attrString(n, "service_name")
		if svc != "" && svc != sourceService {
			impactedByService[svc] = append(impactedByService[svc], id)
		}
	}

	var impactedContracts []map[string]interface{}
	for id := range allImpacted {
		n := e.g.Node(id)
		if n == nil || n.Type != graph.NodeContract {
			continue
		}
		var endpointsAffected []string
		for _, edge := range e.g.Out(id, string(graph.ExposesEndpoint)) {
			ep := e.g.Node(edge.To)
			path := attrString(ep, "path")
			if path == "" {
				path = edge.To
			}
			endpointsAffected = append(endpointsAffected, path)
		}
		contractID := attrString(n, "contract_id")
		if contractID == "" {
			contractID = id
		}
		impactedContracts = append(impactedContracts, map[string]interface{}{
			"contract_id":        contractID,
			"service_name":       attrString(n, "service_name"),
			"endpoints_affected": endpointsAffected,
		})
	}

	var impactedEntities []map[string]interface{}
	for id := range allImpacted {
		n := e.g.Node(id)
		if n == nil || n.Type != graph.NodeDomainEntity {
			continue
		}
		entityName := attrString(n, "entity_name")
		if entityName == "" {
			entityName = id
		}
		impactedEntities = append(impactedEntities, map[string]interface{}{
			"entity_name":    entityName,
			"owning_service": attrString(n, "owning_service"),
		})
	}

	var impactedServices []ImpactedService
	var svcNames []string
	for svc := range impactedByService {
		svcNames = append(svcNames, svc)
	}
	sort.Strings(svcNames)
	for _, svc := range svcNames {
		nodes := impactedByService[svc]
		var paths [][]string
		svcNode := "service::" + svc
		if e.g.Node(svcNode) != nil {
			if path := e.g.GetShortestPath(nodeID, svcNode); path != nil {
				paths = append(paths, path)
			}
		}
		impactedServices = append(impactedServices, ImpactedService{ServiceName: svc, ImpactCount: len(nodes), ImpactPaths: paths})
	}

	return CrossServiceImpact{
		SourceNode:         nodeID,
		SourceService:      sourceService,
		ImpactedServices:   impactedServices,
		ImpactedContracts:  impactedContracts,
		ImpactedEntities:   impactedEntities,
		TotalImpactedNodes: len(allImpacted),
	}
}

func (e *Engine) bfsWithDepth(start string, maxDepth int, forward bool) map[string]bool {
	visited := map[string]bool{start: true}
	result := map[string]bool{}
	frontier := []string{start}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, n := range frontier {
			var edges []*graph.Edge
			if forward {
				edges = e.g.Out(n)
			} else {
				edges = e.g.In(n)
			}
			for _, edge := range edges {
				target := edge.To
				if !forward {
					target = edge.From
				}
				if !visited[target] {
					visited[target] = true
					result[target] = true
					next = append(next, target)
				}
			}
		}
		frontier = next
	}
	return result
}

// --- Tool 6: validate_service_boundaries ----------------------------------

// ValidateServiceBoundaries runs Louvain community detection (fixed
// seed) over the file subgraph and compares detected communities against
// declared service_name attributes.
func (e *Engine) ValidateServiceBoundaries(resolution float64) ServiceBoundaryValidation {
	var fileNodes []*graph.Node
	for _, n := range e.g.Nodes() {
		if n.Type == graph.NodeFile {
			fileNodes = append(fileNodes, n)
		}
	}
	if len(fileNodes) == 0 {
		return ServiceBoundaryValidation{AlignmentScore: 1.0}
	}

	fileIDs := make([]string, len(fileNodes))
	for i, n := range fileNodes {
		fileIDs[i] = n.ID
	}

	communityOf := e.g.ComputeCommunities(fileIDs, e.louvainSeed)
	communities := map[int][]string{}
	for id, c := range communityOf {
		communities[c] = append(communities[c], id)
	}
	var communityIDs []int
	for c := range communities {
		communityIDs = append(communityIDs, c)
	}
	sort.Ints(communityIDs)

	dominantService := map[int]string{}
	for _, c := range communityIDs {
		counts := map[string]int{}
		for _, id := range communities[c] {
			svc := attrString(e.g.Node(id), "service_name")
			if svc != "" {
				counts[svc]++
			}
		}
		dominantService[c] = majority(counts)
	}

	var misplaced []MisplacedFile
	for _, c := range communityIDs {
		dominant := dominantService[c]
		if dominant == "" {
			continue
		}
		members := communities[c]
		sameServiceCount := 0
		for _, id := range members {
			if attrString(e.g.Node(id), "service_name") == dominant {
				sameServiceCount++
			}
		}
		confidence := 0.0
		if len(members) > 0 {
			confidence = float64(sameServiceCount) / float64(len(members))
		}
		for _, id := range members {
			declared := attrString(e.g.Node(id), "service_name")
			if declared != "" && declared != dominant {
				file := attrString(e.g.Node(id), "file_path")
				if file == "" {
					file = id
				}
				misplaced = append(misplaced, MisplacedFile{
					File: file, DeclaredService: declared, CommunityService: dominant,
					Confidence: roundTo(confidence, 3),
				})
			}
		}
	}

	servicesDeclared := map[string]bool{}
	for _, n := range fileNodes {
		if svc := attrString(n, "service_name"); svc != "" {
			servicesDeclared[svc] = true
		}
	}

	undirected := e.g.UndirectedAdjacencyFor(fileIDs)
	var isolated []string
	for _, n := range fileNodes {
		if len(undirected[n.ID]) == 0 {
			path := attrString(n, "file_path")
			if path == "" {
				path = n.ID
			}
			isolated = append(isolated, path)
		}
	}

	totalFiles := len(fileNodes)
	aligned := totalFiles - len(misplaced)
	alignmentScore := 1.0
	if totalFiles > 0 {
		alignmentScore = float64(aligned) / float64(totalFiles)
	}

	coupling := map[[2]string]int{}
	for _, edge := range e.g.Edges() {
		uSvc := attrString(e.g.Node(edge.From), "service_name")
		vSvc := attrString(e.g.Node(edge.To), "service_name")
		if uSvc != "" && vSvc != "" && uSvc != vSvc {
			pair := [2]string{uSvc, vSvc}
			if pair[0] > pair[1] {
				pair[0], pair[1] = pair[1], pair[0]
			}
			coupling[pair]++
		}
	}
	var pairs [][2]string
	for p := range coupling {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if coupling[pairs[i]] != coupling[pairs[j]] {
			return coupling[pairs[i]] > coupling[pairs[j]]
		}
		return pairs[i][0] < pairs[j][0]
	})
	var serviceCoupling []ServiceCoupling
	for _, p := range pairs {
		serviceCoupling = append(serviceCoupling, ServiceCoupling{ServiceA: p[0], ServiceB: p[1], CrossEdges: coupling[p]})
	}

	return ServiceBoundaryValidation{
		CommunitiesDetected: len(communities),
		ServicesDeclared:    len(servicesDeclared),
		AlignmentScore:      roundTo(alignmentScore, 4),
		MisplacedFiles:      misplaced,
		IsolatedFiles:       isolated,
		ServiceCoupling:     serviceCoupling,
	}
}

func majority(counts map[string]int) string {
	best, bestCount := "", -1
	var keys []string
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}

// --- Tool 7: check_cross_service_events -----------------------------------

// CheckCrossServiceEvents classifies every event::* node by whether it
// has publishers, consumers, both, or neither.
func (e *Engine) CheckCrossServiceEvents(serviceName string) EventValidationResult {
	var eventNodes []*graph.Node
	for _, n := range e.g.Nodes() {
		if n.Type == graph.NodeEvent {
			eventNodes = append(eventNodes, n)
		}
	}

	if serviceName != "" {
		filtered := eventNodes[:0]
		for _, n := range eventNodes {
			if e.eventTouchesService(n.ID, serviceName) {
				filtered = append(filtered, n)
			}
		}
		eventNodes = filtered
	}

	var orphaned, unmatched, matched []EventEntry
	for _, n := range eventNodes {
		var publishers, consumers []string
		for _, edge := range e.g.In(n.ID, string(graph.PublishesEvent)) {
			publishers = append(publishers, attrString(e.g.Node(edge.From), "service_name"))
		}
		for _, edge := range e.g.In(n.ID, string(graph.ConsumesEvent)) {
			consumers = append(consumers, attrString(e.g.Node(edge.From), "service_name"))
		}
		entry := EventEntry{
			EventName:  attrString(n, "event_name"),
			Channel:    attrString(n, "channel"),
			Publishers: publishers,
			Consumers:  consumers,
		}
		switch {
		case len(publishers) > 0 && len(consumers) > 0:
			matched = append(matched, entry)
		case len(publishers) > 0:
			orphaned = append(orphaned, entry)
		case len(consumers) > 0:
			unmatched = append(unmatched, entry)
		}
	}

	total := len(eventNodes)
	matchRate := 1.0
	if total > 0 {
		matchRate = float64(len(matched)) / float64(total)
	}

	return EventValidationResult{
		OrphanedEvents:     orphaned,
		UnmatchedConsumers: unmatched,
		MatchedEvents:      matched,
		TotalEvents:        total,
		MatchRate:          roundTo(matchRate, 4),
	}
}

func (e *Engine) eventTouchesService(eventID, serviceName string) bool {
	for _, relation := range []graph.EdgeType{graph.PublishesEvent, graph.ConsumesEvent} {
		for _, edge := range e.g.In(eventID, string(relation)) {
			if attrString(e.g.Node(edge.From), "service_name") == serviceName {
				return true
			}
		}
	}
	return false
}
