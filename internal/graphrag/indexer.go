package graphrag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"forge/internal/graph"
	"forge/internal/logging"
	"forge/internal/vectorstore"
)

var relationToEdgeType = map[string]graph.EdgeType{
	"imports":    graph.Imports,
	"calls":      graph.Calls,
	"inherits":   graph.Inherits,
	"implements": graph.Implements,
	"uses":       graph.Calls,
}

var symbolSuffixes = []string{"Service", "Model", "Schema", "Entity", "Repository", "Controller", "Handler"}

var sharedUtilityPatterns = []string{"shared/", "common/", "utils/", "lib/", "helpers/"}

// Indexer runs the five-phase knowledge-graph build, grounded on
// graph_rag/graph_rag_indexer.py. Each phase is fault
// tolerant: a failure in one node/edge never aborts the phase, it is
// recorded in BuildResult.Errors instead.
type Indexer struct {
	kg    *graph.Graph
	store *vectorstore.Store
	embed Embedder
	asm   *ContextAssembler

	pageRankDamping       float64
	pageRankMaxIterations int
	pageRankTolerance     float64
	louvainSeed           int64
}

// NewIndexer builds an indexer over an existing (possibly empty) graph
// and vector store.
func NewIndexer(kg *graph.Graph, store *vectorstore.Store, embed Embedder, asm *ContextAssembler, pageRankDamping float64, pageRankMaxIterations int, pageRankTolerance float64, louvainSeed int64) *Indexer {
	if embed == nil {
		embed = NewHashEmbedder(64)
	}
	if asm == nil {
		asm = NewContextAssembler(2000, 4)
	}
	return &Indexer{
		kg: kg, store: store, embed: embed, asm: asm,
		pageRankDamping: pageRankDamping, pageRankMaxIterations: pageRankMaxIterations,
		pageRankTolerance: pageRankTolerance, louvainSeed: louvainSeed,
	}
}

// Build runs all five phases in sequence and returns a summary. It never
// returns an error itself -- per-node/edge failures are
// collected into BuildResult.Errors, matching the Python original's
// fault-tolerant phase design.
func (ix *Indexer) Build(ctx context.Context, paths SourceDataPaths) *BuildResult {
	start := time.Now()
	log := logging.Get(logging.CategoryGraphRAG)

	log.Info("Phase 1/5: loading source data")
	source, loadErrors := LoadSourceData(paths)

	log.Info("Phase 2/5: building base graph")
	phase2Errors := ix.buildBaseGraph(source)

	log.Info("Phase 3/5: adding contracts and entity nodes")
	phase3Errors := ix.addContractAndEntityNodes(source)

	log.Info("Phase 4/5: computing metrics and embedding")
	phase4Errors := ix.computeMetricsAndEmbed(ctx)

	log.Info("Phase 5/5: deriving service edges")
	ix.deriveServiceEdges()

	var errs []string
	errs = append(errs, loadErrors...)
	errs = append(errs, phase2Errors...)
	errs = append(errs, phase3Errors...)
	errs = append(errs, phase4Errors...)

	result := &BuildResult{
		Success:         len(errs) == 0,
		NodeCount:       ix.kg.NodeCount(),
		EdgeCount:       ix.kg.EdgeCount(),
		NodeTypes:       ix.countNodeTypes(),
		EdgeTypes:       ix.countEdgeTypes(),
		CommunityCount:  ix.countCommunities(),
		BuildTimeMillis: time.Since(start).Milliseconds(),
		ServicesIndexed: ix.collectServicesIndexed(),
		Errors:          errs,
	}
	log.Info("build complete: %d nodes, %d edges, %d communities, %d errors", result.NodeCount, result.EdgeCount, result.CommunityCount, len(errs))
	return result
}

// --- Phase 2: base graph ---------------------------------------------------

func (ix *Indexer) buildBaseGraph(source *SourceData) []string {
	var errs []string
	ix.kg.Clear()

	if source.ExistingGraph != nil {
		for _, n := range source.ExistingGraph.Nodes() {
			ix.kg.AddNode(n.ID, n.Type, n.Attributes)
		}
		for _, e := range source.ExistingGraph.Edges() {
			if err := ix.kg.AddEdge(e.From, e.Relation, e.To, e.Attributes); err != nil {
				errs = append(errs, fmt.Sprintf("failed to copy existing edge %s->%s: %v", e.From, e.To, err))
			}
		}
	}

	symbolsByFile := map[string][]SymbolRecord{}
	for _, sym := range source.Symbols {
		symbolsByFile[sym.FilePath] = append(symbolsByFile[sym.FilePath], sym)
	}
	for fp, syms := range symbolsByFile {
		fileNodeID := "file::" + fp
		if n := ix.kg.Node(fileNodeID); n != nil && len(syms) > 0 && syms[0].ServiceName != "" {
			n.Attributes["service_name"] = syms[0].ServiceName
		}
	}

	if source.ServiceMap != nil {
		for _, svc := range source.ServiceMap.Services {
			if svc.Name == "" {
				continue
			}
			svcNodeID := "service::" + svc.Name
			stackJSON, _ := json.Marshal(svc.Stack)
			ix.kg.AddNode(svcNodeID, graph.NodeService, map[string]interface{}{
				"service_name":  svc.Name,
				"domain":        svc.Domain,
				"description":   svc.Description,
				"stack":         string(stackJSON),
				"estimated_loc": svc.EstimatedLOC,
			})

			for _, n := range ix.kg.Nodes() {
				if n.Type == graph.NodeFile && attrString(n, "service_name") == svc.Name {
					if err := ix.kg.AddEdge(svcNodeID, string(graph.ContainsFile), n.ID, nil); err != nil {
						errs = append(errs, fmt.Sprintf("failed to link service %s to file %s: %v", svc.Name, n.ID, err))
					}
				}
			}
		}
	}

	for _, sym := range source.Symbols {
		if sym.FilePath == "" || sym.SymbolName == "" {
			continue
		}
		symNodeID := fmt.Sprintf("symbol::%s::%s", sym.FilePath, sym.SymbolName)
		ix.kg.AddNode(symNodeID, graph.NodeSymbol, map[string]interface{}{
			"file_path":     sym.FilePath,
			"symbol_name":   sym.SymbolName,
			"kind":          sym.Kind,
			"language":      sym.Language,
			"service_name":  sym.ServiceName,
			"line_start":    sym.LineStart,
			"line_end":      sym.LineEnd,
			"signature":     sym.Signature,
			"docstring":     sym.Docstring,
			"is_exported":   sym.IsExported,
			"parent_symbol": sym.ParentSymbol,
		})

		fileNodeID := "file::" + sym.FilePath
		if ix.kg.Node(fileNodeID) == nil {
			ix.kg.AddNode(fileNodeID, graph.NodeFile, map[string]interface{}{
				"file_path":    sym.FilePath,
				"language":     sym.Language,
				"service_name": sym.ServiceName,
			})
		}
		if err := ix.kg.AddEdge(fileNodeID, string(graph.DefinesSymbol), symNodeID, nil); err != nil {
			errs = append(errs, fmt.Sprintf("failed to link file %s to symbol %s: %v", fileNodeID, symNodeID, err))
		}
	}

	for _, dep := range source.DependencyEdges {
		srcID := "symbol::" + dep.SourceSymbolID
		tgtID := "symbol::" + dep.TargetSymbolID
		edgeType, ok := relationToEdgeType[dep.Relation]
		if !ok {
			edgeType = graph.Imports
		}

		if ix.kg.Node(srcID) == nil {
			ix.kg.AddNode(srcID, graph.NodeSymbol, map[string]interface{}{"source_file": dep.SourceFile})
		}
		if ix.kg.Node(tgtID) == nil {
			ix.kg.AddNode(tgtID, graph.NodeSymbol, map[string]interface{}{"target_file": dep.TargetFile})
		}
		if err := ix.kg.AddEdge(srcID, string(edgeType), tgtID, map[string]interface{}{
			"source_file": dep.SourceFile, "target_file": dep.TargetFile, "line": dep.Line,
		}); err != nil {
			errs = append(errs, fmt.Sprintf("failed to create dependency edge %s->%s: %v", srcID, tgtID, err))
		}
	}

	return errs
}

// --- Phase 3: contracts and entities ---------------------------------------

func (ix *Indexer) addContractAndEntityNodes(source *SourceData) []string {
	var errs []string

	for _, contract := range source.Contracts {
		contractNodeID := "contract::" + contract.ID
		ix.kg.AddNode(contractNodeID, graph.NodeContract, map[string]interface{}{
			"contract_id":   contract.ID,
			"contract_type": contract.ContractType,
			"version":       contract.Version,
			"service_name":  contract.ServiceName,
			"status":        contract.Status,
		})

		svcNodeID := "service::" + contract.ServiceName
		if ix.kg.Node(svcNodeID) != nil {
			if err := ix.kg.AddEdge(svcNodeID, string(graph.ProvidesContract), contractNodeID, nil); err != nil {
				errs = append(errs, fmt.Sprintf("failed to link service %s to contract %s: %v", contract.ServiceName, contract.ID, err))
			}
		}

		var spec map[string]interface{}
		if contract.SpecJSON != "" {
			if err := json.Unmarshal([]byte(contract.SpecJSON), &spec); err != nil {
				spec = map[string]interface{}{}
			}
		}
		errs = append(errs, ix.parseContractEndpoints(contractNodeID, contract.ContractType, spec, contract.ServiceName)...)
	}

	if source.DomainModel != nil {
		for _, entity := range source.DomainModel.Entities {
			if entity.Name == "" {
				continue
			}
			entityNodeID := "domain_entity::" + strings.ToLower(entity.Name)

			fieldNames := make([]string, 0, len(entity.Fields))
			for i, f := range entity.Fields {
				if i >= 10 {
					break
				}
				fieldNames = append(fieldNames, f.Name)
			}
			fieldsJSON, _ := json.Marshal(entity.Fields)

			ix.kg.AddNode(entityNodeID, graph.NodeDomainEntity, map[string]interface{}{
				"entity_name":    entity.Name,
				"description":    entity.Description,
				"owning_service": entity.OwningService,
				"fields_summary": strings.Join(fieldNames, ", "),
				"fields_json":    string(fieldsJSON),
			})

			if entity.OwningService != "" {
				svcNodeID := "service::" + entity.OwningService
				if ix.kg.Node(svcNodeID) != nil {
					if err := ix.kg.AddEdge(svcNodeID, string(graph.OwnsEntity), entityNodeID, nil); err != nil {
						errs = append(errs, fmt.Sprintf("failed to link owner %s to entity %s: %v", entity.OwningService, entity.Name, err))
					}
				}
			}

			for _, rel := range entity.Relationships {
				if rel.Target == "" {
					continue
				}
				refNodeID := "domain_entity::" + strings.ToLower(rel.Target)
				if err := ix.kg.AddEdge(entityNodeID, string(graph.DomainRelationship), refNodeID, map[string]interface{}{
					"relationship_type": rel.Type, "cardinality": rel.Cardinality,
				}); err != nil {
					errs = append(errs, fmt.Sprintf("failed to create relationship %s->%s: %v", entity.Name, rel.Target, err))
				}
			}

			for _, refSvc := range entity.ReferencedBy {
				refSvcID := "service::" + refSvc
				if ix.kg.Node(refSvcID) != nil {
					if err := ix.kg.AddEdge(refSvcID, string(graph.ReferencesEntity), entityNodeID, nil); err != nil {
						errs = append(errs, fmt.Sprintf("failed to link referencer %s to entity %s: %v", refSvc, entity.Name, err))
					}
				}
			}
		}
	}

	ix.matchSymbolsToEntities()
	ix.addServiceInterfaceNodes(source.ServiceInterfaces)
	ix.matchHandlersToEndpoints(source.ServiceInterfaces)

	return errs
}

func (ix *Indexer) parseContractEndpoints(contractNodeID, contractType string, spec map[string]interface{}, serviceName string) []string {
	var errs []string

	switch contractType {
	case "openapi":
		paths, _ := spec["paths"].(map[string]interface{})
		for path, rawMethods := range paths {
			methods, ok := rawMethods.(map[string]interface{})
			if !ok {
				continue
			}
			for method, rawOp := range methods {
				if strings.HasPrefix(method, "x-") || method == "parameters" {
					continue
				}
				methodUpper := strings.ToUpper(method)
				endpointNodeID := fmt.Sprintf("endpoint::%s::%s::%s", serviceName, methodUpper, path)
				summary := ""
				if op, ok := rawOp.(map[string]interface{}); ok {
					if s, ok := op["summary"].(string); ok && s != "" {
						summary = s
					} else if d, ok := op["description"].(string); ok {
						summary = d
					}
				}
				ix.kg.AddNode(endpointNodeID, graph.NodeEndpoint, map[string]interface{}{
					"service_name": serviceName, "method": methodUpper, "path": path, "summary": summary,
				})
				if err := ix.kg.AddEdge(contractNodeID, string(graph.ExposesEndpoint), endpointNodeID, nil); err != nil {
					errs = append(errs, fmt.Sprintf("failed to create endpoint %s %s: %v", method, path, err))
				}
			}
		}
	case "asyncapi":
		channels, _ := spec["channels"].(map[string]interface{})
		for channelName, rawChannel := range channels {
			channelDef, ok := rawChannel.(map[string]interface{})
			if !ok {
				continue
			}
			eventNodeID := "event::" + channelName
			ix.kg.AddNode(eventNodeID, graph.NodeEvent, map[string]interface{}{
				"event_name": channelName, "channel": channelName, "service_name": serviceName,
			})
			svcNodeID := "service::" + serviceName
			_, hasPublish := channelDef["publish"]
			_, hasSubscribe := channelDef["subscribe"]
			if hasPublish || hasSubscribe {
				if hasPublish && ix.kg.Node(svcNodeID) != nil {
					_ = ix.kg.AddEdge(svcNodeID, string(graph.PublishesEvent), eventNodeID, nil)
				}
				if hasSubscribe && ix.kg.Node(svcNodeID) != nil {
					_ = ix.kg.AddEdge(svcNodeID, string(graph.ConsumesEvent), eventNodeID, nil)
				}
			} else if ix.kg.Node(svcNodeID) != nil {
				_ = ix.kg.AddEdge(svcNodeID, string(graph.PublishesEvent), eventNodeID, nil)
			}
		}
	}

	return errs
}

func (ix *Indexer) matchSymbolsToEntities() {
	entityLookup := map[string]string{}
	for _, n := range ix.kg.Nodes() {
		if n.Type == graph.NodeDomainEntity {
			if name := attrString(n, "entity_name"); name != "" {
				entityLookup[strings.ToLower(name)] = n.ID
			}
		}
	}
	if len(entityLookup) == 0 {
		return
	}

	for _, n := range ix.kg.Nodes() {
		if n.Type != graph.NodeSymbol {
			continue
		}
		kind := attrString(n, "kind")
		if kind != "class" && kind != "interface" && kind != "type" {
			continue
		}
		symbolName := attrString(n, "symbol_name")
		if symbolName == "" {
			continue
		}
		stripped := symbolName
		for _, suffix := range symbolSuffixes {
			if strings.HasSuffix(stripped, suffix) && len(stripped) > len(suffix) {
				stripped = stripped[:len(stripped)-len(suffix)]
				break
			}
		}
		if entityNodeID, ok := entityLookup[strings.ToLower(stripped)]; ok {
			_ = ix.kg.AddEdge(n.ID, string(graph.ImplementsEntity), entityNodeID, nil)
		}
	}
}

func (ix *Indexer) addServiceInterfaceNodes(interfaces map[string]ServiceInterface) {
	var names []string
	for name := range interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, svcName := range names {
		iface := interfaces[svcName]
		svcNodeID := "service::" + svcName

		for _, eventName := range iface.EventsPublished {
			if eventName == "" {
				continue
			}
			eventNodeID := "event::" + eventName
			if ix.kg.Node(eventNodeID) == nil {
				ix.kg.AddNode(eventNodeID, graph.NodeEvent, map[string]interface{}{
					"event_name": eventName, "channel": eventName, "service_name": svcName,
				})
			}
			if ix.kg.Node(svcNodeID) != nil {
				_ = ix.kg.AddEdge(svcNodeID, string(graph.PublishesEvent), eventNodeID, nil)
			}
		}

		for _, eventName := range iface.EventsConsumed {
			if eventName == "" {
				continue
			}
			eventNodeID := "event::" + eventName
			if ix.kg.Node(eventNodeID) == nil {
				ix.kg.AddNode(eventNodeID, graph.NodeEvent, map[string]interface{}{
					"event_name": eventName, "channel": eventName,
				})
			}
			if ix.kg.Node(svcNodeID) != nil {
				_ = ix.kg.AddEdge(svcNodeID, string(graph.ConsumesEvent), eventNodeID, nil)
			}
		}
	}
}

func (ix *Indexer) matchHandlersToEndpoints(interfaces map[string]ServiceInterface) {
	if len(interfaces) == 0 {
		return
	}

	type key struct{ service, name string }
	symbolLookup := map[key]string{}
	for _, n := range ix.kg.Nodes() {
		if n.Type != graph.NodeSymbol {
			continue
		}
		svc := attrString(n, "service_name")
		name := attrString(n, "symbol_name")
		if svc == "" || name == "" {
			continue
		}
		symbolLookup[key{svc, name}] = n.ID
		if idx := strings.LastIndex(name, "::"); idx >= 0 {
			symbolLookup[key{svc, name[idx+2:]}] = n.ID
		}
	}

	var names []string
	for name := range interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, svcName := range names {
		for _, ep := range interfaces[svcName].Endpoints {
			handler := ep.Handler
			method := strings.ToUpper(ep.Method)
			path := ep.Path
			if handler == "" || method == "" || path == "" {
				continue
			}
			endpointNodeID := fmt.Sprintf("endpoint::%s::%s::%s", svcName, method, path)
			epNode := ix.kg.Node(endpointNodeID)
			if epNode == nil {
				continue
			}
			symID, ok := symbolLookup[key{svcName, handler}]
			if !ok {
				short := handler
				if idx := strings.LastIndex(handler, "."); idx >= 0 {
					short = handler[idx+1:]
				}
				symID, ok = symbolLookup[key{svcName, short}]
			}
			if ok {
				_ = ix.kg.AddEdge(symID, string(graph.HandlesEndpoint), endpointNodeID, nil)
				epNode.Attributes["handler_symbol"] = symID
			}
		}
	}
}

// --- Phase 4: metrics and embedding -----------------------------------------

func (ix *Indexer) computeMetricsAndEmbed(ctx context.Context) []string {
	var errs []string

	pageranks := ix.kg.ComputePageRank(ix.pageRankDamping, ix.pageRankMaxIterations, ix.pageRankTolerance)
	for id, pr := range pageranks {
		if n := ix.kg.Node(id); n != nil {
			n.Attributes["pagerank"] = pr
		}
	}

	ix.kg.RefreshUndirectedCache()
	allNodeIDs := make([]string, 0, ix.kg.NodeCount())
	for _, n := range ix.kg.Nodes() {
		allNodeIDs = append(allNodeIDs, n.ID)
	}
	communityOf := ix.kg.ComputeCommunities(allNodeIDs, ix.louvainSeed)
	communities := map[int][]string{}
	for id, c := range communityOf {
		communities[c] = append(communities[c], id)
		if n := ix.kg.Node(id); n != nil {
			n.Attributes["community_id"] = c
		}
	}
	var communityIDs []int
	for c := range communities {
		communityIDs = append(communityIDs, c)
	}
	sort.Ints(communityIDs)

	var nodeRecords []vectorstore.Record
	for _, n := range ix.kg.Nodes() {
		doc := ix.buildNodeDocument(n)
		if doc == "" {
			continue
		}
		meta := map[string]interface{}{
			"node_type":    string(n.Type),
			"service_name": attrString(n, "service_name"),
			"language":     attrString(n, "language"),
			"community_id": communityOf[n.ID],
			"pagerank":     pageranks[n.ID],
		}
		nodeRecords = append(nodeRecords, vectorstore.Record{ID: n.ID, Embedding: ix.embed.Embed(doc), Content: doc, Metadata: meta})
	}

	if err := ix.store.DeleteAllNodes(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("failed to clear node collection: %v", err))
	} else if len(nodeRecords) > 0 {
		if err := ix.store.UpsertNodes(ctx, nodeRecords); err != nil {
			errs = append(errs, fmt.Sprintf("failed to upsert nodes: %v", err))
		}
	}

	contextRecords := ix.buildContextRecords(communities, communityIDs)
	if err := ix.store.DeleteAllContexts(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("failed to clear context collection: %v", err))
	} else if len(contextRecords) > 0 {
		if err := ix.store.UpsertContexts(ctx, contextRecords); err != nil {
			errs = append(errs, fmt.Sprintf("failed to upsert contexts: %v", err))
		}
	}

	return errs
}

func (ix *Indexer) buildNodeDocument(n *graph.Node) string {
	switch n.Type {
	case graph.NodeFile:
		return fmt.Sprintf("File: %s. Language: %s. Service: %s.", attrString(n, "file_path"), attrString(n, "language"), attrString(n, "service_name"))
	case graph.NodeSymbol:
		return fmt.Sprintf("Symbol: %s (%s) in %s. Signature: %s. Service: %s.",
			attrString(n, "symbol_name"), attrString(n, "kind"), attrString(n, "file_path"), attrString(n, "signature"), attrString(n, "service_name"))
	case graph.NodeService:
		return fmt.Sprintf("Service: %s. Domain: %s. Description: %s. Stack: %s.",
			attrString(n, "service_name"), attrString(n, "domain"), attrString(n, "description"), attrString(n, "stack"))
	case graph.NodeContract:
		return fmt.Sprintf("Contract: %s v%s for %s. Status: %s.",
			attrString(n, "contract_type"), attrString(n, "version"), attrString(n, "service_name"), attrString(n, "status"))
	case graph.NodeEndpoint:
		return fmt.Sprintf("Endpoint: %s %s on %s.", attrString(n, "method"), attrString(n, "path"), attrString(n, "service_name"))
	case graph.NodeDomainEntity:
		return fmt.Sprintf("Domain Entity: %s. Description: %s. Owned by: %s. Fields: %s.",
			attrString(n, "entity_name"), attrString(n, "description"), attrString(n, "owning_service"), attrString(n, "fields_summary"))
	case graph.NodeEvent:
		return fmt.Sprintf("Event: %s on channel %s.", attrString(n, "event_name"), attrString(n, "channel"))
	default:
		return "Node: " + n.ID + "."
	}
}

func (ix *Indexer) buildContextRecords(communities map[int][]string, communityIDs []int) []vectorstore.Record {
	var records []vectorstore.Record

	var serviceNodes []*graph.Node
	for _, n := range ix.kg.Nodes() {
		if n.Type == graph.NodeService {
			serviceNodes = append(serviceNodes, n)
		}
	}
	for _, svcNode := range serviceNodes {
		svcName := attrString(svcNode, "service_name")
		nodesInService := map[string]bool{}
		for _, n := range ix.kg.Nodes() {
			if attrString(n, "service_name") == svcName {
				nodesInService[n.ID] = true
			}
		}
		edgeCount := 0
		for _, e := range ix.kg.Edges() {
			if nodesInService[e.From] || nodesInService[e.To] {
				edgeCount++
			}
		}
		communityID := -1
		if cid, ok := svcNode.Attributes["community_id"].(int); ok {
			communityID = cid
		}
		doc := fmt.Sprintf("Service: %s. Domain: %s. Description: %s. Stack: %s. Contains %d nodes and %d edges.",
			svcName, attrString(svcNode, "domain"), attrString(svcNode, "description"), attrString(svcNode, "stack"), len(nodesInService), edgeCount)
		records = append(records, vectorstore.Record{
			ID: "ctx::service::" + svcName, Content: doc, Embedding: ix.embed.Embed(doc),
			Metadata: map[string]interface{}{"context_type": "service", "service_name": svcName, "community_id": communityID, "node_count": len(nodesInService), "edge_count": edgeCount},
		})
	}

	for _, cid := range communityIDs {
		members := communities[cid]
		if len(members) == 0 {
			continue
		}
		memberSet := toSet(members)
		typeCounts := map[string]int{}
		serviceSet := map[string]bool{}
		for _, id := range members {
			n := ix.kg.Node(id)
			if n == nil {
				continue
			}
			typeCounts[string(n.Type)]++
			if svc := attrString(n, "service_name"); svc != "" {
				serviceSet[svc] = true
			}
		}
		edgeCount := 0
		for _, e := range ix.kg.Edges() {
			if memberSet[e.From] && memberSet[e.To] {
				edgeCount++
			}
		}

		var typeKeys []string
		for t := range typeCounts {
			typeKeys = append(typeKeys, t)
		}
		sort.Strings(typeKeys)
		var typeSummaryParts []string
		for _, t := range typeKeys {
			typeSummaryParts = append(typeSummaryParts, fmt.Sprintf("%d %s", typeCounts[t], t))
		}
		var services []string
		for svc := range serviceSet {
			services = append(services, svc)
		}
		sort.Strings(services)
		servicesSummary := "none"
		if len(services) > 0 {
			servicesSummary = strings.Join(services, ", ")
		}

		doc := fmt.Sprintf("Community %d: %d nodes, %d edges. Node types: %s. Services: %s.",
			cid, len(members), edgeCount, strings.Join(typeSummaryParts, ", "), servicesSummary)
		records = append(records, vectorstore.Record{
			ID: fmt.Sprintf("ctx::community::%d", cid), Content: doc, Embedding: ix.embed.Embed(doc),
			Metadata: map[string]interface{}{"context_type": "community", "community_id": cid, "node_count": len(members), "edge_count": edgeCount},
		})
	}

	return records
}

// --- Phase 5: derive service edges ------------------------------------------

func (ix *Indexer) deriveServiceEdges() {
	type pair struct{ src, tgt string }
	servicePairs := map[pair]string{}

	for _, e := range ix.kg.Edges() {
		if e.Relation != string(graph.Imports) {
			continue
		}
		u, v := ix.kg.Node(e.From), ix.kg.Node(e.To)
		if u == nil || v == nil {
			continue
		}
		srcService := attrString(u, "service_name")
		tgtService := attrString(v, "service_name")
		if srcService == "" || tgtService == "" || srcService == tgtService {
			continue
		}
		srcFile := attrString(u, "file_path")
		if srcFile == "" {
			srcFile = e.From
		}
		tgtFile := attrString(v, "file_path")
		if tgtFile == "" {
			tgtFile = e.To
		}
		if isSharedUtility(srcFile) || isSharedUtility(tgtFile) {
			continue
		}

		p := pair{srcService, tgtService}
		if existing, ok := servicePairs[p]; !ok || existing == "" {
			via := ""
			for _, out := range ix.kg.Out(e.To, string(graph.HandlesEndpoint)) {
				via = out.To
				break
			}
			servicePairs[p] = via
		}
	}

	var pairs []pair
	for p := range servicePairs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].src != pairs[j].src {
			return pairs[i].src < pairs[j].src
		}
		return pairs[i].tgt < pairs[j].tgt
	})

	for _, p := range pairs {
		srcNode, tgtNode := "service::"+p.src, "service::"+p.tgt
		if ix.kg.Node(srcNode) != nil && ix.kg.Node(tgtNode) != nil {
			_ = ix.kg.AddEdge(srcNode, string(graph.ServiceCalls), tgtNode, map[string]interface{}{"via_endpoint": servicePairs[p]})
		}
	}
}

func isSharedUtility(filePath string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(filePath, "\\", "/"))
	for _, pat := range sharedUtilityPatterns {
		if strings.Contains(normalized, pat) {
			return true
		}
	}
	return false
}

// --- Summary helpers ---------------------------------------------------------

func (ix *Indexer) countNodeTypes() map[string]int {
	counts := map[string]int{}
	for _, n := range ix.kg.Nodes() {
		counts[string(n.Type)]++
	}
	return counts
}

func (ix *Indexer) countEdgeTypes() map[string]int {
	counts := map[string]int{}
	for _, e := range ix.kg.Edges() {
		counts[e.Relation]++
	}
	return counts
}

func (ix *Indexer) collectServicesIndexed() []string {
	set := map[string]bool{}
	for _, n := range ix.kg.Nodes() {
		if n.Type == graph.NodeService {
			if svc := attrString(n, "service_name"); svc != "" {
				set[svc] = true
			}
		}
	}
	var out []string
	for svc := range set {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

func (ix *Indexer) countCommunities() int {
	ids := map[int]bool{}
	for _, n := range ix.kg.Nodes() {
		if cid, ok := n.Attributes["community_id"].(int); ok && cid >= 0 {
			ids[cid] = true
		}
	}
	return len(ids)
}
