package graphrag

import (
	"encoding/json"
	"fmt"
	"os"

	"forge/internal/graph"
)

// SymbolRecord mirrors one row of the CI layer's symbols table. The
// code-intelligence scanner is a named-only out-of-scope collaborator;
// the indexer consumes its output as a JSON artifact instead of
// querying a database directly.
type SymbolRecord struct {
	FilePath     string `json:"file_path"`
	SymbolName   string `json:"symbol_name"`
	Kind         string `json:"kind"`
	Language     string `json:"language"`
	ServiceName  string `json:"service_name"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	Signature    string `json:"signature"`
	Docstring    string `json:"docstring"`
	IsExported   bool   `json:"is_exported"`
	ParentSymbol string `json:"parent_symbol"`
}

// DependencyEdgeRecord mirrors one row of dependency_edges.
type DependencyEdgeRecord struct {
	SourceSymbolID string `json:"source_symbol_id"`
	TargetSymbolID string `json:"target_symbol_id"`
	Relation       string `json:"relation"`
	SourceFile     string `json:"source_file"`
	TargetFile     string `json:"target_file"`
	Line           int    `json:"line"`
}

// ServiceDef is one entry in a service map's "services" list.
type ServiceDef struct {
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Description  string   `json:"description"`
	Stack        []string `json:"stack"`
	EstimatedLOC int      `json:"estimated_loc"`
}

// ServiceMap is the architect phase's output artifact.
type ServiceMap struct {
	Services []ServiceDef `json:"services"`
}

// EntityField is one field of a domain entity.
type EntityField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// EntityRelationship is one relationship edge in the domain model.
type EntityRelationship struct {
	Target      string `json:"target"`
	Type        string `json:"type"`
	Cardinality string `json:"cardinality"`
}

// DomainEntityDef is one entity in a domain model.
type DomainEntityDef struct {
	Name          string               `json:"name"`
	OwningService string               `json:"owning_service"`
	Description   string               `json:"description"`
	Fields        []EntityField        `json:"fields"`
	Relationships []EntityRelationship `json:"relationships"`
	ReferencedBy  []string             `json:"referenced_by"`
}

// DomainModel is the architect phase's domain-model output artifact.
type DomainModel struct {
	Entities []DomainEntityDef `json:"entities"`
}

// ContractRecord is one contract registered during the contracts phase.
type ContractRecord struct {
	ID           string `json:"id"`
	ContractType string `json:"contract_type"`
	Version      string `json:"version"`
	ServiceName  string `json:"service_name"`
	SpecJSON     string `json:"spec_json"`
	Status       string `json:"status"`
}

// ServiceInterfaceEndpoint is one endpoint a builder reported implementing.
type ServiceInterfaceEndpoint struct {
	Handler string `json:"handler"`
	Method  string `json:"method"`
	Path    string `json:"path"`
}

// ServiceInterface is one service's reported runtime interface, used to
// derive HANDLES_ENDPOINT edges and event nodes not present in the
// static contract.
type ServiceInterface struct {
	Endpoints       []ServiceInterfaceEndpoint `json:"endpoints"`
	EventsPublished []string                   `json:"events_published"`
	EventsConsumed  []string                   `json:"events_consumed"`
}

// SourceData is everything the indexer needs to build the graph,
// pre-loaded from artifact files rather than queried live (graph_rag_indexer.py's
// GraphRAGSourceData, adapted: CI/Architect/Contract databases are
// out-of-scope collaborators here, so their outputs arrive as JSON
// artifacts written earlier in the pipeline).
type SourceData struct {
	ExistingGraph     *graph.Graph
	Symbols           []SymbolRecord
	DependencyEdges   []DependencyEdgeRecord
	ServiceMap        *ServiceMap
	DomainModel       *DomainModel
	Contracts         []ContractRecord
	ServiceInterfaces map[string]ServiceInterface
}

// SourceDataPaths names the optional artifact files backing each part of
// SourceData. A blank path means that source is simply absent, not an
// error -- the indexer runs best-effort, same as the Python original's
// per-source try/except.
type SourceDataPaths struct {
	ExistingGraphPath     string
	SymbolsPath           string
	DependencyEdgesPath   string
	ServiceMapPath        string
	DomainModelPath       string
	ContractsPath         string
	ServiceInterfacesPath string
}

// LoadSourceData reads each artifact independently, collecting a
// human-readable error per failed source instead of aborting: errors
// accumulate, the phase never aborts.
func LoadSourceData(paths SourceDataPaths) (*SourceData, []string) {
	var errs []string
	source := &SourceData{ServiceInterfaces: map[string]ServiceInterface{}}

	if paths.ExistingGraphPath != "" {
		if data, err := os.ReadFile(paths.ExistingGraphPath); err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Sprintf("failed to load existing graph: %v", err))
			}
		} else {
			g, err := graph.FromJSON(data)
			if err != nil {
				errs = append(errs, fmt.Sprintf("failed to parse existing graph: %v", err))
			} else {
				source.ExistingGraph = g
			}
		}
	}

	if paths.SymbolsPath != "" {
		if err := readJSONIfExists(paths.SymbolsPath, &source.Symbols); err != nil {
			errs = append(errs, fmt.Sprintf("failed to load symbols: %v", err))
		}
	}

	if paths.DependencyEdgesPath != "" {
		if err := readJSONIfExists(paths.DependencyEdgesPath, &source.DependencyEdges); err != nil {
			errs = append(errs, fmt.Sprintf("failed to load dependency edges: %v", err))
		}
	}

	if paths.ServiceMapPath != "" {
		var sm ServiceMap
		if err := readJSONIfExists(paths.ServiceMapPath, &sm); err != nil {
			errs = append(errs, fmt.Sprintf("failed to load service map: %v", err))
		} else if sm.Services != nil {
			source.ServiceMap = &sm
		}
	}

	if paths.DomainModelPath != "" {
		var dm DomainModel
		if err := readJSONIfExists(paths.DomainModelPath, &dm); err != nil {
			errs = append(errs, fmt.Sprintf("failed to load domain model: %v", err))
		} else if dm.Entities != nil {
			source.DomainModel = &dm
		}
	}

	if paths.ContractsPath != "" {
		if err := readJSONIfExists(paths.ContractsPath, &source.Contracts); err != nil {
			errs = append(errs, fmt.Sprintf("failed to load contracts: %v", err))
		}
	}

	if paths.ServiceInterfacesPath != "" {
		if err := readJSONIfExists(paths.ServiceInterfacesPath, &source.ServiceInterfaces); err != nil {
			errs = append(errs, fmt.Sprintf("failed to load service interfaces: %v", err))
		}
	}

	return source, errs
}

func readJSONIfExists(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}
