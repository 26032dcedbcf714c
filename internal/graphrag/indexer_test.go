package graphrag

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/graph"
	"forge/internal/vectorstore"
)

func writeJSON(t *testing.T, dir, name string, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestIndexerBuildsGraphAndDerivesServiceCalls(t *testing.T) {
	dir := t.TempDir()

	symbolsPath := writeJSON(t, dir, "symbols.json", []SymbolRecord{
		{FilePath: "auth/login.go", SymbolName: "Login", Kind: "function", Language: "go", ServiceName: "auth-service"},
		{FilePath: "order/create.go", SymbolName: "CreateOrder", Kind: "function", Language: "go", ServiceName: "order-service"},
	})
	depsPath := writeJSON(t, dir, "deps.json", []DependencyEdgeRecord{
		{SourceSymbolID: "order/create.go::CreateOrder", TargetSymbolID: "auth/login.go::Login", Relation: "imports", SourceFile: "order/create.go", TargetFile: "auth/login.go"},
	})
	serviceMapPath := writeJSON(t, dir, "service_map.json", ServiceMap{Services: []ServiceDef{
		{Name: "auth-service", Domain: "identity"},
		{Name: "order-service", Domain: "commerce"},
	}})

	contractSpec, _ := json.Marshal(map[string]interface{}{
		"paths": map[string]interface{}{
			"/login": map[string]interface{}{
				"post": map[string]interface{}{"summary": "Login"},
			},
		},
	})
	contractsPath := writeJSON(t, dir, "contracts.json", []ContractRecord{
		{ID: "auth-openapi", ContractType: "openapi", Version: "1.0", ServiceName: "auth-service", SpecJSON: string(contractSpec), Status: "active"},
	})

	kg := graph.New()
	store, err := vectorstore.Open(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ix := NewIndexer(kg, store, NewHashEmbedder(32), NewContextAssembler(2000, 4), 0.85, 100, 1e-6, 42)

	result := ix.Build(context.Background(), SourceDataPaths{
		SymbolsPath:         symbolsPath,
		DependencyEdgesPath: depsPath,
		ServiceMapPath:      serviceMapPath,
		ContractsPath:       contractsPath,
	})

	require.True(t, result.Success, "build errors: %v", result.Errors)
	assert.Contains(t, result.ServicesIndexed, "auth-service")
	assert.Contains(t, result.ServicesIndexed, "order-service")
	assert.Greater(t, result.NodeCount, 0)
	assert.Greater(t, result.EdgeCount, 0)

	assert.NotNil(t, kg.Node("endpoint::auth-service::POST::/login"))

	var sawServiceCalls bool
	for _, e := range kg.Edges() {
		if e.Relation == string(graph.ServiceCalls) && e.From == "service::order-service" && e.To == "service::auth-service" {
			sawServiceCalls = true
		}
	}
	assert.True(t, sawServiceCalls, "expected a derived SERVICE_CALLS edge from order-service to auth-service")

	count, err := store.NodeCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kg.NodeCount(), count)
}

func TestLoadSourceDataToleratesMissingFiles(t *testing.T) {
	source, errs := LoadSourceData(SourceDataPaths{
		SymbolsPath: filepath.Join(t.TempDir(), "does-not-exist.json"),
	})
	assert.Empty(t, errs)
	assert.Nil(t, source.Symbols)
}
