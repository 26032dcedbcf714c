package phase

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/builder"
	"forge/internal/config"
	"forge/internal/state"
)

func writeFakeBuilderState(t *testing.T, cwd string, success bool, cost float64) {
	t.Helper()
	dir := filepath.Join(cwd, ".agent-team")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, atomicWriteJSON(filepath.Join(dir, "STATE.json"), map[string]interface{}{
		"summary":    map[string]interface{}{"success": success, "test_passed": 4, "test_total": 4},
		"total_cost": cost,
		"health":     "healthy",
	}))
}

func TestRunParallelBuildersAggregatesSuccessAndCost(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-1", "", "", state.DepthStandard, 1, 1, nil)
	require.NoError(t, atomicWriteJSON(filepath.Join(dir, "service_map.json"), map[string]interface{}{
		"services": []interface{}{
			map[string]interface{}{"service_id": "auth"},
			map[string]interface{}{"service_id": "billing"},
		},
	}))
	snap.SetArtifact("architect", "service_map", filepath.Join(dir, "service_map.json"))

	writeFakeBuilderState(t, filepath.Join(dir, "auth"), true, 1.5)
	writeFakeBuilderState(t, filepath.Join(dir, "billing"), false, 0.5)

	dispatcher := builder.NewDispatcher(config.BuilderConfig{MaxConcurrent: 2, WorkerCommand: "true"})
	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, Dispatcher: dispatcher, Config: &config.Config{}})

	err := e.runParallelBuilders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, snap.TotalBuilders)
	assert.Equal(t, 1, snap.SuccessfulBuilders)
	assert.Equal(t, state.BuilderHealthy, snap.BuilderStatuses["auth"])
	assert.Equal(t, state.BuilderFailed, snap.BuilderStatuses["billing"])
	assert.InDelta(t, 2.0, snap.BuilderCosts["auth"]+snap.BuilderCosts["billing"], 0.001)
	assert.Contains(t, snap.CompletedPhases, "builders")
}

func TestRunParallelBuildersFailsWhenAllBuildersFail(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-2", "", "", state.DepthStandard, 1, 1, nil)
	require.NoError(t, atomicWriteJSON(filepath.Join(dir, "service_map.json"), map[string]interface{}{
		"services": []interface{}{map[string]interface{}{"service_id": "auth"}},
	}))
	snap.SetArtifact("architect", "service_map", filepath.Join(dir, "service_map.json"))
	writeFakeBuilderState(t, filepath.Join(dir, "auth"), false, 0)

	dispatcher := builder.NewDispatcher(config.BuilderConfig{MaxConcurrent: 1, WorkerCommand: "true"})
	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, Dispatcher: dispatcher, Config: &config.Config{}})

	err := e.runParallelBuilders(context.Background())
	require.Error(t, err)
}
