package phase

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/cost"
	"forge/internal/mcp"
	"forge/internal/state"
	"forge/internal/statemachine"
)

type fakeDecomposer struct {
	calls   int
	failN   int
	result  mcp.ArchitectResult
	lastErr error
}

func (f *fakeDecomposer) DecomposePRD(ctx context.Context, prdText string) (mcp.ArchitectResult, error) {
	f.calls++
	if f.calls <= f.failN {
		return mcp.ArchitectResult{}, assert.AnError
	}
	return f.result, nil
}

func newTestExecutor(t *testing.T, snap *state.Snapshot, deps *Dependencies) *PhaseExecutor {
	t.Helper()
	if deps.Cost == nil {
		deps.Cost = cost.New(nil)
	}
	return New(statemachine.New(snap), snap, deps)
}

func TestRunArchitectPhaseWritesArtifactsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	prd := filepath.Join(dir, "prd.md")
	require.NoError(t, os.WriteFile(prd, []byte("build a thing"), 0o644))

	snap := state.New("run-1", prd, "", state.DepthStandard, 2, 2, nil)
	decomposer := &fakeDecomposer{result: mcp.ArchitectResult{
		ServiceMap: map[string]interface{}{"services": []interface{}{
			map[string]interface{}{"service_id": "auth", "port": float64(8081)},
		}},
		Contracts: []map[string]interface{}{{"service_id": "auth", "openapi": "3.0"}},
	}}

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, Decomposer: decomposer})
	err := e.runArchitectPhase(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "service_map.json"))
	assert.FileExists(t, filepath.Join(dir, "contracts", "stubs.json"))
	assert.Contains(t, snap.CompletedPhases, "architect")
	assert.Equal(t, filepath.Join(dir, "service_map.json"), snap.PhaseArtifacts["architect"]["service_map"])
}

func TestRunArchitectPhaseRetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	prd := filepath.Join(dir, "prd.md")
	require.NoError(t, os.WriteFile(prd, []byte("prd"), 0o644))

	snap := state.New("run-2", prd, "", state.DepthStandard, 2, 2, nil)
	decomposer := &fakeDecomposer{failN: 1, result: mcp.ArchitectResult{ServiceMap: map[string]interface{}{}}}

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, Decomposer: decomposer})
	err := e.runArchitectPhase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, decomposer.calls)
	assert.Equal(t, 1, snap.ArchitectRetries)
}

func TestRunArchitectPhaseFailsAfterExhaustingRetries(t *testing.T) {
	dir := t.TempDir()
	prd := filepath.Join(dir, "prd.md")
	require.NoError(t, os.WriteFile(prd, []byte("prd"), 0o644))

	snap := state.New("run-3", prd, "", state.DepthStandard, 1, 2, nil)
	decomposer := &fakeDecomposer{failN: 99}

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, Decomposer: decomposer})
	err := e.runArchitectPhase(context.Background())
	require.Error(t, err)
	assert.NotContains(t, snap.CompletedPhases, "architect")
}

func TestRunArchitectPhaseMissingPRDIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-4", filepath.Join(dir, "missing.md"), "", state.DepthStandard, 1, 1, nil)
	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, Decomposer: &fakeDecomposer{}})
	err := e.runArchitectPhase(context.Background())
	require.Error(t, err)
}
