package phase

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/state"
)

func TestRunContractRegistrationWritesOneFilePerService(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-1", "", "", state.DepthStandard, 1, 1, nil)
	require.NoError(t, atomicWriteJSON(filepath.Join(dir, "service_map.json"), map[string]interface{}{
		"services": []interface{}{
			map[string]interface{}{"service_id": "auth"},
			map[string]interface{}{"service_id": "billing"},
		},
	}))
	snap.SetArtifact("architect", "service_map", filepath.Join(dir, "service_map.json"))
	require.NoError(t, atomicWriteJSON(filepath.Join(dir, "contracts", "stubs.json"), map[string]interface{}{
		"auth":    map[string]interface{}{"openapi": "3.0"},
		"billing": map[string]interface{}{"openapi": "3.0"},
	}))

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir})
	err := e.runContractRegistration(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "contracts", "auth.json"))
	assert.FileExists(t, filepath.Join(dir, "contracts", "billing.json"))
	assert.Contains(t, snap.CompletedPhases, "contract_registration")
}

func TestRunContractRegistrationSkipsServiceWithNoStub(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-2", "", "", state.DepthStandard, 1, 1, nil)
	require.NoError(t, atomicWriteJSON(filepath.Join(dir, "service_map.json"), map[string]interface{}{
		"services": []interface{}{map[string]interface{}{"service_id": "orphan"}},
	}))
	snap.SetArtifact("architect", "service_map", filepath.Join(dir, "service_map.json"))

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir})
	err := e.runContractRegistration(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "contracts", "orphan.json"))
	assert.Error(t, statErr)
	assert.Contains(t, snap.CompletedPhases, "contract_registration")
}

func TestRunContractRegistrationAlwaysCompletesEvenWithoutServiceMap(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-3", "", "", state.DepthStandard, 1, 1, nil)

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir})
	err := e.runContractRegistration(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap.CompletedPhases, "contract_registration")
}
