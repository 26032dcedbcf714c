package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStateFile(t *testing.T, dir, contents string) {
	t.Helper()
	stateDir := filepath.Join(dir, ".agent-team")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "STATE.json"), []byte(contents), 0o644))
}

func TestParseBuilderStateMissingFileReturnsUnknown(t *testing.T) {
	harvest := ParseBuilderState(t.TempDir())
	assert.Equal(t, "unknown", harvest.Health)
	assert.False(t, harvest.Success)
}

func TestParseBuilderStateMalformedJSONReturnsUnknown(t *testing.T) {
	dir := t.TempDir()
	writeStateFile(t, dir, "{not valid json")

	harvest := ParseBuilderState(dir)
	assert.Equal(t, "unknown", harvest.Health)
}

func TestParseBuilderStatePopulatesFromSummary(t *testing.T) {
	dir := t.TempDir()
	writeStateFile(t, dir, `{
		"summary": {"success": true, "test_passed": 18, "test_total": 20, "convergence_ratio": 0.9},
		"total_cost": 4.5,
		"health": "green",
		"completed_phases": ["plan", "implement", "test"]
	}`)

	harvest := ParseBuilderState(dir)
	assert.True(t, harvest.Success)
	assert.Equal(t, 18, harvest.TestPassed)
	assert.Equal(t, 20, harvest.TestTotal)
	assert.InDelta(t, 0.9, harvest.ConvergenceRatio, 0.0001)
	assert.InDelta(t, 4.5, harvest.TotalCost, 0.0001)
	assert.Equal(t, "green", harvest.Health)
	assert.Equal(t, []string{"plan", "implement", "test"}, harvest.CompletedPhases)
}

func TestParseBuilderStateDefaultsHealthWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	writeStateFile(t, dir, `{"summary": {"success": false}}`)

	harvest := ParseBuilderState(dir)
	assert.Equal(t, "unknown", harvest.Health)
	assert.False(t, harvest.Success)
}
