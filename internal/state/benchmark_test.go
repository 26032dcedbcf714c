package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forge/internal/state"
)

func sampleSnapshot() *state.Snapshot {
	budget := 50.0
	snap := state.New("bench-pid", "/tmp/prd.md", "/tmp/forge.yaml", state.DepthStandard, 2, 3, &budget)
	snap.CurrentState = "builders_running"
	snap.CompletedPhases = []string{"architect", "contracts"}
	snap.BuilderResults = map[string]state.BuilderResult{
		"svc-a": {ServiceID: "svc-a", Success: true, TestPassed: 12, TestTotal: 12, ConvergenceRatio: 1.0},
		"svc-b": {ServiceID: "svc-b", Success: false, TestPassed: 4, TestTotal: 9, ConvergenceRatio: 0.44},
	}
	snap.PhaseArtifacts = map[string]map[string]string{
		"architect": {"service_map": "/tmp/service_map.json", "domain_model": "/tmp/domain_model.json"},
	}
	snap.PhaseCosts = map[string]float64{"architect": 1.2, "builders": 3.4}
	snap.TotalCost = 4.6
	return snap
}

// TestSaveLoadRoundtripUnderFiftyMilliseconds asserts the latency bound the
// pipeline relies on when persisting a snapshot after every transition: a
// full save+load roundtrip of a realistically populated snapshot must stay
// comfortably under 50ms even though Save fsyncs before renaming.
func TestSaveLoadRoundtripUnderFiftyMilliseconds(t *testing.T) {
	dir := t.TempDir()
	snap := sampleSnapshot()

	start := time.Now()
	require.NoError(t, state.Save(snap, dir))
	loaded, err := state.Load(dir)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, snap.PipelineID, loaded.PipelineID)
	require.Equal(t, snap.CurrentState, loaded.CurrentState)

	if elapsed > 50*time.Millisecond {
		t.Errorf("save+load roundtrip took %s, want < 50ms", elapsed)
	}
}

// BenchmarkSaveLoadRoundtrip measures Save+Load cost directly; each
// iteration's snapshot is freshly built outside the timed region so the
// reported per-op cost reflects only the marshal/fsync/rename/unmarshal
// work, not map construction.
func BenchmarkSaveLoadRoundtrip(b *testing.B) {
	dir := b.TempDir()
	snapshots := make([]*state.Snapshot, b.N)
	for i := 0; i < b.N; i++ {
		snapshots[i] = sampleSnapshot()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := state.Save(snapshots[i], dir); err != nil {
			b.Fatal(err)
		}
		if _, err := state.Load(dir); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSave isolates the write half of the roundtrip.
func BenchmarkSave(b *testing.B) {
	dir := b.TempDir()
	snapshots := make([]*state.Snapshot, b.N)
	for i := 0; i < b.N; i++ {
		snapshots[i] = sampleSnapshot()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := state.Save(snapshots[i], dir); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLoad isolates the read half of the roundtrip.
func BenchmarkLoad(b *testing.B) {
	dir := b.TempDir()
	require.NoError(b, state.Save(sampleSnapshot(), dir))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := state.Load(dir); err != nil {
			b.Fatal(err)
		}
	}
}
