package phase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/state"
)

type fakeQualityEngine struct {
	report QualityGateReport
	err    error
}

func (f *fakeQualityEngine) RunAllLayers(ctx context.Context, req QualityGateRequest) (QualityGateReport, error) {
	return f.report, f.err
}

func TestRunQualityGateRecordsPassingVerdict(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-1", "", "", state.DepthStandard, 1, 1, nil)
	engine := &fakeQualityEngine{report: QualityGateReport{OverallVerdict: "passed"}}

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, QualityEngine: engine})
	err := e.runQualityGate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "passed", snap.LastQualityResults["overall_verdict"])
	assert.Contains(t, snap.CompletedPhases, "quality_gate")
}

func TestRunQualityGateFailsWhenNoAttemptsRemainAndBlocking(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-2", "", "", state.DepthStandard, 1, 0, nil)
	snap.QualityAttempts = 0
	engine := &fakeQualityEngine{report: QualityGateReport{OverallVerdict: "failed", BlockingViolations: 2}}

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, QualityEngine: engine})
	err := e.runQualityGate(context.Background())
	require.Error(t, err)
}

func TestRunQualityGateAllowsAdvisoryOnlyFailure(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-3", "", "", state.DepthStandard, 1, 0, nil)
	engine := &fakeQualityEngine{report: QualityGateReport{OverallVerdict: "failed", BlockingViolations: 0, TotalViolations: 3}}

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, QualityEngine: engine})
	err := e.runQualityGate(context.Background())
	require.NoError(t, err)
}

func TestRunQualityGatePropagatesEngineError(t *testing.T) {
	dir := t.TempDir()
	snap := state.New("run-4", "", "", state.DepthStandard, 1, 1, nil)
	engine := &fakeQualityEngine{err: assert.AnError}

	e := newTestExecutor(t, snap, &Dependencies{OutputDir: dir, QualityEngine: engine})
	err := e.runQualityGate(context.Background())
	require.Error(t, err)
}
