package phase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/cost"
	"forge/internal/state"
	"forge/internal/statemachine"
)

func TestRunReturnsImmediatelyFromTerminalState(t *testing.T) {
	snap := state.New("run-1", "", "", state.DepthStandard, 1, 1, nil)
	snap.CurrentState = string(statemachine.Complete)
	e := newTestExecutor(t, snap, &Dependencies{})
	require.NoError(t, e.Run(context.Background()))
}

func TestRunHonorsShutdownSignalBeforeFirstPhase(t *testing.T) {
	snap := state.New("run-2", "/tmp/does-not-matter.md", "", state.DepthStandard, 1, 1, nil)
	e := newTestExecutor(t, snap, &Dependencies{ShouldStop: func() bool { return true }})
	require.NoError(t, e.Run(context.Background()))
	assert.True(t, snap.Interrupted)
}

func TestRunReturnsBudgetExceededBeforeFirstPhase(t *testing.T) {
	snap := state.New("run-3", "/tmp/does-not-matter.md", "", state.DepthStandard, 1, 1, nil)
	limit := 1.0
	ledger := cost.New(&limit)
	ledger.AddPhaseCost("architect", 5.0)

	e := newTestExecutor(t, snap, &Dependencies{Cost: ledger})
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, statemachine.Failed, statemachine.State(snap.CurrentState))
}

func TestHandlerForUnknownStateReturnsFalse(t *testing.T) {
	snap := state.New("run-4", "", "", state.DepthStandard, 1, 1, nil)
	e := newTestExecutor(t, snap, &Dependencies{})
	_, ok := e.handlerFor(statemachine.Failed)
	assert.False(t, ok)
}

func TestQualityGateHandlerPicksPassedTrigger(t *testing.T) {
	snap := state.New("run-5", "", "", state.DepthStandard, 1, 1, nil)
	snap.CurrentState = string(statemachine.QualityGate)
	engine := &fakeQualityEngine{report: QualityGateReport{OverallVerdict: "passed"}}
	e := newTestExecutor(t, snap, &Dependencies{OutputDir: t.TempDir(), QualityEngine: engine})

	err, trigger := e.qualityGateHandler(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statemachine.QualityPassed, trigger)
}

func TestQualityGateHandlerPicksNeedsFixTrigger(t *testing.T) {
	snap := state.New("run-6", "", "", state.DepthStandard, 1, 3, nil)
	snap.CurrentState = string(statemachine.QualityGate)
	engine := &fakeQualityEngine{report: QualityGateReport{OverallVerdict: "failed", BlockingViolations: 1}}
	e := newTestExecutor(t, snap, &Dependencies{OutputDir: t.TempDir(), QualityEngine: engine})

	err, trigger := e.qualityGateHandler(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statemachine.QualityNeedsFix, trigger)
}

func TestQualityGateHandlerPicksSkipToCompleteWhenAdvisoryOnly(t *testing.T) {
	snap := state.New("run-7", "", "", state.DepthStandard, 1, 0, nil)
	snap.CurrentState = string(statemachine.QualityGate)
	engine := &fakeQualityEngine{report: QualityGateReport{OverallVerdict: "failed", BlockingViolations: 0}}
	e := newTestExecutor(t, snap, &Dependencies{OutputDir: t.TempDir(), QualityEngine: engine})

	err, trigger := e.qualityGateHandler(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statemachine.SkipToComplete, trigger)
}
