package phase

import (
	"context"
	"fmt"

	"forge/internal/logging"
	"forge/internal/perrors"
	"forge/internal/statemachine"
)

// maxLoopIterations bounds the phase loop against a misbehaving guard or
// handler leaving the machine oscillating between two states forever,
// mirroring pipeline.py's _run_pipeline_loop safety counter.
const maxLoopIterations = 50

// handler runs one state's phase logic and reports the trigger to fire
// next. A nil trigger with a nil error means "stay put" (used when a
// shutdown was observed mid-phase).
type handler func(ctx context.Context) (error, statemachine.Trigger)

// Run drives the state machine from its current state to a terminal state,
// invoking one phase handler per iteration, firing its resulting trigger,
// and checking the budget and shutdown signal between phases. Grounded on
// pipeline.py:_run_pipeline_loop.
func (e *PhaseExecutor) Run(ctx context.Context) error {
	log := logging.Get(logging.CategoryPipeline)

	for i := 0; i < maxLoopIterations; i++ {
		current := e.machine.Current()
		if current.Terminal() {
			log.Info("pipeline reached terminal state %s", current)
			return nil
		}

		if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
			e.snap.Interrupted = true
			e.snap.InterruptReason = "shutdown signal received"
			log.Warn("shutdown requested, halting at state %s", current)
			return nil
		}

		if e.deps.OnPhase != nil {
			e.deps.OnPhase(string(current))
		}

		if ok, reason := e.deps.Cost.CheckBudget(); !ok {
			budgetLimit := 0.0
			if e.deps.Cost.BudgetLimit() != nil {
				budgetLimit = *e.deps.Cost.BudgetLimit()
			}
			log.Warn("budget exceeded: %s", reason)
			e.machine.Fire(statemachine.Fail)
			e.snap.Touch()
			return &perrors.BudgetExceededError{TotalCost: e.deps.Cost.TotalCost(), BudgetLimit: budgetLimit}
		}

		h, ok := e.handlerFor(current)
		if !ok {
			return perrors.Wrap("pipeline loop", fmt.Errorf("no phase handler registered for state %s", current))
		}

		err, trigger := h(ctx)
		e.snap.Touch()
		if err != nil {
			e.machine.Fire(statemachine.Fail)
			return err
		}
		if trigger == "" {
			// handler observed a shutdown mid-phase and already recorded it
			return nil
		}

		changed, fireErr := e.machine.Fire(trigger)
		if fireErr != nil {
			return perrors.Wrap("firing trigger", fireErr)
		}
		if !changed {
			log.Warn("trigger %s from %s did not change state; guard may have failed", trigger, current)
			return perrors.Wrap("pipeline loop", fmt.Errorf("stuck at state %s after trigger %s", current, trigger))
		}
	}

	return perrors.Wrap("pipeline loop", fmt.Errorf("exceeded %d iterations without reaching a terminal state", maxLoopIterations))
}

// handlerFor maps a state to the phase handler that advances past it, and
// the trigger to fire on that handler's success. architect_review has no
// handler of its own: approval is automatic once a valid service map
// exists, since no interactive review surface is in scope here.
func (e *PhaseExecutor) handlerFor(s statemachine.State) (handler, bool) {
	switch s {
	case statemachine.Init:
		return e.wrap(nil, statemachine.StartArchitect), true
	case statemachine.ArchitectRunning:
		return e.wrap(e.runArchitectPhase, statemachine.ArchitectDone), true
	case statemachine.ArchitectReview:
		return e.wrap(nil, statemachine.ApproveArchitect), true
	case statemachine.ContractsRegistering:
		return e.wrap(e.runContractRegistration, statemachine.ContractsRegistered), true
	case statemachine.BuildersRunning:
		return e.wrap(e.runParallelBuilders, statemachine.BuildersDone), true
	case statemachine.BuildersComplete:
		return e.wrap(nil, statemachine.StartIntegration), true
	case statemachine.Integrating:
		return e.wrap(e.runIntegrationPhase, statemachine.IntegrationDone), true
	case statemachine.QualityGate:
		return e.qualityGateHandler, true
	case statemachine.FixPass:
		return e.wrap(e.runFixPass, statemachine.FixDone), true
	default:
		return nil, false
	}
}

// wrap adapts a phase function (or a nil no-op transition) into a handler
// that always fires the given trigger on success.
func (e *PhaseExecutor) wrap(fn func(context.Context) error, trigger statemachine.Trigger) handler {
	return func(ctx context.Context) (error, statemachine.Trigger) {
		if fn == nil {
			return nil, trigger
		}
		if err := fn(ctx); err != nil {
			return err, ""
		}
		if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
			return nil, ""
		}
		return nil, trigger
	}
}

// qualityGateHandler picks quality_passed, quality_needs_fix or
// skip_to_complete based on the verdict runQualityGate recorded; the guards
// bound to each trigger make the final decision, so firing the "wrong" one
// here is always a safe no-op rather than an incorrect transition.
func (e *PhaseExecutor) qualityGateHandler(ctx context.Context) (error, statemachine.Trigger) {
	if err := e.runQualityGate(ctx); err != nil {
		return err, ""
	}
	if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
		return nil, ""
	}

	verdict, _ := e.snap.LastQualityResults["overall_verdict"].(string)
	if verdict == "passed" {
		return nil, statemachine.QualityPassed
	}
	if e.machine.CanFire(statemachine.QualityNeedsFix) {
		return nil, statemachine.QualityNeedsFix
	}
	if e.machine.CanFire(statemachine.SkipToComplete) {
		return nil, statemachine.SkipToComplete
	}
	return nil, statemachine.Fail
}
