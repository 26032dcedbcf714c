package phase

import (
	"context"
	"path/filepath"

	"forge/internal/builder"
	"forge/internal/learning"
	"forge/internal/logging"
	"forge/internal/state"
)

// runFixPass groups the quality gate's violations by service and relaunches
// one quick-depth builder per affected service, grounded on
// pipeline.py:run_fix_pass.
func (e *PhaseExecutor) runFixPass(ctx context.Context) error {
	log := logging.Get(logging.CategoryPipeline)
	log.Info("starting fix pass")
	e.deps.Cost.StartPhase("fix_pass")

	if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
		log.Warn("shutdown requested before fix pass")
		e.deps.Cost.EndPhase(0)
		return nil
	}

	var report QualityGateReport
	_ = readJSONFile(e.snap.QualityReportPath, &report)

	byService := map[string][]Violation{}
	for _, layer := range report.Layers {
		for _, v := range layer.Violations {
			if v.Service == "" {
				continue
			}
			byService[v.Service] = append(byService[v.Service], v)
		}
	}

	var totalCost float64
	runID := e.snap.PipelineID
	for serviceID, violations := range byService {
		if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
			break
		}
		cwd := filepath.Join(e.deps.OutputDir, serviceID)

		graphCtx := ""
		if e.deps.Patterns != nil {
			graphCtx = learning.BuildFixContext(ctx, toLearningViolations(violations), serviceID, e.deps.Config.Persistence, e.deps.Patterns)
		}

		result, err := e.deps.FixLoop.FeedViolationsToBuilder(ctx, serviceID, cwd, toBuilderViolations(violations), graphCtx)
		if err != nil {
			log.Warn("fix pass failed for %s: %v", serviceID, err)
			continue
		}

		totalCost += result.TotalCost
		if e.snap.BuilderResults == nil {
			e.snap.BuilderResults = map[string]state.BuilderResult{}
		}
		if e.snap.BuilderStatuses == nil {
			e.snap.BuilderStatuses = map[string]state.BuilderStatus{}
		}
		e.snap.BuilderResults[serviceID] = state.BuilderResult{
			ServiceID:        serviceID,
			Success:          result.Success,
			TestPassed:       result.TestPassed,
			TestTotal:        result.TestTotal,
			ConvergenceRatio: result.ConvergenceRatio,
			TotalCost:        result.TotalCost,
			Health:           result.Health,
			CompletedPhases:  result.CompletedPhases,
		}
		if result.Success {
			e.snap.BuilderStatuses[serviceID] = state.BuilderHealthy
		} else {
			e.snap.BuilderStatuses[serviceID] = state.BuilderFailed
		}

		if e.deps.RunTracker != nil {
			for _, v := range violations {
				vid := e.deps.RunTracker.RecordViolation(runID, learning.Violation{
					Code: v.Code, FilePath: v.FilePath, Line: v.Line, Message: v.Message, Severity: v.Severity,
				}, serviceID, "")
				if result.Success {
					e.deps.RunTracker.MarkFixed(vid, result.TotalCost)
				}
			}
		}

		logFixedViolations(serviceID, violations, result, log)
	}

	e.snap.QualityAttempts++
	e.snap.MarkPhaseComplete("fix_pass")
	e.deps.Cost.EndPhase(totalCost)
	e.snap.RecordPhaseCost("fix_pass", totalCost)

	log.Info("fix pass complete -- attempt %d/%d, %d services addressed, cost=$%.4f",
		e.snap.QualityAttempts, e.snap.MaxQualityRetries, len(byService), totalCost)
	return nil
}

func logFixedViolations(serviceID string, violations []Violation, result builder.InvocationResult, log *logging.Logger) {
	verdict := "failed"
	if result.Success {
		verdict = "succeeded"
	}
	log.Info("fix relaunch for %s %s (%d violations addressed)", serviceID, verdict, len(violations))
}
