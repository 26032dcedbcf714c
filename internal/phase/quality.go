package phase

import (
	"context"
	"path/filepath"

	"forge/internal/logging"
	"forge/internal/perrors"
)

// runQualityGate delegates to the external quality engine and records its
// verdict onto the snapshot for the state machine's guards to read.
// Grounded on pipeline.py:run_quality_gate_phase.
func (e *PhaseExecutor) runQualityGate(ctx context.Context) error {
	log := logging.Get(logging.CategoryPipeline)
	log.Info("starting quality gate phase")
	e.deps.Cost.StartPhase("quality_gate")

	if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
		log.Warn("shutdown requested before quality gate")
		e.deps.Cost.EndPhase(0)
		return nil
	}

	var integReport IntegrationReport
	_ = readJSONFile(filepath.Join(e.deps.OutputDir, "integration_report.json"), &integReport)

	req := QualityGateRequest{
		OutputDir:         e.deps.OutputDir,
		BuilderResults:    e.snap.BuilderResults,
		IntegrationReport: integReport,
		FixAttempts:       e.snap.QualityAttempts,
		MaxFixAttempts:    e.snap.MaxQualityRetries,
	}

	report, err := e.deps.QualityEngine.RunAllLayers(ctx, req)
	if err != nil {
		e.deps.Cost.EndPhase(0)
		return &perrors.QualityGateFailureError{Layer: "all", Message: err.Error()}
	}

	reportPath := filepath.Join(e.deps.OutputDir, "quality_gate_report.json")
	if err := atomicWriteJSON(reportPath, report); err != nil {
		log.Warn("failed to persist quality gate report: %v", err)
	} else {
		e.snap.QualityReportPath = reportPath
		e.snap.SetArtifact("quality_gate", "report", reportPath)
	}

	e.snap.LastQualityResults = map[string]interface{}{
		"overall_verdict":     report.OverallVerdict,
		"total_violations":    float64(report.TotalViolations),
		"blocking_violations": float64(report.BlockingViolations),
	}
	e.snap.MarkPhaseComplete("quality_gate")
	e.deps.Cost.EndPhase(0)

	log.Info("quality gate complete -- verdict=%s total=%d blocking=%d",
		report.OverallVerdict, report.TotalViolations, report.BlockingViolations)

	if report.OverallVerdict != "passed" && report.BlockingViolations > 0 && e.snap.QualityAttempts >= e.snap.MaxQualityRetries {
		return &perrors.QualityGateFailureError{
			Layer:   "all",
			Message: "quality gate failed with no fix attempts remaining and blocking violations outstanding",
		}
	}
	return nil
}
