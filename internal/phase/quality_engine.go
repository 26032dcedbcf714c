package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"forge/internal/config"
	"forge/internal/logging"
)

// SubprocessQualityEngine shells out to an external quality-scan CLI,
// writing the request as JSON and reading back a QualityGateReport,
// the same MCP-absent subprocess shape _call_architect_subprocess and
// SubprocessDecomposer use for their own named-only collaborators.
type SubprocessQualityEngine struct {
	cliPath string
	timeout time.Duration
}

// NewSubprocessQualityEngine builds an engine from QualityGateConfig.
func NewSubprocessQualityEngine(cfg config.QualityGateConfig) *SubprocessQualityEngine {
	cliPath := cfg.CLIPath
	if cliPath == "" {
		cliPath = "quality-gate"
	}
	timeout := 600 * time.Second
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil {
			timeout = d
		}
	}
	return &SubprocessQualityEngine{cliPath: cliPath, timeout: timeout}
}

// RunAllLayers writes req to a temp request file, invokes the quality
// engine CLI with --request/--output, and parses its JSON report. Any
// subprocess failure is wrapped, not swallowed: the quality gate's
// verdict is load-bearing for the state machine, so a
// silent default here would misreport pipeline health.
func (e *SubprocessQualityEngine) RunAllLayers(ctx context.Context, req QualityGateRequest) (QualityGateReport, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return QualityGateReport{}, fmt.Errorf("quality gate: preparing output dir: %w", err)
	}

	reqFile := filepath.Join(req.OutputDir, "quality_gate_request.json")
	reportFile := filepath.Join(req.OutputDir, "quality_gate_report.json")

	data, err := json.Marshal(req)
	if err != nil {
		return QualityGateReport{}, fmt.Errorf("quality gate: marshalling request: %w", err)
	}
	if err := os.WriteFile(reqFile, data, 0o644); err != nil {
		return QualityGateReport{}, fmt.Errorf("quality gate: writing request: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.cliPath, "--request", reqFile, "--output", reportFile)
	output, runErr := cmd.CombinedOutput()
	if execCtx.Err() != nil {
		return QualityGateReport{}, fmt.Errorf("quality gate: subprocess timed out after %s", e.timeout)
	}
	if runErr != nil {
		logging.Get(logging.CategoryPipeline).Warn("quality gate subprocess failed: %v: %s", runErr, output)
		return QualityGateReport{}, fmt.Errorf("quality gate: subprocess failed: %w", runErr)
	}

	reportData, err := os.ReadFile(reportFile)
	if err != nil {
		return QualityGateReport{}, fmt.Errorf("quality gate: reading report: %w", err)
	}
	var report QualityGateReport
	if err := json.Unmarshal(reportData, &report); err != nil {
		return QualityGateReport{}, fmt.Errorf("quality gate: parsing report: %w", err)
	}
	return report, nil
}
