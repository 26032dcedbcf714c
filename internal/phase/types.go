// Package phase implements the pipeline's phase executor: one handler per
// pipeline state, driving the architect, contract-registration, builder,
// integration, quality-gate and fix-pass phases to completion and firing
// the state machine trigger that advances past them. Grounded on
// super_orchestrator/pipeline.py in full.
package phase

import (
	"context"

	"forge/internal/builder"
	"forge/internal/config"
	"forge/internal/cost"
	"forge/internal/graphrag"
	"forge/internal/learning"
	"forge/internal/mcp"
	"forge/internal/state"
	"forge/internal/statemachine"
)

// ServiceInfo is one service the architect produced, carried through
// builders and integration. Mirrors build3_shared.models.ServiceInfo.
type ServiceInfo struct {
	ServiceID      string                 `json:"service_id"`
	Domain         string                 `json:"domain"`
	Stack          map[string]interface{} `json:"stack"`
	Port           int                    `json:"port"`
	HealthEndpoint string                 `json:"health_endpoint"`
	EstimatedLOC   int                    `json:"estimated_loc"`
}

// Violation is one quality-gate finding as returned by the external
// quality engine, carrying every field ContractViolation does in the
// original (fix_loop.py, pipeline.py's run_fix_pass reconstruction).
type Violation struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Service  string `json:"service"`
	Endpoint string `json:"endpoint"`
	Message  string `json:"message"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
}

// LayerReport is one named quality-gate layer's findings.
type LayerReport struct {
	Violations []Violation `json:"violations"`
}

// QualityGateReport is the external quality engine's full verdict,
// mirroring QualityGateReport in build3_shared/models.py.
type QualityGateReport struct {
	OverallVerdict     string                 `json:"overall_verdict"`
	TotalViolations    int                    `json:"total_violations"`
	BlockingViolations int                    `json:"blocking_violations"`
	Layers             map[string]LayerReport `json:"layers"`
}

// IntegrationReport is the integration phase's outcome, mirroring
// IntegrationReport in build3_shared/models.py.
type IntegrationReport struct {
	ServicesDeployed        int         `json:"services_deployed"`
	ServicesHealthy         int         `json:"services_healthy"`
	ContractTestsPassed     int         `json:"contract_tests_passed"`
	ContractTestsTotal      int         `json:"contract_tests_total"`
	IntegrationTestsPassed  int         `json:"integration_tests_passed"`
	IntegrationTestsTotal   int         `json:"integration_tests_total"`
	Violations              []Violation `json:"violations"`
	OverallHealth           string      `json:"overall_health"`
}

// QualityGateRequest bundles everything the external quality engine needs
// to run all its layers against one pipeline's output.
type QualityGateRequest struct {
	OutputDir         string
	BuilderResults    map[string]state.BuilderResult
	IntegrationReport IntegrationReport
	FixAttempts       int
	MaxFixAttempts    int
}

// QualityGateEngine is the quality-scan rule set: a named-only,
// out-of-scope collaborator, invoked here as an interface rather than
// reimplemented. SubprocessQualityEngine is the only
// concrete adapter this repository ships.
type QualityGateEngine interface {
	RunAllLayers(ctx context.Context, req QualityGateRequest) (QualityGateReport, error)
}

// Dependencies bundles every collaborator a PhaseExecutor drives. Built
// once per pipeline run and threaded through every phase handler.
type Dependencies struct {
	Config        *config.Config
	OutputDir     string
	Dispatcher    *builder.Dispatcher
	FixLoop       *builder.FixLoop
	Decomposer    mcp.Decomposer
	GraphRAG      *mcp.GraphRAGClient
	Engine        *graphrag.Engine
	Indexer       *graphrag.Indexer
	QualityEngine QualityGateEngine
	RunTracker    *learning.RunTracker
	Patterns      *learning.PatternStore
	Cost          *cost.Ledger
	ShouldStop    func() bool

	// OnPhase, if set, is called with the state machine's current state at
	// the top of every loop iteration in PhaseExecutor.Run, before that
	// state's handler runs. Lets a caller (the CLI) surface phase
	// boundaries without depending on the file-based logging package.
	OnPhase func(state string)
}

// PhaseExecutor drives one pipeline's state machine through its phase
// handlers, one state at a time.
type PhaseExecutor struct {
	machine *statemachine.Machine
	snap    *state.Snapshot
	deps    *Dependencies
}

// New builds a PhaseExecutor bound to a state machine, its snapshot and
// the phase collaborators.
func New(machine *statemachine.Machine, snap *state.Snapshot, deps *Dependencies) *PhaseExecutor {
	return &PhaseExecutor{machine: machine, snap: snap, deps: deps}
}

func toBuilderViolations(violations []Violation) []builder.Violation {
	out := make([]builder.Violation, 0, len(violations))
	for _, v := range violations {
		out = append(out, builder.Violation{
			Code:     v.Code,
			Service:  v.Service,
			FilePath: v.FilePath,
			Endpoint: v.Endpoint,
			Actual:   v.Actual,
			Message:  v.Message,
			Severity: v.Severity,
		})
	}
	return out
}

func toLearningViolations(violations []Violation) []learning.Violation {
	out := make([]learning.Violation, 0, len(violations))
	for _, v := range violations {
		out = append(out, learning.Violation{
			Code:     v.Code,
			FilePath: v.FilePath,
			Line:     v.Line,
			Message:  v.Message,
			Severity: v.Severity,
		})
	}
	return out
}
