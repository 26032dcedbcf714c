// Package state implements the schema-versioned, atomically-replaced
// pipeline snapshot.
package state

import "time"

// SchemaVersion is the current on-disk snapshot schema version.
const SchemaVersion = 1

// BuilderResult summarizes one builder's STATE.json harvest.
// builder_results is a map keyed by service id, not a list.
type BuilderResult struct {
	ServiceID         string   `json:"service_id"`
	Success           bool     `json:"success"`
	TestPassed        int      `json:"test_passed"`
	TestTotal         int      `json:"test_total"`
	ConvergenceRatio  float64  `json:"convergence_ratio"`
	TotalCost         float64  `json:"total_cost"`
	Health            string   `json:"health"`
	CompletedPhases   []string `json:"completed_phases"`
}

// BuilderStatus is the lifecycle status of one dispatched builder.
type BuilderStatus string

const (
	BuilderPending BuilderStatus = "pending"
	BuilderHealthy BuilderStatus = "healthy"
	BuilderFailed  BuilderStatus = "failed"
)

// Depth is the builder invocation depth.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthThorough Depth = "thorough"
)

// Snapshot is the entire durable pipeline state, written atomically to a
// single JSON file.
type Snapshot struct {
	// identity
	PipelineID    string    `json:"pipeline_id"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SchemaVersion int       `json:"schema_version"`

	// inputs
	PRDPath    string `json:"prd_path"`
	ConfigPath string `json:"config_path"`
	Depth      Depth  `json:"depth"`

	// machine
	CurrentState    string   `json:"current_state"`
	CompletedPhases []string `json:"completed_phases"`

	// architect retries
	ArchitectRetries    int `json:"architect_retries"`
	MaxArchitectRetries int `json:"max_architect_retries"`

	// quality loop
	QualityAttempts   int `json:"quality_attempts"`
	MaxQualityRetries int `json:"max_quality_retries"`

	// artifacts by phase: phase -> {key: path}
	PhaseArtifacts map[string]map[string]string `json:"phase_artifacts"`

	// builders
	BuilderResults  map[string]BuilderResult    `json:"builder_results"`
	BuilderStatuses map[string]BuilderStatus    `json:"builder_statuses"`
	BuilderCosts    map[string]float64          `json:"builder_costs"`
	TotalBuilders   int                         `json:"total_builders"`
	SuccessfulBuilders int                      `json:"successful_builders"`

	// integration
	IntegrationReportPath string `json:"integration_report_path"`

	// quality gate
	QualityReportPath  string                 `json:"quality_report_path"`
	LastQualityResults map[string]interface{} `json:"last_quality_results"`

	// cost
	TotalCost   float64            `json:"total_cost"`
	PhaseCosts  map[string]float64 `json:"phase_costs"`
	BudgetLimit *float64           `json:"budget_limit"`

	// interrupt
	Interrupted     bool   `json:"interrupted"`
	InterruptReason string `json:"interrupt_reason"`
}

// New creates a fresh snapshot for a new pipeline run.
func New(pipelineID, prdPath, configPath string, depth Depth, maxArchitectRetries, maxQualityRetries int, budgetLimit *float64) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		PipelineID:          pipelineID,
		StartedAt:           now,
		UpdatedAt:           now,
		SchemaVersion:       SchemaVersion,
		PRDPath:             prdPath,
		ConfigPath:          configPath,
		Depth:               depth,
		CurrentState:        "init",
		CompletedPhases:     []string{},
		MaxArchitectRetries: maxArchitectRetries,
		MaxQualityRetries:   maxQualityRetries,
		PhaseArtifacts:      map[string]map[string]string{},
		BuilderResults:      map[string]BuilderResult{},
		BuilderStatuses:     map[string]BuilderStatus{},
		BuilderCosts:        map[string]float64{},
		PhaseCosts:          map[string]float64{},
		BudgetLimit:         budgetLimit,
	}
}

// MarkPhaseComplete appends phase to CompletedPhases unless already
// present: append-only within a pipeline instance, at most once.
func (s *Snapshot) MarkPhaseComplete(phase string) {
	for _, p := range s.CompletedPhases {
		if p == phase {
			return
		}
	}
	s.CompletedPhases = append(s.CompletedPhases, phase)
}

// RecordPhaseCost adds cost to both the per-phase ledger and the running
// total, preserving the invariant total_cost == Σ phase_costs.values().
func (s *Snapshot) RecordPhaseCost(phase string, cost float64) {
	if s.PhaseCosts == nil {
		s.PhaseCosts = map[string]float64{}
	}
	s.PhaseCosts[phase] += cost
	s.TotalCost += cost
}

// SetArtifact records an artifact path under a phase's artifact map.
func (s *Snapshot) SetArtifact(phase, key, path string) {
	if s.PhaseArtifacts == nil {
		s.PhaseArtifacts = map[string]map[string]string{}
	}
	if s.PhaseArtifacts[phase] == nil {
		s.PhaseArtifacts[phase] = map[string]string{}
	}
	s.PhaseArtifacts[phase][key] = path
}

// Touch updates UpdatedAt to now; callers do this immediately before save.
func (s *Snapshot) Touch() { s.UpdatedAt = time.Now().UTC() }
