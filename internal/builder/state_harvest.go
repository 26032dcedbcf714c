package builder

import (
	"encoding/json"
	"os"
	"path/filepath"

	"forge/internal/logging"
)

type stateFile struct {
	Summary struct {
		Success          bool    `json:"success"`
		TestPassed       int     `json:"test_passed"`
		TestTotal        int     `json:"test_total"`
		ConvergenceRatio float64 `json:"convergence_ratio"`
	} `json:"summary"`
	TotalCost       float64  `json:"total_cost"`
	Health          string   `json:"health"`
	CompletedPhases []string `json:"completed_phases"`
}

// ParseBuilderState reads outputDir/.agent-team/STATE.json and extracts a
// Harvest. Returns a zero-value Harvest (Health: "unknown") if the file is
// missing or unreadable, mirroring parse_builder_state's failure-to-default
// behavior rather than propagating an error.
func ParseBuilderState(outputDir string) Harvest {
	harvest := Harvest{Health: "unknown"}
	statePath := filepath.Join(outputDir, ".agent-team", "STATE.json")

	data, err := os.ReadFile(statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryBuilder).Warn("failed to read builder state %s: %v", statePath, err)
		}
		return harvest
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		logging.Get(logging.CategoryBuilder).Warn("failed to parse builder state %s: %v", statePath, err)
		return harvest
	}

	harvest.Success = sf.Summary.Success
	harvest.TestPassed = sf.Summary.TestPassed
	harvest.TestTotal = sf.Summary.TestTotal
	harvest.ConvergenceRatio = sf.Summary.ConvergenceRatio
	harvest.TotalCost = sf.TotalCost
	if sf.Health != "" {
		harvest.Health = sf.Health
	}
	harvest.CompletedPhases = sf.CompletedPhases
	return harvest
}
