package phase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"forge/internal/logging"
	"forge/internal/perrors"
)

// runArchitectPhase decomposes the PRD into a service map, domain model
// and contract stub registry, retrying up to config.Architect.MaxRetries
// on transient failure. Grounded on pipeline.py:run_architect_phase.
func (e *PhaseExecutor) runArchitectPhase(ctx context.Context) error {
	log := logging.Get(logging.CategoryPipeline)
	log.Info("starting architect phase")
	e.deps.Cost.StartPhase("architect")

	prdText, err := os.ReadFile(e.snap.PRDPath)
	if err != nil {
		e.deps.Cost.EndPhase(0)
		return &perrors.ConfigurationError{Message: fmt.Sprintf("cannot read PRD %s: %v", e.snap.PRDPath, err)}
	}

	maxRetries := e.snap.MaxArchitectRetries
	var result = struct {
		ServiceMap     map[string]interface{}
		DomainModel    map[string]interface{}
		ContractStubs  map[string]interface{}
		Cost           float64
	}{}
	var lastErr error
	succeeded := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
			log.Warn("shutdown requested during architect phase")
			e.deps.Cost.EndPhase(0)
			return nil
		}
		decomposed, err := e.deps.Decomposer.DecomposePRD(ctx, string(prdText))
		if err != nil {
			lastErr = err
			e.snap.ArchitectRetries = attempt + 1
			log.Warn("architect attempt %d/%d failed: %v", attempt+1, maxRetries+1, err)
			continue
		}
		result.ServiceMap = decomposed.ServiceMap
		if dm, ok := decomposed.Raw["domain_model"].(map[string]interface{}); ok {
			result.DomainModel = dm
		}
		result.ContractStubs = map[string]interface{}{}
		for _, c := range decomposed.Contracts {
			if sid, ok := c["service_id"].(string); ok {
				result.ContractStubs[sid] = c
			}
		}
		if result.ServiceMap == nil {
			result.ServiceMap = map[string]interface{}{"services": decomposed.Services}
		}
		if cost, ok := decomposed.Raw["cost"].(float64); ok {
			result.Cost = cost
		}
		succeeded = true
		break
	}

	if !succeeded {
		e.deps.Cost.EndPhase(0)
		return &perrors.ConfigurationError{
			Message:     fmt.Sprintf("architect phase failed after %d attempts: %v", maxRetries+1, lastErr),
			Remediation: "ensure the architect CLI or MCP server is installed and reachable",
		}
	}

	outputDir := e.deps.OutputDir
	smapPath := filepath.Join(outputDir, "service_map.json")
	dmodelPath := filepath.Join(outputDir, "domain_model.json")
	registryDir := filepath.Join(outputDir, "contracts")

	if err := atomicWriteJSON(smapPath, result.ServiceMap); err != nil {
		e.deps.Cost.EndPhase(0)
		return perrors.Wrap("writing service map", err)
	}
	if err := atomicWriteJSON(dmodelPath, result.DomainModel); err != nil {
		e.deps.Cost.EndPhase(0)
		return perrors.Wrap("writing domain model", err)
	}
	if err := atomicWriteJSON(filepath.Join(registryDir, "stubs.json"), result.ContractStubs); err != nil {
		e.deps.Cost.EndPhase(0)
		return perrors.Wrap("writing contract stubs", err)
	}

	e.snap.SetArtifact("architect", "service_map", smapPath)
	e.snap.SetArtifact("architect", "domain_model", dmodelPath)
	e.snap.SetArtifact("architect", "contract_registry", registryDir)
	e.snap.MarkPhaseComplete("architect")

	e.deps.Cost.EndPhase(result.Cost)
	e.snap.RecordPhaseCost("architect", result.Cost)

	log.Info("architect phase complete -- cost=$%.4f", result.Cost)
	return nil
}
