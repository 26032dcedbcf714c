package phase

import (
	"context"
	"path/filepath"

	"forge/internal/logging"
)

// runContractRegistration writes one contract file per service from the
// architect's stub registry. The Contract Engine MCP server is a
// named-only out-of-scope collaborator; this phase always takes the
// filesystem fallback path pipeline.py takes when that MCP server is
// unavailable, guaranteeing the phase completes either way. Grounded on
// pipeline.py:run_contract_registration.
func (e *PhaseExecutor) runContractRegistration(ctx context.Context) error {
	log := logging.Get(logging.CategoryPipeline)
	log.Info("starting contract registration phase")
	e.deps.Cost.StartPhase("contract_registration")

	if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
		log.Warn("shutdown requested before contract registration")
		e.deps.Cost.EndPhase(0)
		return nil
	}

	registryDir := filepath.Join(e.deps.OutputDir, "contracts")

	var serviceMap map[string]interface{}
	smapPath := e.snap.PhaseArtifacts["architect"]["service_map"]
	_ = readJSONFile(smapPath, &serviceMap)

	var stubs map[string]interface{}
	_ = readJSONFile(filepath.Join(registryDir, "stubs.json"), &stubs)

	services, _ := serviceMap["services"].([]interface{})
	registered := 0

	for _, raw := range services {
		if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
			break
		}
		svc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		serviceName, _ := svc["service_id"].(string)
		if serviceName == "" {
			serviceName, _ = svc["name"].(string)
		}
		if serviceName == "" {
			continue
		}

		spec, ok := stubs[serviceName]
		if !ok {
			spec = svc["contract"]
		}
		if spec == nil {
			log.Debug("no contract stub for service %s, skipping", serviceName)
			continue
		}

		contractFile := filepath.Join(registryDir, serviceName+".json")
		if err := atomicWriteJSON(contractFile, spec); err != nil {
			log.Warn("failed to write contract for %s: %v", serviceName, err)
			continue
		}
		registered++
		log.Info("registered contract for %s", serviceName)
	}

	e.snap.SetArtifact("contracts", "registry", registryDir)
	e.snap.MarkPhaseComplete("contract_registration")

	e.deps.Cost.EndPhase(0)
	log.Info("contract registration complete -- %d contracts registered", registered)
	return nil
}
