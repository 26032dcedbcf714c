package phase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"forge/internal/builder"
	"forge/internal/graphrag"
	"forge/internal/learning"
	"forge/internal/logging"
	"forge/internal/perrors"
	"forge/internal/state"
)

// runParallelBuilders dispatches one builder subprocess per service under
// the dispatcher's semaphore, harvests each STATE.json, and raises
// BuilderFailureError only when every builder fails. Grounded on
// pipeline.py:run_parallel_builders.
func (e *PhaseExecutor) runParallelBuilders(ctx context.Context) error {
	log := logging.Get(logging.CategoryPipeline)
	log.Info("starting parallel builders phase")
	e.deps.Cost.StartPhase("builders")

	if e.deps.ShouldStop != nil && e.deps.ShouldStop() {
		log.Warn("shutdown requested before builders phase")
		e.deps.Cost.EndPhase(0)
		return nil
	}

	var serviceMap map[string]interface{}
	smapPath := e.snap.PhaseArtifacts["architect"]["service_map"]
	_ = readJSONFile(smapPath, &serviceMap)
	servicesRaw, _ := serviceMap["services"].([]interface{})

	services := make([]ServiceInfo, 0, len(servicesRaw))
	for _, raw := range servicesRaw {
		svc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		sid, _ := svc["service_id"].(string)
		if sid == "" {
			sid, _ = svc["name"].(string)
		}
		if sid == "" {
			continue
		}
		port := 8080
		if p, ok := svc["port"].(float64); ok {
			port = int(p)
		}
		health := "/health"
		if h, ok := svc["health_endpoint"].(string); ok && h != "" {
			health = h
		}
		domain, _ := svc["domain"].(string)
		services = append(services, ServiceInfo{ServiceID: sid, Domain: domain, Port: port, HealthEndpoint: health})
	}

	e.snap.TotalBuilders = len(services)

	configs := make([]builder.Config, 0, len(services))
	for _, svc := range services {
		cwd := filepath.Join(e.deps.OutputDir, svc.ServiceID)

		if e.deps.RunTracker != nil || e.deps.Patterns != nil {
			failureCtx := learning.BuildFailureContext(ctx, svc.ServiceID, svc.Domain, e.deps.Config.Persistence, e.deps.RunTracker, e.deps.Patterns)
			if failureCtx != "" {
				if err := os.MkdirAll(cwd, 0o755); err == nil {
					_ = os.WriteFile(filepath.Join(cwd, "CONTEXT.md"), []byte(failureCtx), 0o644)
				}
			}
		}
		if _, err := builder.GenerateBuilderConfig(svc.ServiceID, cwd, e.deps.Config.Builder.Depth, nil, e.deps.Config.Architect.MCPEndpoint != ""); err != nil {
			log.Warn("failed to generate builder config for %s: %v", svc.ServiceID, err)
		}
		configs = append(configs, builder.Config{ServiceName: svc.ServiceID, Cwd: cwd, Depth: e.deps.Config.Builder.Depth})
	}

	results := e.deps.Dispatcher.DispatchAll(ctx, configs, e.deps.ShouldStop)

	var totalCost float64
	successful := 0
	if e.snap.BuilderResults == nil {
		e.snap.BuilderResults = map[string]state.BuilderResult{}
	}
	if e.snap.BuilderStatuses == nil {
		e.snap.BuilderStatuses = map[string]state.BuilderStatus{}
	}
	if e.snap.BuilderCosts == nil {
		e.snap.BuilderCosts = map[string]float64{}
	}
	for _, r := range results {
		e.snap.BuilderResults[r.ServiceName] = state.BuilderResult{
			ServiceID:        r.ServiceName,
			Success:          r.Success,
			TestPassed:       r.TestPassed,
			TestTotal:        r.TestTotal,
			ConvergenceRatio: r.ConvergenceRatio,
			TotalCost:        r.TotalCost,
			Health:           r.Health,
			CompletedPhases:  r.CompletedPhases,
		}
		e.snap.BuilderCosts[r.ServiceName] = r.TotalCost
		totalCost += r.TotalCost
		if r.Success {
			e.snap.BuilderStatuses[r.ServiceName] = state.BuilderHealthy
			successful++
		} else {
			e.snap.BuilderStatuses[r.ServiceName] = state.BuilderFailed
		}

		if e.deps.RunTracker != nil {
			verdict := "failed"
			if r.Success {
				verdict = "passed"
			}
			e.deps.RunTracker.RecordRun(e.snap.PipelineID, "", verdict, 1, r.TotalCost)
		}
	}

	e.snap.SuccessfulBuilders = successful
	e.snap.SetArtifact("builders", "total", fmt.Sprintf("%d", len(services)))
	e.snap.MarkPhaseComplete("builders")

	e.rebuildKnowledgeGraph(ctx, log)

	e.deps.Cost.EndPhase(totalCost)
	e.snap.RecordPhaseCost("builders", totalCost)

	log.Info("builders complete -- %d/%d succeeded, cost=$%.4f", successful, len(services), totalCost)

	if successful == 0 && len(services) > 0 {
		return &perrors.BuilderFailureError{Message: fmt.Sprintf("all %d builders failed", len(services))}
	}
	return nil
}

// rebuildKnowledgeGraph reindexes the architect's artifacts into the
// shared graph + vector store once builders finish producing them, so the
// integration phase's boundary and event checks run against current
// data. Absent or unreadable sources are skipped, not fatal -- mirrors
// LoadSourceData's per-source best-effort contract.
func (e *PhaseExecutor) rebuildKnowledgeGraph(ctx context.Context, log *logging.Logger) {
	if e.deps.Indexer == nil {
		return
	}
	artifacts := e.snap.PhaseArtifacts["architect"]
	contractsPath := ""
	if registryDir := artifacts["contract_registry"]; registryDir != "" {
		contractsPath = filepath.Join(registryDir, "stubs.json")
	}
	result := e.deps.Indexer.Build(ctx, graphrag.SourceDataPaths{
		ServiceMapPath:  artifacts["service_map"],
		DomainModelPath: artifacts["domain_model"],
		ContractsPath:   contractsPath,
	})
	if e.deps.Engine != nil {
		e.deps.Engine.RefreshUndirectedCache()
	}
	e.snap.SetArtifact("builders", "graph_nodes", fmt.Sprintf("%d", result.NodeCount))
	log.Info("knowledge graph rebuilt -- %d nodes, %d edges, %d communities",
		result.NodeCount, result.EdgeCount, result.CommunityCount)
}
