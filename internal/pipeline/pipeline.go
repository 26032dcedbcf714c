// Package pipeline implements execute_pipeline: the top-level entry point
// that wires the state machine, phase executor, cost ledger, shutdown
// signal and knowledge-graph engine into one run, and translates whatever
// escapes PhaseExecutor.Run into the save-then-reraise policy the original
// super_orchestrator/pipeline.py follows. Grounded on pipeline.py's
// execute_pipeline and _run_pipeline_loop.
package pipeline

import (
	"context"
	"fmt"

	"forge/internal/builder"
	"forge/internal/config"
	"forge/internal/cost"
	"forge/internal/graph"
	"forge/internal/graphrag"
	"forge/internal/learning"
	"forge/internal/logging"
	"forge/internal/mcp"
	"forge/internal/perrors"
	"forge/internal/phase"
	"forge/internal/shutdown"
	"forge/internal/state"
	"forge/internal/statemachine"
	"forge/internal/vectorstore"
)

// Pipeline owns one run's full collaborator graph: the snapshot, the state
// machine bound to it, the phase executor that drives it, and every
// resource that needs an orderly Close when the run ends.
type Pipeline struct {
	cfg       *config.Config
	outputDir string

	snap    *state.Snapshot
	machine *statemachine.Machine
	deps    *phase.Dependencies
	exec    *phase.PhaseExecutor
	signal  *shutdown.Signal

	runTracker *learning.RunTracker
	patterns   *learning.PatternStore
	vecStore   *vectorstore.Store
}

// New creates or resumes a pipeline run. prdPath and depth are only used
// for a fresh run; a resumed run carries its own snapshot values forward.
func New(ctx context.Context, cfg *config.Config, pipelineID, prdPath, configPath string, depth state.Depth, outputDir string, resume bool) (*Pipeline, error) {
	log := logging.Get(logging.CategoryPipeline)

	snap, err := loadOrCreate(pipelineID, prdPath, configPath, depth, cfg, outputDir, resume)
	if err != nil {
		return nil, err
	}

	ledger := cost.New(cfg.BudgetLimit)
	for name, c := range snap.PhaseCosts {
		ledger.AddPhaseCost(name, c)
	}

	sig := shutdown.New()
	sig.SetSave(func(reason string) error {
		snap.Interrupted = true
		snap.InterruptReason = reason
		return state.Save(snap, outputDir)
	})

	machine := statemachine.New(snap)

	g := graph.New()
	vecStore, err := vectorstore.Open(fmt.Sprintf("%s/graphrag.db", outputDir))
	if err != nil {
		log.Warn("vector store unavailable, knowledge graph features degraded: %v", err)
	}
	embedder := graphrag.NewHashEmbedder(64)
	assembler := graphrag.NewContextAssembler(cfg.GraphRAG.ContextTokenBudget, cfg.GraphRAG.CharsPerToken)
	const pageRankMaxIterations = 100
	const pageRankTolerance = 1e-6
	indexer := graphrag.NewIndexer(g, vecStore, embedder, assembler, cfg.GraphRAG.PageRankDamping, pageRankMaxIterations, pageRankTolerance, cfg.GraphRAG.LouvainSeed)
	engine := graphrag.NewEngine(g, vecStore, assembler, embedder, cfg.GraphRAG.LouvainSeed)

	var runTracker *learning.RunTracker
	var patterns *learning.PatternStore
	if cfg.Persistence.Enabled && cfg.Persistence.DatabasePath != "" {
		runTracker, err = learning.NewRunTracker(cfg.Persistence.DatabasePath)
		if err != nil {
			log.Warn("run tracker unavailable, cross-run learning degraded: %v", err)
		}
		patterns = learning.NewPatternStore(cfg.Persistence.DatabasePath, embedder, cfg.Persistence.SimilarityThreshold)
	}

	decomposer := mcp.NewDecomposer(ctx, cfg.Architect, outputDir)

	var graphRAGClient *mcp.GraphRAGClient
	if cfg.Architect.MCPEndpoint != "" {
		graphRAGClient = mcp.NewGraphRAGClient(mcp.NewStdioClient(cfg.Architect.MCPEndpoint))
	}

	dispatcher := builder.NewDispatcher(cfg.Builder)
	fixLoop := builder.NewFixLoop(dispatcher)

	qualityEngine := phase.NewSubprocessQualityEngine(cfg.QualityGate)

	deps := &phase.Dependencies{
		Config:        cfg,
		OutputDir:     outputDir,
		Dispatcher:    dispatcher,
		FixLoop:       fixLoop,
		Decomposer:    decomposer,
		GraphRAG:      graphRAGClient,
		Engine:        engine,
		Indexer:       indexer,
		QualityEngine: qualityEngine,
		RunTracker:    runTracker,
		Patterns:      patterns,
		Cost:          ledger,
		ShouldStop:    sig.ShouldStop,
	}

	return &Pipeline{
		cfg:        cfg,
		outputDir:  outputDir,
		snap:       snap,
		machine:    machine,
		deps:       deps,
		exec:       phase.New(machine, snap, deps),
		signal:     sig,
		runTracker: runTracker,
		patterns:   patterns,
		vecStore:   vecStore,
	}, nil
}

// SetOnPhase installs a callback invoked with the state machine's current
// state at every phase boundary, before Run starts driving it. Lets a
// caller (the CLI) surface progress without reaching into the file-based
// logging package.
func (p *Pipeline) SetOnPhase(fn func(state string)) {
	p.deps.OnPhase = fn
}

func loadOrCreate(pipelineID, prdPath, configPath string, depth state.Depth, cfg *config.Config, outputDir string, resume bool) (*state.Snapshot, error) {
	if resume {
		snap, err := state.Load(outputDir)
		if err == nil {
			return snap, nil
		}
		if err != state.ErrNotFound {
			return nil, perrors.Wrap("loading pipeline state", err)
		}
	}
	return state.New(pipelineID, prdPath, configPath, depth, cfg.Architect.MaxRetries, cfg.QualityGate.MaxFixRetries, cfg.BudgetLimit), nil
}

// Snapshot exposes the run's current state for callers that need to
// inspect progress without reaching into internals (status reporting).
func (p *Pipeline) Snapshot() *state.Snapshot { return p.snap }

// Run drives the pipeline to a terminal state, saving the snapshot after
// every outcome -- success, a typed pipeline error, or an unexpected one
// wrapped into PipelineError -- exactly mirroring execute_pipeline's
// try/except/finally chain.
func (p *Pipeline) Run(ctx context.Context) error {
	log := logging.Get(logging.CategoryPipeline)
	uninstall := p.signal.Install()
	defer uninstall()
	defer p.Close()

	runErr := p.exec.Run(ctx)

	switch e := runErr.(type) {
	case nil:
		if err := state.Save(p.snap, p.outputDir); err != nil {
			log.Warn("failed to persist final pipeline state: %v", err)
		}
		return nil
	case *perrors.BudgetExceededError:
		p.snap.Interrupted = true
		p.snap.InterruptReason = e.Error()
		if err := state.Save(p.snap, p.outputDir); err != nil {
			log.Warn("failed to persist interrupted pipeline state: %v", err)
		}
		return e
	default:
		if err := state.Save(p.snap, p.outputDir); err != nil {
			log.Warn("failed to persist failed pipeline state: %v", err)
		}
		return perrors.Wrap("pipeline run", runErr)
	}
}

// Close releases every resource opened in New. Safe to call once Run has
// already closed it via its own deferral; later calls are no-ops.
func (p *Pipeline) Close() {
	log := logging.Get(logging.CategoryPipeline)
	if p.runTracker != nil {
		if err := p.runTracker.Close(); err != nil {
			log.Warn("closing run tracker: %v", err)
		}
		p.runTracker = nil
	}
	if p.patterns != nil {
		if err := p.patterns.Close(); err != nil {
			log.Warn("closing pattern store: %v", err)
		}
		p.patterns = nil
	}
	if p.vecStore != nil {
		if err := p.vecStore.Close(); err != nil {
			log.Warn("closing vector store: %v", err)
		}
		p.vecStore = nil
	}
}
