package builder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"forge/internal/config"
	"forge/internal/logging"
)

const defaultTimeout = 1800 * time.Second

// execCommandContext is swapped out in tests the same way other shell
// tools mock subprocess launches, via a TestHelperProcess binary.
var execCommandContext = exec.CommandContext

// Dispatcher launches builder worker subprocesses under a concurrency
// limit, harvests their STATE.json on completion, and generates their
// per-builder config.yaml — run4/builder.py's invoke_builder,
// run_parallel_builders and generate_builder_config, collapsed onto one
// type the way a shard's related operations get grouped together.
type Dispatcher struct {
	maxConcurrent int64
	depth         string
	timeout       time.Duration
	workerCommand string
}

// NewDispatcher builds a Dispatcher from BuilderConfig, falling back to
// defaultTimeout if the configured timeout string does not parse.
func NewDispatcher(cfg config.BuilderConfig) *Dispatcher {
	timeout := defaultTimeout
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil {
			timeout = d
		}
	}
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	workerCommand := cfg.WorkerCommand
	if workerCommand == "" {
		workerCommand = "agent-team"
	}
	return &Dispatcher{maxConcurrent: maxConcurrent, depth: cfg.Depth, timeout: timeout, workerCommand: workerCommand}
}

func filteredEnv(overrides map[string]string) []string {
	if overrides != nil {
		env := make([]string, 0, len(overrides))
		for k, v := range overrides {
			if !filteredEnvKeys[k] {
				env = append(env, k+"="+v)
			}
		}
		return env
	}
	host := os.Environ()
	env := make([]string, 0, len(host))
	for _, kv := range host {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if !filteredEnvKeys[key] {
			env = append(env, kv)
		}
	}
	return env
}

// InvokeBuilder runs one builder worker to completion. It does not poll a
// shutdown callback itself; DispatchAll checks shouldStop before each
// launch. Every spawn is wrapped so
// the child is killed if the context is cancelled or the call times out
// (a try/finally kill pattern, expressed here as a defer).
func (d *Dispatcher) InvokeBuilder(ctx context.Context, cfg Config) InvocationResult {
	depth := cfg.Depth
	if depth == "" {
		depth = d.depth
	}
	if depth == "" {
		depth = "standard"
	}

	if err := os.MkdirAll(cfg.Cwd, 0o755); err != nil {
		logging.Get(logging.CategoryBuilder).Error("failed to create builder dir %s: %v", cfg.Cwd, err)
		return InvocationResult{ServiceName: cfg.ServiceName, ExitCode: -1, Health: "unknown"}
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := execCommandContext(execCtx, d.workerCommand, "--cwd", cfg.Cwd, "--depth", depth)
	cmd.Dir = cfg.Cwd
	cmd.Env = filteredEnv(cfg.Env)

	start := time.Now()
	output, runErr := cmd.CombinedOutput()
	duration := time.Since(start)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if execCtx.Err() != nil {
		logging.Get(logging.CategoryBuilder).Warn("builder %s timed out after %s", cfg.ServiceName, d.timeout)
	} else if runErr != nil {
		logging.Get(logging.CategoryBuilder).Warn("builder %s exited with error: %v", cfg.ServiceName, runErr)
	}

	harvest := ParseBuilderState(cfg.Cwd)
	return InvocationResult{
		ServiceName:      cfg.ServiceName,
		Success:          harvest.Success,
		TestPassed:       harvest.TestPassed,
		TestTotal:        harvest.TestTotal,
		ConvergenceRatio: harvest.ConvergenceRatio,
		TotalCost:        harvest.TotalCost,
		Health:           harvest.Health,
		CompletedPhases:  harvest.CompletedPhases,
		ExitCode:         exitCode,
		Stdout:           string(output),
		Duration:         duration,
	}
}

// DispatchAll launches every config under a semaphore sized to
// maxConcurrent, created fresh on each call so no cross-call ownership
// leaks: the semaphore is created inside the dispatch call, never at
// package scope. shouldStop is re-checked after each
// acquire so a shutdown mid-queue skips remaining, unstarted builders.
func (d *Dispatcher) DispatchAll(ctx context.Context, configs []Config, shouldStop func() bool) []InvocationResult {
	sem := semaphore.NewWeighted(d.maxConcurrent)
	results := make([]InvocationResult, len(configs))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		i, cfg := i, cfg
		eg.Go(func() error {
			if err := sem.Acquire(egCtx, 1); err != nil {
				results[i] = InvocationResult{ServiceName: cfg.ServiceName, ExitCode: -1, Health: "unknown"}
				return nil
			}
			defer sem.Release(1)

			if shouldStop != nil && shouldStop() {
				results[i] = InvocationResult{ServiceName: cfg.ServiceName, ExitCode: -1, Health: "skipped"}
				return nil
			}
			results[i] = d.InvokeBuilder(egCtx, cfg)
			return nil
		})
	}
	_ = eg.Wait() // InvokeBuilder never returns an error itself; it records failure in the result.
	return results
}

// GenerateBuilderConfig writes a config.yaml compatible with the builder
// worker's own config loader, returning its path.
func GenerateBuilderConfig(serviceName, outputDir, depth string, contracts []map[string]interface{}, mcpEnabled bool) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	doc := map[string]interface{}{
		"milestone":                "build-" + serviceName,
		"depth":                    depth,
		"e2e_testing":              true,
		"post_orchestration_scans": true,
		"service_name":             serviceName,
	}
	if mcpEnabled {
		doc["mcp"] = map[string]interface{}{"enabled": true, "servers": map[string]interface{}{}}
	}
	if len(contracts) > 0 {
		doc["contracts"] = contracts
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	configPath := filepath.Join(outputDir, "config.yaml")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return "", err
	}
	logging.Get(logging.CategoryBuilder).Info("generated builder config: %s", configPath)
	return configPath, nil
}
