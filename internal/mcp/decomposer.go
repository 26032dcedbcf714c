package mcp

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

// MCPDecomposer calls the architect's decompose_prd tool over a StdioClient.
type MCPDecomposer struct {
	client *StdioClient
}

// NewMCPDecomposer connects a StdioClient to endpoint.
func NewMCPDecomposer(ctx context.Context, endpoint string) (*MCPDecomposer, error) {
	client := NewStdioClient(endpoint)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &MCPDecomposer{client: client}, nil
}

// DecomposePRD calls the architect's decompose_prd tool.
func (d *MCPDecomposer) DecomposePRD(ctx context.Context, prdText string) (ArchitectResult, error) {
	var raw map[string]interface{}
	err := d.client.CallTool(ctx, "decompose_prd", map[string]interface{}{"prd_text": prdText}, &raw)
	if err != nil {
		return ArchitectResult{}, err
	}
	return parseArchitectResult(raw), nil
}

// Close disconnects the underlying client.
func (d *MCPDecomposer) Close() error {
	return d.client.Disconnect()
}

// SubprocessDecomposer runs the architect CLI as a subprocess, writing the
// PRD to a file and reading its JSON result back, mirroring
// _call_architect_subprocess.
type SubprocessDecomposer struct {
	cliPath string
	workDir string
	timeout time.Duration
}

// NewSubprocessDecomposer builds a fallback decomposer that shells out to
// cliPath, staging input/output files under workDir.
func NewSubprocessDecomposer(cliPath, workDir string, timeout time.Duration) *SubprocessDecomposer {
	if cliPath == "" {
		cliPath = "architect"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &SubprocessDecomposer{cliPath: cliPath, workDir: workDir, timeout: timeout}
}

// DecomposePRD writes prdText to <workDir>/prd_input.md, runs the
// architect CLI, and parses <workDir>/architect_result.json.
func (d *SubprocessDecomposer) DecomposePRD(ctx context.Context, prdText string) (ArchitectResult, error) {
	if err := os.MkdirAll(d.workDir, 0o755); err != nil {
		return ArchitectResult{}, err
	}
	prdFile := filepath.Join(d.workDir, "prd_input.md")
	resultFile := filepath.Join(d.workDir, "architect_result.json")
	if err := os.WriteFile(prdFile, []byte(prdText), 0o644); err != nil {
		return ArchitectResult{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, d.cliPath, "--prd", prdFile, "--output", resultFile)
	output, err := cmd.CombinedOutput()
	if execCtx.Err() != nil {
		return ArchitectResult{}, fmt.Errorf("architect subprocess timed out after %s", d.timeout)
	}
	if err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return ArchitectResult{}, fmt.Errorf("architect subprocess failed (exit %d): %s", exitCode, truncateOutput(output))
	}

	if data, readErr := os.ReadFile(resultFile); readErr == nil {
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err == nil {
			return parseArchitectResult(raw), nil
		}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(output, &raw); err == nil {
		return parseArchitectResult(raw), nil
	}
	return ArchitectResult{}, fmt.Errorf("architect subprocess produced no parseable result")
}

func truncateOutput(output []byte) string {
	if len(output) > 500 {
		return string(output[:500])
	}
	return string(output)
}

func parseArchitectResult(raw map[string]interface{}) ArchitectResult {
	result := ArchitectResult{Raw: raw}
	if services, ok := raw["services"].([]interface{}); ok {
		for _, s := range services {
			if m, ok := s.(map[string]interface{}); ok {
				result.Services = append(result.Services, m)
			}
		}
	}
	if contracts, ok := raw["contracts"].([]interface{}); ok {
		for _, c := range contracts {
			if m, ok := c.(map[string]interface{}); ok {
				result.Contracts = append(result.Contracts, m)
			}
		}
	}
	if sm, ok := raw["service_map"].(map[string]interface{}); ok {
		result.ServiceMap = sm
	}
	return result
}

// FallbackDecomposer tries an MCP decomposer first and falls back to a
// subprocess decomposer on any error, mirroring pipeline.py's
// _call_architect: MCP stdio first, subprocess on failure or absence.
type FallbackDecomposer struct {
	primary  Decomposer
	fallback Decomposer
}

// NewDecomposer builds the MCP-first, subprocess-fallback chain from
// ArchitectConfig. When MCPEndpoint is unset, only the subprocess
// decomposer is used.
func NewDecomposer(ctx context.Context, cfg config.ArchitectConfig, workDir string) Decomposer {
	timeout := 300 * time.Second
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil {
			timeout = d
		}
	}
	subprocess := NewSubprocessDecomposer(cfg.CLIPath, workDir, timeout)
	if cfg.MCPEndpoint == "" {
		return subprocess
	}

	mcpDecomposer, err := NewMCPDecomposer(ctx, cfg.MCPEndpoint)
	if err != nil {
		logging.Get(logging.CategoryMCP).Info("MCP decomposer unavailable, using subprocess: %v", err)
		return subprocess
	}
	return &FallbackDecomposer{primary: mcpDecomposer, fallback: subprocess}
}

// DecomposePRD tries the MCP path first, falling back to subprocess on
// any error.
func (f *FallbackDecomposer) DecomposePRD(ctx context.Context, prdText string) (ArchitectResult, error) {
	result, err := f.primary.DecomposePRD(ctx, prdText)
	if err == nil {
		return result, nil
	}
	logging.Get(logging.CategoryMCP).Warn("MCP architect call failed: %v -- trying subprocess", err)
	return f.fallback.DecomposePRD(ctx, prdText)
}
