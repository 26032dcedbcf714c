package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/config"
)

// TestHelperProcess isn't a real test; it's a subprocess body spawned by
// fakeExecCommandContext, mirroring the classic exec.Command mocking pattern.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if dir := os.Getenv("MOCK_STATE_DIR"); dir != "" {
		stateDir := filepath.Join(dir, ".agent-team")
		_ = os.MkdirAll(stateDir, 0o755)
		_ = os.WriteFile(filepath.Join(stateDir, "STATE.json"), []byte(
			`{"summary":{"success":true,"test_passed":5,"test_total":5},"health":"green"}`), 0o644)
	}
	if os.Getenv("MOCK_EXIT_NONZERO") == "1" {
		os.Exit(1)
	}
	os.Exit(0)
}

func fakeExecCommandContext(ctx context.Context, command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	// Env is left unset here; InvokeBuilder overwrites it via filteredEnv,
	// so each test sets GO_WANT_HELPER_PROCESS with t.Setenv beforehand.
	return cmd
}

func TestFilteredEnvDropsSecretKeysFromOverrides(t *testing.T) {
	env := filteredEnv(map[string]string{
		"ANTHROPIC_API_KEY": "secret",
		"SAFE_VAR":          "ok",
	})
	joined := strings.Join(env, "\n")
	assert.NotContains(t, joined, "secret")
	assert.Contains(t, joined, "SAFE_VAR=ok")
}

func TestFilteredEnvDropsSecretKeysFromHostEnviron(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "should-not-leak")
	env := filteredEnv(nil)
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "OPENAI_API_KEY="))
	}
}

func TestNewDispatcherFallsBackOnBadTimeout(t *testing.T) {
	d := NewDispatcher(config.BuilderConfig{Timeout: "not-a-duration", MaxConcurrent: 0})
	assert.Equal(t, defaultTimeout, d.timeout)
	assert.Equal(t, int64(1), d.maxConcurrent)
	assert.Equal(t, "agent-team", d.workerCommand)
}

func TestInvokeBuilderHarvestsStateOnSuccess(t *testing.T) {
	old := execCommandContext
	execCommandContext = fakeExecCommandContext
	defer func() { execCommandContext = old }()

	dir := t.TempDir()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("MOCK_STATE_DIR", dir)

	d := NewDispatcher(config.BuilderConfig{MaxConcurrent: 1, Depth: "standard", Timeout: "10s", WorkerCommand: "agent-team"})
	result := d.InvokeBuilder(context.Background(), Config{ServiceName: "auth", Cwd: dir})

	assert.Equal(t, "auth", result.ServiceName)
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Success)
	assert.Equal(t, "green", result.Health)
	assert.Equal(t, 5, result.TestPassed)
}

func TestInvokeBuilderRecordsNonZeroExit(t *testing.T) {
	old := execCommandContext
	execCommandContext = fakeExecCommandContext
	defer func() { execCommandContext = old }()

	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("MOCK_EXIT_NONZERO", "1")

	dir := t.TempDir()
	d := NewDispatcher(config.BuilderConfig{MaxConcurrent: 1, Timeout: "10s"})
	result := d.InvokeBuilder(context.Background(), Config{ServiceName: "billing", Cwd: dir})

	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "unknown", result.Health)
}

func TestDispatchAllRunsEveryConfigUnderSemaphore(t *testing.T) {
	old := execCommandContext
	execCommandContext = fakeExecCommandContext
	defer func() { execCommandContext = old }()

	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	configs := make([]Config, 5)
	for i := range configs {
		configs[i] = Config{ServiceName: fmt.Sprintf("svc-%d", i), Cwd: t.TempDir()}
	}

	d := NewDispatcher(config.BuilderConfig{MaxConcurrent: 2, Timeout: "10s"})
	results := d.DispatchAll(context.Background(), configs, nil)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, configs[i].ServiceName, r.ServiceName)
		assert.Equal(t, 0, r.ExitCode)
	}
}

func TestDispatchAllSkipsRemainingWhenShouldStop(t *testing.T) {
	old := execCommandContext
	execCommandContext = fakeExecCommandContext
	defer func() { execCommandContext = old }()

	configs := []Config{{ServiceName: "a", Cwd: t.TempDir()}, {ServiceName: "b", Cwd: t.TempDir()}}
	d := NewDispatcher(config.BuilderConfig{MaxConcurrent: 2, Timeout: "10s"})

	results := d.DispatchAll(context.Background(), configs, func() bool { return true })
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "skipped", r.Health)
	}
}

func TestGenerateBuilderConfigWritesYAML(t *testing.T) {
	dir := t.TempDir()
	path, err := GenerateBuilderConfig("auth-service", dir, "quick", nil, false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "service_name: auth-service")
	assert.Contains(t, content, "depth: quick")
	assert.NotContains(t, content, "mcp:")
}

func TestGenerateBuilderConfigIncludesMCPAndContracts(t *testing.T) {
	dir := t.TempDir()
	path, err := GenerateBuilderConfig("billing", dir, "standard", []map[string]interface{}{
		{"endpoint": "/charge", "method": "POST"},
	}, true)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "mcp:")
	assert.Contains(t, content, "endpoint: /charge")
}
