package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/config"
)

func TestClassifyViolationsBucketsBySeverity(t *testing.T) {
	violations := []Violation{
		{Code: "A", Severity: "critical"},
		{Code: "B", Severity: "Error"},
		{Code: "C", Severity: "warning"},
		{Code: "D", Severity: "info"},
		{Code: "E", Severity: ""},
		{Code: "F", Severity: "bogus"},
	}

	classified := ClassifyViolations(violations)
	require.Len(t, classified["critical"], 1)
	require.Len(t, classified["warning"], 1)
	require.Len(t, classified["info"], 1)
	// unrecognized and blank severities fall back to "error" alongside "B".
	assert.Len(t, classified["error"], 3)
}

func TestWriteFixInstructionsGroupsByPriority(t *testing.T) {
	dir := t.TempDir()
	violations := []Violation{
		{Code: "SEC001", Service: "auth", Message: "hardcoded secret", Severity: "critical"},
		{Code: "PERF002", Service: "billing", FilePath: "handler.go", Message: "n+1 query", Severity: "error"},
		{Code: "STYLE003", Service: "auth", Message: "missing doc comment", Severity: "warning"},
	}

	path, err := WriteFixInstructions(dir, violations, "")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "P0 (Must Fix)")
	assert.Contains(t, content, "P1 (Should Fix)")
	assert.Contains(t, content, "P2 (Nice to Have)")
	assert.Contains(t, content, "SEC001")
	assert.Contains(t, content, "billing/handler.go")
	assert.NotContains(t, content, "Cross-Service Dependency Context")
}

func TestWriteFixInstructionsAppendsGraphRAGContext(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFixInstructions(dir, []Violation{{Code: "X", Severity: "error"}}, "service B depends on this endpoint")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cross-Service Dependency Context")
	assert.Contains(t, string(data), "service B depends on this endpoint")
}

func TestFeedViolationsToBuilderWritesInstructionsThenInvokes(t *testing.T) {
	old := execCommandContext
	execCommandContext = fakeExecCommandContext
	defer func() { execCommandContext = old }()

	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	dir := t.TempDir()
	dispatcher := NewDispatcher(config.BuilderConfig{MaxConcurrent: 1, Timeout: "10s"})
	loop := NewFixLoop(dispatcher)

	result, err := loop.FeedViolationsToBuilder(context.Background(), "auth", dir, []Violation{
		{Code: "SEC001", Severity: "critical", Message: "hardcoded secret"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "auth", result.ServiceName)
	assert.Equal(t, 0, result.ExitCode)

	_, statErr := os.Stat(filepath.Join(dir, "FIX_INSTRUCTIONS.md"))
	assert.NoError(t, statErr)
}
