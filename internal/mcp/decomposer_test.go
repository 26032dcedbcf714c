package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/config"
)

type stubDecomposer struct {
	result ArchitectResult
	err    error
}

func (s stubDecomposer) DecomposePRD(ctx context.Context, prdText string) (ArchitectResult, error) {
	return s.result, s.err
}

func TestFallbackDecomposerUsesPrimaryOnSuccess(t *testing.T) {
	fd := &FallbackDecomposer{
		primary:  stubDecomposer{result: ArchitectResult{ServiceMap: map[string]interface{}{"via": "mcp"}}},
		fallback: stubDecomposer{result: ArchitectResult{ServiceMap: map[string]interface{}{"via": "subprocess"}}},
	}
	result, err := fd.DecomposePRD(context.Background(), "a PRD")
	require.NoError(t, err)
	assert.Equal(t, "mcp", result.ServiceMap["via"])
}

func TestFallbackDecomposerFallsBackOnPrimaryError(t *testing.T) {
	fd := &FallbackDecomposer{
		primary:  stubDecomposer{err: assert.AnError},
		fallback: stubDecomposer{result: ArchitectResult{ServiceMap: map[string]interface{}{"via": "subprocess"}}},
	}
	result, err := fd.DecomposePRD(context.Background(), "a PRD")
	require.NoError(t, err)
	assert.Equal(t, "subprocess", result.ServiceMap["via"])
}

func TestNewDecomposerReturnsSubprocessWhenNoEndpointConfigured(t *testing.T) {
	d := NewDecomposer(context.Background(), config.ArchitectConfig{}, t.TempDir())
	_, ok := d.(*SubprocessDecomposer)
	assert.True(t, ok)
}

func TestSubprocessDecomposerParsesResultFile(t *testing.T) {
	dir := t.TempDir()
	fakeCLI := buildFakeArchitectCLI(t, dir)

	d := NewSubprocessDecomposer(fakeCLI, dir, 0)
	result, err := d.DecomposePRD(context.Background(), "build an auth service")
	require.NoError(t, err)
	require.Len(t, result.Services, 1)
	assert.Equal(t, "auth-service", result.Services[0]["service_id"])
}

// buildFakeArchitectCLI writes a tiny shell script standing in for the
// architect CLI: it reads --output and writes a canned result JSON there.
func buildFakeArchitectCLI(t *testing.T, dir string) string {
	t.Helper()
	script := filepath.Join(dir, "fake-architect.sh")
	content := `#!/bin/sh
out=""
while [ "$#" -gt 0 ]; do
  if [ "$1" = "--output" ]; then
    out="$2"
  fi
  shift
done
cat > "$out" <<'JSON'
{"services": [{"service_id": "auth-service"}], "contracts": []}
JSON
`
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}
