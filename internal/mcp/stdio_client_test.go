package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess isn't a real test; it's a fake MCP server that reads
// one JSON-RPC request per line from stdin and echoes back a canned
// result or error, controlled by env vars, the same subprocess-mocking
// pattern used in internal/builder and internal/integration.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req rpcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		var resp rpcResponse
		resp.JSONRPC = "2.0"
		resp.ID = req.ID
		if os.Getenv("MOCK_RPC_ERROR") == "1" {
			resp.Error = &rpcError{Code: 1, Message: "boom"}
		} else {
			result := os.Getenv("MOCK_RPC_RESULT")
			if result == "" {
				result = "{}"
			}
			resp.Result = json.RawMessage(result)
		}

		data, _ := json.Marshal(resp)
		os.Stdout.Write(append(data, '\n'))
	}
	os.Exit(0)
}

func fakeExecCommandContext(ctx context.Context, command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

func newConnectedTestClient(t *testing.T) *StdioClient {
	t.Helper()
	old := execCommandContext
	execCommandContext = fakeExecCommandContext
	t.Cleanup(func() { execCommandContext = old })

	client := NewStdioClient("fake-server")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		_ = client.Disconnect()
		cancel()
	})
	require.NoError(t, client.Connect(ctx))
	return client
}

func TestStdioClientCallToolDecodesResult(t *testing.T) {
	t.Setenv("MOCK_RPC_RESULT", `{"ok":true,"count":3}`)
	client := newConnectedTestClient(t)

	var out map[string]interface{}
	err := client.CallTool(context.Background(), "some_tool", map[string]interface{}{"x": 1}, &out)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, float64(3), out["count"])
}

func TestStdioClientCallToolPropagatesRPCError(t *testing.T) {
	t.Setenv("MOCK_RPC_ERROR", "1")
	client := newConnectedTestClient(t)

	err := client.CallTool(context.Background(), "some_tool", nil, nil)
	assert.Error(t, err)
}

func TestStdioClientCallToolFailsWhenNotConnected(t *testing.T) {
	client := NewStdioClient("fake-server")
	err := client.CallTool(context.Background(), "some_tool", nil, nil)
	assert.Error(t, err)
}

func TestStdioClientCallToolRespectsContextTimeout(t *testing.T) {
	old := execCommandContext
	execCommandContext = func(ctx context.Context, command string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", command}, args...)
		return exec.CommandContext(ctx, os.Args[0], cs...)
	}
	defer func() { execCommandContext = old }()

	// No GO_WANT_HELPER_PROCESS: subprocess exits immediately and never
	// answers, so the call should time out rather than hang.
	client := NewStdioClient("fake-server")
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := client.CallTool(ctx, "some_tool", nil, nil)
	assert.Error(t, err)
}
