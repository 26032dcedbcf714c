package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"forge/internal/logging"
)

// execCommandContext is swapped in tests, the same subprocess-mocking
// pattern used by internal/builder and internal/integration.
var execCommandContext = exec.CommandContext

// StdioClient is a minimal JSON-RPC-over-stdio client for one long-lived
// MCP server subprocess, adapted from a StdioTransport but trimmed to
// the single call() primitive this domain's two MCP clients
// (Decomposer, GraphRAGClient) both build on.
type StdioClient struct {
	mu sync.Mutex

	command string
	args    []string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser

	connected   bool
	pendingReqs map[int]chan *rpcResponse
	nextID      int
}

// NewStdioClient builds a client for the given "command arg1 arg2..."
// endpoint string, matching the original NewStdioTransport parsing.
func NewStdioClient(endpoint string) *StdioClient {
	parts := strings.Fields(endpoint)
	var command string
	var args []string
	if len(parts) > 0 {
		command = parts[0]
		args = parts[1:]
	}
	return &StdioClient{
		command:     command,
		args:        args,
		pendingReqs: make(map[int]chan *rpcResponse),
		nextID:      1,
	}
}

// Connect starts the MCP server subprocess and its stdout reader loop.
func (c *StdioClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if c.command == "" {
		return fmt.Errorf("mcp: empty command for stdio client")
	}

	c.cmd = execCommandContext(ctx, c.command, c.args...)

	var err error
	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	c.stdout, err = c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("mcp: start %s: %w", c.command, err)
	}

	c.connected = true
	go c.readLoop()
	return nil
}

// Disconnect kills the subprocess and fails any in-flight calls.
func (c *StdioClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	for id, ch := range c.pendingReqs {
		close(ch)
		delete(c.pendingReqs, id)
	}
	return nil
}

func (c *StdioClient) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logging.Get(logging.CategoryMCP).Warn("failed to parse response: %v", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pendingReqs[resp.ID]
		if ok {
			delete(c.pendingReqs, resp.ID)
			ch <- &resp
		}
		c.mu.Unlock()
	}
}

// CallTool invokes a named MCP tool with the given arguments and decodes
// its result into out.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}, out interface{}) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return fmt.Errorf("mcp: not connected")
	}
	id := c.nextID
	c.nextID++

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/call",
		Params:  map[string]interface{}{"name": name, "arguments": args},
	}
	ch := make(chan *rpcResponse, 1)
	c.pendingReqs[id] = ch

	data, err := json.Marshal(req)
	if err != nil {
		delete(c.pendingReqs, id)
		c.mu.Unlock()
		return fmt.Errorf("mcp: marshal request: %w", err)
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		delete(c.pendingReqs, id)
		c.mu.Unlock()
		return fmt.Errorf("mcp: write stdin: %w", err)
	}
	c.mu.Unlock()

	select {
	case resp := <-ch:
		if resp == nil {
			return fmt.Errorf("mcp: connection closed")
		}
		if resp.Error != nil {
			return fmt.Errorf("mcp: tool %s error %d: %s", name, resp.Error.Code, resp.Error.Message)
		}
		if out != nil {
			return json.Unmarshal(resp.Result, out)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingReqs, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}
