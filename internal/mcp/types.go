// Package mcp implements the decomposition call's MCP-or-subprocess
// polymorphism: a Decomposer interface with an MCP stdio JSON-RPC variant
// and a subprocess+JSON-file fallback variant, plus a thin GraphRAGClient
// wrapper over the knowledge-graph MCP tool surface. Grounded on
// graph_rag/mcp_client.py (GraphRAGClient's seven tools and their
// safe-default-on-error contract) and super_orchestrator/pipeline.py's
// _call_architect/_call_architect_subprocess fallback chain, with the
// JSON-RPC wire shape and stdio transport mechanics adapted from an
// internal/mcp/transport_stdio.go-style implementation.
package mcp

import (
	"context"
	"encoding/json"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ArchitectResult is the parsed output of a PRD decomposition call,
// whichever transport produced it.
type ArchitectResult struct {
	Services       []map[string]interface{} `json:"services"`
	Contracts      []map[string]interface{} `json:"contracts"`
	ServiceMap     map[string]interface{}   `json:"service_map"`
	Raw            map[string]interface{}   `json:"-"`
}

// Decomposer turns a PRD's text into an ArchitectResult. The stdio-MCP
// and subprocess variants implement this identically from the caller's
// point of view, per pipeline.py's "MCP first, subprocess fallback"
// design.
type Decomposer interface {
	DecomposePRD(ctx context.Context, prdText string) (ArchitectResult, error)
}
