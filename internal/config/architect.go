package config

// ArchitectConfig controls the architect phase's retry and timeout
// behavior.
type ArchitectConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	Timeout    string `yaml:"timeout"`
	// MCPEndpoint, when set, is passed to the stdio MCP decomposer variant.
	// Empty means the subprocess-only variant is used.
	MCPEndpoint string `yaml:"mcp_endpoint"`
	CLIPath     string `yaml:"cli_path"`
}
