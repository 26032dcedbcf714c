package config

// QualityGateConfig controls the fix-loop retry ceiling (the
// `quality_needs_fix` transition's `fix_attempts_remaining` guard) and the
// external quality engine's invocation.
type QualityGateConfig struct {
	MaxFixRetries int    `yaml:"max_fix_retries"`
	CLIPath       string `yaml:"cli_path"`
	Timeout       string `yaml:"timeout"`
}
