package config

// BuilderConfig controls builder-dispatch concurrency and subprocess
// behavior.
type BuilderConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	Depth         string `yaml:"depth"`
	Timeout       string `yaml:"timeout"`
	WorkerCommand string `yaml:"worker_command"`
}
