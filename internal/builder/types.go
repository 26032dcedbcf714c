// Package builder implements BuilderDispatcher and FixLoop:
// semaphore-gated parallel subprocess launch of builder workers, STATE.json
// harvest, env filtering, and the violation-to-fix-instructions loop.
// Grounded on run4/builder.py (invoke_builder, run_parallel_builders,
// generate_builder_config, parse_builder_state, write_fix_instructions) and
// integrator/fix_loop.py (ContractFixLoop's severity classification and
// quick-depth relaunch).
package builder

import "time"

// filteredEnvKeys are dropped from every builder subprocess's environment
// before exec, per the security invariant that builder subprocesses
// never inherit ambient credentials.
var filteredEnvKeys = map[string]bool{
	"ANTHROPIC_API_KEY":     true,
	"OPENAI_API_KEY":        true,
	"AWS_SECRET_ACCESS_KEY": true,
}

// Harvest is the parsed contents of a builder's .agent-team/STATE.json,
// tolerant of a missing file or absent fields (parse_builder_state).
type Harvest struct {
	Success          bool
	TestPassed       int
	TestTotal        int
	ConvergenceRatio float64
	TotalCost        float64
	Health           string
	CompletedPhases  []string
}

// InvocationResult is everything known about one builder subprocess run:
// the STATE.json harvest plus the process-level facts (BuilderResult in
// run4/builder.py).
type InvocationResult struct {
	ServiceName      string
	Success          bool
	TestPassed       int
	TestTotal        int
	ConvergenceRatio float64
	TotalCost        float64
	Health           string
	CompletedPhases  []string
	ExitCode         int
	Stdout           string
	Stderr           string
	Duration         time.Duration
}

// Violation is one quality-gate or contract finding handed to FixLoop,
// mirroring ContractViolation's fields used by write_fix_instructions.
type Violation struct {
	Code     string
	Service  string
	FilePath string
	Endpoint string
	Actual   string
	Message  string
	Severity string
}

// Config is one builder's dispatch configuration: its working directory,
// invocation depth and (optional) per-builder environment override.
type Config struct {
	ServiceName string
	Cwd         string
	Depth       string
	Env         map[string]string
}
