// Package statemachine implements the pipeline's state machine: eleven
// named states, thirteen guarded transitions, and a resume-trigger table.
// Grounded on super_orchestrator/state_machine.py's STATES/TRANSITIONS/
// RESUME_TRIGGERS, which use the Python `transitions` library's
// AsyncMachine with queued=True, ignore_invalid_triggers=True,
// auto_transitions=False — reproduced here as a single-writer, guard-
// evaluated transition table rather than pulling in a generic FSM
// library (see DESIGN.md).
package statemachine

import (
	"fmt"
	"os"
	"sync"

	"forge/internal/logging"
	"forge/internal/state"
)

// State is one of the eleven named pipeline states.
type State string

const (
	Init                  State = "init"
	ArchitectRunning      State = "architect_running"
	ArchitectReview       State = "architect_review"
	ContractsRegistering  State = "contracts_registering"
	BuildersRunning       State = "builders_running"
	BuildersComplete      State = "builders_complete"
	Integrating           State = "integrating"
	QualityGate           State = "quality_gate"
	FixPass               State = "fix_pass"
	Complete              State = "complete"
	Failed                State = "failed"
)

// Terminal reports whether s is one of the two terminal states.
func (s State) Terminal() bool { return s == Complete || s == Failed }

// Trigger is the name of a transition.
type Trigger string

const (
	StartArchitect    Trigger = "start_architect"
	ArchitectDone     Trigger = "architect_done"
	ApproveArchitect  Trigger = "approve_architect"
	ContractsRegistered Trigger = "contracts_registered"
	BuildersDone      Trigger = "builders_done"
	StartIntegration  Trigger = "start_integration"
	IntegrationDone   Trigger = "integration_done"
	QualityPassed     Trigger = "quality_passed"
	QualityNeedsFix   Trigger = "quality_needs_fix"
	FixDone           Trigger = "fix_done"
	Fail              Trigger = "fail"
	RetryArchitect    Trigger = "retry_architect"
	SkipToComplete    Trigger = "skip_to_complete"
)

// guardFunc evaluates a transition's precondition against the injected
// snapshot. Returning false makes the trigger a silent no-op, matching
// `transitions`' ignore_invalid_triggers / failed-condition semantics.
type guardFunc func(m *Machine) bool

type transition struct {
	trigger Trigger
	sources map[State]bool
	dest    State
	guard   guardFunc
}

// failSources are every non-terminal state — the `fail` trigger is valid
// from any of them (state_machine.py TRANSITIONS, trigger "fail").
var failSources = map[State]bool{
	Init: true, ArchitectRunning: true, ArchitectReview: true,
	ContractsRegistering: true, BuildersRunning: true, BuildersComplete: true,
	Integrating: true, QualityGate: true, FixPass: true,
}

var transitions = []transition{
	{StartArchitect, map[State]bool{Init: true}, ArchitectRunning, (*Machine).guardIsConfigured},
	{ArchitectDone, map[State]bool{ArchitectRunning: true}, ArchitectReview, (*Machine).guardHasServiceMap},
	{ApproveArchitect, map[State]bool{ArchitectReview: true}, ContractsRegistering, (*Machine).guardServiceMapValid},
	{ContractsRegistered, map[State]bool{ContractsRegistering: true}, BuildersRunning, (*Machine).guardContractsValid},
	{BuildersDone, map[State]bool{BuildersRunning: true}, BuildersComplete, (*Machine).guardHasBuilderResults},
	{StartIntegration, map[State]bool{BuildersComplete: true}, Integrating, (*Machine).guardAnyBuilderPassed},
	{IntegrationDone, map[State]bool{Integrating: true}, QualityGate, (*Machine).guardHasIntegrationReport},
	{QualityPassed, map[State]bool{QualityGate: true}, Complete, (*Machine).guardGatePassed},
	{QualityNeedsFix, map[State]bool{QualityGate: true}, FixPass, (*Machine).guardFixAttemptsRemaining},
	{FixDone, map[State]bool{FixPass: true}, BuildersRunning, (*Machine).guardFixApplied},
	{Fail, failSources, Failed, nil},
	{RetryArchitect, map[State]bool{ArchitectRunning: true}, ArchitectRunning, (*Machine).guardRetriesRemaining},
	{SkipToComplete, map[State]bool{QualityGate: true}, Complete, (*Machine).guardAdvisoryOnly},
}

// ResumeTriggers maps an interrupted state to the trigger that re-enters
// the pipeline on resume; a nil entry means "re-run the phase handler
// that produced this state".
var ResumeTriggers = map[State]*Trigger{
	Init:                 ptr(StartArchitect),
	ArchitectRunning:     nil,
	ArchitectReview:      nil,
	ContractsRegistering: nil,
	BuildersRunning:      nil,
	BuildersComplete:     ptr(StartIntegration),
	Integrating:          nil,
	QualityGate:          nil,
	FixPass:              nil,
}

func ptr(t Trigger) *Trigger { return &t }

// Machine is a single-writer, guard-evaluated state machine bound to a
// pipeline snapshot. Triggers are applied synchronously; callers
// (PhaseExecutor/Pipeline) serialize access — the Python original's
// queued=True semantics are satisfied by the pipeline loop being the
// sole caller.
type Machine struct {
	mu   sync.Mutex
	snap *state.Snapshot

	// statAt abstracts filesystem existence checks for service_map_valid,
	// overridable in tests.
	statAt func(path string) bool
}

// New binds a state machine to snap, whose CurrentState field is read and
// written directly by Fire.
func New(snap *state.Snapshot) *Machine {
	return &Machine{
		snap: snap,
		statAt: func(path string) bool {
			if path == "" {
				return false
			}
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.snap.CurrentState)
}

// Fire applies trigger if a matching transition exists, its source
// matches the current state, and its guard passes. Returns whether the
// state changed. Invalid triggers from the current state, and triggers
// whose guard fails, are silent no-ops: no invalid trigger from the
// current state ever changes state.
func (m *Machine) Fire(trigger Trigger) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := State(m.snap.CurrentState)
	for _, t := range transitions {
		if t.trigger != trigger {
			continue
		}
		if !t.sources[current] {
			continue
		}
		if t.guard != nil && !t.guard(m) {
			logging.Get(logging.CategoryStateMachine).Debug("trigger %s from %s: guard failed, no-op", trigger, current)
			return false, nil
		}
		m.snap.CurrentState = string(t.dest)
		logging.Get(logging.CategoryStateMachine).Info("transition %s: %s -> %s", trigger, current, t.dest)
		return true, nil
	}
	logging.Get(logging.CategoryStateMachine).Debug("trigger %s has no transition from %s, no-op", trigger, current)
	return false, nil
}

// CanFire reports whether trigger would change state right now, without
// mutating anything.
func (m *Machine) CanFire(trigger Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := State(m.snap.CurrentState)
	for _, t := range transitions {
		if t.trigger == trigger && t.sources[current] {
			return t.guard == nil || t.guard(m)
		}
	}
	return false
}

// Resume returns the trigger to fire to re-enter the pipeline from the
// current state, and whether the state requires re-running its phase
// handler instead (nil trigger).
func Resume(s State) (*Trigger, bool) {
	t, ok := ResumeTriggers[s]
	return t, ok
}

// --- guards -----------------------------------------------------------

func (m *Machine) guardIsConfigured() bool { return m.snap.PRDPath != "" }

func (m *Machine) guardHasServiceMap() bool {
	return m.artifactPath("architect", "service_map") != ""
}

func (m *Machine) guardServiceMapValid() bool {
	return m.statAt(m.artifactPath("architect", "service_map"))
}

func (m *Machine) guardContractsValid() bool {
	return m.artifactPath("contracts", "registry") != "" || len(m.snap.PhaseArtifacts["contracts"]) > 0
}

func (m *Machine) guardHasBuilderResults() bool {
	return len(m.snap.BuilderResults) > 0
}

func (m *Machine) guardAnyBuilderPassed() bool {
	return m.snap.SuccessfulBuilders > 0
}

func (m *Machine) guardHasIntegrationReport() bool {
	return m.snap.IntegrationReportPath != ""
}

func (m *Machine) guardGatePassed() bool {
	verdict, _ := m.snap.LastQualityResults["overall_verdict"].(string)
	return verdict == "passed"
}

func (m *Machine) guardFixAttemptsRemaining() bool {
	return m.snap.QualityAttempts < m.snap.MaxQualityRetries
}

func (m *Machine) guardFixApplied() bool { return true }

func (m *Machine) guardRetriesRemaining() bool {
	return m.snap.ArchitectRetries < m.snap.MaxArchitectRetries
}

// guardAdvisoryOnly: verdict != "passed" AND blocking_violations == 0.
func (m *Machine) guardAdvisoryOnly() bool {
	verdict, _ := m.snap.LastQualityResults["overall_verdict"].(string)
	if verdict == "passed" {
		return false
	}
	blocking := asFloat(m.snap.LastQualityResults["blocking_violations"])
	return blocking == 0
}

func (m *Machine) artifactPath(phase, key string) string {
	if art, ok := m.snap.PhaseArtifacts[phase]; ok {
		return art[key]
	}
	return ""
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// ErrInvalidTransition is returned by helpers that require a hard failure
// rather than a silent no-op (none of the guards above need this; kept
// for callers wanting to distinguish "no matching transition" from
// "guard failed" explicitly).
type ErrInvalidTransition struct {
	Trigger Trigger
	From    State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("no valid transition for trigger %q from state %q", e.Trigger, e.From)
}
