// Package shutdown implements a process-wide, reentrancy-guarded signal
// handler with emergency-save semantics. Grounded on
// super_orchestrator/shutdown.py, with the guard implemented as an
// atomic compare-and-swap per the explicit systems-language guidance
// ("prefer an atomic compare-and-set on a
// handling flag rather than a plain boolean").
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"forge/internal/logging"
)

// SaveFunc performs an emergency, best-effort persistence of whatever
// state is currently injected. Failures are logged, never propagated.
type SaveFunc func(reason string) error

// Signal is a single process-wide graceful-shutdown handler.
type Signal struct {
	shouldStop int32 // atomic bool
	handling   int32 // atomic reentrancy guard

	save SaveFunc

	sigCh chan os.Signal
	done  chan struct{}
}

// New creates a Signal handler. SetSave must be called before Install for
// the emergency save to do anything useful; calling it late is safe too
// since the handler reads save atomically-by-reference at signal time
// (via SetSave's lock-free pointer swap is unnecessary here: Go's
// os/signal channel ensures SetSave happens-before any signal delivered
// afterward in this single-process model).
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// SetSave injects (or replaces) the emergency-save callback. Mirrors the
// source's `set_state()` deferred-injection pattern — the pipeline state
// object does not exist yet when the signal handler is installed at
// process start.
func (s *Signal) SetSave(save SaveFunc) { s.save = save }

// ShouldStop reports whether a shutdown has been requested. Every phase
// executor and every builder task MUST poll this at entry and between
// non-trivial sub-steps.
func (s *Signal) ShouldStop() bool {
	return atomic.LoadInt32(&s.shouldStop) != 0
}

// Install attaches the handler to SIGINT/SIGTERM. Returns a function that
// uninstalls it; callers should defer the returned function.
func (s *Signal) Install() func() {
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-s.sigCh:
				s.handle("Signal received")
			case <-s.done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(s.sigCh)
		close(s.done)
	}
}

// handle is the reentrancy-guarded core: repeated signals while a prior
// signal is still being handled are silently ignored.
func (s *Signal) handle(reason string) {
	if !atomic.CompareAndSwapInt32(&s.handling, 0, 1) {
		logging.Get(logging.CategoryShutdown).Debug("reentrant signal ignored (already handling)")
		return
	}
	defer atomic.StoreInt32(&s.handling, 0)

	atomic.StoreInt32(&s.shouldStop, 1)
	logging.Get(logging.CategoryShutdown).Info("shutdown requested: %s", reason)

	if s.save != nil {
		if err := s.save(reason); err != nil {
			logging.Get(logging.CategoryShutdown).Error("emergency save failed: %v", err)
		}
	}
}

// Trigger programmatically requests shutdown as if a signal had arrived.
// Used by tests; the pipeline's BudgetExceededError handling marks the
// snapshot interrupted directly and does not call it.
func (s *Signal) Trigger(reason string) { s.handle(reason) }
