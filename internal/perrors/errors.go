// Package perrors defines the pipeline's error taxonomy. Only these kinds
// are allowed to escape a phase handler; everything else is recovered
// locally (retried, falled back, or recorded on a result object).
package perrors

import "fmt"

// ConfigurationError signals a missing external dependency, an unreadable
// config file, or an invalid PRD. Fatal: the pipeline marks failed.
type ConfigurationError struct {
	Message     string
	Remediation string
}

func (e *ConfigurationError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("configuration error: %s (%s)", e.Message, e.Remediation)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// BudgetExceededError is raised when the cost ledger's budget gate fires.
type BudgetExceededError struct {
	TotalCost   float64
	BudgetLimit float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: $%.2f spent, limit is $%.2f", e.TotalCost, e.BudgetLimit)
}

// BuilderFailureError is raised when every dispatched builder fails.
type BuilderFailureError struct {
	ServiceID string
	Message   string
}

func (e *BuilderFailureError) Error() string {
	if e.ServiceID != "" {
		return fmt.Sprintf("builder failure (%s): %s", e.ServiceID, e.Message)
	}
	return fmt.Sprintf("builder failure: %s", e.Message)
}

// IntegrationFailureError signals an unrecoverable integration-phase setup
// error. The phase still writes a report and completes; this is only
// raised when even that degrades mode is impossible.
type IntegrationFailureError struct {
	Message string
}

func (e *IntegrationFailureError) Error() string {
	return fmt.Sprintf("integration failure: %s", e.Message)
}

// QualityGateFailureError is raised when no fix attempts remain and
// blocking violations are present.
type QualityGateFailureError struct {
	Layer   string
	Message string
}

func (e *QualityGateFailureError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("quality gate failure [%s]: %s", e.Layer, e.Message)
	}
	return fmt.Sprintf("quality gate failure: %s", e.Message)
}

// PipelineError wraps any error that does not belong to one of the named
// kinds above, preserving the original via errors.Unwrap.
type PipelineError struct {
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pipeline error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("pipeline error: %s", e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Wrap wraps err into a PipelineError unless it already is one of the
// five named escaping kinds or a PipelineError (in which case it is
// returned unchanged).
func Wrap(message string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *ConfigurationError, *BudgetExceededError, *BuilderFailureError,
		*IntegrationFailureError, *QualityGateFailureError, *PipelineError:
		return err
	}
	return &PipelineError{Message: message, Cause: err}
}
