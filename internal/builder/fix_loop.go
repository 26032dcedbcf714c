package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forge/internal/logging"
)

// severityOrder is the canonical bucket order used by ClassifyViolations.
// FIX_INSTRUCTIONS.md is rendered by derived priority (P0/P1/P2) instead.
var severityOrder = []string{"critical", "error", "warning", "info"}

var priorityLabels = map[string]string{
	"P0": "P0 (Must Fix)",
	"P1": "P1 (Should Fix)",
	"P2": "P2 (Nice to Have)",
}

// FixLoop drives the violation-feedback cycle: classify by severity, write
// FIX_INSTRUCTIONS.md, relaunch the builder in quick depth. Grounded on
// integrator/fix_loop.py's ContractFixLoop.
type FixLoop struct {
	dispatcher *Dispatcher
}

// NewFixLoop wraps a Dispatcher for quick-depth fix relaunches.
func NewFixLoop(dispatcher *Dispatcher) *FixLoop {
	return &FixLoop{dispatcher: dispatcher}
}

// ClassifyViolations groups violations by severity into the four standard
// buckets; an unrecognized or empty severity falls back to "error". Every
// bucket is present in the result even when empty.
func ClassifyViolations(violations []Violation) map[string][]Violation {
	classified := make(map[string][]Violation, len(severityOrder))
	for _, sev := range severityOrder {
		classified[sev] = nil
	}
	for _, v := range violations {
		bucket := strings.ToLower(v.Severity)
		if _, ok := classified[bucket]; !ok {
			bucket = "error"
		}
		classified[bucket] = append(classified[bucket], v)
	}
	return classified
}

func priorityFor(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "P0"
	case "error":
		return "P1"
	default:
		return "P2"
	}
}

// WriteFixInstructions renders FIX_INSTRUCTIONS.md, bucketed by priority
// (P0/P1/P2, derived from each violation's severity), with an optional
// Graph RAG cross-service dependency section appended. Returns the written
// path.
func WriteFixInstructions(cwd string, violations []Violation, graphRAGContext string) (string, error) {
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		return "", err
	}

	buckets := map[string][]Violation{"P0": nil, "P1": nil, "P2": nil}
	for _, v := range violations {
		p := priorityFor(v.Severity)
		buckets[p] = append(buckets[p], v)
	}

	var lines []string
	lines = append(lines, "# Fix Instructions", "")

	findingNum := 0
	for _, prio := range []string{"P0", "P1", "P2"} {
		group := buckets[prio]
		if len(group) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("## Priority: %s", priorityLabels[prio]), "")
		for _, v := range group {
			findingNum++
			code := v.Code
			if code == "" {
				code = fmt.Sprintf("FINDING-%03d", findingNum)
			}
			component := v.Service
			if v.FilePath != "" {
				component = fmt.Sprintf("%s/%s", v.Service, v.FilePath)
			}
			evidence := v.Endpoint
			if v.Actual != "" {
				evidence = fmt.Sprintf("%s: %s", v.Endpoint, v.Actual)
			}
			message := v.Message
			if message == "" {
				message = code
			}
			lines = append(lines, fmt.Sprintf("### %s: %s", code, message))
			lines = append(lines, fmt.Sprintf("- **Component**: %s", component))
			if evidence != "" {
				lines = append(lines, fmt.Sprintf("- **Evidence**: %s", evidence))
			}
			if v.Message != "" {
				lines = append(lines, fmt.Sprintf("- **Action**: %s", v.Message))
			}
			lines = append(lines, "")
		}
	}

	if graphRAGContext != "" {
		lines = append(lines, "", "## Cross-Service Dependency Context", "",
			"The following context describes how other services depend on this one.",
			"Consider cross-service impact when applying fixes.", "", graphRAGContext)
	}

	path := filepath.Join(cwd, "FIX_INSTRUCTIONS.md")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", err
	}
	logging.Get(logging.CategoryBuilder).Info("wrote %s (%d violations)", path, len(violations))
	return path, nil
}

// FeedViolationsToBuilder writes FIX_INSTRUCTIONS.md to cwd and relaunches
// the builder in quick depth, returning a fresh result summary.
func (f *FixLoop) FeedViolationsToBuilder(ctx context.Context, serviceName, cwd string, violations []Violation, graphRAGContext string) (InvocationResult, error) {
	if _, err := WriteFixInstructions(cwd, violations, graphRAGContext); err != nil {
		return InvocationResult{}, err
	}
	return f.dispatcher.InvokeBuilder(ctx, Config{ServiceName: serviceName, Cwd: cwd, Depth: "quick"}), nil
}
