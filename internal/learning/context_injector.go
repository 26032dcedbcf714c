package learning

import (
	"context"
	"fmt"
	"strings"

	"forge/internal/config"
)

const contextDelimiter = "================================================"

// BuildFailureContext assembles a failure-memory section for builder prompt
// injection: top recurring violations for the tech stack from RunTracker,
// plus semantically similar past patterns from PatternStore. Returns "" if
// persistence is disabled or neither collaborator is available, mirroring
// context_builder.py's build_failure_context.
func BuildFailureContext(ctx context.Context, serviceName, techStack string, cfg config.PersistenceConfig, tracker *RunTracker, patterns *PatternStore) string {
	if !cfg.Enabled {
		return ""
	}
	if tracker == nil && patterns == nil {
		return ""
	}

	maxPatterns := cfg.MaxPatternsPerInjection
	if maxPatterns <= 0 {
		maxPatterns = 5
	}
	var sections []string

	if tracker != nil {
		stats := tracker.GetStatsForStack(techStack)
		if len(stats) > 0 {
			top := stats
			if len(top) > maxPatterns {
				top = top[:maxPatterns]
			}
			lines := make([]string, 0, len(top))
			for _, s := range top {
				lines = append(lines, fmt.Sprintf("- %s: %d occurrences, fix rate %.0f%%",
					s.ScanCode, s.OccurrenceCount, s.FixSuccessRate*100))
			}
			sections = append(sections, "Top recurring violations for this tech stack:\n"+strings.Join(lines, "\n"))
		}
	}

	if patterns != nil {
		matches := patterns.FindSimilarPatterns(ctx, fmt.Sprintf("Common violations for %s %s", serviceName, techStack), techStack, maxPatterns)
		if len(matches) > 0 {
			lines := make([]string, 0, len(matches))
			for _, m := range matches {
				scanCode := "?"
				if v, ok := m.Metadata["scan_code"]; ok {
					scanCode = fmt.Sprintf("%v", v)
				}
				lines = append(lines, fmt.Sprintf("- [%s] %s", scanCode, truncate(m.Document, 200)))
			}
			sections = append(sections, "Similar violation patterns from prior runs:\n"+strings.Join(lines, "\n"))
		}
	}

	if len(sections) == 0 {
		return ""
	}

	body := strings.Join(sections, "\n\n")
	return fmt.Sprintf(
		"\n\n%s\nFAILURE MEMORY FROM PRIOR RUNS\n%s\nService: %s | Stack: %s\n\n%s\n\nUse this information to proactively avoid these violations.\n%s\n",
		contextDelimiter, contextDelimiter, serviceName, techStack, body, contextDelimiter,
	)
}

// BuildFixContext assembles a fix-example section for FIX_INSTRUCTIONS.md
// injection: for each distinct violation code, up to three prior fix
// examples from PatternStore. Returns "" if persistence is disabled or
// PatternStore is unavailable, mirroring context_builder.py's build_fix_context.
func BuildFixContext(ctx context.Context, violations []Violation, techStack string, cfg config.PersistenceConfig, patterns *PatternStore) string {
	if !cfg.Enabled || patterns == nil {
		return ""
	}

	maxPatterns := cfg.MaxPatternsPerInjection
	if maxPatterns <= 0 {
		maxPatterns = 5
	}

	var examples []string
	seen := map[string]bool{}
	perCodeLimit := 3
	if maxPatterns < perCodeLimit {
		perCodeLimit = maxPatterns
	}

	for _, v := range violations {
		if seen[v.Code] {
			continue
		}
		seen[v.Code] = true

		for _, ex := range patterns.FindFixExamples(ctx, v.Code, techStack, perCodeLimit) {
			if ex.Document != "" {
				examples = append(examples, fmt.Sprintf("[%s] Prior fix:\n%s", v.Code, truncate(ex.Document, 500)))
			}
		}
		if len(examples) >= maxPatterns {
			break
		}
	}

	if len(examples) == 0 {
		return ""
	}

	body := strings.Join(examples, "\n\n")
	return fmt.Sprintf(
		"\n\n%s\nFIX EXAMPLES FROM PRIOR RUNS\n%s\n%s\n\nApply similar fix patterns where applicable.\n%s\n",
		contextDelimiter, contextDelimiter, body, contextDelimiter,
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
