package learning

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"forge/internal/logging"
)

// RunTracker records pipeline runs, violations and fix patterns to SQLite.
// Every public method is independently guarded so a tracker failure never
// propagates into the pipeline, matching run_tracker.py's per-method
// try/except + logger.warning.
type RunTracker struct {
	db *sql.DB
}

// NewRunTracker opens (or creates) the persistence database at dbPath and
// ensures its schema exists.
func NewRunTracker(dbPath string) (*RunTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open learning db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &RunTracker{db: db}, nil
}

func (t *RunTracker) warn(op string, err error) {
	logging.Get(logging.CategoryLearning).Warn("RunTracker.%s failed (non-blocking): %v", op, err)
}

// RecordRun records a completed pipeline run.
func (t *RunTracker) RecordRun(pipelineID, prdHash, verdict string, serviceCount int, cost float64) {
	_, err := t.db.Exec(
		`INSERT OR REPLACE INTO pipeline_runs (run_id, prd_hash, overall_verdict, service_count, total_cost)
		 VALUES (?, ?, ?, ?, ?)`,
		pipelineID, prdHash, verdict, serviceCount, cost,
	)
	if err != nil {
		t.warn("record_run", err)
	}
}

// RecordViolation records a violation observed during a run and returns its
// generated ID regardless of whether the write succeeded, mirroring the
// Python original's unconditional UUID return.
func (t *RunTracker) RecordViolation(runID string, v Violation, serviceName, techStack string) string {
	violationID := uuid.NewString()
	_, err := t.db.Exec(
		`INSERT OR REPLACE INTO violations_observed
		   (violation_id, run_id, scan_code, file_path, line, message, severity, service_name, service_tech_stack)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		violationID, runID, v.Code, v.FilePath, v.Line, v.Message, v.Severity, serviceName, techStack,
	)
	if err != nil {
		t.warn("record_violation", err)
	}
	return violationID
}

// RecordFix records a fix pattern applied to a violation.
func (t *RunTracker) RecordFix(violationID, codeBefore, codeAfter, diff, description string) {
	fixID := uuid.NewString()
	_, err := t.db.Exec(
		`INSERT OR REPLACE INTO fix_patterns (fix_id, violation_id, code_before, code_after, diff, fix_description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fixID, violationID, codeBefore, codeAfter, diff, description,
	)
	if err != nil {
		t.warn("record_fix", err)
	}
}

// MarkFixed marks a violation as fixed and records its fix cost.
func (t *RunTracker) MarkFixed(violationID string, fixCost float64) {
	_, err := t.db.Exec(
		`UPDATE violations_observed SET was_fixed = 1, fix_cost = ? WHERE violation_id = ?`,
		fixCost, violationID,
	)
	if err != nil {
		t.warn("mark_fixed", err)
	}
}

// GetStatsForStack returns scan_code_stats rows for a tech stack, ordered by
// occurrence count descending. Returns nil on any failure.
func (t *RunTracker) GetStatsForStack(techStack string) []ScanCodeStat {
	rows, err := t.db.Query(
		`SELECT scan_code, tech_stack, occurrence_count, fix_success_rate, avg_fix_cost, promotion_candidate
		 FROM scan_code_stats WHERE tech_stack = ? ORDER BY occurrence_count DESC`,
		techStack,
	)
	if err != nil {
		t.warn("get_stats_for_stack", err)
		return nil
	}
	defer rows.Close()

	var stats []ScanCodeStat
	for rows.Next() {
		var s ScanCodeStat
		var promotion int
		if err := rows.Scan(&s.ScanCode, &s.TechStack, &s.OccurrenceCount, &s.FixSuccessRate, &s.AvgFixCost, &promotion); err != nil {
			t.warn("get_stats_for_stack", err)
			return nil
		}
		s.PromotionCandidate = promotion != 0
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		t.warn("get_stats_for_stack", err)
		return nil
	}
	return stats
}

// UpdateScanCodeStats recomputes scan_code_stats across every run, grouped
// by (scan_code, tech_stack). Called after a run's violations/fixes settle.
// runID is accepted for parity with the call sites that just finished that
// run but is not itself part of the aggregation, which always spans history.
func (t *RunTracker) UpdateScanCodeStats(runID string) {
	_ = runID
	_, err := t.db.Exec(`
		INSERT OR REPLACE INTO scan_code_stats
			(scan_code, tech_stack, occurrence_count, fix_success_rate, avg_fix_cost, promotion_candidate)
		SELECT
			scan_code,
			service_tech_stack,
			COUNT(*) AS occurrence_count,
			CASE WHEN COUNT(*) > 0 THEN CAST(SUM(was_fixed) AS REAL) / COUNT(*) ELSE 0.0 END AS fix_success_rate,
			CASE WHEN SUM(was_fixed) > 0 THEN SUM(fix_cost) / SUM(was_fixed) ELSE 0.0 END AS avg_fix_cost,
			CASE WHEN COUNT(*) >= 10 THEN 1 ELSE 0 END AS promotion_candidate
		FROM violations_observed
		WHERE scan_code IS NOT NULL AND service_tech_stack IS NOT NULL
		GROUP BY scan_code, service_tech_stack`,
	)
	if err != nil {
		t.warn("update_scan_code_stats", err)
	}
}

// Close closes the underlying database connection.
func (t *RunTracker) Close() error {
	return t.db.Close()
}
