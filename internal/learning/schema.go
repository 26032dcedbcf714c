// Package learning implements the cross-run learning store: RunTracker
// (SQLite history of runs, violations and fixes), PatternStore (semantic
// recall of violation/fix patterns) and the context-injection helpers that
// turn both into prompt sections for builder invocations. Ported from
// persistence/schema.py, persistence/run_tracker.py, persistence/pattern_store.py
// and persistence/context_builder.py, following the sqlite-via-
// modernc.org/sqlite pattern already established in internal/vectorstore.
package learning

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current persistence schema version.
const SchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id TEXT PRIMARY KEY,
	prd_hash TEXT,
	timestamp TEXT NOT NULL DEFAULT (datetime('now')),
	overall_verdict TEXT,
	service_count INTEGER NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0.0,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS violations_observed (
	violation_id TEXT PRIMARY KEY,
	run_id TEXT REFERENCES pipeline_runs(run_id),
	scan_code TEXT,
	file_path TEXT,
	line INTEGER NOT NULL DEFAULT 0,
	message TEXT,
	severity TEXT,
	service_name TEXT,
	service_tech_stack TEXT,
	was_fixed INTEGER NOT NULL DEFAULT 0,
	fix_cost REAL NOT NULL DEFAULT 0.0
);
CREATE INDEX IF NOT EXISTS idx_vo_scan_stack ON violations_observed(scan_code, service_tech_stack);
CREATE INDEX IF NOT EXISTS idx_vo_run ON violations_observed(run_id);

CREATE TABLE IF NOT EXISTS fix_patterns (
	fix_id TEXT PRIMARY KEY,
	violation_id TEXT REFERENCES violations_observed(violation_id),
	code_before TEXT NOT NULL DEFAULT '',
	code_after TEXT NOT NULL DEFAULT '',
	diff TEXT NOT NULL DEFAULT '',
	fix_description TEXT NOT NULL DEFAULT '',
	agent_prompt_excerpt TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_fp_violation ON fix_patterns(violation_id);

CREATE TABLE IF NOT EXISTS scan_code_stats (
	scan_code TEXT NOT NULL,
	tech_stack TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 0,
	fix_success_rate REAL NOT NULL DEFAULT 0.0,
	avg_fix_cost REAL NOT NULL DEFAULT 0.0,
	promotion_candidate INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (scan_code, tech_stack)
);
`

// initSchema creates the persistence tables if absent and seeds
// schema_version on first run, mirroring init_persistence_db.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("init learning schema: %w", err)
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("check schema_version: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	}
	return nil
}
