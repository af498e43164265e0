// Package report records benchmark runs in a SQLite history database.
package report

// CreateRunsTableSQL creates the table holding one row per scenario run.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    scenario TEXT NOT NULL,
    device TEXT NOT NULL,
    file_name TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    elapsed_ns INTEGER NOT NULL,
    ok INTEGER NOT NULL,
    length INTEGER NOT NULL,
    expected INTEGER NOT NULL,
    write_failures INTEGER NOT NULL DEFAULT 0,
    read_failures INTEGER NOT NULL DEFAULT 0,
    verify_error TEXT
)`

// CreatePhasesTableSQL creates the per-phase throughput table.
const CreatePhasesTableSQL = `
CREATE TABLE IF NOT EXISTS phases (
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    workers INTEGER NOT NULL,
    ops INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    failures INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    elapsed_ns INTEGER NOT NULL,
    PRIMARY KEY (run_id, phase),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
)`

// CreateIndexesSQL creates the history indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, started_at)`,
}

// AllSchemaSQL returns every schema statement in execution order.
func AllSchemaSQL() []string {
	stmts := []string{CreateRunsTableSQL, CreatePhasesTableSQL}
	return append(stmts, CreateIndexesSQL...)
}
