package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/blobfs/blobbench/internal/bench"
	"github.com/blobfs/blobbench/internal/observability"
)

// ErrRunNotFound is returned by Get for an unknown run ID.
var ErrRunNotFound = errors.New("report: run not found")

// Run is one recorded scenario run.
type Run struct {
	ID            string
	Scenario      string
	Device        string
	File          string
	Started       time.Time
	Elapsed       time.Duration
	OK            bool
	Length        uint64
	Expected      uint64
	WriteFailures int
	ReadFailures  int
	VerifyError   string
	Phases        []observability.PhaseStats
}

// FromScenario builds a Run from a scenario result.
func FromScenario(res bench.ScenarioResult, device string) Run {
	sc := res.Scenario
	run := Run{
		Scenario:      sc.Name,
		Device:        device,
		File:          sc.File,
		Started:       res.Started,
		Elapsed:       res.Elapsed,
		OK:            res.OK(),
		Length:        res.Verify.Length,
		Expected:      res.Expected(),
		WriteFailures: len(res.Write.Failures),
		ReadFailures:  len(res.Random.Failures),
	}
	if res.Verify.Err != nil {
		run.VerifyError = res.Verify.Err.Error()
	}
	if res.Stats != nil {
		run.Phases = res.Stats.Phases()
	}
	return run
}

// History stores runs in a SQLite database.
type History struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("report: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db, dbPath: dbPath}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: failed to initialize schema: %w", err)
	}
	return h, nil
}

func (h *History) initSchema() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database path.
func (h *History) Path() string {
	return h.dbPath
}

// Record stores run and its phases in one transaction and returns the run
// ID, generating one when run.ID is empty.
func (h *History) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("report: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var verifyErr *string
	if run.VerifyError != "" {
		verifyErr = &run.VerifyError
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, scenario, device, file_name, started_at, elapsed_ns,
			ok, length, expected, write_failures, read_failures, verify_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, run.Device, run.File, run.Started.UnixNano(), int64(run.Elapsed),
		run.OK, int64(run.Length), int64(run.Expected), run.WriteFailures, run.ReadFailures, verifyErr,
	)
	if err != nil {
		return "", fmt.Errorf("report: failed to insert run: %w", err)
	}

	for _, p := range run.Phases {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO phases (run_id, phase, workers, ops, bytes, failures, started_at, elapsed_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, p.Phase, p.Workers, p.Ops, p.Bytes, p.Failures, p.Started.UnixNano(), int64(p.Elapsed),
		)
		if err != nil {
			return "", fmt.Errorf("report: failed to insert phase %s: %w", p.Phase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("report: failed to commit run: %w", err)
	}
	return run.ID, nil
}

const selectRunSQL = `
	SELECT run_id, scenario, device, file_name, started_at, elapsed_ns,
	       ok, length, expected, write_failures, read_failures, verify_error
	FROM runs`

// Get returns one run with its phases.
func (h *History) Get(ctx context.Context, id string) (*Run, error) {
	row := h.db.QueryRowContext(ctx, selectRunSQL+` WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if run.Phases, err = h.phases(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// Recent returns up to limit runs, newest first. An empty scenario matches
// every scenario.
func (h *History) Recent(ctx context.Context, scenario string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}

	query := selectRunSQL
	args := []interface{}{}
	if scenario != "" {
		query += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report: failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: failed to iterate runs: %w", err)
	}

	for _, run := range runs {
		if run.Phases, err = h.phases(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (h *History) phases(ctx context.Context, runID string) ([]observability.PhaseStats, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT phase, workers, ops, bytes, failures, started_at, elapsed_ns
		FROM phases WHERE run_id = ? ORDER BY started_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("report: failed to query phases: %w", err)
	}
	defer rows.Close()

	var out []observability.PhaseStats
	for rows.Next() {
		var p observability.PhaseStats
		var started, elapsed int64
		if err := rows.Scan(&p.Phase, &p.Workers, &p.Ops, &p.Bytes, &p.Failures, &started, &elapsed); err != nil {
			return nil, fmt.Errorf("report: failed to scan phase: %w", err)
		}
		p.Started = time.Unix(0, started)
		p.Elapsed = time.Duration(elapsed)
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var started, elapsed, length, expected int64
	var verifyErr sql.NullString
	err := s.Scan(&run.ID, &run.Scenario, &run.Device, &run.File, &started, &elapsed,
		&run.OK, &length, &expected, &run.WriteFailures, &run.ReadFailures, &verifyErr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("report: failed to scan run: %w", err)
	}
	run.Started = time.Unix(0, started)
	run.Elapsed = time.Duration(elapsed)
	run.Length = uint64(length)
	run.Expected = uint64(expected)
	run.VerifyError = verifyErr.String
	return &run, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
