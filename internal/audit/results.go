package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// tsLayout is fixed width so recorded_at sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoRuns is returned when the database holds no scenario results.
var ErrNoRuns = errors.New("no recorded runs")

// Result is the persisted outcome of one scenario.
type Result struct {
	RunID        string
	ScenarioID   string
	Suite        string
	Status       string
	CommandLine  string
	ExitCode     int
	Stdout       string
	Stderr       string
	Failures     []string
	SkipReason   string
	Error        string
	CleanupError string
	DurationMS   int64
	RecordedAt   time.Time
}

// RunInfo describes a recorded run.
type RunInfo struct {
	RunID     string
	StartedAt time.Time
	Scenarios int
}

// RecordResult stores one scenario outcome.
func (l *Logger) RecordResult(r Result) error {
	db, err := l.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	failures := r.Failures
	if failures == nil {
		failures = []string{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO scenario_results (
			recorded_at, run_id, scenario_id, suite, status, command_line, exit_code,
			stdout, stderr, failures_json, skip_reason, error, cleanup_error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(tsLayout), r.RunID, r.ScenarioID, r.Suite, r.Status, r.CommandLine, r.ExitCode,
		r.Stdout, r.Stderr, string(failuresJSON), r.SkipReason, r.Error, r.CleanupError, r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert scenario result: %w", err)
	}
	return nil
}

// LatestRun returns the most recently recorded run.
func (l *Logger) LatestRun() (RunInfo, error) {
	db, err := l.open()
	if err != nil {
		return RunInfo{}, err
	}
	defer func() {
		_ = db.Close()
	}()

	var runID string
	err = db.QueryRow("SELECT run_id FROM scenario_results ORDER BY id DESC LIMIT 1").Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, ErrNoRuns
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("query latest run: %w", err)
	}
	return runInfo(db, runID)
}

// Run returns the summary row of runID.
func (l *Logger) Run(runID string) (RunInfo, error) {
	db, err := l.open()
	if err != nil {
		return RunInfo{}, err
	}
	defer func() {
		_ = db.Close()
	}()
	return runInfo(db, runID)
}

func runInfo(db *sql.DB, runID string) (RunInfo, error) {
	var info RunInfo
	var started string
	err := db.QueryRow(
		"SELECT run_id, MIN(recorded_at), COUNT(*) FROM scenario_results WHERE run_id = ? GROUP BY run_id",
		runID,
	).Scan(&info.RunID, &started, &info.Scenarios)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("run %s: %w", runID, ErrNoRuns)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	info.StartedAt, err = time.Parse(tsLayout, started)
	if err != nil {
		return RunInfo{}, fmt.Errorf("parse run start: %w", err)
	}
	return info, nil
}

// Results returns the outcomes of runID in recording order.
func (l *Logger) Results(runID string) ([]Result, error) {
	db, err := l.open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.Query(`
		SELECT recorded_at, run_id, scenario_id, suite, status, command_line, exit_code,
			stdout, stderr, failures_json, skip_reason, error, cleanup_error, duration_ms
		FROM scenario_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Result
	for rows.Next() {
		var r Result
		var recordedAt, failuresJSON string
		if err := rows.Scan(&recordedAt, &r.RunID, &r.ScenarioID, &r.Suite, &r.Status, &r.CommandLine, &r.ExitCode,
			&r.Stdout, &r.Stderr, &failuresJSON, &r.SkipReason, &r.Error, &r.CleanupError, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.RecordedAt, err = time.Parse(tsLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at of %s: %w", r.ScenarioID, err)
		}
		if err := json.Unmarshal([]byte(failuresJSON), &r.Failures); err != nil {
			return nil, fmt.Errorf("decode failures of %s: %w", r.ScenarioID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// EventCounts returns the number of events per type.
func (l *Logger) EventCounts() (map[string]int, error) {
	db, err := l.open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.Query("SELECT type, COUNT(*) FROM events GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return counts, nil
}
