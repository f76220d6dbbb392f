package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"epiviz-pipeline/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"
)

// DB is the sqlite-backed run history and weekly snapshot store. It is
// an explicit value, not process-wide state, so isolated configurations
// (tests with throwaway databases) can coexist.
type DB struct {
	conn *sql.DB
}

// Open connects to the sqlite database and creates tables if needed.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT,
		outcome TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);
	`
	warningsTable := `
	CREATE TABLE IF NOT EXISTS run_warnings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		message TEXT,
		created_at DATETIME
	);
	`
	snapshotsTable := `
	CREATE TABLE IF NOT EXISTS weekly_snapshots (
		source TEXT,
		period_key TEXT,
		metrics BLOB,
		taken_at DATETIME,
		PRIMARY KEY (source, period_key)
	);
	`

	for _, stmt := range []string{runsTable, warningsTable, snapshotsTable} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// CreateRun registers a pending run.
func (d *DB) CreateRun(runID string) error {
	now := time.Now().UTC()
	_, err := d.conn.Exec(`INSERT INTO runs (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		runID, "pending", now, now)
	return err
}

// UpdateRunStatus updates a run's status.
func (d *DB) UpdateRunStatus(runID, status string) error {
	now := time.Now().UTC()
	_, err := d.conn.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, status, now, runID)
	return err
}

// SaveRunOutcome stores the structured outcome of a completed run and
// its warnings.
func (d *DB) SaveRunOutcome(outcome *model.RunOutcome) error {
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	status := "preserved"
	if outcome.Published {
		status = "published"
	}
	if _, err := d.conn.Exec(
		`INSERT INTO runs (id, status, outcome, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, outcome = excluded.outcome, updated_at = excluded.updated_at`,
		outcome.RunID, status, string(encoded), outcome.StartedAt, now); err != nil {
		return err
	}

	for _, warning := range outcome.Warnings {
		if _, err := d.conn.Exec(`INSERT INTO run_warnings (run_id, message, created_at) VALUES (?, ?, ?)`,
			outcome.RunID, warning, now); err != nil {
			return err
		}
	}
	return nil
}

// ListRuns returns recent runs, newest first.
func (d *DB) ListRuns() ([]map[string]interface{}, error) {
	rows, err := d.conn.Query(`SELECT id, status, created_at, updated_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []map[string]interface{}
	for rows.Next() {
		var id, status string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&id, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, map[string]interface{}{
			"id":        id,
			"status":    status,
			"createdAt": createdAt,
			"updatedAt": updatedAt,
		})
	}
	return runs, rows.Err()
}

// GetRun fetches one run with its full outcome, when available.
func (d *DB) GetRun(runID string) (map[string]interface{}, error) {
	var status string
	var outcomeJSON sql.NullString
	var createdAt, updatedAt time.Time

	err := d.conn.QueryRow(`SELECT status, outcome, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&status, &outcomeJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"id":        runID,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
	}
	if outcomeJSON.Valid {
		var outcome model.RunOutcome
		if err := json.Unmarshal([]byte(outcomeJSON.String), &outcome); err != nil {
			return nil, fmt.Errorf("corrupt outcome for run %s: %w", runID, err)
		}
		result["outcome"] = outcome
	}
	return result, nil
}

// RunWarnings returns the warnings recorded for a run.
func (d *DB) RunWarnings(runID string) ([]string, error) {
	rows, err := d.conn.Query(`SELECT message FROM run_warnings WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warnings []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}
		warnings = append(warnings, msg)
	}
	return warnings, rows.Err()
}

// SaveWeeklySnapshot upserts the snapshot for (source, period). Metrics
// are stored as a compact msgpack blob.
func (d *DB) SaveWeeklySnapshot(source string, snap model.WeeklySnapshot) error {
	blob, err := msgpack.Marshal(snap.Metrics)
	if err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO weekly_snapshots (source, period_key, metrics, taken_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source, period_key) DO UPDATE SET metrics = excluded.metrics, taken_at = excluded.taken_at`,
		source, snap.PeriodKey, blob, snap.TakenAt)
	return err
}

// WeeklyHistory returns up to depth snapshots for a source, oldest first.
func (d *DB) WeeklyHistory(source string, depth int) ([]model.WeeklySnapshot, error) {
	rows, err := d.conn.Query(
		`SELECT period_key, metrics, taken_at FROM weekly_snapshots
		 WHERE source = ? ORDER BY period_key DESC LIMIT ?`, source, depth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.WeeklySnapshot
	for rows.Next() {
		var snap model.WeeklySnapshot
		var blob []byte
		if err := rows.Scan(&snap.PeriodKey, &blob, &snap.TakenAt); err != nil {
			return nil, err
		}
		if err := msgpack.Unmarshal(blob, &snap.Metrics); err != nil {
			return nil, fmt.Errorf("corrupt snapshot %s/%s: %w", source, snap.PeriodKey, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first ordering.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

// PruneWeeklySnapshots deletes rows beyond the retained depth for a
// source, returning the number removed.
func (d *DB) PruneWeeklySnapshots(source string, depth int) (int, error) {
	res, err := d.conn.Exec(
		`DELETE FROM weekly_snapshots WHERE source = ? AND period_key NOT IN (
			SELECT period_key FROM weekly_snapshots WHERE source = ? ORDER BY period_key DESC LIMIT ?
		)`, source, source, depth)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
