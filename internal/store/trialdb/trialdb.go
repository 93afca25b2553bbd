// Package trialdb keeps every levelling trial in sqlite, grouped by run,
// so later runs can be warm started from the best points seen so far.
package trialdb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mikesmithlab/shaker/internal/debug"
)

// schema.sql creates the runs and trials tables.
//
//go:embed schema.sql
var schemaSQL string

// Trial is one stored trial.
type Trial struct {
	RunID       string    `json:"run_id"`
	Iteration   int       `json:"iteration"`
	X           int       `json:"motor_x"`
	Y           int       `json:"motor_y"`
	Cost        float64   `json:"cost"`
	Fluctuation float64   `json:"fluctuation"`
	BatchSize   int       `json:"batch_size"`
	MeanX       float64   `json:"mean_x"`
	MeanY       float64   `json:"mean_y"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Run summarises one levelling run.
type Run struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Trials    int       `json:"trials"`
	BestCost  float64   `json:"best_cost"`
}

// Store is a sqlite trial database.
type Store struct {
	*sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create trial database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trial schema: %w", err)
	}
	debug.Verbose("trial database ready at %s", path)
	return &Store{db}, nil
}

// Record stores t, registering its run on first sight.
func (s *Store) Record(t Trial) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ns := t.RecordedAt.UnixNano()
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO runs (run_id, started_ns) VALUES (?, ?)`,
		t.RunID, ns,
	); err != nil {
		return fmt.Errorf("failed to register run %s: %w", t.RunID, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO trials (run_id, iteration, motor_x, motor_y, cost, fluctuation, batch_size, mean_x, mean_y, recorded_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Iteration, t.X, t.Y, t.Cost, t.Fluctuation, t.BatchSize, t.MeanX, t.MeanY, ns,
	); err != nil {
		return fmt.Errorf("failed to insert trial %d of run %s: %w", t.Iteration, t.RunID, err)
	}
	return tx.Commit()
}

const trialColumns = `run_id, iteration, motor_x, motor_y, cost, fluctuation, batch_size, mean_x, mean_y, recorded_ns`

// Best returns up to n trials with the lowest cost over all runs.
func (s *Store) Best(n int) ([]Trial, error) {
	rows, err := s.Query(`SELECT `+trialColumns+` FROM trials ORDER BY cost ASC, recorded_ns ASC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	return scanTrials(rows)
}

// RunTrials returns the trials of one run in iteration order.
func (s *Store) RunTrials(runID string) ([]Trial, error) {
	rows, err := s.Query(`SELECT `+trialColumns+` FROM trials WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, err
	}
	return scanTrials(rows)
}

// Runs lists every run, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.Query(`
		SELECT r.run_id, r.started_ns, COUNT(t.iteration), COALESCE(MIN(t.cost), 0)
		FROM runs r LEFT JOIN trials t ON t.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r  Run
			ns int64
		)
		if err := rows.Scan(&r.RunID, &ns, &r.Trials, &r.BestCost); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, ns)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanTrials(rows *sql.Rows) ([]Trial, error) {
	defer rows.Close()

	var out []Trial
	for rows.Next() {
		var (
			t  Trial
			ns int64
		)
		if err := rows.Scan(&t.RunID, &t.Iteration, &t.X, &t.Y, &t.Cost, &t.Fluctuation,
			&t.BatchSize, &t.MeanX, &t.MeanY, &ns); err != nil {
			return nil, err
		}
		t.RecordedAt = time.Unix(0, ns)
		out = append(out, t)
	}
	return out, rows.Err()
}
