// Package store persists simulation runs and connection intervals in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrUnknownRun is returned when connections reference a run that was
// never recorded.
var ErrUnknownRun = errors.New("unknown run")

// Run is one simulation run.
type Run struct {
	ID        string
	Scenario  string
	Seed      int64
	StartedAt time.Time
	StopTime  float64
	SimTime   float64
	Events    uint64
}

// Connection is one interval during which a vehicle was associated with a
// base station, in simulated seconds.
type Connection struct {
	Vehicle     string
	BaseStation string
	Start       float64
	End         float64
}

// Duration is the length of the interval.
func (c Connection) Duration() float64 { return c.End - c.Start }

// SQLiteStore stores runs and their connections.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	memory := path == ":memory:"
	dsn := path
	if !memory {
		dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer; it also keeps an in-memory
	// database on one connection.
	db.SetMaxOpenConns(1)

	if memory {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordRun inserts or updates a run.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, seed, started_at, stop_time, sim_time, events)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sim_time = excluded.sim_time,
			events = excluded.events`,
		run.ID, run.Scenario, run.Seed, run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.StopTime, run.SimTime, int64(run.Events))
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// RecordConnections appends connection intervals to a recorded run.
func (s *SQLiteStore) RecordConnections(ctx context.Context, runID string, conns []Connection) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("look up run %s: %w", runID, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO connections (run_id, vehicle, base_station, start_time, end_time)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range conns {
		if _, err := stmt.ExecContext(ctx, runID, c.Vehicle, c.BaseStation, c.Start, c.End); err != nil {
			return fmt.Errorf("insert connection %s-%s: %w", c.Vehicle, c.BaseStation, err)
		}
	}
	return tx.Commit()
}

// Connections returns the intervals of a run ordered by vehicle and start.
func (s *SQLiteStore) Connections(ctx context.Context, runID string) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vehicle, base_station, start_time, end_time
		FROM connections
		WHERE run_id = ?
		ORDER BY vehicle, start_time, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.Vehicle, &c.BaseStation, &c.Start, &c.End); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Runs lists recorded runs, most recent first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, seed, started_at, stop_time, sim_time, events
		FROM runs
		ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started string
			events  int64
		)
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Seed, &started, &r.StopTime, &r.SimTime, &events); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at of run %s: %w", r.ID, err)
		}
		r.Events = uint64(events)
		out = append(out, r)
	}
	return out, rows.Err()
}
