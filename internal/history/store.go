// Package history persists run summaries and their time series in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skobkin/freqpilot/internal/window"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER,
	actuator       TEXT NOT NULL,
	threshold_ms   REAL NOT NULL,
	window_seconds REAL NOT NULL,
	source         TEXT NOT NULL,
	state          TEXT,
	frames         INTEGER NOT NULL DEFAULT 0,
	avg_cpu_ms     REAL,
	avg_total_ms   REAL,
	last_cpu_hz    INTEGER,
	last_gpu_hz    INTEGER
);
CREATE TABLE IF NOT EXISTS samples (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	ts         INTEGER NOT NULL,
	cpu_hz     INTEGER NOT NULL,
	gpu_hz     INTEGER NOT NULL,
	fps        REAL NOT NULL,
	confidence REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_run_idx ON samples(run_id, ts);
`

// RunInfo describes a run when it starts.
type RunInfo struct {
	StartedAt   time.Time
	Actuator    string
	ThresholdMS float64
	Window      time.Duration
	Source      string
}

// Run is a stored run. The averages are nil for runs that captured no frames.
type Run struct {
	ID            uuid.UUID
	StartedAt     time.Time
	EndedAt       time.Time
	Actuator      string
	ThresholdMS   float64
	WindowSeconds float64
	Source        string
	State         string
	Frames        int
	AvgCPUMS      *float64
	AvgTotalMS    *float64
	LastCPUHz     int64
	LastGPUHz     int64
}

// Store wraps the history database.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	// A single connection keeps writes ordered and makes ":memory:" usable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history db %s: %s: %w", path, pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history db %s: apply schema: %w", path, err)
	}

	return &Store{db: db, path: path, logger: logger.With("component", "history")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close history db %s: %w", s.path, err)
	}
	return nil
}

// BeginRun inserts a run row and returns a recorder bound to it.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (*RunRecorder, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, actuator, threshold_ms, window_seconds, source) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), info.StartedAt.UnixMilli(), info.Actuator, info.ThresholdMS, info.Window.Seconds(), info.Source,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	s.logger.Debug("run started", "run_id", id)
	return &RunRecorder{store: s, id: id}, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, actuator, threshold_ms, window_seconds, source,
		       state, frames, avg_cpu_ms, avg_total_ms, last_cpu_hz, last_gpu_hz
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			id        string
			started   int64
			ended     sql.NullInt64
			state     sql.NullString
			avgCPU    sql.NullFloat64
			avgTotal  sql.NullFloat64
			lastCPUHz sql.NullInt64
			lastGPUHz sql.NullInt64
		)
		if err := rows.Scan(&id, &started, &ended, &run.Actuator, &run.ThresholdMS, &run.WindowSeconds,
			&run.Source, &state, &run.Frames, &avgCPU, &avgTotal, &lastCPUHz, &lastGPUHz); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		run.ID = parsed
		run.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			run.EndedAt = time.UnixMilli(ended.Int64).UTC()
		}
		run.State = state.String
		if avgCPU.Valid {
			run.AvgCPUMS = &avgCPU.Float64
		}
		if avgTotal.Valid {
			run.AvgTotalMS = &avgTotal.Float64
		}
		run.LastCPUHz = lastCPUHz.Int64
		run.LastGPUHz = lastGPUHz.Int64
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Samples returns the time series stored for a run in timestamp order.
func (s *Store) Samples(ctx context.Context, runID uuid.UUID) ([]window.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, cpu_hz, gpu_hz, fps, confidence FROM samples WHERE run_id = ? ORDER BY ts, rowid`,
		runID.String())
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []window.Row
	for rows.Next() {
		var (
			row window.Row
			ts  int64
		)
		if err := rows.Scan(&ts, &row.CPUHz, &row.GPUHz, &row.FPS, &row.Confidence); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		row.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

// RunRecorder writes the rows of a single run.
type RunRecorder struct {
	store    *Store
	id       uuid.UUID
	finished bool
}

// ID returns the run identifier.
func (r *RunRecorder) ID() uuid.UUID {
	return r.id
}

// WriteRow stores one time-series row.
func (r *RunRecorder) WriteRow(row window.Row) error {
	_, err := r.store.db.Exec(
		`INSERT INTO samples (run_id, ts, cpu_hz, gpu_hz, fps, confidence) VALUES (?, ?, ?, ?, ?, ?)`,
		r.id.String(), row.Timestamp.UnixMilli(), row.CPUHz, row.GPUHz, row.FPS, row.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Finish records how the run ended. summaryErr is the window finalize error; an empty
// window leaves the averages NULL.
func (r *RunRecorder) Finish(ended time.Time, state string, summary window.Summary, summaryErr error) error {
	if r.finished {
		return fmt.Errorf("run %s already finished", r.id)
	}
	r.finished = true

	var avgCPU, avgTotal any
	if summaryErr == nil {
		avgCPU, avgTotal = summary.AvgCPULatency, summary.AvgTotalLatency
	} else if !errors.Is(summaryErr, window.ErrEmptyWindow) {
		return fmt.Errorf("finish run %s: %w", r.id, summaryErr)
	}

	_, err := r.store.db.Exec(`
		UPDATE runs SET ended_at = ?, state = ?, frames = ?, avg_cpu_ms = ?, avg_total_ms = ?,
		       last_cpu_hz = ?, last_gpu_hz = ?
		WHERE id = ?`,
		ended.UnixMilli(), state, summary.Frames, avgCPU, avgTotal, summary.LastCPUHz, summary.LastGPUHz, r.id.String(),
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.id, err)
	}
	r.store.logger.Debug("run finished", "run_id", r.id, "state", state, "frames", summary.Frames)
	return nil
}

// Close closes the underlying store. The recorder owns it for the duration of a run.
func (r *RunRecorder) Close() error {
	return r.store.Close()
}
