// Package store persists finished jobs and their tile metrics in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/agbru/xenarch/internal/errors"
	"github.com/agbru/xenarch/internal/fractal"
	"github.com/agbru/xenarch/internal/logging"
	"github.com/agbru/xenarch/internal/orchestration"
	"github.com/agbru/xenarch/internal/ranking"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id       TEXT PRIMARY KEY,
	raster       TEXT NOT NULL,
	phase        TEXT NOT NULL,
	params_json  TEXT NOT NULL,
	summary_json TEXT NOT NULL,
	total_tiles  INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tile_metrics (
	job_id            TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	grid_id           TEXT NOT NULL,
	rank              INTEGER,
	valid             INTEGER NOT NULL,
	fractal_dimension REAL,
	r_squared         REAL,
	record_json       TEXT NOT NULL,
	PRIMARY KEY (job_id, grid_id)
);
CREATE INDEX IF NOT EXISTS idx_tile_metrics_rank ON tile_metrics(job_id, rank);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Job is the persisted header of a finished job.
type Job struct {
	JobID      string                  `json:"job_id"`
	Ref        string                  `json:"raster"`
	Phase      orchestration.Phase     `json:"phase"`
	Params     orchestration.JobParams `json:"params"`
	Summary    ranking.Summary         `json:"summary"`
	TotalTiles int                     `json:"total_tiles"`
	CreatedAt  time.Time               `json:"created_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

// Store is a SQLite-backed orchestration.ResultSink.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Persist stores a completed job, replacing any earlier copy of it.
func (s *Store) Persist(ctx context.Context, res orchestration.JobResult) error {
	params, err := json.Marshal(res.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, res.JobID); err != nil {
		return fmt.Errorf("replace job %s: %w", res.JobID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (job_id, raster, phase, params_json, summary_json, total_tiles, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.JobID, res.Ref, orchestration.Complete.String(), string(params), string(summary),
		len(res.Records), res.CreatedAt.UnixNano(), res.FinishedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert job %s: %w", res.JobID, err)
	}

	rank := make(map[string]int, len(res.Ranked))
	for i, r := range res.Ranked {
		rank[r.GridID] = i + 1
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tile_metrics (job_id, grid_id, rank, valid, fractal_dimension, r_squared, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tile insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range res.Records {
		doc, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.GridID, err)
		}
		var rk, fd, r2 any
		if n, ok := rank[r.GridID]; ok {
			rk = n
		}
		if r.Valid {
			fd, r2 = r.FractalDimension, r.RSquared
		}
		if _, err := stmt.ExecContext(ctx, res.JobID, r.GridID, rk, r.Valid, fd, r2, string(doc)); err != nil {
			return fmt.Errorf("insert %s: %w", r.GridID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job %s: %w", res.JobID, err)
	}
	s.logger.Debug("job persisted", logging.String("job_id", res.JobID), logging.Int("records", len(res.Records)))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		j                 Job
		phase             string
		params, summary   string
		created, finished int64
	)
	if err := row.Scan(&j.JobID, &j.Ref, &phase, &params, &summary, &j.TotalTiles, &created, &finished); err != nil {
		return Job{}, err
	}
	p, err := orchestration.ParsePhase(phase)
	if err != nil {
		return Job{}, err
	}
	j.Phase = p
	if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
		return Job{}, fmt.Errorf("decode params of %s: %w", j.JobID, err)
	}
	if err := json.Unmarshal([]byte(summary), &j.Summary); err != nil {
		return Job{}, fmt.Errorf("decode summary of %s: %w", j.JobID, err)
	}
	j.CreatedAt = time.Unix(0, created).UTC()
	j.FinishedAt = time.Unix(0, finished).UTC()
	return j, nil
}

const jobColumns = `job_id, raster, phase, params_json, summary_json, total_tiles, created_at, finished_at`

// LoadJob returns the header of a stored job, or NotFoundError.
func (s *Store) LoadJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, apperrors.NotFoundError{JobID: id}
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns up to limit stored jobs, most recently finished first.
// A non-positive limit returns all of them.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY finished_at DESC, job_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// LoadRanked returns the ranked records of a stored job in rank order.
func (s *Store) LoadRanked(ctx context.Context, id string) ([]fractal.MetricRecord, error) {
	return s.records(ctx, id, `SELECT record_json FROM tile_metrics WHERE job_id = ? AND rank IS NOT NULL ORDER BY rank`)
}

// LoadRecords returns every record of a stored job in grid id order.
func (s *Store) LoadRecords(ctx context.Context, id string) ([]fractal.MetricRecord, error) {
	return s.records(ctx, id, `SELECT record_json FROM tile_metrics WHERE job_id = ? ORDER BY grid_id`)
}

func (s *Store) records(ctx context.Context, id, query string) ([]fractal.MetricRecord, error) {
	if _, err := s.LoadJob(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query records of %s: %w", id, err)
	}
	defer rows.Close()

	out := []fractal.MetricRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var r fractal.MetricRecord
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a stored job and its records.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundError{JobID: id}
	}
	return nil
}

var _ orchestration.ResultSink = (*Store)(nil)
