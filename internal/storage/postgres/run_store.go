// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/git-clone-worker/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for job run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore creates a RunStore backed by a new pgx pool.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool wraps an existing pool; tests pass a pgxmock pool here.
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "job_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// UpsertRunStart inserts the running row for a job run.
func (s *RunStore) UpsertRunStart(ctx context.Context, run store.Run) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, run_id, repo, worker_id, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, run_id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE %s.finished_at IS NULL;
	`, s.table, s.table)
	_, err := s.pool.Exec(ctx, query, run.JobID, run.RunID, run.Repo, run.WorkerID, run.StartedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(ctx context.Context, jobID, runID string, done store.Completion) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, reason = $3, fatal = $4, size_bytes = $5
		WHERE job_id = $6 AND run_id = $7;
	`, s.table)
	tag, err := s.pool.Exec(ctx, query, done.FinishedAt, done.Status, done.Reason, done.Fatal, done.SizeBytes, jobID, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run.
func (s *RunStore) GetRun(ctx context.Context, jobID, runID string) (store.Run, error) {
	query := fmt.Sprintf(`
		SELECT job_id, run_id, repo, worker_id, started_at, finished_at, status, reason, fatal, size_bytes
		FROM %s
		WHERE job_id = $1 AND run_id = $2;
	`, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, jobID, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`
		SELECT job_id, run_id, repo, worker_id, started_at, finished_at, status, reason, fatal, size_bytes
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, s.table)
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.JobID,
		&run.RunID,
		&run.Repo,
		&run.WorkerID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Reason,
		&run.Fatal,
		&run.SizeBytes,
	)
	return run, err
}
