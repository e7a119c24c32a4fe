package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/git-clone-worker/internal/store"
)

func newMockStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func TestNewRunStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewRunStoreWithPool(nil, "job_runs")
	require.Error(t, err)

	s, err := NewRunStoreWithPool(mock, "clone_runs")
	require.NoError(t, err)
	require.Equal(t, "clone_runs", s.table)
}

func TestNewRunStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewRunStore(context.Background(), RunStoreConfig{})
	require.Error(t, err)
}

func TestUpsertRunStart(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	started := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs("job-1", "run-1", "octo/hello", "worker-a", started, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRunStart(context.Background(), store.Run{
		JobID:     "job-1",
		RunID:     "run-1",
		Repo:      "octo/hello",
		WorkerID:  "worker-a",
		StartedAt: started,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	finished := time.Unix(1700000100, 0).UTC()
	reason := "size limit"
	size := int64(600 * 1024)
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(finished, store.RunFailed, &reason, true, &size, "job-1", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteRun(context.Background(), "job-1", "run-1", store.Completion{
		FinishedAt: finished,
		Status:     store.RunFailed,
		Reason:     &reason,
		Fatal:      true,
		SizeBytes:  &size,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunMissingRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE job_runs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "job-1", "run-1", store.Completion{Status: store.RunCompleted})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompleteRunExecError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE job_runs").WillReturnError(errors.New("conn reset"))

	err := s.CompleteRun(context.Background(), "job-1", "run-1", store.Completion{Status: store.RunCompleted})
	require.ErrorContains(t, err, "conn reset")
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	started := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"job_id", "run_id", "repo", "worker_id", "started_at", "finished_at", "status", "reason", "fatal", "size_bytes",
	}).AddRow("job-1", "run-1", "octo/hello", "worker-a", started, (*time.Time)(nil), store.RunRunning,
		(*string)(nil), false, (*int64)(nil))
	mock.ExpectQuery("SELECT job_id, run_id").WithArgs("job-1", "run-1").WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "job-1", "run-1")
	require.NoError(t, err)
	require.Equal(t, "octo/hello", run.Repo)
	require.Equal(t, store.RunRunning, run.Status)
	require.Nil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT job_id, run_id").WithArgs("job-1", "run-1").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "job-1", "run-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	reason := "exist"
	rows := pgxmock.NewRows([]string{
		"job_id", "run_id", "repo", "worker_id", "started_at", "finished_at", "status", "reason", "fatal", "size_bytes",
	}).
		AddRow("job-2", "run-2", "octo/b", "worker-a", started, &finished, store.RunFailed, &reason, false, (*int64)(nil)).
		AddRow("job-1", "run-1", "octo/a", "worker-a", started, &finished, store.RunFailed, &reason, false, (*int64)(nil))
	status := store.RunFailed
	mock.ExpectQuery("SELECT job_id, run_id").WithArgs(&status, 10, 0).WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "job-2", runs[0].JobID)
	require.Equal(t, "exist", *runs[1].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}
