package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/git-clone-worker/internal/progress"
	"github.com/JakeFAU/git-clone-worker/internal/store"
)

// TestStoreSinkPersistsEvents ensures start rows and completions reach the repository.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, "worker-a", nil)
	now := time.Now()

	batch := []progress.Event{
		{JobID: "j1", RunID: "r1", Repo: "octo/a", Stage: progress.StageJobStart, TS: now},
		{JobID: "j1", RunID: "r1", Repo: "octo/a", Stage: progress.StageJobDone, TS: now.Add(time.Second), Bytes: 2048},
		{JobID: "j2", RunID: "r2", Repo: "octo/b", Stage: progress.StageJobStart, TS: now},
		{
			JobID: "j2", RunID: "r2", Repo: "octo/b", Stage: progress.StageJobError,
			TS: now.Add(time.Second), Reason: "size limit", Fatal: true, Bytes: 600 * 1024,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 2)
	require.Equal(t, "worker-a", repo.starts[0].WorkerID)
	require.Equal(t, store.RunRunning, repo.starts[0].Status)
	require.Len(t, repo.completes, 2)

	ok := repo.completes[0]
	require.Equal(t, store.RunCompleted, ok.Status)
	require.Nil(t, ok.Reason)
	require.Equal(t, int64(2048), *ok.SizeBytes)

	failed := repo.completes[1]
	require.Equal(t, store.RunFailed, failed.Status)
	require.Equal(t, "size limit", *failed.Reason)
	require.True(t, failed.Fatal)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeRunRepo{fail: true}, "worker-a", nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "j1", RunID: "r1", Stage: progress.StageJobStart, TS: time.Now()},
	})
	require.Error(t, err)
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, "", nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{JobID: "j"}}))
}

func TestLogSinkConsumes(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j1", Stage: progress.StageJobError, Reason: "exist", TS: time.Now()},
	}))
	require.NoError(t, sink.Close(context.Background()))
}

type fakeRunRepo struct {
	fail      bool
	starts    []store.Run
	completes []store.Completion
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, run store.Run) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, _, _ string, done store.Completion) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, done)
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, string, string) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
