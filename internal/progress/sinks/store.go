package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/progress"
	"github.com/JakeFAU/git-clone-worker/internal/store"
)

// StoreSink records job runs through a store.RunRepository.
type StoreSink struct {
	repo     store.RunRepository
	workerID string
	logger   *zap.Logger
}

// NewStoreSink constructs a StoreSink that stamps rows with workerID.
func NewStoreSink(repo store.RunRepository, workerID string, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, workerID: workerID, logger: logger}
}

// Consume writes start rows and completions in batch order. The first
// repository error aborts the batch and is returned to the hub.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		err := s.repo.UpsertRunStart(ctx, store.Run{
			JobID:     evt.JobID,
			RunID:     evt.RunID,
			Repo:      evt.Repo,
			WorkerID:  s.workerID,
			StartedAt: evt.TS,
			Status:    store.RunRunning,
		})
		if err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageJobDone, progress.StageJobError:
		if err := s.repo.CompleteRun(ctx, evt.JobID, evt.RunID, completion(evt)); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func completion(evt progress.Event) store.Completion {
	done := store.Completion{
		FinishedAt: evt.TS,
		Status:     store.RunCompleted,
	}
	if evt.Stage == progress.StageJobError {
		reason := evt.Reason
		done.Status = store.RunFailed
		done.Reason = &reason
		done.Fatal = evt.Fatal
	}
	if evt.Bytes > 0 {
		size := evt.Bytes
		done.SizeBytes = &size
	}
	return done
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
