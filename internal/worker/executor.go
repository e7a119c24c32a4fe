// Package worker runs a single clone job from fetch to terminal outcome.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
	"github.com/JakeFAU/git-clone-worker/internal/logging"
	"github.com/JakeFAU/git-clone-worker/internal/progress"
)

// Config controls Executor behavior.
type Config struct {
	// BasePath is the directory checkouts are created under.
	BasePath string
	// SizeLimitBytes is the largest accepted checkout; larger ones are removed.
	SizeLimitBytes int64
	// Topic receives outcome notifications when a Publisher is wired.
	Topic string
	// ManifestPrefix is prepended to manifest object paths.
	ManifestPrefix string
	// WorkerID is stamped on notifications.
	WorkerID string
}

// Dependencies groups the collaborators an Executor needs. Fetcher, Estimator
// and Clock are required; the rest are optional.
type Dependencies struct {
	Fetcher   clone.Fetcher
	Estimator clone.SizeEstimator
	Clock     clone.Clock
	Progress  progress.Emitter
	Publisher clone.Publisher
	Manifests clone.BlobStore
}

// Executor implements clone.Executor.
type Executor struct {
	fetcher   clone.Fetcher
	estimator clone.SizeEstimator
	clock     clone.Clock
	progress  progress.Emitter
	publisher clone.Publisher
	manifests clone.BlobStore
	remove    func(string) error
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Executor.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Executor, error) {
	if deps.Fetcher == nil || deps.Estimator == nil || deps.Clock == nil {
		return nil, errors.New("fetcher, estimator and clock are required")
	}
	if strings.TrimSpace(cfg.BasePath) == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.SizeLimitBytes <= 0 {
		return nil, errors.New("size limit must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		fetcher:   deps.Fetcher,
		estimator: deps.Estimator,
		clock:     deps.Clock,
		progress:  deps.Progress,
		publisher: deps.Publisher,
		manifests: deps.Manifests,
		remove:    os.RemoveAll,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Execute fetches the job's repository, measures it, and decides exactly one
// outcome. It never reports upstream; the caller owns the report.
func (e *Executor) Execute(ctx context.Context, job clone.Job) clone.Outcome {
	started := e.clock.Now()
	log := logging.WithJob(e.logger, job)
	log.Info("starting job")
	e.emit(job, progress.Event{TS: started, Stage: progress.StageJobStart})

	outcome, fetchedAt := e.run(ctx, job, log)
	if ctx.Err() != nil {
		// The runner drops the report for a cancelled job, so nothing
		// downstream may record it as finished either.
		log.Warn("abandoning job", zap.Stringer("outcome", outcome), zap.Error(ctx.Err()))
		return outcome
	}

	finished := e.clock.Now()
	evt := progress.Event{
		TS:    finished,
		Stage: progress.StageJobDone,
		Bytes: outcome.Bytes,
		Dur:   finished.Sub(started),
	}
	if outcome.Kind == clone.OutcomeFailed {
		evt.Stage = progress.StageJobError
		evt.Reason = outcome.Reason
		evt.Fatal = outcome.Fatal
	}
	e.emit(job, evt)

	if outcome.Kind == clone.OutcomeCompleted {
		e.writeManifest(ctx, job, outcome, fetchedAt, log)
	}
	e.notify(ctx, job, outcome, finished, log)
	log.Debug("job executed", zap.Stringer("outcome", outcome), zap.Duration("dur", evt.Dur))
	return outcome
}

func (e *Executor) run(ctx context.Context, job clone.Job, log *zap.Logger) (clone.Outcome, time.Time) {
	checkout, err := e.fetcher.Fetch(ctx, job.Data.Name, e.cfg.BasePath)
	if err != nil {
		log.Info("skipping job, fetch failed", zap.Error(err))
		return clone.Failed(clone.ReasonExists, false), time.Time{}
	}
	fetchedAt := e.clock.Now()

	size, err := e.estimator.Size(checkout)
	if err != nil {
		// "size check" is specific to this worker. It stays non-fatal so the
		// coordinator may retry the job.
		log.Error("size estimation failed", zap.String("path", checkout), zap.Error(err))
		e.discard(checkout, log)
		return clone.Failed(clone.ReasonSizeCheck, false), fetchedAt
	}
	if size > e.cfg.SizeLimitBytes {
		log.Info("done, checkout too large",
			zap.Int64("bytes", size),
			zap.Int64("limit", e.cfg.SizeLimitBytes),
		)
		e.discard(checkout, log)
		outcome := clone.Failed(clone.ReasonSizeLimit, true)
		outcome.Bytes = size
		return outcome, fetchedAt
	}
	log.Info("done", zap.Int64("bytes", size))
	return clone.Completed(size), fetchedAt
}

// discard removes a checkout once. Failure is logged and never retried.
func (e *Executor) discard(checkout string, log *zap.Logger) {
	if err := e.remove(checkout); err != nil {
		log.Warn("remove checkout failed", zap.String("path", checkout), zap.Error(err))
	}
}

func (e *Executor) emit(job clone.Job, evt progress.Event) {
	if e.progress == nil {
		return
	}
	evt.JobID = job.ID
	evt.RunID = job.RunID
	evt.Repo = job.Data.Name
	e.progress.Emit(evt)
}

// Manifest describes an accepted checkout.
type Manifest struct {
	Repo      string    `json:"repo"`
	JobID     string    `json:"job_id"`
	RunID     string    `json:"run_id"`
	Bytes     int64     `json:"bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ManifestPath returns the object path for a repository's manifest.
func ManifestPath(prefix, repo string) string {
	name := repo + ".json"
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func (e *Executor) writeManifest(
	ctx context.Context,
	job clone.Job,
	outcome clone.Outcome,
	fetchedAt time.Time,
	log *zap.Logger,
) {
	if e.manifests == nil {
		return
	}
	data, err := json.Marshal(Manifest{
		Repo:      job.Data.Name,
		JobID:     job.ID,
		RunID:     job.RunID,
		Bytes:     outcome.Bytes,
		FetchedAt: fetchedAt,
	})
	if err != nil {
		log.Error("encode manifest failed", zap.Error(err))
		return
	}
	uri, err := e.manifests.PutObject(ctx, ManifestPath(e.cfg.ManifestPrefix, job.Data.Name), "application/json", data)
	if err != nil {
		log.Error("write manifest failed", zap.Error(err))
		return
	}
	log.Debug("manifest written", zap.String("uri", uri))
}

// Notification is the message published for each decided outcome.
type Notification struct {
	JobID     string    `json:"job_id"`
	RunID     string    `json:"run_id"`
	Repo      string    `json:"repo"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Fatal     bool      `json:"fatal"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Executor) notify(ctx context.Context, job clone.Job, outcome clone.Outcome, at time.Time, log *zap.Logger) {
	if e.publisher == nil {
		return
	}
	msg := Notification{
		JobID:     job.ID,
		RunID:     job.RunID,
		Repo:      job.Data.Name,
		Outcome:   outcome.Kind.String(),
		Reason:    outcome.Reason,
		Fatal:     outcome.Fatal,
		SizeBytes: outcome.Bytes,
		WorkerID:  e.cfg.WorkerID,
		Timestamp: at,
	}
	id, err := e.publisher.Publish(ctx, e.cfg.Topic, msg)
	if err != nil {
		log.Warn("publish notification failed", zap.Error(fmt.Errorf("topic %s: %w", e.cfg.Topic, err)))
		return
	}
	log.Debug("notification published", zap.String("message_id", id))
}
