// Package queue runs the single-slot claim loop that feeds jobs from the
// coordinator to the executor.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
	"github.com/JakeFAU/git-clone-worker/internal/logging"
	"github.com/JakeFAU/git-clone-worker/internal/metrics"
)

// DefaultPollInterval is the idle re-claim period when no trigger arrives.
const DefaultPollInterval = 30 * time.Second

// Config controls Runner behavior.
type Config struct {
	// PollInterval is how often an idle runner claims on its own.
	PollInterval time.Duration
}

// Runner claims one job at a time, executes it, and reports its outcome
// before claiming again. Trigger may be called from any goroutine.
type Runner struct {
	coord  clone.Coordinator
	exec   clone.Executor
	cfg    Config
	logger *zap.Logger

	trigger   chan struct{}
	drain     chan struct{}
	drainOnce sync.Once
	done      chan struct{}
	startOnce sync.Once
}

// New constructs a Runner.
func New(coord clone.Coordinator, exec clone.Executor, cfg Config, logger *zap.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		coord:   coord,
		exec:    exec,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		drain:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Trigger requests an immediate claim attempt. Requests made while a claim
// is pending or a job is running collapse into one.
func (r *Runner) Trigger() {
	metrics.ObserveTrigger()
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Drain stops new claims. A job already running is finished and reported.
func (r *Runner) Drain() {
	r.drainOnce.Do(func() { close(r.drain) })
}

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Run blocks, claiming and executing jobs until Drain is called or ctx ends.
// It may only be called once.
func (r *Runner) Run(ctx context.Context) error {
	started := false
	r.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("runner already started")
	}
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if r.stopping(ctx) {
			return nil
		}
		if r.cycle(ctx) {
			// Drain any backlog before going idle.
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-r.drain:
			return nil
		case <-r.trigger:
		case <-ticker.C:
		}
	}
}

func (r *Runner) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-r.drain:
		return true
	default:
		return false
	}
}

// cycle performs one claim and, when a job is returned, executes and reports
// it. It returns true when a job was processed.
func (r *Runner) cycle(ctx context.Context) bool {
	job, err := r.coord.Claim(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("claim failed", zap.Error(err))
		}
		metrics.ObserveClaim(metrics.ClaimError)
		return false
	}
	if job == nil {
		metrics.ObserveClaim(metrics.ClaimEmpty)
		return false
	}
	metrics.ObserveClaim(metrics.ClaimJob)

	log := logging.WithJob(r.logger, *job)
	log.Info("job claimed")

	outcome := r.exec.Execute(ctx, *job)
	if ctx.Err() != nil {
		// Hard stop: the coordinator's work timeout reclaims the job.
		log.Warn("abandoning job without report", zap.Stringer("outcome", outcome))
		return true
	}
	if err := r.coord.Report(ctx, *job, outcome); err != nil {
		log.Error("report failed", zap.Stringer("outcome", outcome), zap.Error(err))
		metrics.ObserveReport(outcome.Kind.String(), false)
		return true
	}
	metrics.ObserveReport(outcome.Kind.String(), true)
	log.Info("job reported", zap.Stringer("outcome", outcome))
	return true
}
