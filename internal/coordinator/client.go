// Package coordinator speaks the job-collection method protocol used by the
// remote job server: claim work, mark it done, or fail it.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
)

// Caller invokes a remote method. *ddp.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Config names the job collection and work parameters.
type Config struct {
	// Root is the job collection root; methods are named <root>_<method>.
	Root string
	// JobType is the job type this worker claims.
	JobType string
	// WorkTimeout is how long the server lets a claimed job run before it
	// considers the job abandoned.
	WorkTimeout time.Duration
	// CallTimeout bounds each method call.
	CallTimeout time.Duration
}

// ErrRejected is returned when the server answers a report with false.
var ErrRejected = errors.New("coordinator rejected report")

// Client implements clone.Coordinator over a Caller.
type Client struct {
	caller Caller
	cfg    Config
	logger *zap.Logger
}

// New constructs a Client.
func New(caller Caller, cfg Config, logger *zap.Logger) (*Client, error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}
	if cfg.Root == "" || cfg.JobType == "" {
		return nil, errors.New("root and job type are required")
	}
	if cfg.WorkTimeout <= 0 {
		cfg.WorkTimeout = 10 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{caller: caller, cfg: cfg, logger: logger}, nil
}

func (c *Client) method(name string) string {
	return c.cfg.Root + "_" + name
}

func (c *Client) call(ctx context.Context, name string, params ...any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	raw, err := c.caller.Call(ctx, c.method(name), params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return raw, nil
}

// Claim asks for one ready job. It returns nil when none is available.
func (c *Client) Claim(ctx context.Context) (*clone.Job, error) {
	raw, err := c.call(ctx, "getWork", c.cfg.JobType, map[string]any{
		"maxJobs":     1,
		"workTimeout": c.cfg.WorkTimeout.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var jobs []clone.Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, fmt.Errorf("decode getWork result: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	job := jobs[0]
	if job.ID == "" || job.RunID == "" {
		return nil, fmt.Errorf("claimed job missing id or run id: %q/%q", job.ID, job.RunID)
	}
	return &job, nil
}

// Done marks a claimed job completed.
func (c *Client) Done(ctx context.Context, job clone.Job) error {
	raw, err := c.call(ctx, "jobDone", job.ID, job.RunID, map[string]any{}, map[string]any{})
	if err != nil {
		return err
	}
	return accepted(raw)
}

// Fail marks a claimed job failed. Fatal failures are not retried.
func (c *Client) Fail(ctx context.Context, job clone.Job, reason string, fatal bool) error {
	raw, err := c.call(ctx, "jobFail", job.ID, job.RunID,
		map[string]any{"reason": reason},
		map[string]any{"fatal": fatal},
	)
	if err != nil {
		return err
	}
	return accepted(raw)
}

// Report delivers a job's outcome through Done or Fail.
func (c *Client) Report(ctx context.Context, job clone.Job, outcome clone.Outcome) error {
	switch outcome.Kind {
	case clone.OutcomeCompleted:
		return c.Done(ctx, job)
	case clone.OutcomeFailed:
		if outcome.Reason == "" {
			return errors.New("failed outcome requires a reason")
		}
		return c.Fail(ctx, job, outcome.Reason, outcome.Fatal)
	default:
		return fmt.Errorf("invalid outcome %s", outcome)
	}
}

func accepted(raw json.RawMessage) error {
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		// Only an explicit false is a rejection.
		return nil
	}
	if !ok {
		return ErrRejected
	}
	return nil
}
