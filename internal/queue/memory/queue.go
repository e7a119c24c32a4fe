// Package memory provides an in-process coordinator for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
)

// Report records one outcome delivered to the coordinator.
type Report struct {
	Job     clone.Job
	Outcome clone.Outcome
}

type entry struct {
	job      clone.Job
	attempts int
}

// Coordinator is a bounded in-memory job collection with claim and report
// semantics. Status changes are published on Changes; when the buffer is full
// the change is dropped, as a live subscription may drop updates.
type Coordinator struct {
	mu         sync.Mutex
	jobs       map[string]*entry
	order      []string
	reports    []Report
	maxRetries int
	seq        int
	changes    chan clone.Change
}

// NewCoordinator constructs a Coordinator. maxRetries bounds how many times a
// non-fatal failure returns a job to ready.
func NewCoordinator(maxRetries, changeBuffer int) *Coordinator {
	if changeBuffer <= 0 {
		changeBuffer = 16
	}
	return &Coordinator{
		jobs:       make(map[string]*entry),
		maxRetries: maxRetries,
		changes:    make(chan clone.Change, changeBuffer),
	}
}

// Add inserts a ready job for repo and returns its id.
func (c *Coordinator) Add(repo string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := fmt.Sprintf("job-%d", c.seq)
	raw, _ := json.Marshal(map[string]string{"name": repo})
	c.jobs[id] = &entry{job: clone.Job{
		ID:     id,
		Type:   "clone",
		Status: clone.JobStatusReady,
		Data:   clone.Payload{Name: repo, Raw: raw},
	}}
	c.order = append(c.order, id)
	c.publish(id, clone.JobStatusReady)
	return id
}

// Claim flips the oldest ready job to running. It returns nil when none is ready.
func (c *Coordinator) Claim(ctx context.Context) (*clone.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("claim canceled: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		e := c.jobs[id]
		if e.job.Status != clone.JobStatusReady {
			continue
		}
		e.attempts++
		e.job.Status = clone.JobStatusRunning
		e.job.RunID = fmt.Sprintf("%s-run-%d", id, e.attempts)
		c.publish(id, clone.JobStatusRunning)
		job := e.job
		return &job, nil
	}
	return nil, nil
}

// Report records the outcome for a running job.
func (c *Coordinator) Report(ctx context.Context, job clone.Job, outcome clone.Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("report canceled: %w", err)
	}
	if !outcome.Valid() {
		return fmt.Errorf("invalid outcome %s", outcome)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}
	if e.job.Status != clone.JobStatusRunning || e.job.RunID != job.RunID {
		return fmt.Errorf("job %s run %s is not running", job.ID, job.RunID)
	}
	c.reports = append(c.reports, Report{Job: job, Outcome: outcome})

	switch {
	case outcome.Kind == clone.OutcomeCompleted:
		e.job.Status = clone.JobStatusCompleted
	case !outcome.Fatal && e.attempts <= c.maxRetries:
		e.job.Status = clone.JobStatusReady
	default:
		e.job.Status = clone.JobStatusFailed
	}
	c.publish(job.ID, e.job.Status)
	return nil
}

// Status returns the current status of a job.
func (c *Coordinator) Status(id string) (clone.JobStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[id]
	if !ok {
		return "", false
	}
	return e.job.Status, true
}

// Reports returns a copy of the recorded outcome reports.
func (c *Coordinator) Reports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Report, len(c.reports))
	copy(out, c.reports)
	return out
}

// Changes streams status changes for every job.
func (c *Coordinator) Changes() <-chan clone.Change {
	return c.changes
}

// publish must be called with mu held.
func (c *Coordinator) publish(id string, status clone.JobStatus) {
	select {
	case c.changes <- clone.Change{ID: id, Status: status}:
	default:
	}
}
