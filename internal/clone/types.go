// Package clone defines core types shared across the clone worker subsystems.
package clone

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCheckoutExists is returned by a Fetcher when the destination directory is already present.
var ErrCheckoutExists = errors.New("checkout already exists")

// JobStatus is the coordinator-owned lifecycle state of a job.
type JobStatus string

// Job status values used by the coordinator.
const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusReady     JobStatus = "ready"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Payload is the job data. Name is the repository identifier; every other field
// the coordinator sent is kept in Raw and never interpreted here.
type Payload struct {
	Name string
	Raw  json.RawMessage
}

// UnmarshalJSON keeps the full document alongside the decoded name.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var fields struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	p.Name = fields.Name
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original document when present.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	data, err := json.Marshal(map[string]string{"name": p.Name})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Job is the worker's read-only snapshot of a claimed job.
type Job struct {
	ID     string    `json:"_id"`
	RunID  string    `json:"runId"`
	Type   string    `json:"type"`
	Status JobStatus `json:"status"`
	Data   Payload   `json:"data"`
}

// OutcomeKind separates completed jobs from failed ones.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeCompleted OutcomeKind = iota + 1
	OutcomeFailed
)

// String implements fmt.Stringer.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Failure reasons reported to the coordinator.
const (
	ReasonExists    = "exist"
	ReasonSizeLimit = "size limit"
	ReasonSizeCheck = "size check"
)

// Outcome is the single terminal result of executing one job. The zero value is
// not a valid outcome; use Completed or Failed.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Fatal  bool
	// Bytes is the measured checkout footprint, when one was measured.
	Bytes int64
}

// Completed returns a successful outcome.
func Completed(bytes int64) Outcome {
	return Outcome{Kind: OutcomeCompleted, Bytes: bytes}
}

// Failed returns a failed outcome. Fatal failures must not be retried by the coordinator.
func Failed(reason string, fatal bool) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Fatal: fatal}
}

// Valid reports whether the outcome was built through Completed or Failed.
func (o Outcome) Valid() bool {
	switch o.Kind {
	case OutcomeCompleted:
		return true
	case OutcomeFailed:
		return o.Reason != ""
	default:
		return false
	}
}

// String renders the outcome for logs.
func (o Outcome) String() string {
	if o.Kind == OutcomeFailed {
		return fmt.Sprintf("failed(%s, fatal=%t)", o.Reason, o.Fatal)
	}
	return o.Kind.String()
}

// Change is a status observation from the live job collection. Additions and
// changes are both delivered as a Change carrying the resulting status.
type Change struct {
	ID     string
	Status JobStatus
}
