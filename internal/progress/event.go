package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart Stage = "JOB_START"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
)

// Event captures a single job lifecycle milestone.
type Event struct {
	// JobID is the coordinator's job identifier.
	JobID string
	// RunID identifies this particular run of the job.
	RunID string
	// Repo is the repository name from the job payload.
	Repo string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Bytes carries the measured checkout footprint, if any.
	Bytes int64
	// Dur is the wall time from job start, set on terminal stages.
	Dur time.Duration
	// Reason is the failure reason reported to the coordinator.
	Reason string
	// Fatal marks failures the coordinator must not retry.
	Fatal bool
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone:
	case StageJobError:
		if e.Reason == "" {
			return errors.New("job error requires reason")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a run.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone || e.Stage == StageJobError
}
