package clone

import (
	"context"
	"time"
)

// Fetcher materializes a repository checkout under basePath/<name>.
type Fetcher interface {
	Fetch(ctx context.Context, name string, basePath string) (string, error)
}

// SizeEstimator measures the on-disk footprint of a directory tree.
type SizeEstimator interface {
	Size(root string) (int64, error)
}

// Coordinator is the worker's view of the remote job coordinator.
type Coordinator interface {
	// Claim returns the next ready job, or nil when none is available.
	Claim(ctx context.Context) (*Job, error)
	// Report delivers exactly one terminal outcome for a claimed job.
	Report(ctx context.Context, job Job, outcome Outcome) error
}

// Executor runs a claimed job to a terminal outcome.
type Executor interface {
	Execute(ctx context.Context, job Job) Outcome
}

// Triggerer is anything that can be nudged to claim immediately.
type Triggerer interface {
	Trigger()
}

// Publisher pushes outcome notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes small artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
