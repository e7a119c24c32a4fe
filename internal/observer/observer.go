// Package observer wakes the work queue when a job becomes ready.
package observer

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
)

// Observer consumes job status changes and fires a trigger for each record
// whose status becomes ready. It never claims or mutates jobs.
type Observer struct {
	trigger clone.Triggerer
	logger  *zap.Logger
}

// New constructs an Observer.
func New(trigger clone.Triggerer, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{trigger: trigger, logger: logger}
}

// Run blocks until changes closes or ctx ends.
func (o *Observer) Run(ctx context.Context, changes <-chan clone.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				o.logger.Debug("change stream closed")
				return
			}
			if change.Status != clone.JobStatusReady {
				continue
			}
			o.logger.Debug("job ready, triggering queue", zap.String("job_id", change.ID))
			o.trigger.Trigger()
		}
	}
}
