package coordinator

import (
	"context"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
	"github.com/JakeFAU/git-clone-worker/internal/ddp"
)

// Statuses converts mirrored collection updates into job status changes.
// Added records report their status; changed records report one only when the
// update touched the status field. The output closes when in closes or ctx ends.
func Statuses(ctx context.Context, in <-chan ddp.Change, collection string) <-chan clone.Change {
	out := make(chan clone.Change, cap(in))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-in:
				if !ok {
					return
				}
				status, ok := statusOf(change, collection)
				if !ok {
					continue
				}
				select {
				case out <- clone.Change{ID: change.ID, Status: status}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func statusOf(change ddp.Change, collection string) (clone.JobStatus, bool) {
	if change.Collection != collection {
		return "", false
	}
	var (
		status string
		ok     bool
	)
	switch change.Kind {
	case ddp.Added:
		status, ok = ddp.String(change.Doc, "status")
	case ddp.Changed:
		status, ok = ddp.String(change.Fields, "status")
	}
	return clone.JobStatus(status), ok
}
