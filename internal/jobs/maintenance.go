package jobs

import (
	"context"
	"fmt"
)

// RemoteCanceler asks the worker to stop a job by its remote id.
type RemoteCanceler func(ctx context.Context, remoteID string) error

// CancelOrphans cancels every job still queued or running. Such rows can only
// exist after a crash, since sessions always settle their job before
// returning. Remote cancellation is best-effort: failures are collected and
// the row is still marked cancelled.
func (s *Store) CancelOrphans(ctx context.Context, cancel RemoteCanceler) (int, []error) {
	active, err := s.Active(ctx)
	if err != nil {
		return 0, []error{err}
	}

	var errs []error
	count := 0
	for _, job := range active {
		if cancel != nil && job.RemoteID != "" {
			if err := cancel(ctx, job.RemoteID); err != nil {
				errs = append(errs, fmt.Errorf("cancel remote job %s: %w", job.RemoteID, err))
			}
		}
		if err := s.Transition(ctx, job.ID, StatusCancelled, OrphanReason); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errs
}
