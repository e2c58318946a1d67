// -----------------------------------------------------------------------
// Failed Queue
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marrowlane/qcore/internal/store"
)

// FailedQueue is a singleton queue named by the sentinel "failed" (the
// string form of the FAILED status). Spec.md §9 asks implementers to
// make this explicit as a distinct type rather than relying on string
// collision with a caller-chosen queue name.
type FailedQueue struct {
	q *Queue
}

// NewFailedQueue constructs the Failed Queue. logger and s are shared
// with every other queue in the process; options besides Name are
// inherited from template.
func NewFailedQueue(s store.Store, logger arbor.ILogger, template QueueOptions) (*FailedQueue, error) {
	q, err := NewQueue(s, logger, withQueueName(template, failedQueueName))
	if err != nil {
		return nil, err
	}
	return &FailedQueue{q: q}, nil
}

// Queue exposes the underlying Queue for enumeration (count, job_ids, …).
func (f *FailedQueue) Queue() *Queue { return f.q }

// Quarantine moves job to the failed queue, recording excInfo and
// ended_at. It enqueues via enqueue_job(set_meta_data=false) so that
// origin and enqueued_at are NOT overwritten — they must continue to
// identify the job's home queue (spec.md §4.6).
func (f *FailedQueue) Quarantine(ctx context.Context, job *Job, excInfo string) error {
	job.ExcInfo = excInfo
	job.EndedAt = time.Now()
	job.HasEndedAt = true
	job.Status = StatusFailed
	_, err := f.q.EnqueueJob(ctx, job, false)
	return err
}

// Requeue loads jobID (silently no-opping if missing), removes it from
// the failed queue — failing with InvalidJobOperation if it was not
// present, signifying a non-failed job — clears exc_info, sets status
// QUEUED, and enqueues it into the queue named by origin (spec.md
// §4.6). Following original_source/rq's FailedQueue.requeue: requeuing
// a job ID with no backing record silently removes the ID and returns,
// rather than erroring.
func (f *FailedQueue) Requeue(ctx context.Context, logger arbor.ILogger, jobID string, template QueueOptions) (*Job, error) {
	job, err := LoadJob(ctx, f.q.store, jobID)
	if err != nil {
		if isNoSuchJob(err) {
			if _, remErr := f.q.Remove(ctx, jobID); remErr != nil {
				return nil, remErr
			}
			return nil, nil
		}
		return nil, err
	}

	removed, err := f.q.Remove(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, &InvalidJobOperationError{Op: "requeue", JobID: jobID, Status: job.Status}
	}

	job.ExcInfo = ""
	job.Status = StatusQueued

	origin, err := NewQueue(f.q.store, logger, withQueueName(template, job.Origin))
	if err != nil {
		return nil, err
	}
	if _, err := origin.EnqueueJob(ctx, job, true); err != nil {
		return nil, err
	}
	return job, nil
}
