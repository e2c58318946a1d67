// -----------------------------------------------------------------------
// Dependency & Deferral Protocol
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marrowlane/qcore/internal/store"
)

// enqueueCall implements spec.md §4.3's Path A/B/C dispatch: a child
// with no unresolved dependencies goes straight to enqueue_job (Path
// A) or, if deferred, to the Deferred Set (Path C); a child with
// dependencies is checked against each parent under a Store watch
// (Path B) and parked on the first unfinished one it finds.
//
// The source leaves origin/enqueued_at unset on a job that takes Path
// B (see Job.create in original_source/rq/job.py versus enqueue_job),
// which strands a later promotion with no queue to enqueue into. This
// port stamps origin/enqueued_at/timeout up front, before the
// dependency walk, so every path leaves the job able to name its own
// queue.
func (q *Queue) enqueueCall(ctx context.Context, job *Job, deferred bool) (*Job, error) {
	job.Origin = q.name
	job.EnqueuedAt = time.Now()
	if job.Timeout <= 0 {
		job.Timeout = q.defaultTimeout
	}

	for _, parentID := range job.Dependencies {
		parked, err := parkOnParentIfUnfinished(ctx, q.store, job, parentID)
		if err != nil {
			return nil, err
		}
		if parked {
			return job, nil
		}
	}

	if deferred {
		return q.deferJob(ctx, job)
	}
	return q.EnqueueJob(ctx, job, true)
}

// deferJob implements Path C: the job is added to the Deferred Set,
// given status DEFERRED, and stamped with origin/enqueued_at/timeout,
// but never enqueued.
func (q *Queue) deferJob(ctx context.Context, job *Job) (*Job, error) {
	job.Status = StatusDeferred
	job.Origin = q.name
	job.EnqueuedAt = time.Now()
	if job.Timeout <= 0 {
		job.Timeout = q.defaultTimeout
	}
	if err := job.Save(ctx, q.store); err != nil {
		return nil, err
	}
	if err := q.store.SAdd(ctx, keyDeferred, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// parkOnParentIfUnfinished runs Path B's per-parent check under a
// Store watch guarded by the parent's record key: if the parent is
// not FINISHED, child is registered on the parent's reverse-dependency
// set and persisted with its current (non-QUEUED) status, and parked
// is true. If the parent is already FINISHED, parked is false and the
// caller should move on to the next parent. A concurrent writer
// invalidating the read is handled transparently by store.Store.Watch
// retrying the whole closure.
func parkOnParentIfUnfinished(ctx context.Context, s store.Store, child *Job, parentID string) (bool, error) {
	parked := false
	err := s.Watch(ctx, []string{jobKey(parentID)}, func(tx store.Tx) error {
		parked = false
		fields, err := tx.Get(jobKey(parentID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NoSuchJobError{JobID: parentID}
			}
			return err
		}

		if Status(fields["status"]) == StatusFinished {
			return nil
		}

		if err := tx.SAdd(dependentsKey(parentID), child.ID); err != nil {
			return err
		}
		if err := tx.Set(jobKey(child.ID), child.toFields()); err != nil {
			return err
		}
		parked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return parked, nil
}

// ReleaseJob is the external entry point for promoting a deferred job
// (spec.md §4.3). It resolves the job, validates it is DEFERRED,
// atomically removes it from the Deferred Set, enqueues it into the
// target queue (the supplied queue, or the one named by its origin),
// and promotes any of the released job's own reverse-dependents that
// are now fully unblocked (§9 Open Question 1: the source leaves this
// cascade unreachable; this core implements it).
func ReleaseJob(ctx context.Context, s store.Store, logger arbor.ILogger, jobID string, target *Queue, template QueueOptions) (*Job, error) {
	job, err := LoadJob(ctx, s, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusDeferred {
		return nil, &InvalidJobOperationError{Op: "release_job", JobID: jobID, Status: job.Status}
	}

	removed, err := s.SRem(ctx, keyDeferred, jobID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, &NoSuchJobError{JobID: jobID}
	}

	if target == nil {
		t, err := NewQueue(s, logger, withQueueName(template, job.Origin))
		if err != nil {
			return nil, err
		}
		target = t
	}

	job.Status = StatusQueued
	if _, err := target.EnqueueJob(ctx, job, true); err != nil {
		return nil, err
	}

	if err := drainDependents(ctx, s, logger, job.ID, template); err != nil {
		return nil, err
	}

	return job, nil
}

// EnqueueDependents is called by the worker upon successful completion
// of parent. It drains parent's reverse-dependency set one ID at a
// time; for each child it verifies all OTHER parents are FINISHED and,
// if so, enqueues it on the queue named by its origin (spec.md §4.3;
// §9 Open Question 2: the multi-parent check is mandatory here).
func EnqueueDependents(ctx context.Context, s store.Store, logger arbor.ILogger, parent *Job, template QueueOptions) error {
	return drainDependents(ctx, s, logger, parent.ID, template)
}

func drainDependents(ctx context.Context, s store.Store, logger arbor.ILogger, parentID string, template QueueOptions) error {
	for {
		childID, ok, err := s.SPop(ctx, dependentsKey(parentID))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := promoteChildIfReady(ctx, s, logger, childID, template); err != nil {
			return err
		}
	}
}

// promoteChildIfReady loads child, walks its full recorded parent set,
// and either re-parks it on the first still-unfinished parent it finds
// (so that parent's own completion drain will retry it later) or, if
// every parent is FINISHED, sets its status to QUEUED and enqueues it
// on the queue named by its origin.
func promoteChildIfReady(ctx context.Context, s store.Store, logger arbor.ILogger, childID string, template QueueOptions) error {
	child, err := LoadJob(ctx, s, childID)
	if err != nil {
		if isNoSuchJob(err) {
			logger.Warn().Str("job_id", childID).Msg("queue: dropping stale dependent id during promotion")
			return nil
		}
		return err
	}

	for _, parentID := range child.Dependencies {
		parked, err := parkOnParentIfUnfinished(ctx, s, child, parentID)
		if err != nil {
			return err
		}
		if parked {
			return nil
		}
	}

	child.Status = StatusQueued
	originQueue, err := NewQueue(s, logger, withQueueName(template, child.Origin))
	if err != nil {
		return err
	}
	_, err = originQueue.EnqueueJob(ctx, child, true)
	return err
}

func withQueueName(template QueueOptions, name string) QueueOptions {
	opts := template
	opts.Name = name
	return opts
}
