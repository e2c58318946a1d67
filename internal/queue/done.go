// -----------------------------------------------------------------------
// Done Queue
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"time"

	"github.com/marrowlane/qcore/internal/store"
)

// DoneQueue is the companion sorted set per parent Queue recording
// successfully completed job IDs, scored by a now-plus-duration
// deadline like WIPQueue (here the duration is the job's result TTL),
// used for TTL-governed
// retention of results (spec.md §4.5).
//
// DoneQueue.requeue_job is deliberately NOT implemented here: spec.md
// §9 Open Question 3 flags it as unimplemented in the source and
// explicitly out of scope, future work if ever needed.
type DoneQueue struct {
	queueName string
	store     store.Store
}

type doneQueue = DoneQueue

func (d *DoneQueue) key() string { return kindDone.keyFor(d.queueName) }

// AddJob records jobID as completed, with a retention deadline of
// now + resultTTL.
func (d *DoneQueue) AddJob(ctx context.Context, jobID string, resultTTL time.Duration) error {
	if err := registerDoneQueue(ctx, d.store, d.queueName); err != nil {
		return err
	}
	deadline := time.Now().Add(resultTTL)
	return d.store.ZAdd(ctx, d.key(), jobID, float64(deadline.Unix()))
}

// RemoveJob clears a job's Done-queue retention entry.
func (d *DoneQueue) RemoveJob(ctx context.Context, jobID string) error {
	_, err := d.store.ZRem(ctx, d.key(), jobID)
	return err
}

// RemoveExpiredJobs deletes entries whose retention deadline has
// passed, returning their job IDs for cleanup of the underlying Job
// Record by a caller that owns garbage collection policy.
func (d *DoneQueue) RemoveExpiredJobs(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	expired, err := d.store.ZRangeByScore(ctx, d.key(), 0, now)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if _, err := d.store.ZRem(ctx, d.key(), expired...); err != nil {
		return nil, err
	}
	return expired, nil
}
