// -----------------------------------------------------------------------
// WIP Queue (Work-in-Progress)
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"time"

	"github.com/marrowlane/qcore/internal/store"
)

// WIPQueue is the companion sorted set per parent Queue that tracks
// jobs currently claimed by a worker, scored by the wall-clock
// deadline at which the claim expires (spec.md §4.4). It shares its
// key-prefix strategy with DoneQueue via the queueKind discriminator
// rather than through inheritance (spec.md §9).
type WIPQueue struct {
	queueName string
	store     store.Store
}

type wipQueue = WIPQueue

func (w *WIPQueue) key() string { return kindWIP.keyFor(w.queueName) }

// AddJob claims jobID with a deadline of now + timeout (spec.md §4.4:
// "score equals now + job.timeout at the moment of claim").
func (w *WIPQueue) AddJob(ctx context.Context, jobID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	return w.store.ZAdd(ctx, w.key(), jobID, float64(deadline.Unix()))
}

// RemoveJob clears a job's WIP claim, e.g. on successful completion or
// failure.
func (w *WIPQueue) RemoveJob(ctx context.Context, jobID string) error {
	_, err := w.store.ZRem(ctx, w.key(), jobID)
	return err
}

// RemoveExpiredJobs is the janitor routine: it deletes entries whose
// score (claim deadline) is <= now, returning their job IDs so a
// recovery path can re-dispatch them. A crashed worker's claim does
// not strand the job indefinitely (spec.md §4.4).
func (w *WIPQueue) RemoveExpiredJobs(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	expired, err := w.store.ZRangeByScore(ctx, w.key(), 0, now)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if _, err := w.store.ZRem(ctx, w.key(), expired...); err != nil {
		return nil, err
	}
	return expired, nil
}
