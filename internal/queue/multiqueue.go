// -----------------------------------------------------------------------
// Multi-Queue Blocking Dequeue
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marrowlane/qcore/internal/store"
)

// DequeueAny implements spec.md §4.7: it pops the head job ID from the
// highest-priority non-empty queue among queues (priority = slice
// order), loads its Job Record, and returns the (Job, Queue) pair so
// the caller knows which queue served it.
//
// timeout == nil means non-blocking: queues are tried once each, in
// order, and the first hit wins. A positive timeout blocks for up to
// that duration across all queues, honoring their priority order.
// timeout != nil && *timeout == 0 is illegal (indefinite blocking is
// disallowed) and fails with ErrInvalidArgument.
//
// If the popped ID has no backing Job Record, the call loops: the ID
// is silently dropped and the wait resumes on the remaining queues.
// Per §9 Open Question 4, this loop is iterative (not recursive, as
// the source's dequeue_any is) and does NOT refresh the timeout
// deadline across retries — the deadline established on entry is
// honored across every retry, matching the source's behavior of
// re-invoking with the original timeout value.
func DequeueAny(ctx context.Context, s store.Store, logger arbor.ILogger, queues []*Queue, timeout *time.Duration) (*Job, *Queue, error) {
	if timeout != nil && *timeout == 0 {
		return nil, nil, fmt.Errorf("%w: dequeue_any timeout must be nil (non-blocking) or positive, got 0", ErrInvalidArgument)
	}

	byName := make(map[string]*Queue, len(queues))
	keys := make([]string, 0, len(queues))
	for _, q := range queues {
		byName[q.Name()] = q
		keys = append(keys, q.Key())
	}

	remaining := time.Duration(0)
	if timeout != nil {
		remaining = *timeout
	}
	deadline := time.Now().Add(remaining)

	for {
		var popTimeout time.Duration
		if timeout != nil {
			popTimeout = time.Until(deadline)
			if popTimeout < 0 {
				popTimeout = 0
			}
		}

		key, id, ok, err := s.BLPop(ctx, keys, popTimeout)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			if timeout == nil {
				return nil, nil, nil
			}
			return nil, nil, &DequeueTimeoutError{QueueKeys: keys}
		}

		name, nameOK := queueNameFromKey(key)
		q := byName[name]
		if !nameOK || q == nil {
			// Shouldn't happen since keys were derived from byName,
			// but guard rather than panic on an unexpected key shape.
			continue
		}

		job, err := LoadJob(ctx, s, id)
		if err == nil {
			return job, q, nil
		}
		if isNoSuchJob(err) {
			logger.Debug().Str("queue", q.Name()).Str("job_id", id).Msg("queue: dropping stale job id during dequeue_any")
			if timeout != nil && time.Now().After(deadline) {
				return nil, nil, &DequeueTimeoutError{QueueKeys: keys}
			}
			continue
		}
		return nil, nil, &DecodeJobError{JobID: id, QueueName: q.Name(), Cause: err}
	}
}
