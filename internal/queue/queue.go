// -----------------------------------------------------------------------
// Queue
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/marrowlane/qcore/internal/store"
)

// Queue is a named, durable FIFO list of job IDs plus the metadata and
// companion structures (WIP, Done) that govern their lifecycle
// (spec.md §3, §4.1).
type Queue struct {
	name           string
	defaultTimeout time.Duration
	asyncMode      bool
	jobRunner      func(ctx context.Context, job *Job) error

	store  store.Store
	logger arbor.ILogger

	wip  *wipQueue
	done *doneQueue
}

// NewQueue constructs a Queue bound to s, applying opts over sane
// defaults (default_timeout 180s, async_mode true).
func NewQueue(s store.Store, logger arbor.ILogger, opts QueueOptions) (*Queue, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	asyncMode := true
	if opts.AsyncMode != nil {
		asyncMode = *opts.AsyncMode
	}

	q := &Queue{
		name:           opts.Name,
		defaultTimeout: timeout,
		asyncMode:      asyncMode,
		jobRunner:      opts.JobRunner,
		store:          s,
		logger:         logger,
	}

	q.wip = &wipQueue{queueName: q.name, store: s}
	q.done = &doneQueue{queueName: q.name, store: s}

	return q, nil
}

// Name returns the queue's textual identifier.
func (q *Queue) Name() string { return q.name }

// Key returns the Store key backing this queue's FIFO list.
func (q *Queue) Key() string { return queueKey(q.name) }

// WIP returns this queue's companion WIP sorted set.
func (q *Queue) WIP() *wipQueue { return q.wip }

// Done returns this queue's companion Done sorted set.
func (q *Queue) Done() *doneQueue { return q.done }

// Equal reports whether two queues have the same name. Two Queue
// values are equal iff their names are equal (spec.md §4.1); a nil
// argument is never equal to anything.
func (q *Queue) Equal(other *Queue) bool {
	if other == nil {
		return false
	}
	return q.name == other.name
}

// Less orders queues lexicographically by name (spec.md §4.1).
func (q *Queue) Less(other *Queue) bool {
	if other == nil {
		return false
	}
	return q.name < other.name
}

// Enqueue implements spec.md §4.1's enqueue: creates a Job Record and
// runs the Dependency & Deferral Protocol, returning the Job
// regardless of whether it ultimately reached the FIFO list.
func (q *Queue) Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (*Job, error) {
	job := NewJob(payload, opts)
	return q.enqueueCall(ctx, job, opts.Deferred)
}

// EnqueueJob is the low-level insert described in spec.md §4.1: it
// registers the queue name in the Queue Registry, sets origin and
// enqueued_at (unless setMetaData is false — the quarantine path),
// applies the default timeout if unset, persists the job, and either
// appends its ID to the FIFO list (async_mode) or runs it inline.
func (q *Queue) EnqueueJob(ctx context.Context, job *Job, setMetaData bool) (*Job, error) {
	if err := registerQueue(ctx, q.store, q.name); err != nil {
		return nil, err
	}

	if setMetaData {
		job.Origin = q.name
		job.EnqueuedAt = time.Now()
	}
	if job.Timeout <= 0 {
		job.Timeout = q.defaultTimeout
	}

	if err := job.Save(ctx, q.store); err != nil {
		return nil, err
	}

	if q.asyncMode {
		if err := q.PushJobID(ctx, job.ID); err != nil {
			return nil, err
		}
		return job, nil
	}

	if q.jobRunner == nil {
		return nil, fmt.Errorf("queue %q: async_mode is false but no job runner is configured", q.name)
	}
	if err := q.jobRunner(ctx, job); err != nil {
		return nil, err
	}
	if err := job.Save(ctx, q.store); err != nil {
		return nil, err
	}
	return job, nil
}

// Dequeue pops the head job ID and loads its Job Record. If the ID has
// no backing record, it retries from the next head until one resolves
// or the queue is empty (spec.md §4.1).
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		id, ok, err := q.PopJobID(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		job, err := LoadJob(ctx, q.store, id)
		if err == nil {
			return job, nil
		}
		if isNoSuchJob(err) {
			q.logger.Debug().Str("queue", q.name).Str("job_id", id).Msg("queue: dropping stale job id on dequeue")
			continue
		}
		return nil, &DecodeJobError{JobID: id, QueueName: q.name, Cause: err}
	}
}

// Remove removes ALL occurrences of the job's ID from the FIFO list
// (list-remove with count 0 semantics), returning the number of
// occurrences removed.
func (q *Queue) Remove(ctx context.Context, jobOrID string) (int, error) {
	return q.store.LRem(ctx, q.Key(), jobOrID)
}

// Empty loads all job IDs, deletes the FIFO list key, then cancels
// each job by deleting its record. The list is deleted first so
// in-flight producers see an empty queue promptly; the cascade is
// best-effort (spec.md §4.1).
func (q *Queue) Empty(ctx context.Context) error {
	ids, err := q.store.LRange(ctx, q.Key(), 0, -1)
	if err != nil {
		return err
	}
	if err := q.store.Delete(ctx, q.Key()); err != nil {
		return err
	}
	for _, id := range ids {
		job := &Job{ID: id}
		if err := job.Delete(ctx, q.store); err != nil {
			q.logger.Warn().Str("queue", q.name).Str("job_id", id).Err(err).Msg("queue: best-effort cancel failed during empty()")
		}
	}
	return nil
}

// compactScratchPrefix namespaces Compact's scratch key so two
// concurrent Compact() calls on different queues never collide
// (grounded on the original's '{prefix}_compact:<uuid>' naming).
const compactScratchPrefix = "q:queue:_compact:"

// Compact removes FIFO entries whose backing Job Record no longer
// exists while preserving relative order of surviving entries. It
// renames the list atomically to a scratch key, then drains the
// scratch key head-first, re-appending only extant IDs to the primary
// key (spec.md §4.1).
func (q *Queue) Compact(ctx context.Context) error {
	scratchKey := compactScratchPrefix + uuid.New().String()

	if err := q.store.Rename(ctx, q.Key(), scratchKey); err != nil {
		return err
	}

	for {
		id, ok, err := q.store.LPop(ctx, scratchKey)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		_, err = LoadJob(ctx, q.store, id)
		if err != nil {
			if isNoSuchJob(err) {
				continue
			}
			return err
		}
		if err := q.store.RPush(ctx, q.Key(), id); err != nil {
			return err
		}
	}
}

// Count returns the number of job IDs currently in the FIFO list.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.store.LLen(ctx, q.Key())
}

// JobIDs returns a read-only slice of job IDs starting at offset, up
// to length entries (length < 0 means "to the end").
func (q *Queue) JobIDs(ctx context.Context, offset, length int) ([]string, error) {
	stop := -1
	if length >= 0 {
		stop = offset + length - 1
	}
	return q.store.LRange(ctx, q.Key(), offset, stop)
}

// Jobs enumerates Job Records for the current FIFO contents. Entries
// whose record is gone are silently dropped AND removed from the FIFO
// list as a side effect (self-healing read, spec.md §4.1).
func (q *Queue) Jobs(ctx context.Context, offset, length int) ([]*Job, error) {
	ids, err := q.JobIDs(ctx, offset, length)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := LoadJob(ctx, q.store, id)
		if err != nil {
			if isNoSuchJob(err) {
				if _, err := q.store.LRem(ctx, q.Key(), id); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PopJobID is an unchecked primitive: pops the head of the FIFO list
// without resolving a Job Record, for tests and internal paths.
func (q *Queue) PopJobID(ctx context.Context) (string, bool, error) {
	return q.store.LPop(ctx, q.Key())
}

// PushJobID is an unchecked primitive: appends id to the tail of the
// FIFO list without touching a Job Record.
func (q *Queue) PushJobID(ctx context.Context, id string) error {
	return q.store.RPush(ctx, q.Key(), id)
}

func isNoSuchJob(err error) bool {
	var notFound *NoSuchJobError
	return errors.As(err, &notFound)
}

// sortQueuesByName sorts queues lexicographically by name, matching
// Queue.Less's ordering contract.
func sortQueuesByName(queues []*Queue) {
	sort.Slice(queues, func(i, j int) bool { return queues[i].Less(queues[j]) })
}
