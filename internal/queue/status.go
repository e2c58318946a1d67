package queue

// Status is a job's position in the state machine described in
// spec.md §4.2.
type Status string

const (
	// StatusQueued means the job is sitting in its origin queue's
	// FIFO list, waiting to be claimed.
	StatusQueued Status = "QUEUED"
	// StatusStarted means a worker has claimed the job (it is in
	// the origin queue's WIP sorted set).
	StatusStarted Status = "STARTED"
	// StatusFinished is a terminal state reached on success.
	StatusFinished Status = "FINISHED"
	// StatusFailed means the job was quarantined to the failed queue.
	StatusFailed Status = "FAILED"
	// StatusDeferred means the job is held off its queue: either it
	// was created with deferred=true and sits in the Deferred Set
	// pending an explicit release_job call, or it was created with a
	// non-empty depends_on/blocked_by parent set and is parked on a
	// parent's reverse-dependency set until promoted. DEFERRED is only
	// entered at creation.
	StatusDeferred Status = "DEFERRED"
)

// failedQueueName is the sentinel queue name used by the Failed Queue
// (spec.md §4.6, §9: "implemented by constructing a Queue with the
// sentinel name equal to the FAILED status string").
const failedQueueName = "failed"
