package queue

import (
	"context"
	"testing"

	"github.com/marrowlane/qcore/internal/store"
)

// newCreatedParent persists a bare parent record in the given status,
// standing in for a job some other producer already created.
func newCreatedParent(t *testing.T, ctx context.Context, s store.Store, id string, status Status) {
	t.Helper()
	parent := &Job{ID: id, Status: status}
	if err := s.HSet(ctx, jobKey(id), parent.toFields()); err != nil {
		t.Fatalf("failed to seed parent %q: %v", id, err)
	}
}

// TestDependencyGating mirrors the P1/P2/P3 scenario: a child
// depending on three parents, only one of which (P2) starts FINISHED,
// stays off the queue until P1 and P3 are also transitioned to
// FINISHED and re-enqueued.
func TestDependencyGating(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q := newTestQueue(t, s, "default")

	newCreatedParent(t, ctx, s, "P1", StatusStarted)
	newCreatedParent(t, ctx, s, "P2", StatusFinished)
	newCreatedParent(t, ctx, s, "P3", StatusStarted)

	child, err := q.Enqueue(ctx, payload(t, "Nick"), EnqueueOptions{DependsOn: []string{"P1", "P2", "P3"}})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if child.Status != StatusDeferred {
		t.Fatalf("expected status DEFERRED while parents unfinished, got %q", child.Status)
	}

	count, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected queue empty while parents unfinished, got count %d", count)
	}

	template := QueueOptions{}

	newCreatedParent(t, ctx, s, "P1", StatusFinished)
	if err := drainDependents(ctx, s, q.logger, "P1", template); err != nil {
		t.Fatalf("drain for P1 failed: %v", err)
	}

	// P1 finishing isn't enough: the child was parked on P1 (the first
	// unfinished parent at enqueue time), so the drain re-parks it on
	// P3, the next still-unfinished parent.
	count, err = q.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected queue still empty after only P1 finishes, got count %d", count)
	}

	newCreatedParent(t, ctx, s, "P3", StatusFinished)
	if err := drainDependents(ctx, s, q.logger, "P3", template); err != nil {
		t.Fatalf("drain for P3 failed: %v", err)
	}

	count, err = q.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected job enqueued once all parents are FINISHED, got count %d", count)
	}

	dequeued, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if dequeued == nil || dequeued.ID != child.ID {
		t.Fatalf("expected to dequeue %q, got %v", child.ID, dequeued)
	}
	if dequeued.Status != StatusQueued {
		t.Fatalf("expected status QUEUED, got %q", dequeued.Status)
	}
}

// TestDeferredReleaseToAlternateQueue mirrors releasing a deferred job
// onto a queue other than its origin: the job ends up on q2 only, and
// reaches status QUEUED.
func TestDeferredReleaseToAlternateQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q1 := newTestQueue(t, s, "q1")
	q2 := newTestQueue(t, s, "q2")

	job, err := q1.Enqueue(ctx, payload(t, "Nick"), EnqueueOptions{Deferred: true})
	if err != nil {
		t.Fatalf("deferred enqueue failed: %v", err)
	}
	if job.Status != StatusDeferred {
		t.Fatalf("expected status DEFERRED, got %q", job.Status)
	}

	released, err := ReleaseJob(ctx, s, q1.logger, job.ID, q2, QueueOptions{})
	if err != nil {
		t.Fatalf("release_job failed: %v", err)
	}
	if released.Status != StatusQueued {
		t.Fatalf("expected status QUEUED after release, got %q", released.Status)
	}

	q1IDs, err := q1.JobIDs(ctx, 0, -1)
	if err != nil {
		t.Fatalf("q1 job_ids failed: %v", err)
	}
	for _, id := range q1IDs {
		if id == job.ID {
			t.Fatalf("expected job %q NOT in q1 after release, but it is present", job.ID)
		}
	}

	q2IDs, err := q2.JobIDs(ctx, 0, -1)
	if err != nil {
		t.Fatalf("q2 job_ids failed: %v", err)
	}
	found := false
	for _, id := range q2IDs {
		if id == job.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected job %q in q2 after release, job_ids=%v", job.ID, q2IDs)
	}
}

// TestReleaseJobRejectsNonDeferred verifies release_job raises
// InvalidJobOperation when attempted on a job not in DEFERRED status.
func TestReleaseJobRejectsNonDeferred(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q := newTestQueue(t, s, "default")

	job, err := q.Enqueue(ctx, payload(t, "Nick"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	_, err = ReleaseJob(ctx, s, q.logger, job.ID, nil, QueueOptions{})
	var invalidOp *InvalidJobOperationError
	if err == nil {
		t.Fatal("expected an error releasing a non-deferred job")
	}
	if !asInvalidOp(err, &invalidOp) {
		t.Fatalf("expected InvalidJobOperationError, got %v", err)
	}
}

// TestReleaseJobCascadesToDependents exercises Open Question 1: when a
// released job's own dependents are now fully unblocked, release_job
// promotes them too, rather than leaving them stranded.
func TestReleaseJobCascadesToDependents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	q := newTestQueue(t, s, "default")

	parent, err := q.Enqueue(ctx, payload(t, "parent"), EnqueueOptions{Deferred: true})
	if err != nil {
		t.Fatalf("parent enqueue failed: %v", err)
	}

	child, err := q.Enqueue(ctx, payload(t, "child"), EnqueueOptions{DependsOn: []string{parent.ID}})
	if err != nil {
		t.Fatalf("child enqueue failed: %v", err)
	}
	if child.Status != StatusDeferred {
		t.Fatalf("expected child status DEFERRED, got %q", child.Status)
	}

	// Simulate the parent finishing before release (a deferred job
	// does not run until released, but a dependent may have been
	// registered against it regardless).
	parent.Status = StatusFinished
	if err := parent.Save(ctx, s); err != nil {
		t.Fatalf("failed to mark parent finished: %v", err)
	}

	if _, err := ReleaseJob(ctx, s, q.logger, parent.ID, nil, QueueOptions{}); err != nil {
		t.Fatalf("release_job failed: %v", err)
	}

	count, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both parent and promoted child enqueued, got count %d", count)
	}
}

func asInvalidOp(err error, target **InvalidJobOperationError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if op, ok := err.(*InvalidJobOperationError); ok {
			*target = op
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
