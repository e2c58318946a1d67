// -----------------------------------------------------------------------
// Queue Registry
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/marrowlane/qcore/internal/store"
)

// registerQueue adds name to the Queue Registry. A queue key is added
// only on first successful enqueue, never removed by the core (spec.md
// §3), so this is a plain idempotent SAdd.
func registerQueue(ctx context.Context, s store.Store, name string) error {
	return s.SAdd(ctx, keyQueues, name)
}

func registerDoneQueue(ctx context.Context, s store.Store, name string) error {
	return s.SAdd(ctx, keyDoneQueues, name)
}

// AllQueues reports every historically-seen queue name (spec.md §3:
// "all_queues() reports historically-seen queues until explicit
// cleanup"), constructed with the supplied options template applied
// to each (only Name is overridden per queue).
func AllQueues(ctx context.Context, s store.Store, logger arbor.ILogger, template QueueOptions) ([]*Queue, error) {
	names, err := s.SMembers(ctx, keyQueues)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to list queue registry: %w", err)
	}

	queues := make([]*Queue, 0, len(names))
	for _, name := range names {
		opts := template
		opts.Name = name
		q, err := NewQueue(s, logger, opts)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	sortQueuesByName(queues)
	return queues, nil
}

// FromQueueKey constructs a Queue from its raw Store key, e.g.
// "q:queue:default" -> Queue{name: "default"}. Fails with
// ErrInvalidArgument if key does not carry the plain-queue prefix.
func FromQueueKey(s store.Store, logger arbor.ILogger, key string, template QueueOptions) (*Queue, error) {
	name, ok := queueNameFromKey(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a valid queue key", ErrInvalidArgument, key)
	}
	opts := template
	opts.Name = name
	return NewQueue(s, logger, opts)
}
