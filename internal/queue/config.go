package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// defaultTimeout is the global fallback applied to a job with no
// timeout of its own (spec.md §3).
const defaultTimeout = 180 * time.Second

// queueOptionsValidator is shared across every QueueOptions.Validate
// call rather than built per call as internal/common's Config.Validate
// does (validator.New() caches struct metadata internally, so reuse
// avoids re-parsing tags on every queue construction).
var queueOptionsValidator = validator.New()

// QueueOptions configures a Queue at construction time (spec.md §6
// "Configuration options").
type QueueOptions struct {
	// Name is the queue's textual identifier. Required.
	Name string `validate:"required"`

	// DefaultTimeout is the fallback applied to jobs enqueued without
	// their own timeout. Zero means defaultTimeout (180s).
	DefaultTimeout time.Duration `validate:"gte=0"`

	// AsyncMode, when non-nil and false, causes enqueue_job to execute
	// the job synchronously via JobRunner and persist its result
	// rather than listing it (spec.md §9 "Async-false inline
	// execution"). nil (the zero value) means "use the default, true".
	AsyncMode *bool

	// JobRunner is invoked synchronously by enqueue_job when
	// AsyncMode is false. Spec.md §9 models the source's job_class
	// override as a factory/collaborator rather than subtype
	// inheritance; this plays the same role for inline execution.
	// Behavior is undefined if DependsOn is set while AsyncMode is
	// false (spec.md §9).
	JobRunner func(ctx context.Context, job *Job) error
}

// EnqueueOptions mirrors the options bag spec.md §4.1's enqueue takes:
// {timeout, result_ttl, description, depends_on, deferred, blocked_by}.
type EnqueueOptions struct {
	Timeout      time.Duration
	ResultTTL    time.Duration
	HasResultTTL bool
	Description  string

	// DependsOn names the gating parent job IDs. BlockedBy is an
	// alias that implies DependsOn; when both are supplied, BlockedBy
	// wins (spec.md §4.1).
	DependsOn []string
	BlockedBy []string

	Deferred bool
}

// resolvedDependsOn applies the blocked_by-wins-over-depends_on rule.
func (o EnqueueOptions) resolvedDependsOn() []string {
	if len(o.BlockedBy) > 0 {
		return o.BlockedBy
	}
	return o.DependsOn
}

// Validate checks opts against its struct tags (currently: Name must
// be set, DefaultTimeout must not be negative), the same
// go-playground/validator/v10 idiom internal/common.Config.Validate
// uses for config-file validation.
func (opts QueueOptions) Validate() error {
	if err := queueOptionsValidator.Struct(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}
