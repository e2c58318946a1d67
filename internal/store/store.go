// -----------------------------------------------------------------------
// Store Abstraction
// -----------------------------------------------------------------------

// Package store narrows the external key/value system down to the
// primitives the job queue core actually needs: list, set, sorted-set,
// hash, a watch/transaction facility, and a multi-key blocking pop.
// Nothing above this package knows or cares that the primitives happen
// to be emulated on top of an embedded key-value engine rather than a
// networked one.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrWatchContention is returned by Watch when a transaction could not
// be committed after the retry budget is exhausted because a
// concurrent writer kept invalidating the read set.
var ErrWatchContention = errors.New("store: watch contention exceeded retry budget")

// ErrNotFound is returned by single-key reads (Get-style operations on
// the Tx passed to Watch) when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Tx is the narrow view of a single watched transaction handed to the
// callback passed to Watch. It supports only what the dependency
// protocol needs: read and write a hash-shaped record by key.
type Tx interface {
	// Get reads the hash stored at key into fields. Returns ErrNotFound
	// if the key has never been written.
	Get(key string) (fields map[string]string, err error)

	// Set replaces the hash stored at key with fields.
	Set(key string, fields map[string]string) error

	// SAdd adds member to the set stored at key, within the same
	// transaction as the surrounding Get/Set calls.
	SAdd(key string, member string) error
}

// Store is the full set of primitives the job queue core is specified
// against (spec.md §6). An implementation backed by any key/value
// system that can support these operations — with the watch/transaction
// facility providing linearizable read-modify-write semantics across
// one or more keys — is a conforming Store.
type Store interface {
	// Lists (queue FIFOs)
	RPush(ctx context.Context, key string, value string) error
	LPop(ctx context.Context, key string) (value string, ok bool, err error)
	LLen(ctx context.Context, key string) (int, error)
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)
	LRem(ctx context.Context, key string, value string) (removed int, err error)
	Rename(ctx context.Context, oldKey, newKey string) error
	Delete(ctx context.Context, key string) error

	// Sets (registries, reverse-dependency sets, the Deferred Set)
	SAdd(ctx context.Context, key string, member string) error
	SRem(ctx context.Context, key string, member string) (removed bool, err error)
	SCard(ctx context.Context, key string) (int, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SPop(ctx context.Context, key string) (member string, ok bool, err error)

	// Sorted sets (WIP / Done queues, scored by expiry deadline)
	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZRem(ctx context.Context, key string, members ...string) (removed int, err error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Hashes (Job Records)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDelete(ctx context.Context, key string) error

	// Watch runs fn against a transaction guarded by keys. If a
	// concurrent writer mutates any key read through the Tx before fn
	// returns, the transaction is retried from the top; Watch gives up
	// and returns ErrWatchContention after a bounded number of
	// attempts (see maxWatchAttempts).
	Watch(ctx context.Context, keys []string, fn func(Tx) error) error

	// BLPop pops the first available value from the first non-empty
	// key in keys, honoring the caller-supplied priority order.
	// timeout <= 0 means "check once, non-blocking"; timeout > 0 polls
	// for up to that duration before giving up.
	BLPop(ctx context.Context, keys []string, timeout time.Duration) (key string, value string, ok bool, err error)

	// Close releases the underlying connection/handle.
	Close() error
}
