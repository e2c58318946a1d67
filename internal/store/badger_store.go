// -----------------------------------------------------------------------
// Badger-backed Store implementation
// -----------------------------------------------------------------------

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// maxWatchAttempts caps the optimistic-retry loop in Watch, per
// spec.md §9's guidance that unbounded retry should carry a safety cap.
const maxWatchAttempts = 1000

// blockPollInterval is how often BLPop re-checks the candidate keys
// while waiting; Badger has no server-side blocking-pop primitive to
// delegate to, so this core polls, mirroring the teacher's
// ticker-driven worker loop (internal/queue/worker.go).
const blockPollInterval = 25 * time.Millisecond

// kind tags the type of collection a raw key belongs to, so that the
// same external key name never collides across list/set/zset/hash
// namespaces.
type kind byte

const (
	kindList kind = 'L'
	kindSet  kind = 'S'
	kindZSet kind = 'Z'
	kindHash kind = 'H'
)

// Config controls how the Badger-backed Store opens its database.
type Config struct {
	// Path is the directory Badger stores its files under.
	Path string
	// ResetOnStartup wipes Path before opening, for ephemeral test runs.
	ResetOnStartup bool
}

// BadgerStore implements store.Store on top of an embedded Badger
// database, following the connection-handling idiom of the teacher's
// internal/storage/badger/connection.go: badgerhold.Open manages the
// on-disk database, and raw transactions (via hold.Badger()) implement
// the list/set/sorted-set primitives that badgerhold's document model
// has no native vocabulary for.
type BadgerStore struct {
	hold   *badgerhold.Store
	db     *badger.DB
	logger arbor.ILogger
}

// Open creates (or reopens) a Badger-backed Store at cfg.Path.
func Open(cfg Config, logger arbor.ILogger) (*BadgerStore, error) {
	if cfg.ResetOnStartup {
		if _, err := os.Stat(cfg.Path); err == nil {
			logger.Debug().Str("path", cfg.Path).Msg("store: removing existing database (reset_on_startup)")
			if err := os.RemoveAll(cfg.Path); err != nil {
				return nil, fmt.Errorf("store: failed to reset database directory: %w", err)
			}
		}
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create database directory: %w", err)
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = cfg.Path
	opts.ValueDir = cfg.Path
	opts.Logger = nil

	hold, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", cfg.Path).Msg("store: badger database opened")

	return &BadgerStore{
		hold:   hold,
		db:     hold.Badger(),
		logger: logger,
	}, nil
}

// Close releases the underlying Badger handle.
func (s *BadgerStore) Close() error {
	if s.hold == nil {
		return nil
	}
	return s.hold.Close()
}

// --- key encoding -------------------------------------------------------

func rawKey(k kind, external string, suffix string) []byte {
	var b strings.Builder
	b.WriteByte(byte(k))
	b.WriteByte(':')
	b.WriteString(external)
	b.WriteByte(':')
	b.WriteString(suffix)
	return []byte(b.String())
}

func rawPrefix(k kind, external string) []byte {
	var b strings.Builder
	b.WriteByte(byte(k))
	b.WriteByte(':')
	b.WriteString(external)
	b.WriteByte(':')
	return []byte(b.String())
}

func scoreSuffix(score float64) string {
	// Shift scores into an unsigned, order-preserving range so that
	// negative and positive scores both sort correctly as strings.
	bits := math.Float64bits(score)
	if score >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return fmt.Sprintf("%020d", bits)
}

// --- lists ---------------------------------------------------------------

// listSuffix encodes a durable, monotonically-ordered tail position:
// a nanosecond timestamp (for FIFO byte ordering) plus a UUID (to
// break ties between entries pushed in the same nanosecond). Grounded
// on the teacher's internal/queue/badger_manager.go, which encodes
// FIFO order the same way (`fmt.Sprintf("%019d:%s", now.UnixNano(),
// uuid.New().String())`) precisely so no in-memory counter needs to
// survive a process restart: the next suffix is always derivable from
// wall-clock time alone, so a reopened store with live, un-dequeued
// FIFO entries on disk can never collide with them.
func listSuffix() string {
	return fmt.Sprintf("%019d:%s", time.Now().UnixNano(), uuid.New().String())
}

func (s *BadgerStore) RPush(ctx context.Context, key string, value string) error {
	rk := rawKey(kindList, key, listSuffix())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rk, []byte(value))
	})
}

func (s *BadgerStore) LPop(ctx context.Context, key string) (string, bool, error) {
	prefix := rawPrefix(kindList, key)
	var value string
	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		item := it.Item()
		k := item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
		value = string(v)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (s *BadgerStore) LLen(ctx context.Context, key string) (int, error) {
	prefix := rawPrefix(kindList, key)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// LRange returns the slice [start, stop] inclusive, Redis-style: stop
// of -1 means "to the end".
func (s *BadgerStore) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	prefix := rawPrefix(kindList, key)
	var all []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			all = append(all, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n := len(all)
	if n == 0 {
		return nil, nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		return nil, nil
	}
	return all[start : stop+1], nil
}

func (s *BadgerStore) LRem(ctx context.Context, key string, value string) (int, error) {
	prefix := rawPrefix(kindList, key)
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			if string(v) == value {
				toDelete = append(toDelete, it.Item().KeyCopy(nil))
			}
		}
		it.Close()
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BadgerStore) Rename(ctx context.Context, oldKey, newKey string) error {
	oldPrefix := rawPrefix(kindList, oldKey)
	type kv struct {
		suffix string
		value  []byte
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var entries []kv
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(oldPrefix); it.ValidForPrefix(oldPrefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			suffix := strings.TrimPrefix(string(it.Item().Key()), string(oldPrefix))
			entries = append(entries, kv{suffix: suffix, value: v})
		}
		it.Close()
		for _, e := range entries {
			if err := txn.Delete(rawKey(kindList, oldKey, e.suffix)); err != nil {
				return err
			}
			if err := txn.Set(rawKey(kindList, newKey, e.suffix), e.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	for _, k := range []kind{kindList, kindSet, kindZSet, kindHash} {
		if err := s.deletePrefix(rawPrefix(k, key)); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) deletePrefix(prefix []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- sets ------------------------------------------------------------------

func (s *BadgerStore) SAdd(ctx context.Context, key string, member string) error {
	rk := rawKey(kindSet, key, member)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rk, []byte{1})
	})
}

func (s *BadgerStore) SRem(ctx context.Context, key string, member string) (bool, error) {
	rk := rawKey(kindSet, key, member)
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(rk)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(rk)
	})
	return removed, err
}

func (s *BadgerStore) SCard(ctx context.Context, key string) (int, error) {
	members, err := s.SMembers(ctx, key)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (s *BadgerStore) SMembers(ctx context.Context, key string) ([]string, error) {
	prefix := rawPrefix(kindSet, key)
	var members []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			members = append(members, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	return members, err
}

func (s *BadgerStore) SPop(ctx context.Context, key string) (string, bool, error) {
	prefix := rawPrefix(kindSet, key)
	var member string
	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		k := it.Item().KeyCopy(nil)
		if err := txn.Delete(k); err != nil {
			return err
		}
		member = strings.TrimPrefix(string(k), string(prefix))
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return member, found, nil
}

// --- sorted sets -------------------------------------------------------------

// zmember keys are suffixed <scoreSuffix>\x00<member> so a range scan by
// score prefix naturally yields members in ascending score order; a
// companion reverse-lookup key (prefixed with "\x00idx\x00") maps a
// member back to its current score so ZRem and re-adds don't require a
// full table scan.

func zMemberKey(key, member string, score float64) []byte {
	return rawKey(kindZSet, key, scoreSuffix(score)+"\x00"+member)
}

func zIndexKey(key, member string) []byte {
	return rawKey(kindZSet, key, "\x00idx\x00"+member)
}

func (s *BadgerStore) ZAdd(ctx context.Context, key string, member string, score float64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		idxKey := zIndexKey(key, member)
		if item, err := txn.Get(idxKey); err == nil {
			oldScoreBytes, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			oldScore, _ := strconv.ParseFloat(string(oldScoreBytes), 64)
			if err := txn.Delete(zMemberKey(key, member, oldScore)); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(zMemberKey(key, member, score), []byte{1}); err != nil {
			return err
		}
		return txn.Set(idxKey, []byte(strconv.FormatFloat(score, 'f', -1, 64)))
	})
}

func (s *BadgerStore) ZRem(ctx context.Context, key string, members ...string) (int, error) {
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, member := range members {
			idxKey := zIndexKey(key, member)
			item, err := txn.Get(idxKey)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			scoreBytes, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			score, _ := strconv.ParseFloat(string(scoreBytes), 64)
			if err := txn.Delete(zMemberKey(key, member, score)); err != nil {
				return err
			}
			if err := txn.Delete(idxKey); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BadgerStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	prefix := rawPrefix(kindZSet, key)
	minSuffix := scoreSuffix(min)
	maxSuffix := scoreSuffix(max)

	var results []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			suffix := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			if strings.HasPrefix(suffix, "\x00idx\x00") {
				continue
			}
			parts := strings.SplitN(suffix, "\x00", 2)
			if len(parts) != 2 {
				continue
			}
			scoreKey, member := parts[0], parts[1]
			if scoreKey < minSuffix || scoreKey > maxSuffix {
				continue
			}
			results = append(results, member)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// --- hashes (job records) ----------------------------------------------------

// hashRecord is the JSON envelope stored under a single raw Badger key
// per hash. HGetAll/HSet/HDelete and the Watch transaction's Tx both
// read and write this exact encoding — deliberately NOT routed through
// badgerhold's document store, because a parent job's record must be
// visible to a concurrent dependency-protocol Watch reading it via a
// raw *badger.Txn, and badgerhold owns its own internal key encoding
// that a hand-rolled transaction cannot safely interleave with.
// badgerhold is retained for opening and managing the underlying
// database (see Open), mirroring connection.go's role, and is free for
// a future genuinely document-shaped concern to use.
type hashRecord struct {
	Fields map[string]string
}

func hashKey(key string) []byte {
	return rawKey(kindHash, key, "record")
}

func getHash(txn *badger.Txn, key string) (map[string]string, error) {
	item, err := txn.Get(hashKey(key))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var rec hashRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec.Fields, nil
}

func setHash(txn *badger.Txn, key string, fields map[string]string) error {
	raw, err := json.Marshal(hashRecord{Fields: fields})
	if err != nil {
		return err
	}
	return txn.Set(hashKey(key), raw)
}

func (s *BadgerStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := s.db.View(func(txn *badger.Txn) error {
		f, err := getHash(txn, key)
		if err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		fields = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to read hash %q: %w", key, err)
	}
	if fields == nil {
		return map[string]string{}, nil
	}
	return fields, nil
}

func (s *BadgerStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return setHash(txn, key, fields)
	})
	if err != nil {
		return fmt.Errorf("store: failed to write hash %q: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) HDelete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(hashKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("store: failed to delete hash %q: %w", key, err)
	}
	return nil
}

// --- watch/transaction -------------------------------------------------------

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) Get(key string) (map[string]string, error) {
	return getHash(t.txn, key)
}

func (t *badgerTx) Set(key string, fields map[string]string) error {
	return setHash(t.txn, key, fields)
}

func (t *badgerTx) SAdd(key string, member string) error {
	return t.txn.Set(rawKey(kindSet, key, member), []byte{1})
}

// Watch implements the spec's Store watch/transaction facility
// directly on Badger's optimistic concurrency control: a Badger
// transaction records every key read through Tx.Get, and Commit fails
// with badger.ErrConflict if any of them were written by another
// transaction in the meantime. This loop retries fn from scratch on
// conflict, which is exactly the "retry from the top for that parent"
// behavior spec.md §4.3 describes for the dependency-registration race.
func (s *BadgerStore) Watch(ctx context.Context, keys []string, fn func(Tx) error) error {
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		txn := s.db.NewTransaction(true)
		tx := &badgerTx{txn: txn}

		if err := fn(tx); err != nil {
			txn.Discard()
			return err
		}

		err := txn.Commit()
		if err == nil {
			return nil
		}
		txn.Discard()
		if err == badger.ErrConflict {
			continue
		}
		return err
	}
	s.logger.Warn().Strs("keys", keys).Int("attempts", maxWatchAttempts).Msg("store: watch contention exceeded retry budget")
	return ErrWatchContention
}

// --- blocking multi-key pop --------------------------------------------------

func (s *BadgerStore) BLPop(ctx context.Context, keys []string, timeout time.Duration) (string, string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, key := range keys {
			value, ok, err := s.LPop(ctx, key)
			if err != nil {
				return "", "", false, err
			}
			if ok {
				return key, value, true, nil
			}
		}

		if timeout <= 0 {
			return "", "", false, nil
		}
		if time.Now().After(deadline) {
			return "", "", false, nil
		}

		select {
		case <-ctx.Done():
			return "", "", false, ctx.Err()
		case <-time.After(blockPollInterval):
		}
	}
}
