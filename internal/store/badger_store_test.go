package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open(Config{Path: t.TempDir()}, arbor.NewLogger())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestListFIFOOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, v := range []string{"a", "b", "c"} {
		if err := s.RPush(ctx, "list", v); err != nil {
			t.Fatalf("rpush failed: %v", err)
		}
	}

	n, err := s.LLen(ctx, "list")
	if err != nil || n != 3 {
		t.Fatalf("expected llen 3, got %d err=%v", n, err)
	}

	all, err := s.LRange(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("lrange failed: %v", err)
	}
	if len(all) != 3 || all[0] != "a" || all[1] != "b" || all[2] != "c" {
		t.Fatalf("expected [a b c] in order, got %v", all)
	}

	v, ok, err := s.LPop(ctx, "list")
	if err != nil || !ok || v != "a" {
		t.Fatalf("expected to pop a, got %q ok=%v err=%v", v, ok, err)
	}

	n, err = s.LLen(ctx, "list")
	if err != nil || n != 2 {
		t.Fatalf("expected llen 2 after pop, got %d err=%v", n, err)
	}
}

func TestLPopEmptyReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.LPop(ctx, "empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false popping an empty list")
	}
}

func TestLRemRemovesAllOccurrences(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, v := range []string{"x", "dup", "y", "dup"} {
		if err := s.RPush(ctx, "list", v); err != nil {
			t.Fatalf("rpush failed: %v", err)
		}
	}

	removed, err := s.LRem(ctx, "list", "dup")
	if err != nil {
		t.Fatalf("lrem failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	all, err := s.LRange(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("lrange failed: %v", err)
	}
	if len(all) != 2 || all[0] != "x" || all[1] != "y" {
		t.Fatalf("expected [x y] remaining in order, got %v", all)
	}
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.RPush(ctx, "old", "v1"); err != nil {
		t.Fatalf("rpush failed: %v", err)
	}
	if err := s.RPush(ctx, "old", "v2"); err != nil {
		t.Fatalf("rpush failed: %v", err)
	}

	if err := s.Rename(ctx, "old", "new"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	n, err := s.LLen(ctx, "old")
	if err != nil || n != 0 {
		t.Fatalf("expected old list empty after rename, got %d err=%v", n, err)
	}

	all, err := s.LRange(ctx, "new", 0, -1)
	if err != nil {
		t.Fatalf("lrange failed: %v", err)
	}
	if len(all) != 2 || all[0] != "v1" || all[1] != "v2" {
		t.Fatalf("expected [v1 v2] preserved in order under new key, got %v", all)
	}
}

func TestSetOperations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, m := range []string{"alice", "bob", "carol"} {
		if err := s.SAdd(ctx, "set", m); err != nil {
			t.Fatalf("sadd failed: %v", err)
		}
	}

	n, err := s.SCard(ctx, "set")
	if err != nil || n != 3 {
		t.Fatalf("expected scard 3, got %d err=%v", n, err)
	}

	removed, err := s.SRem(ctx, "set", "bob")
	if err != nil || !removed {
		t.Fatalf("expected bob removed, got removed=%v err=%v", removed, err)
	}

	removed, err = s.SRem(ctx, "set", "bob")
	if err != nil || removed {
		t.Fatalf("expected a second removal of bob to report false, got removed=%v err=%v", removed, err)
	}

	members, err := s.SMembers(ctx, "set")
	if err != nil {
		t.Fatalf("smembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members remaining, got %v", members)
	}
}

func TestSPopDrainsSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.SAdd(ctx, "set", "only"); err != nil {
		t.Fatalf("sadd failed: %v", err)
	}

	member, ok, err := s.SPop(ctx, "set")
	if err != nil || !ok || member != "only" {
		t.Fatalf("expected to pop 'only', got %q ok=%v err=%v", member, ok, err)
	}

	_, ok, err = s.SPop(ctx, "set")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false popping an empty set")
	}
}

func TestSortedSetScoreOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.ZAdd(ctx, "zset", "late", 300); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}
	if err := s.ZAdd(ctx, "zset", "early", 100); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}
	if err := s.ZAdd(ctx, "zset", "mid", 200); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}

	members, err := s.ZRangeByScore(ctx, "zset", 0, 250)
	if err != nil {
		t.Fatalf("zrangebyscore failed: %v", err)
	}
	if len(members) != 2 || members[0] != "early" || members[1] != "mid" {
		t.Fatalf("expected [early mid] within range, got %v", members)
	}

	// Re-adding a member with a new score must replace, not duplicate,
	// its prior entry.
	if err := s.ZAdd(ctx, "zset", "early", 1000); err != nil {
		t.Fatalf("zadd (update) failed: %v", err)
	}
	members, err = s.ZRangeByScore(ctx, "zset", 0, 250)
	if err != nil {
		t.Fatalf("zrangebyscore failed: %v", err)
	}
	if len(members) != 1 || members[0] != "mid" {
		t.Fatalf("expected only [mid] after early's score moved out of range, got %v", members)
	}

	removed, err := s.ZRem(ctx, "zset", "mid", "late")
	if err != nil {
		t.Fatalf("zrem failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
}

func TestSortedSetNegativeScores(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.ZAdd(ctx, "zset", "neg", -50); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}
	if err := s.ZAdd(ctx, "zset", "pos", 50); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}

	members, err := s.ZRangeByScore(ctx, "zset", -100, 100)
	if err != nil {
		t.Fatalf("zrangebyscore failed: %v", err)
	}
	if len(members) != 2 || members[0] != "neg" || members[1] != "pos" {
		t.Fatalf("expected [neg pos] in ascending order, got %v", members)
	}
}

func TestHashRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	fields := map[string]string{"status": "QUEUED", "origin": "default"}
	if err := s.HSet(ctx, "job:1", fields); err != nil {
		t.Fatalf("hset failed: %v", err)
	}

	got, err := s.HGetAll(ctx, "job:1")
	if err != nil {
		t.Fatalf("hgetall failed: %v", err)
	}
	if got["status"] != "QUEUED" || got["origin"] != "default" {
		t.Fatalf("expected fields preserved, got %v", got)
	}

	if err := s.HDelete(ctx, "job:1"); err != nil {
		t.Fatalf("hdelete failed: %v", err)
	}
	got, err = s.HGetAll(ctx, "job:1")
	if err != nil {
		t.Fatalf("hgetall failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty hash after delete, got %v", got)
	}
}

// TestWatchVisibleToHSet is the regression test for the hash-encoding
// bug this core once had: a hash written through HSet must be visible
// to a concurrent Watch transaction's Tx.Get, since the dependency
// protocol relies on exactly that.
func TestWatchVisibleToHSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.HSet(ctx, "job:parent", map[string]string{"status": "FINISHED"}); err != nil {
		t.Fatalf("hset failed: %v", err)
	}

	var seen map[string]string
	err := s.Watch(ctx, []string{"job:parent"}, func(tx Tx) error {
		fields, err := tx.Get("job:parent")
		if err != nil {
			return err
		}
		seen = fields
		return nil
	})
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if seen["status"] != "FINISHED" {
		t.Fatalf("expected Watch to see the HSet-written status, got %v", seen)
	}
}

func TestWatchWritesVisibleToHGetAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.Watch(ctx, []string{"job:child"}, func(tx Tx) error {
		return tx.Set("job:child", map[string]string{"status": "DEFERRED"})
	})
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	fields, err := s.HGetAll(ctx, "job:child")
	if err != nil {
		t.Fatalf("hgetall failed: %v", err)
	}
	if fields["status"] != "DEFERRED" {
		t.Fatalf("expected HGetAll to see the Watch-written status, got %v", fields)
	}
}

func TestWatchRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.HSet(ctx, "job:x", map[string]string{"n": "0"}); err != nil {
		t.Fatalf("hset failed: %v", err)
	}

	var wg sync.WaitGroup
	const writers = 8
	wg.Add(writers)
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			err := s.Watch(ctx, []string{"job:x"}, func(tx Tx) error {
				fields, err := tx.Get("job:x")
				if err != nil {
					return err
				}
				return tx.Set("job:x", map[string]string{"n": fields["n"] + "1"})
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent watch failed: %v", err)
		}
	}

	fields, err := s.HGetAll(ctx, "job:x")
	if err != nil {
		t.Fatalf("hgetall failed: %v", err)
	}
	if len(fields["n"]) != writers+1 {
		t.Fatalf("expected every writer's update to land serially, got %q", fields["n"])
	}
}

func TestBLPopPriorityOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.RPush(ctx, "bar", "bar-job"); err != nil {
		t.Fatalf("rpush failed: %v", err)
	}
	if err := s.RPush(ctx, "foo", "foo-job"); err != nil {
		t.Fatalf("rpush failed: %v", err)
	}

	key, value, ok, err := s.BLPop(ctx, []string{"foo", "bar"}, 0)
	if err != nil || !ok {
		t.Fatalf("expected a hit, got ok=%v err=%v", ok, err)
	}
	if key != "foo" || value != "foo-job" {
		t.Fatalf("expected foo to win priority, got key=%q value=%q", key, value)
	}
}

func TestBLPopBlocksUntilPush(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pushErr := make(chan error, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		pushErr <- s.RPush(ctx, "queue", "late-job")
	}()

	key, value, ok, err := s.BLPop(ctx, []string{"queue"}, 500*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected BLPop to eventually see the pushed value, got ok=%v err=%v", ok, err)
	}
	if key != "queue" || value != "late-job" {
		t.Fatalf("expected (queue, late-job), got (%q, %q)", key, value)
	}
	if err := <-pushErr; err != nil {
		t.Fatalf("rpush failed: %v", err)
	}
}

func TestBLPopTimesOut(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, ok, err := s.BLPop(ctx, []string{"empty"}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when nothing is ever pushed")
	}
}

func TestDeleteClearsAcrossAllKinds(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.RPush(ctx, "k", "v"); err != nil {
		t.Fatalf("rpush failed: %v", err)
	}
	if err := s.SAdd(ctx, "k", "m"); err != nil {
		t.Fatalf("sadd failed: %v", err)
	}
	if err := s.ZAdd(ctx, "k", "m", 1); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}
	if err := s.HSet(ctx, "k", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("hset failed: %v", err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if n, _ := s.LLen(ctx, "k"); n != 0 {
		t.Fatalf("expected list cleared, got llen %d", n)
	}
	if n, _ := s.SCard(ctx, "k"); n != 0 {
		t.Fatalf("expected set cleared, got scard %d", n)
	}
	members, _ := s.ZRangeByScore(ctx, "k", 0, 10)
	if len(members) != 0 {
		t.Fatalf("expected zset cleared, got %v", members)
	}
	fields, _ := s.HGetAll(ctx, "k")
	if len(fields) != 0 {
		t.Fatalf("expected hash cleared, got %v", fields)
	}
}

// TestListSurvivesReopenWithPendingEntries guards against a durability
// regression: a FIFO list with un-dequeued entries still on disk must
// not collide with (and silently overwrite) newly-pushed entries after
// the store is closed and reopened against the same path. RPush's
// suffix must be derivable from a durable source (wall-clock time), not
// an in-memory counter that resets to zero on every Open.
func TestListSurvivesReopenWithPendingEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(Config{Path: dir}, arbor.NewLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	for _, v := range []string{"a", "b", "c"} {
		if err := s1.RPush(ctx, "list", v); err != nil {
			t.Fatalf("rpush failed: %v", err)
		}
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s2, err := Open(Config{Path: dir}, arbor.NewLogger())
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	t.Cleanup(func() { s2.Close() })

	n, err := s2.LLen(ctx, "list")
	if err != nil || n != 3 {
		t.Fatalf("expected the 3 pending entries to survive reopen, got %d err=%v", n, err)
	}

	if err := s2.RPush(ctx, "list", "d"); err != nil {
		t.Fatalf("rpush after reopen failed: %v", err)
	}

	all, err := s2.LRange(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("lrange failed: %v", err)
	}
	if len(all) != 4 || all[0] != "a" || all[1] != "b" || all[2] != "c" || all[3] != "d" {
		t.Fatalf("expected [a b c d] preserved in FIFO order across reopen, got %v", all)
	}
}
