package queue

import (
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/marrowlane/qcore/internal/store"
)

// newTestStore opens a Badger-backed Store rooted at a fresh temp
// directory, closed automatically at test cleanup.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: t.TempDir()}, arbor.NewLogger())
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestQueue(t *testing.T, s store.Store, name string) *Queue {
	t.Helper()
	q, err := NewQueue(s, arbor.NewLogger(), QueueOptions{Name: name})
	if err != nil {
		t.Fatalf("failed to construct queue %q: %v", name, err)
	}
	return q
}
