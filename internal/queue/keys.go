package queue

import "fmt"

// Key namespace conventions, stable across implementations for
// interop (spec.md §6).
const (
	keyQueuePrefix     = "q:queue:"
	keyWIPQueuePrefix  = "q:wipqueue:"
	keyDoneQueuePrefix = "q:donequeue:"
	keyQueues          = "q:queues"
	keyDoneQueues      = "q:donequeues"
	keyDeferred        = "q:deferred"
	keyJobPrefix       = "q:job:"
)

func queueKey(name string) string     { return keyQueuePrefix + name }
func wipQueueKey(name string) string  { return keyWIPQueuePrefix + name }
func doneQueueKey(name string) string { return keyDoneQueuePrefix + name }
func jobKey(id string) string         { return keyJobPrefix + id }
func dependentsKey(id string) string  { return fmt.Sprintf("%s%s:dependents", keyJobPrefix, id) }

// queueNameFromKey strips the plain-queue key prefix, the inverse of
// queueKey. Returns ok=false if key does not carry that prefix.
func queueNameFromKey(key string) (string, bool) {
	if len(key) <= len(keyQueuePrefix) || key[:len(keyQueuePrefix)] != keyQueuePrefix {
		return "", false
	}
	return key[len(keyQueuePrefix):], true
}
