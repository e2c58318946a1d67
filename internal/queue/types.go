package queue

// queueKind discriminates which Store key prefix a companion
// structure uses. Spec.md §9 recommends
// exactly this in place of the source's class-inheritance ChildQueue
// mixin: "a QueueKind enum driving the prefix is sufficient."
type queueKind int

const (
	kindWIP queueKind = iota
	kindDone
)

func (k queueKind) keyFor(queueName string) string {
	switch k {
	case kindWIP:
		return wipQueueKey(queueName)
	case kindDone:
		return doneQueueKey(queueName)
	default:
		panic("queue: unknown queueKind")
	}
}
