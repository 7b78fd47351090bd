package algorithms

import (
	"container/heap"
	"fmt"
	"slices"

	"github.com/distcodep7/conference/lamport"
)

// PendingQueue holds one round's (timestamp, id) requests, ordered by
// timestamp and then id. A sender may be queued at most once per round, even
// after its entry was popped.
type PendingQueue struct {
	entries timestampHeap
	senders map[int]struct{}
}

func NewPendingQueue(capacity int) *PendingQueue {
	return &PendingQueue{
		entries: make(timestampHeap, 0, capacity),
		senders: make(map[int]struct{}, capacity),
	}
}

// Push queues ts. A second entry for the same sender is a protocol violation.
func (q *PendingQueue) Push(ts lamport.Timestamp) error {
	if _, dup := q.senders[ts.ID]; dup {
		return fmt.Errorf("%w: sender %d already queued this round", ErrProtocolViolation, ts.ID)
	}
	q.senders[ts.ID] = struct{}{}
	heap.Push(&q.entries, ts)
	return nil
}

// Peek returns the head of the queue.
func (q *PendingQueue) Peek() (lamport.Timestamp, bool) {
	if len(q.entries) == 0 {
		return lamport.Timestamp{}, false
	}
	return q.entries[0], true
}

// Pop removes and returns the head of the queue.
func (q *PendingQueue) Pop() (lamport.Timestamp, bool) {
	if len(q.entries) == 0 {
		return lamport.Timestamp{}, false
	}
	return heap.Pop(&q.entries).(lamport.Timestamp), true
}

func (q *PendingQueue) Len() int {
	return len(q.entries)
}

// Order returns the queued entries in admission order without modifying the
// queue.
func (q *PendingQueue) Order() []lamport.Timestamp {
	order := slices.Clone([]lamport.Timestamp(q.entries))
	slices.SortFunc(order, lamport.Timestamp.Compare)
	return order
}

// timestampHeap implements heap.Interface as a min-heap of timestamps.
type timestampHeap []lamport.Timestamp

func (h timestampHeap) Len() int           { return len(h) }
func (h timestampHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h timestampHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timestampHeap) Push(x any) {
	*h = append(*h, x.(lamport.Timestamp))
}

func (h *timestampHeap) Pop() any {
	old := *h
	n := len(old)
	ts := old[n-1]
	*h = old[:n-1]
	return ts
}
