// Package rayqueue implements the four-queue ray state machine of §4.5:
// rayQueue, outQueue[t], pendingQueue[t], and finishedQueue.
package rayqueue

import (
	"github.com/emirpasic/gods/v2/queues/linkedlistqueue"

	"github.com/example/raytrace-worker/raystate"
)

// Queue is a FIFO of owned ray records. It wraps gods' linked-list queue
// (the teacher's otherwise-unused dependency) rather than a bare slice so
// that push/pop stay O(1) regardless of queue depth.
type Queue struct {
	q *linkedlistqueue.Queue[*raystate.State]
}

// NewQueue returns an empty ray queue.
func NewQueue() *Queue {
	return &Queue{q: linkedlistqueue.New[*raystate.State]()}
}

func (q *Queue) Push(r *raystate.State) { q.q.Enqueue(r) }

func (q *Queue) Pop() (*raystate.State, bool) { return q.q.Dequeue() }

func (q *Queue) Len() int { return q.q.Size() }

func (q *Queue) Empty() bool { return q.q.Empty() }

// ByTreelet is a map of per-treelet Queue, with an O(1) derived total
// size counter — the mechanism §3 requires for outQueueSize/
// pendingQueueSize to stay O(1) under the "counter consistency"
// testable property (§8).
type ByTreelet struct {
	queues    map[raystate.TreeletID]*Queue
	totalSize int
}

// NewByTreelet returns an empty per-treelet queue set.
func NewByTreelet() *ByTreelet {
	return &ByTreelet{queues: make(map[raystate.TreeletID]*Queue)}
}

// Push enqueues r onto treelet t's queue, maintaining the derived total.
func (b *ByTreelet) Push(t raystate.TreeletID, r *raystate.State) {
	q, ok := b.queues[t]
	if !ok {
		q = NewQueue()
		b.queues[t] = q
	}
	q.Push(r)
	b.totalSize++
}

// Pop removes and returns the front of treelet t's queue.
func (b *ByTreelet) Pop(t raystate.TreeletID) (*raystate.State, bool) {
	q, ok := b.queues[t]
	if !ok {
		return nil, false
	}
	r, ok := q.Pop()
	if ok {
		b.totalSize--
		if q.Empty() {
			delete(b.queues, t)
		}
	}
	return r, ok
}

// PopAll drains every ray currently queued for treelet t, in FIFO order.
func (b *ByTreelet) PopAll(t raystate.TreeletID) []*raystate.State {
	q, ok := b.queues[t]
	if !ok {
		return nil
	}
	var out []*raystate.State
	for {
		r, ok := q.Pop()
		if !ok {
			break
		}
		out = append(out, r)
	}
	b.totalSize -= len(out)
	delete(b.queues, t)
	return out
}

// Len returns the number of rays queued for treelet t.
func (b *ByTreelet) Len(t raystate.TreeletID) int {
	q, ok := b.queues[t]
	if !ok {
		return 0
	}
	return q.Len()
}

// TotalSize is the Σ|queue[t]| invariant from §3, maintained incrementally.
func (b *ByTreelet) TotalSize() int { return b.totalSize }

// Treelets returns the set of treelets with a non-empty queue.
func (b *ByTreelet) Treelets() []raystate.TreeletID {
	out := make([]raystate.TreeletID, 0, len(b.queues))
	for t := range b.queues {
		out = append(out, t)
	}
	return out
}
