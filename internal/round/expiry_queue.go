package round

import (
	"container/heap"
	"sync"
	"time"
)

// TaskKind distinguishes scheduled work in the queue.
type TaskKind int

const (
	TaskOpen   TaskKind = iota // open a round for Key (an instrument symbol)
	TaskExpire                 // settle the round with id Key
)

func (k TaskKind) String() string {
	switch k {
	case TaskOpen:
		return "open"
	case TaskExpire:
		return "expire"
	}
	return "unknown"
}

// Task is a deadline-ordered unit of scheduler work.
type Task struct {
	At   time.Time
	Kind TaskKind
	Key  string
	seq  uint64
}

// ExpiryQueue is a min-heap of tasks ordered by deadline, with insertion
// order breaking ties. It is safe for concurrent use.
type ExpiryQueue struct {
	mu    sync.Mutex
	items taskHeap
	seq   uint64
}

// NewExpiryQueue returns an empty queue.
func NewExpiryQueue() *ExpiryQueue {
	return &ExpiryQueue{}
}

// Push schedules t.
func (q *ExpiryQueue) Push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	t.seq = q.seq
	heap.Push(&q.items, t)
}

// Peek returns the earliest task without removing it.
func (q *ExpiryQueue) Peek() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false
	}
	return q.items[0], true
}

// PopDue removes and returns every task whose deadline is at or before now,
// earliest first.
func (q *ExpiryQueue) PopDue(now time.Time) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Task
	for len(q.items) > 0 && !q.items[0].At.After(now) {
		due = append(due, heap.Pop(&q.items).(Task))
	}
	return due
}

// Len returns the number of pending tasks.
func (q *ExpiryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type taskHeap []Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
