// Package heap implements the min-heap timer (C1): a binary min-heap of
// pending job firings ordered by (NextFireTick, ID), with no removal by key
// — cancellation is achieved by the caller marking a task and skipping it on
// Pop/Peek.
package heap

import (
	stdheap "container/heap"
)

// Task is one entry in the timer heap. Callers embed or reference their own
// job state through Payload.
type Task struct {
	ID            int64
	NextFireTick  int64
	Cancelled     bool
	Payload       interface{}
	index         int // maintained by container/heap
}

// innerHeap adapts []*Task to container/heap.Interface, ordering by
// (NextFireTick asc, ID asc) — ties broken toward the smaller insertion id.
type innerHeap []*Task

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	if h[i].NextFireTick != h[j].NextFireTick {
		return h[i].NextFireTick < h[j].NextFireTick
	}
	return h[i].ID < h[j].ID
}

func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Timer is a min-heap of *Task, not safe for concurrent use — callers
// (the cron scheduler) serialize access through their own mailbox.
type Timer struct {
	h innerHeap
}

// New returns an empty Timer.
func New() *Timer {
	t := &Timer{h: make(innerHeap, 0)}
	stdheap.Init(&t.h)
	return t
}

// Len returns the number of tasks currently held, cancelled or not.
func (t *Timer) Len() int { return t.h.Len() }

// Push inserts a task, restoring the heap invariant.
func (t *Timer) Push(task *Task) {
	stdheap.Push(&t.h, task)
}

// Peek returns the task with the smallest (NextFireTick, ID) without
// removing it, or nil if the heap is empty.
func (t *Timer) Peek() *Task {
	if t.h.Len() == 0 {
		return nil
	}
	return t.h[0]
}

// Pop removes and returns the task with the smallest (NextFireTick, ID), or
// nil if the heap is empty.
func (t *Timer) Pop() *Task {
	if t.h.Len() == 0 {
		return nil
	}
	return stdheap.Pop(&t.h).(*Task)
}
