package scheduling

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// A continuation is a step of a logical branch waiting to run.
type continuation struct {
	ctx  context.Context
	at   time.Duration
	seq  uint64
	step Step
}

type continuationQueue struct {
	sync.Mutex
	items   continuationHeap
	nextSeq uint64
}

func newContinuationQueue() *continuationQueue {
	q := &continuationQueue{}
	heap.Init(&q.items)

	return q
}

func (q *continuationQueue) Push(c *continuation) {
	q.Lock()
	c.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, c)
	q.Unlock()
}

func (q *continuationQueue) Pop() *continuation {
	q.Lock()
	defer q.Unlock()

	if q.items.Len() == 0 {
		return nil
	}

	return heap.Pop(&q.items).(*continuation)
}

func (q *continuationQueue) Len() int {
	q.Lock()
	defer q.Unlock()

	return q.items.Len()
}

type continuationHeap []*continuation

func (h continuationHeap) Len() int { return len(h) }

// Less orders by time, then by scheduling order, so that branches ready at
// the same time run first-in first-out.
func (h continuationHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}

	return h[i].seq < h[j].seq
}

func (h continuationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *continuationHeap) Push(x any) {
	*h = append(*h, x.(*continuation))
}

func (h *continuationHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return c
}
