package sched

import "container/heap"

// requestQueue orders pending requests by priority, then enqueue order.
// Retried requests go into a dedicated front slot consulted before the heap,
// so a requeued request is always the next pop regardless of priority.
// The queue is not self-locking; the Scheduler's mutex guards all access.
type requestQueue struct {
	heap    requestHeap
	front   []*request
	nextSeq uint64
}

func (q *requestQueue) push(r *request) {
	r.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, r)
}

func (q *requestQueue) pushFront(r *request) {
	q.front = append(q.front, r)
}

func (q *requestQueue) pop() *request {
	if n := len(q.front); n > 0 {
		r := q.front[0]
		copy(q.front, q.front[1:])
		q.front = q.front[:n-1]
		return r
	}
	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*request)
}

// drain removes and returns every pending request, front slot included.
func (q *requestQueue) drain() []*request {
	out := make([]*request, 0, len(q.front)+q.heap.Len())
	out = append(out, q.front...)
	q.front = nil
	for q.heap.Len() > 0 {
		out = append(out, heap.Pop(&q.heap).(*request))
	}
	return out
}

func (q *requestQueue) len() int {
	return len(q.front) + q.heap.Len()
}

type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	// Equal priority keeps enqueue order (seq is monotonic).
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*request)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
