package queue

// scheduledHeap orders waiting items by ScheduledFor so the scheduler only
// looks at the head to find what became due.
type scheduledHeap []*item

func (h scheduledHeap) Len() int { return len(h) }

func (h scheduledHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.req.ScheduledFor.Equal(b.req.ScheduledFor) {
		return a.req.ScheduledFor.Before(b.req.ScheduledFor)
	}
	return a.seq < b.seq
}

func (h scheduledHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scheduledHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *scheduledHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// readyHeap orders due items: highest priority, then earliest
// ScheduledFor, then enqueue order.
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if wa, wb := a.req.Priority.Weight(), b.req.Priority.Weight(); wa != wb {
		return wa > wb
	}
	if !a.req.ScheduledFor.Equal(b.req.ScheduledFor) {
		return a.req.ScheduledFor.Before(b.req.ScheduledFor)
	}
	return a.seq < b.seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
