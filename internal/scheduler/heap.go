package scheduler

import "container/heap"

// scheduleHeap implements container/heap.Interface for jobs,
// sorted by TriggerAt (earliest first, min-heap).
type scheduleHeap []job

func (h scheduleHeap) Len() int           { return len(h) }
func (h scheduleHeap) Less(i, j int) bool { return h[i].TriggerAt.Before(h[j].TriggerAt) }
func (h scheduleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *scheduleHeap) Push(x any) {
	*h = append(*h, x.(job))
}

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// heapPush adds a job to the heap, maintaining heap invariant.
func heapPush(h *scheduleHeap, j job) {
	heap.Push(h, j)
}

// heapPop removes and returns the job with the earliest TriggerAt.
// Panics if the heap is empty.
func heapPop(h *scheduleHeap) job {
	return heap.Pop(h).(job)
}

// heapRemoveByID removes the job with the given id.
// Returns true if the job was found and removed, false otherwise.
func heapRemoveByID(h *scheduleHeap, id string) bool {
	for i, j := range *h {
		if j.ID == id {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}

func heapFind(h scheduleHeap, id string) (job, bool) {
	for _, j := range h {
		if j.ID == id {
			return j, true
		}
	}
	return job{}, false
}
