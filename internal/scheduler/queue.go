package scheduler

import (
	"container/heap"
	"time"
)

// queueItem is one waiting job. seq breaks priority ties in submission order
// and sends retried jobs to the tail of their tier.
type queueItem struct {
	jobID     string
	priority  int
	createdAt time.Time
	seq       uint64
	index     int
	removed   bool
}

// jobQueue is a priority queue keyed (priority desc, seq asc). It is not
// safe for concurrent use; the scheduler's coordination mutex guards it.
type jobQueue struct {
	items  []*queueItem
	byID   map[string]*queueItem
	nextSq uint64
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*queueItem)}
}

// push appends a job at the tail of its priority tier.
func (q *jobQueue) push(jobID string, priority int, createdAt time.Time) {
	item := &queueItem{
		jobID:     jobID,
		priority:  priority,
		createdAt: createdAt,
		seq:       q.nextSq,
	}
	q.nextSq++
	q.byID[jobID] = item
	heap.Push((*itemHeap)(q), item)
}

// pop removes and returns the highest-priority, earliest-submitted job id.
func (q *jobQueue) pop() (string, bool) {
	for len(q.items) > 0 {
		item := heap.Pop((*itemHeap)(q)).(*queueItem)
		if item.removed {
			continue
		}
		delete(q.byID, item.jobID)
		return item.jobID, true
	}
	return "", false
}

// peek returns the job id pop would yield next without removing it.
func (q *jobQueue) peek() (string, bool) {
	for len(q.items) > 0 {
		if q.items[0].removed {
			heap.Pop((*itemHeap)(q))
			continue
		}
		return q.items[0].jobID, true
	}
	return "", false
}

// remove drops a job from future dispatch. Removal is lazy; pop skips
// tombstones.
func (q *jobQueue) remove(jobID string) bool {
	item, ok := q.byID[jobID]
	if !ok {
		return false
	}
	item.removed = true
	delete(q.byID, jobID)
	return true
}

// contains reports whether a job is still queued.
func (q *jobQueue) contains(jobID string) bool {
	_, ok := q.byID[jobID]
	return ok
}

func (q *jobQueue) len() int { return len(q.byID) }

// ordered returns the queued items in dispatch order without mutating the
// queue, for snapshots.
func (q *jobQueue) ordered() []*queueItem {
	live := make([]*queueItem, 0, len(q.byID))
	for _, item := range q.items {
		if !item.removed {
			live = append(live, item)
		}
	}
	out := append([]*queueItem(nil), live...)
	// Small queues; a simple sort beats cloning the heap.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && itemLess(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func itemLess(a, b *queueItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// itemHeap adapts jobQueue to container/heap.
type itemHeap jobQueue

func (h *itemHeap) Len() int           { return len(h.items) }
func (h *itemHeap) Less(i, j int) bool { return itemLess(h.items[i], h.items[j]) }

func (h *itemHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *itemHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
