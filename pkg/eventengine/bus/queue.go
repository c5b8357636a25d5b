package bus

import (
	"container/heap"
	"time"

	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// item is one queued event. Items order by ascending priority, then by
// sequence number so equal priorities stay FIFO.
type item struct {
	priority   int
	seq        uint64
	enqueuedAt time.Time
	evt        *event.Event
}

// priorityQueue implements heap.Interface.
type priorityQueue []*item

var _ heap.Interface = (*priorityQueue)(nil)

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) {
	*q = append(*q, x.(*item))
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
