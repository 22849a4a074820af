package dispatch

import (
	"container/heap"
	"sync"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

type item struct {
	delivery webhook.Delivery
	due      time.Time
	seq      uint64
}

// deliveryHeap orders items by due time, then by insertion order
type deliveryHeap []*item

func (h deliveryHeap) Len() int { return len(h) }

func (h deliveryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h deliveryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deliveryHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *deliveryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

/* Queue holds deliveries waiting for their next attempt.
 * Fresh deliveries are due when pushed, retries at NextRetryAt.
 * Safe for concurrent use.
 */
type Queue struct {
	mu    sync.Mutex
	items deliveryHeap
	seq   uint64
	clock webhook.Clock
	wake  chan struct{}
}

func NewQueue(clock webhook.Clock) *Queue {
	if clock == nil {
		clock = webhook.SystemClock{}
	}
	return &Queue{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Push adds a delivery and wakes a waiting consumer
func (q *Queue) Push(delivery webhook.Delivery) {
	due := q.clock.Now()
	if delivery.NextRetryAt != nil {
		due = *delivery.NextRetryAt
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &item{delivery: delivery, due: due, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PopDue removes the earliest delivery if it is due at now
func (q *Queue) PopDue(now time.Time) (webhook.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.items[0].due.After(now) {
		return webhook.Delivery{}, false
	}
	it := heap.Pop(&q.items).(*item)
	return it.delivery, true
}

// Peek returns the earliest delivery without removing it
func (q *Queue) Peek() (webhook.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return webhook.Delivery{}, false
	}
	return q.items[0].delivery, true
}

// NextDue is the due time of the earliest delivery
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].due, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake fires after a Push. Signals coalesce.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
